package keepalive

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/ledgernet/internal/router"
	"github.com/rickgao/ledgernet/internal/wire"
)

// MessageSource builds the message published on each tick.
type MessageSource interface {
	Message() *wire.Message
}

// MessageSourceFunc is a function adapter for MessageSource.
type MessageSourceFunc func() *wire.Message

func (f MessageSourceFunc) Message() *wire.Message {
	return f()
}

// Config holds keepalive configuration.
type Config struct {
	Interval  time.Duration // Publish interval (default: 30s)
	Immediate bool          // Publish once on Start
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Published int64
	Receivers int64 // Sum of subscribers reached
	Errors    int64
}

// Keepalive periodically publishes a message to all peers.
type Keepalive struct {
	cfg       Config
	publisher router.Publisher
	source    MessageSource
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	published atomic.Int64
	receivers atomic.Int64
	errors    atomic.Int64
}

// New creates a new Keepalive.
func New(cfg Config, publisher router.Publisher, source MessageSource, logger *slog.Logger) *Keepalive {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Keepalive{
		cfg:       cfg,
		publisher: publisher,
		source:    source,
		logger:    logger,
	}
}

// Start begins the publish loop.
func (k *Keepalive) Start(ctx context.Context) error {
	k.ctx, k.cancel = context.WithCancel(ctx)

	k.wg.Add(1)
	go k.run()

	k.logger.Info("keepalive started", "interval", k.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the loop.
func (k *Keepalive) Stop(ctx context.Context) error {
	if k.cancel != nil {
		k.cancel()
	}

	done := make(chan struct{})
	go func() {
		k.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		k.logger.Info("keepalive stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (k *Keepalive) Stats() Stats {
	return Stats{
		Published: k.published.Load(),
		Receivers: k.receivers.Load(),
		Errors:    k.errors.Load(),
	}
}

func (k *Keepalive) run() {
	defer k.wg.Done()

	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()

	if k.cfg.Immediate {
		k.publish()
	}

	for {
		select {
		case <-k.ctx.Done():
			return
		case <-ticker.C:
			k.publish()
		}
	}
}

// publish sends one announcement.
func (k *Keepalive) publish() {
	m := k.source.Message()
	if m == nil {
		k.errors.Add(1)
		k.logger.Warn("keepalive source returned no message")
		return
	}

	n, err := k.publisher.Publish(m)
	if err != nil {
		k.errors.Add(1)
		k.logger.Warn("keepalive publish failed", "type", m.Type().String(), "error", err)
		return
	}

	k.published.Add(1)
	k.receivers.Add(int64(n))
	k.logger.Debug("keepalive published", "type", m.Type().String(), "receivers", n)
}
