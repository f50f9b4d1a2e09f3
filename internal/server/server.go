package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/ledgernet/internal/broadcast"
	"github.com/rickgao/ledgernet/internal/connection"
	"github.com/rickgao/ledgernet/internal/metrics"
	"github.com/rickgao/ledgernet/internal/router"
	"github.com/rickgao/ledgernet/internal/wire"
)

// Accept retry backoff bounds.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Transport labels.
const (
	transportTCP       = "tcp"
	transportWebSocket = "ws"
	transportDirect    = "direct"
)

// Option configures optional Server dependencies.
type Option func(*Server)

// WithMetrics records server activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// Server accepts peers and fans broadcasts out to them.
type Server struct {
	cfg     Config
	handler router.Handler
	logger  *slog.Logger
	metrics *metrics.Metrics

	channel *broadcast.Channel[*wire.Message]
	limiter *ipLimiter

	// Registry; also guards listeners and shutdown state
	mu        sync.Mutex
	closed    bool
	listeners map[net.Listener]struct{}
	sessions  map[uuid.UUID]*session
	addr      net.Addr
	wg        sync.WaitGroup

	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a Server. A nil handler drops every inbound message.
func New(cfg Config, handler router.Handler, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = router.HandlerFunc(func(context.Context, *router.Request) (*wire.Message, error) {
			return nil, nil
		})
	}
	cfg = cfg.withDefaults()

	s := &Server{
		cfg:       cfg,
		handler:   handler,
		logger:    logger,
		channel:   broadcast.NewChannel[*wire.Message](cfg.BroadcastCapacity),
		limiter:   newIPLimiter(cfg.MaxConnsPerIP),
		listeners: make(map[net.Listener]struct{}),
		sessions:  make(map[uuid.UUID]*session),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds a TCP listener. An empty addr uses the configured address.
func (s *Server) Listen(addr string) (net.Listener, error) {
	if addr == "" {
		addr = s.cfg.ListenAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// ListenAndServe binds the configured address and serves it until ctx is
// done or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen("")
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and runs a session for each. Accept
// failures are logged and retried with backoff. Serve returns
// ErrServerClosed after Shutdown and ctx.Err() once ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.trackListener(ln) {
		ln.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(ln)

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	s.logger.Info("listening", "addr", ln.Addr().String())

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}

			s.metrics.AcceptError()
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			s.logger.Warn("accept failed, retrying",
				"error", err,
				"transient", isTransient(err),
				"retry_in", delay,
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		delay = 0

		go s.handleAccepted(ctx, conn)
	}
}

// handleAccepted applies the per-IP limit and runs the session.
func (s *Server) handleAccepted(ctx context.Context, nc net.Conn) {
	ip := hostOf(nc.RemoteAddr().String())
	if !s.limiter.acquire(ip) {
		s.metrics.ConnectionRejected("per_ip_limit")
		s.logger.Warn("connection rejected", "remote", nc.RemoteAddr().String(), "error", ErrConnLimit)
		nc.Close()
		return
	}
	defer s.limiter.release(ip)

	s.serve(ctx, connection.New(nc, s.cfg.connConfig()), transportTCP)
}

// ServeConn runs one session over an established connection and blocks until
// it ends. It returns the reason the session ended.
func (s *Server) ServeConn(ctx context.Context, conn connection.Conn) error {
	return s.serve(ctx, conn, transportDirect)
}

func (s *Server) serve(ctx context.Context, conn connection.Conn, transport string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := newSession(s, conn, transport, cancel)
	if err := s.register(sess); err != nil {
		sess.sub.Close()
		conn.Close()
		return err
	}
	defer s.unregister(sess)

	err := sess.run(ctx)
	sess.logger.Info("peer disconnected",
		"reason", err,
		"messages_in", sess.messagesIn.Load(),
		"messages_out", sess.messagesOut.Load(),
	)
	return err
}

// Publish broadcasts m to every session and returns how many were subscribed.
func (s *Server) Publish(m *wire.Message) (int, error) {
	if err := m.Validate(); err != nil {
		return 0, fmt.Errorf("publish: %w", err)
	}
	if s.isClosed() {
		return 0, ErrServerClosed
	}
	n := s.channel.Publish(m)
	s.metrics.Published(n)
	return n, nil
}

// SendTo queues m for a single session. It never blocks.
func (s *Server) SendTo(id uuid.UUID, m *wire.Message) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("send to %s: %w", id, err)
	}
	sess := s.lookup(id)
	if sess == nil {
		return fmt.Errorf("send to %s: %w", id, ErrUnknownSession)
	}
	select {
	case sess.inbox <- m:
		return nil
	default:
		return fmt.Errorf("send to %s: %w", id, ErrInboxFull)
	}
}

// Disconnect ends the session with the given ID.
func (s *Server) Disconnect(id uuid.UUID) error {
	sess := s.lookup(id)
	if sess == nil {
		return fmt.Errorf("disconnect %s: %w", id, ErrUnknownSession)
	}
	sess.logger.Info("disconnect requested")
	sess.cancel()
	return nil
}

// Sessions returns a snapshot of open sessions, oldest first.
func (s *Server) Sessions() []SessionInfo {
	s.mu.Lock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.info())
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b SessionInfo) int {
		return a.ConnectedAt.Compare(b.ConnectedAt)
	})
	return out
}

// BroadcastStats returns statistics of the shared broadcast ring.
func (s *Server) BroadcastStats() broadcast.Stats {
	return s.channel.Stats()
}

// Addr returns the first bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Ready is closed once a listener is being served.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Shutdown stops accepting, ends every session and waits for them to finish
// or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listeners := make([]net.Listener, 0, len(s.listeners))
	for ln := range s.listeners {
		listeners = append(listeners, ln)
	}
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	s.logger.Info("shutting down", "sessions", len(sessions))

	for _, ln := range listeners {
		ln.Close()
	}
	for _, sess := range sessions {
		sess.cancel()
	}
	s.channel.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout, sessions still open")
		return ctx.Err()
	}

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.listeners[ln] = struct{}{}
	if s.addr == nil {
		s.addr = ln.Addr()
	}
	s.readyOnce.Do(func() { close(s.ready) })
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
}

func (s *Server) register(sess *session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	s.metrics.SessionOpened(sess.transport)
	return nil
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	s.metrics.SessionClosed()
	s.wg.Done()
}

func (s *Server) lookup(id uuid.UUID) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// isTransient reports whether an accept error is expected to clear up.
func isTransient(err error) bool {
	var ne net.Error
	if !errors.As(err, &ne) {
		return false
	}
	if ne.Timeout() {
		return true
	}
	t, ok := ne.(interface{ Temporary() bool })
	return ok && t.Temporary()
}
