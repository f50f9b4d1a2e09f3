package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/rickgao/ledgernet/internal/config"
	"github.com/rickgao/ledgernet/internal/keepalive"
	"github.com/rickgao/ledgernet/internal/metrics"
	"github.com/rickgao/ledgernet/internal/router"
	"github.com/rickgao/ledgernet/internal/server"
	"github.com/rickgao/ledgernet/internal/version"
	"github.com/rickgao/ledgernet/internal/wire"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		listenAddr string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the node",
		Long: `Run the node: accept peers on the TCP listener, announce the
bootstrap chain to each new peer and relay posted blocks to everyone.

Without --config the built-in defaults are used (listen on 0.0.0.0:1337,
operator HTTP on :9090).

Examples:
  ledgernode serve
  ledgernode serve --config configs/node.example.yaml
  ledgernode serve --listen 127.0.0.1:7000 --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadNodeConfig(configPath, listenAddr, logLevel)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Override server.listen_addr")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")

	return cmd
}

// loadNodeConfig loads the config file (or defaults) and applies flag
// overrides before validating.
func loadNodeConfig(path, listenAddr, logLevel string) (*config.NodeConfig, error) {
	var cfg *config.NodeConfig
	if path == "" {
		cfg = config.Default()
	} else {
		var err error
		cfg, err = config.LoadWithDefaults(path)
		if err != nil {
			return nil, err
		}
	}

	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func runServe(cfg *config.NodeConfig) error {
	logger := cfg.Logging.NewLogger(os.Stdout).With("instance_id", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting ledgernode",
		"version", version.Version,
		"commit", version.Commit,
	)

	srvCfg, err := cfg.Server.ToServer()
	if err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	nodeMetrics := metrics.New(reg, cfg.Metrics.Namespace)

	// Dispatch router and server
	rtr, shutdownTracing, err := newRouter(cfg, os.Stderr, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracer shutdown incomplete", "error", err)
		}
	}()
	srv := server.New(srvCfg, rtr, logger, server.WithMetrics(nodeMetrics))
	if err := registerHandlers(rtr, srv, srvCfg.Announcement); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}

	ln, err := srv.Listen("")
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx, ln)
	}()

	// Operator HTTP server
	operator := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: newOperatorHandler(operatorDeps{
			instanceID:  cfg.Instance.ID,
			server:      srv,
			router:      rtr,
			gatherer:    reg,
			metricsPath: cfg.Metrics.Path,
			startedAt:   time.Now(),
			logger:      logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting operator server", "port", cfg.Metrics.Port)
		if err := operator.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("operator server error", "error", err)
		}
	}()

	// WebSocket gateway
	var gateway *http.Server
	if cfg.WebSocket.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.WebSocket.Path, srv.WebSocketHandler())
		gateway = &http.Server{
			Addr:              cfg.WebSocket.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("starting websocket gateway",
				"addr", cfg.WebSocket.ListenAddr,
				"path", cfg.WebSocket.Path,
			)
			if err := gateway.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("websocket gateway error", "error", err)
			}
		}()
	}

	// Keepalive
	if kaCfg, enabled := cfg.Keepalive.ToKeepalive(); enabled && srvCfg.Announcement.Enabled {
		ka := keepalive.New(kaCfg, srv, srvCfg.Announcement, logger)
		if err := ka.Start(ctx); err != nil {
			return fmt.Errorf("start keepalive: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			ka.Stop(stopCtx)
		}()
	}

	logger.Info("ledgernode running",
		"listen_addr", ln.Addr().String(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown or a fatal listener error
	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, server.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if gateway != nil {
		gateway.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", "error", err)
	}
	operator.Shutdown(shutdownCtx)

	logger.Info("ledgernode stopped")
	return runErr
}

// newRouter creates the dispatch router. With tracing enabled its spans are
// exported to w and the returned func flushes them; otherwise it is a no-op.
func newRouter(cfg *config.NodeConfig, w io.Writer, logger *slog.Logger) (*router.Router, func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Tracing.Enabled {
		return router.New(logger), func(context.Context) error { return nil }, nil
	}

	tp, err := cfg.Tracing.NewTracerProvider(w, cfg.Instance.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("tracing: %w", err)
	}
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "sample_ratio", cfg.Tracing.SampleRatio)

	return router.New(logger, router.WithTracerProvider(tp)), tp.Shutdown, nil
}

// registerHandlers wires the node's default message handling: posted blocks
// are relayed to every peer and, while an announcement is configured, chain
// requests are answered with the announced chain.
func registerHandlers(rtr *router.Router, pub router.Publisher, announcement server.Announcement) error {
	if err := rtr.Register(wire.PostBlockchain, router.RelayHandler(pub)); err != nil {
		return err
	}
	if !announcement.Enabled {
		return nil
	}

	chain := announcement.Message().Body
	return rtr.RegisterFunc(wire.RequestBlockchain, func(ctx context.Context, req *router.Request) (*wire.Message, error) {
		return wire.NewMessage(wire.ReturnBlockchain, chain), nil
	})
}
