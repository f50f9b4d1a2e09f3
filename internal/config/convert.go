package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/rickgao/ledgernet/internal/keepalive"
	"github.com/rickgao/ledgernet/internal/server"
	"github.com/rickgao/ledgernet/internal/wire"
)

// ToServer converts the server section into a server.Config.
func (s ServerConfig) ToServer() (server.Config, error) {
	announceType, err := wire.ParseMessageType(s.Announcement.Type)
	if err != nil {
		return server.Config{}, fmt.Errorf("announcement.type: %w", err)
	}
	body, err := hex.DecodeString(s.Announcement.BodyHex)
	if err != nil {
		return server.Config{}, fmt.Errorf("announcement.body_hex: %w", err)
	}
	handshakeType, err := wire.ParseMessageType(s.Handshake.Type)
	if err != nil {
		return server.Config{}, fmt.Errorf("handshake.type: %w", err)
	}

	return server.Config{
		ListenAddr:           s.ListenAddr,
		BroadcastCapacity:    s.BroadcastCapacity,
		MaxBodySize:          s.MaxBodySize,
		WriteTimeout:         s.WriteTimeout,
		DecodeErrorTolerance: s.DecodeErrorTolerance,
		IdleTimeout:          s.IdleTimeout,
		LagPolicy:            server.LagPolicy(s.LagPolicy),
		MaxConnsPerIP:        s.MaxConnsPerIP,
		InboxSize:            s.InboxSize,
		Announcement: server.Announcement{
			Enabled: s.Announcement.Enabled == nil || *s.Announcement.Enabled,
			Type:    announceType,
			Body:    body,
		},
		Handshake: server.HandshakeConfig{
			Enabled: s.Handshake.Enabled,
			Type:    handshakeType,
			Timeout: s.Handshake.Timeout,
		},
	}, nil
}

// ToKeepalive converts the keepalive section. Enabled is false when no
// interval is set.
func (k KeepaliveConfig) ToKeepalive() (cfg keepalive.Config, enabled bool) {
	return keepalive.Config{Interval: k.Interval}, k.Interval > 0
}

// NewLogger builds a slog.Logger writing to w in the configured format.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SlogLevel maps the configured level name; unknown names mean info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewTracerProvider builds an SDK tracer provider that batches spans to w as
// JSON. The caller owns Shutdown.
func (t TracingConfig) NewTracerProvider(w io.Writer, instanceID string) (*sdktrace.TracerProvider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", "ledgernode"),
		attribute.String("service.instance.id", instanceID),
	)

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(t.SampleRatio))),
	), nil
}
