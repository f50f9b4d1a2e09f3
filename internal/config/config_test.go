package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/ledgernet/internal/server"
	"github.com/rickgao/ledgernet/internal/wire"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-node
  region: eu-west-1
server:
  listen_addr: 127.0.0.1:2000
  broadcast_capacity: 64
  lag_policy: resync
  announcement:
    type: ReturnBlockchain
    body_hex: "cafe"
websocket:
  enabled: true
  listen_addr: ":9000"
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-node" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-node")
	}
	if cfg.Server.ListenAddr != "127.0.0.1:2000" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, "127.0.0.1:2000")
	}
	if cfg.Server.BroadcastCapacity != 64 {
		t.Errorf("Server.BroadcastCapacity = %d, want 64", cfg.Server.BroadcastCapacity)
	}
	if cfg.Server.Announcement.BodyHex != "cafe" {
		t.Errorf("Server.Announcement.BodyHex = %q, want %q", cfg.Server.Announcement.BodyHex, "cafe")
	}
	if !cfg.WebSocket.Enabled || cfg.WebSocket.ListenAddr != ":9000" {
		t.Errorf("WebSocket = %+v, want enabled on :9000", cfg.WebSocket)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_NODE_ID", "node-7")
	t.Setenv("TEST_LISTEN_PORT", "4444")

	yaml := `
instance:
  id: ${TEST_NODE_ID}
server:
  listen_addr: 0.0.0.0:${TEST_LISTEN_PORT}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "node-7" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "node-7")
	}
	if cfg.Server.ListenAddr != "0.0.0.0:4444" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, "0.0.0.0:4444")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() = nil error, want error for missing file")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	yaml := `
instance:
  id: test-node
server:
  listen_adr: 127.0.0.1:2000
`
	_, err := Load(writeTempFile(t, yaml))
	if err == nil {
		t.Fatal("Load() = nil error, want error for misspelled key")
	}
	if !strings.Contains(err.Error(), "listen_adr") {
		t.Errorf("Load() error = %q, want it to name listen_adr", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeTempFile(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Instance.ID != "" {
		t.Errorf("Instance.ID = %q, want empty", cfg.Instance.ID)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-node
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("Server.ListenAddr = %q, want default %q", cfg.Server.ListenAddr, DefaultListenAddr)
	}
	if cfg.Server.BroadcastCapacity != DefaultBroadcastCapacity {
		t.Errorf("Server.BroadcastCapacity = %d, want default %d", cfg.Server.BroadcastCapacity, DefaultBroadcastCapacity)
	}
	if cfg.Server.Announcement.Enabled == nil || !*cfg.Server.Announcement.Enabled {
		t.Error("Server.Announcement.Enabled should default to true")
	}
	if cfg.Server.Announcement.BodyHex != DefaultAnnouncementBodyHex {
		t.Errorf("Server.Announcement.BodyHex = %q, want default %q", cfg.Server.Announcement.BodyHex, DefaultAnnouncementBodyHex)
	}
	if cfg.Server.Handshake.Enabled {
		t.Error("Server.Handshake.Enabled should default to false")
	}
	if cfg.WebSocket.Path != DefaultWebSocketPath {
		t.Errorf("WebSocket.Path = %q, want default %q", cfg.WebSocket.Path, DefaultWebSocketPath)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("Logging.Format = %q, want default %q", cfg.Logging.Format, DefaultLogFormat)
	}
	if cfg.Tracing.Enabled || cfg.Tracing.SampleRatio != DefaultTraceSampleRatio {
		t.Errorf("Tracing = %+v, want disabled with ratio %v", cfg.Tracing, DefaultTraceSampleRatio)
	}
}

func TestLoadWithDefaults_AnnouncementTypeWithoutBody(t *testing.T) {
	yaml := `
instance:
  id: test-node
server:
  announcement:
    enabled: false
    type: DenyRFS
`
	cfg, err := LoadWithDefaults(writeTempFile(t, yaml))
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if *cfg.Server.Announcement.Enabled {
		t.Error("Server.Announcement.Enabled = true, want false from file")
	}
	if cfg.Server.Announcement.BodyHex != "" {
		t.Errorf("Server.Announcement.BodyHex = %q, want empty for a custom type", cfg.Server.Announcement.BodyHex)
	}
}

func TestLoadAndValidate_ExampleConfig(t *testing.T) {
	cfg, err := LoadAndValidate(filepath.Join("..", "..", "configs", "node.example.yaml"))
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	srvCfg, err := cfg.Server.ToServer()
	if err != nil {
		t.Fatalf("ToServer failed: %v", err)
	}
	if srvCfg.Announcement.Type != wire.PostBlockchain {
		t.Errorf("announcement type = %v, want PostBlockchain", srvCfg.Announcement.Type)
	}
	if !bytes.Equal(srvCfg.Announcement.Body, bytes.Repeat([]byte{1}, 12)) {
		t.Errorf("announcement body = %v, want twelve 0x01 bytes", srvCfg.Announcement.Body)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*NodeConfig)
		wantErr string
	}{
		{
			name:    "missing instance id",
			modify:  func(c *NodeConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "zero broadcast capacity",
			modify:  func(c *NodeConfig) { c.Server.BroadcastCapacity = 0 },
			wantErr: "server.broadcast_capacity must be >= 1",
		},
		{
			name:    "negative tolerance",
			modify:  func(c *NodeConfig) { c.Server.DecodeErrorTolerance = -1 },
			wantErr: "server.decode_error_tolerance must be >= 0",
		},
		{
			name:    "unknown lag policy",
			modify:  func(c *NodeConfig) { c.Server.LagPolicy = "drop" },
			wantErr: `server.lag_policy must be disconnect or resync, got "drop"`,
		},
		{
			name:    "unknown announcement type",
			modify:  func(c *NodeConfig) { c.Server.Announcement.Type = "Gossip" },
			wantErr: `server.announcement.type: wire: unknown message type "Gossip"`,
		},
		{
			name:    "bad announcement hex",
			modify:  func(c *NodeConfig) { c.Server.Announcement.BodyHex = "zz" },
			wantErr: "server.announcement.body_hex",
		},
		{
			name: "announcement larger than body limit",
			modify: func(c *NodeConfig) {
				c.Server.MaxBodySize = 4
			},
			wantErr: "server.announcement.body_hex decodes to 12 bytes, more than max_body_size (4)",
		},
		{
			name: "handshake without timeout",
			modify: func(c *NodeConfig) {
				c.Server.Handshake.Enabled = true
				c.Server.Handshake.Timeout = 0
			},
			wantErr: "server.handshake.timeout must be > 0 when enabled",
		},
		{
			name: "websocket path",
			modify: func(c *NodeConfig) {
				c.WebSocket.Enabled = true
				c.WebSocket.Path = "ws"
			},
			wantErr: `websocket.path must start with /, got "ws"`,
		},
		{
			name:    "metrics port",
			modify:  func(c *NodeConfig) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "trace sample ratio",
			modify:  func(c *NodeConfig) { c.Tracing.SampleRatio = 1.5 },
			wantErr: "tracing.sample_ratio must be in (0, 1], got 1.5",
		},
		{
			name:    "log format",
			modify:  func(c *NodeConfig) { c.Logging.Format = "xml" },
			wantErr: `logging.format must be text or json, got "xml"`,
		},
		{
			name:    "valid config",
			modify:  func(c *NodeConfig) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if !strings.HasPrefix(err.Error(), tt.wantErr) {
					t.Errorf("Validate() error = %q, want prefix %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestToServer(t *testing.T) {
	cfg := Default()
	cfg.Server.LagPolicy = "resync"
	cfg.Server.IdleTimeout = time.Minute
	cfg.Server.Handshake.Enabled = true
	disabled := false
	cfg.Server.Announcement.Enabled = &disabled

	got, err := cfg.Server.ToServer()
	if err != nil {
		t.Fatalf("ToServer failed: %v", err)
	}

	if got.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", got.ListenAddr, DefaultListenAddr)
	}
	if got.LagPolicy != server.LagResync {
		t.Errorf("LagPolicy = %q, want resync", got.LagPolicy)
	}
	if got.IdleTimeout != time.Minute {
		t.Errorf("IdleTimeout = %v, want 1m", got.IdleTimeout)
	}
	if got.Announcement.Enabled {
		t.Error("Announcement.Enabled = true, want false")
	}
	if !got.Handshake.Enabled || got.Handshake.Type != wire.RequestBlockchain {
		t.Errorf("Handshake = %+v, want enabled RequestBlockchain", got.Handshake)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("server config Validate() = %v", err)
	}
}

func TestToKeepalive(t *testing.T) {
	if _, enabled := (KeepaliveConfig{}).ToKeepalive(); enabled {
		t.Error("zero interval should disable keepalive")
	}
	kc, enabled := KeepaliveConfig{Interval: 5 * time.Second}.ToKeepalive()
	if !enabled || kc.Interval != 5*time.Second {
		t.Errorf("ToKeepalive() = %+v, %v, want 5s enabled", kc, enabled)
	}
}

func TestTracingConfig_NewTracerProvider(t *testing.T) {
	var buf bytes.Buffer
	tp, err := TracingConfig{Enabled: true, SampleRatio: 1}.NewTracerProvider(&buf, "node-7")
	if err != nil {
		t.Fatalf("NewTracerProvider failed: %v", err)
	}

	_, span := tp.Tracer("test").Start(context.Background(), "router.dispatch")
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"Name":"router.dispatch"`) {
		t.Errorf("exported spans missing router.dispatch: %s", out)
	}
	if !strings.Contains(out, "node-7") {
		t.Errorf("exported spans missing instance id: %s", out)
	}
}

func TestLoggingConfig(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := (LoggingConfig{Level: tt.level}).SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}

	var buf bytes.Buffer
	logger := LoggingConfig{Level: "info", Format: "json"}.NewLogger(&buf)
	logger.Debug("hidden")
	logger.Info("shown", "session_id", "abc")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug record written at info level")
	}
	if !strings.Contains(out, `"session_id":"abc"`) {
		t.Errorf("json output missing attribute: %s", out)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
