package config

import "time"

// NodeConfig is the root configuration for a node.
type NodeConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Keepalive KeepaliveConfig `yaml:"keepalive"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// InstanceConfig identifies this node.
type InstanceConfig struct {
	ID     string `yaml:"id"`
	Region string `yaml:"region"`
}

// ServerConfig holds the TCP listener and session settings.
type ServerConfig struct {
	ListenAddr           string             `yaml:"listen_addr"`
	BroadcastCapacity    int                `yaml:"broadcast_capacity"`
	MaxBodySize          uint32             `yaml:"max_body_size"`
	WriteTimeout         time.Duration      `yaml:"write_timeout"`
	IdleTimeout          time.Duration      `yaml:"idle_timeout"` // 0 = never
	DecodeErrorTolerance int                `yaml:"decode_error_tolerance"`
	LagPolicy            string             `yaml:"lag_policy"` // "disconnect" or "resync"
	MaxConnsPerIP        int                `yaml:"max_conns_per_ip"`
	InboxSize            int                `yaml:"inbox_size"`
	ShutdownTimeout      time.Duration      `yaml:"shutdown_timeout"`
	Announcement         AnnouncementConfig `yaml:"announcement"`
	Handshake            HandshakeConfig    `yaml:"handshake"`
}

// AnnouncementConfig is the message broadcast when a peer connects.
type AnnouncementConfig struct {
	Enabled *bool  `yaml:"enabled"`  // Unset means enabled
	Type    string `yaml:"type"`     // Message type name, e.g. PostBlockchain
	BodyHex string `yaml:"body_hex"` // Hex-encoded body
}

// HandshakeConfig requires a specific first message from each peer.
type HandshakeConfig struct {
	Enabled bool          `yaml:"enabled"`
	Type    string        `yaml:"type"`
	Timeout time.Duration `yaml:"timeout"`
}

// WebSocketConfig holds the optional WebSocket gateway settings.
type WebSocketConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
}

// KeepaliveConfig holds periodic announcement settings.
type KeepaliveConfig struct {
	Interval time.Duration `yaml:"interval"` // 0 disables
}

// MetricsConfig holds the operator HTTP server settings.
type MetricsConfig struct {
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig controls dispatch span export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	SampleRatio float64 `yaml:"sample_ratio"` // Fraction of root spans kept, (0, 1]
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
