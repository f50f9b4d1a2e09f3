package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID          = "ledgernode"
	DefaultListenAddr          = "0.0.0.0:1337"
	DefaultBroadcastCapacity   = 16
	DefaultMaxBodySize         = 1 << 20
	DefaultWriteTimeout        = 10 * time.Second
	DefaultLagPolicy           = "disconnect"
	DefaultInboxSize           = 16
	DefaultShutdownTimeout     = 10 * time.Second
	DefaultAnnouncementType    = "PostBlockchain"
	DefaultAnnouncementBodyHex = "010101010101010101010101"
	DefaultHandshakeType       = "RequestBlockchain"
	DefaultHandshakeTimeout    = 10 * time.Second
	DefaultWebSocketListenAddr = ":8081"
	DefaultWebSocketPath       = "/ws"
	DefaultMetricsPort         = 9090
	DefaultMetricsPath         = "/metrics"
	DefaultMetricsNamespace    = "ledgernet"
	DefaultTraceSampleRatio    = 1.0
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
)

func (c *NodeConfig) applyDefaults() {
	// Server defaults
	s := &c.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.BroadcastCapacity == 0 {
		s.BroadcastCapacity = DefaultBroadcastCapacity
	}
	if s.MaxBodySize == 0 {
		s.MaxBodySize = DefaultMaxBodySize
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.LagPolicy == "" {
		s.LagPolicy = DefaultLagPolicy
	}
	if s.InboxSize == 0 {
		s.InboxSize = DefaultInboxSize
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Announcement defaults
	if s.Announcement.Enabled == nil {
		enabled := true
		s.Announcement.Enabled = &enabled
	}
	if s.Announcement.Type == "" {
		s.Announcement.Type = DefaultAnnouncementType
		if s.Announcement.BodyHex == "" {
			s.Announcement.BodyHex = DefaultAnnouncementBodyHex
		}
	}

	// Handshake defaults
	if s.Handshake.Type == "" {
		s.Handshake.Type = DefaultHandshakeType
	}
	if s.Handshake.Timeout == 0 {
		s.Handshake.Timeout = DefaultHandshakeTimeout
	}

	// WebSocket defaults
	if c.WebSocket.ListenAddr == "" {
		c.WebSocket.ListenAddr = DefaultWebSocketListenAddr
	}
	if c.WebSocket.Path == "" {
		c.WebSocket.Path = DefaultWebSocketPath
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}

	// Tracing defaults
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = DefaultTraceSampleRatio
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}
