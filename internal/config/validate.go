package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"

	"github.com/rickgao/ledgernet/internal/wire"
)

// Validate checks that all required fields are set and values are valid.
func (c *NodeConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Server.validate("server"); err != nil {
		return err
	}

	if c.WebSocket.Enabled {
		if _, _, err := net.SplitHostPort(c.WebSocket.ListenAddr); err != nil {
			return fmt.Errorf("websocket.listen_addr %q is invalid: %w", c.WebSocket.ListenAddr, err)
		}
		if c.WebSocket.Path == "" || c.WebSocket.Path[0] != '/' {
			return fmt.Errorf("websocket.path must start with /, got %q", c.WebSocket.Path)
		}
	}

	if c.Keepalive.Interval < 0 {
		return fmt.Errorf("keepalive.interval must be >= 0, got %v", c.Keepalive.Interval)
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be in (0, 1], got %v", c.Tracing.SampleRatio)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (s *ServerConfig) validate(prefix string) error {
	if _, _, err := net.SplitHostPort(s.ListenAddr); err != nil {
		return fmt.Errorf("%s.listen_addr %q is invalid: %w", prefix, s.ListenAddr, err)
	}
	if s.BroadcastCapacity < 1 {
		return fmt.Errorf("%s.broadcast_capacity must be >= 1", prefix)
	}
	if s.MaxBodySize < 1 {
		return fmt.Errorf("%s.max_body_size must be >= 1", prefix)
	}
	if s.DecodeErrorTolerance < 0 {
		return fmt.Errorf("%s.decode_error_tolerance must be >= 0", prefix)
	}
	if s.MaxConnsPerIP < 0 {
		return fmt.Errorf("%s.max_conns_per_ip must be >= 0", prefix)
	}
	if s.InboxSize < 1 {
		return fmt.Errorf("%s.inbox_size must be >= 1", prefix)
	}
	if s.LagPolicy != "disconnect" && s.LagPolicy != "resync" {
		return fmt.Errorf("%s.lag_policy must be disconnect or resync, got %q", prefix, s.LagPolicy)
	}

	if _, err := wire.ParseMessageType(s.Announcement.Type); err != nil {
		return fmt.Errorf("%s.announcement.type: %w", prefix, err)
	}
	body, err := hex.DecodeString(s.Announcement.BodyHex)
	if err != nil {
		return fmt.Errorf("%s.announcement.body_hex: %w", prefix, err)
	}
	if uint64(len(body)) > uint64(s.MaxBodySize) {
		return fmt.Errorf("%s.announcement.body_hex decodes to %d bytes, more than max_body_size (%d)", prefix, len(body), s.MaxBodySize)
	}

	if _, err := wire.ParseMessageType(s.Handshake.Type); err != nil {
		return fmt.Errorf("%s.handshake.type: %w", prefix, err)
	}
	if s.Handshake.Enabled && s.Handshake.Timeout <= 0 {
		return fmt.Errorf("%s.handshake.timeout must be > 0 when enabled", prefix)
	}

	return nil
}
