package server

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/ledgernet/internal/broadcast"
	"github.com/rickgao/ledgernet/internal/connection"
	"github.com/rickgao/ledgernet/internal/wire"
)

// DefaultListenAddr binds every interface on the protocol port.
const DefaultListenAddr = "0.0.0.0:1337"

// Errors
var (
	ErrServerClosed        = errors.New("server: closed")
	ErrUnknownSession      = errors.New("server: unknown session")
	ErrInboxFull           = errors.New("server: session inbox full")
	ErrHandshake           = errors.New("server: handshake failed")
	ErrTooManyDecodeErrors = errors.New("server: decode error tolerance exceeded")
	ErrConnLimit           = errors.New("server: per-ip connection limit reached")
)

// LagPolicy decides what happens when a session falls behind the ring.
type LagPolicy string

const (
	// LagDisconnect closes the lagging session.
	LagDisconnect LagPolicy = "disconnect"

	// LagResync skips to the oldest retained message and keeps going.
	LagResync LagPolicy = "resync"
)

// Valid reports whether p is a known policy.
func (p LagPolicy) Valid() bool {
	return p == LagDisconnect || p == LagResync
}

// Announcement is broadcast each time a session starts.
type Announcement struct {
	Enabled bool
	Type    wire.MessageType
	Body    []byte
}

// Message returns the announcement as a wire message.
func (a Announcement) Message() *wire.Message {
	return wire.NewMessage(a.Type, bytes.Clone(a.Body))
}

// HandshakeConfig requires the first message of a session to be of a given
// type and to arrive within Timeout.
type HandshakeConfig struct {
	Enabled bool
	Type    wire.MessageType
	Timeout time.Duration
}

// Config configures a Server.
type Config struct {
	ListenAddr        string
	BroadcastCapacity int           // Ring size shared by all sessions
	MaxBodySize       uint32        // Largest body accepted from a peer
	WriteTimeout      time.Duration // Per-frame write deadline (0 = none)

	// DecodeErrorTolerance is how many malformed headers a session survives.
	// Zero closes the session on the first one.
	DecodeErrorTolerance int

	// IdleTimeout closes a session that sends nothing for this long (0 = never).
	IdleTimeout time.Duration

	LagPolicy     LagPolicy
	MaxConnsPerIP int // 0 = unlimited
	InboxSize     int // Buffered direct messages per session

	Announcement Announcement
	Handshake    HandshakeConfig
}

// DefaultConfig returns sensible defaults. The announcement is the bootstrap
// chain every new peer receives: PostBlockchain with twelve 0x01 bytes.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        DefaultListenAddr,
		BroadcastCapacity: broadcast.DefaultCapacity,
		MaxBodySize:       wire.DefaultMaxBodySize,
		WriteTimeout:      10 * time.Second,
		LagPolicy:         LagDisconnect,
		InboxSize:         16,
		Announcement: Announcement{
			Enabled: true,
			Type:    wire.PostBlockchain,
			Body:    bytes.Repeat([]byte{0x01}, 12),
		},
		Handshake: HandshakeConfig{
			Type:    wire.RequestBlockchain,
			Timeout: 10 * time.Second,
		},
	}
}

// withDefaults fills zero values that would otherwise be unusable.
func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.BroadcastCapacity <= 0 {
		c.BroadcastCapacity = broadcast.DefaultCapacity
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = wire.DefaultMaxBodySize
	}
	if c.LagPolicy == "" {
		c.LagPolicy = LagDisconnect
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 16
	}
	if c.Handshake.Timeout <= 0 {
		c.Handshake.Timeout = 10 * time.Second
	}
	return c
}

// Validate checks the config for values the server cannot run with.
func (c Config) Validate() error {
	if c.DecodeErrorTolerance < 0 {
		return fmt.Errorf("decode_error_tolerance must be >= 0, got %d", c.DecodeErrorTolerance)
	}
	if c.MaxConnsPerIP < 0 {
		return fmt.Errorf("max_conns_per_ip must be >= 0, got %d", c.MaxConnsPerIP)
	}
	if c.LagPolicy != "" && !c.LagPolicy.Valid() {
		return fmt.Errorf("lag_policy must be %q or %q, got %q", LagDisconnect, LagResync, c.LagPolicy)
	}
	if c.Announcement.Enabled {
		if err := c.Announcement.Message().Validate(); err != nil {
			return fmt.Errorf("announcement: %w", err)
		}
	}
	if c.Handshake.Enabled && !c.Handshake.Type.Valid() {
		return fmt.Errorf("handshake: unknown message type %d", uint8(c.Handshake.Type))
	}
	return nil
}

func (c Config) connConfig() connection.Config {
	return connection.Config{
		MaxBodySize:  c.MaxBodySize,
		WriteTimeout: c.WriteTimeout,
	}
}

// SessionState is the lifecycle stage of a session.
type SessionState int32

const (
	StateAccepted SessionState = iota
	StateAwaitingHandshake
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// SessionInfo is a snapshot of one session.
type SessionInfo struct {
	ID           uuid.UUID `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	Transport    string    `json:"transport"`
	State        string    `json:"state"`
	ConnectedAt  time.Time `json:"connected_at"`
	MessagesIn   int64     `json:"messages_in"`
	MessagesOut  int64     `json:"messages_out"`
	DecodeErrors int64     `json:"decode_errors"`
	Pending      int       `json:"pending"`
}
