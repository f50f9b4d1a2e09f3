package connection

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rickgao/ledgernet/internal/wire"
)

// Errors
var (
	ErrConnectionClosed = errors.New("connection: closed by peer")
	ErrNotBinary        = errors.New("connection: non-binary websocket message")
)

// Conn is a framed connection to a single peer.
type Conn interface {
	// ReadMessage reads the next complete frame. It must not be called
	// concurrently with itself.
	ReadMessage() (*wire.Message, error)

	// WriteMessage writes one complete frame. Safe for concurrent use.
	WriteMessage(m *wire.Message) error

	// SetReadDeadline bounds the next ReadMessage. Zero clears it.
	SetReadDeadline(t time.Time) error

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr

	// Close closes the underlying transport. Safe to call more than once.
	Close() error
}

// Config configures a connection.
type Config struct {
	MaxBodySize  uint32        // Largest body accepted from the peer
	WriteTimeout time.Duration // Write deadline per frame (0 = none)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodySize:  wire.DefaultMaxBodySize,
		WriteTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxBodySize == 0 {
		c.MaxBodySize = wire.DefaultMaxBodySize
	}
	return c
}

// closedError marks err as a connection loss while keeping the cause visible
// to errors.Is.
func closedError(err error) error {
	return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
}
