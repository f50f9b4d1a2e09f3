package connection

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rickgao/ledgernet/internal/wire"
)

// streamConn implements Conn over a byte stream such as TCP.
type streamConn struct {
	cfg  Config
	conn net.Conn
	r    *bufio.Reader

	// Write serialization
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// New wraps an established stream connection.
func New(conn net.Conn, cfg Config) Conn {
	return &streamConn{
		cfg:  cfg.withDefaults(),
		conn: conn,
		r:    bufio.NewReader(conn),
	}
}

// Dial connects to a peer over TCP.
func Dial(ctx context.Context, addr string, cfg Config) (Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, cfg), nil
}

// ReadMessage reads one header and then exactly the body it declares.
func (c *streamConn) ReadMessage() (*wire.Message, error) {
	var hdr [wire.HeaderSize]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return nil, closedError(err)
	}

	h, err := wire.DecodeHeader(hdr[:])
	if err != nil {
		if h.Size > c.cfg.MaxBodySize {
			return nil, fmt.Errorf("%w: %w", wire.ErrOversizedBody, err)
		}
		// Skip the body so the next header starts on a frame boundary.
		if _, derr := io.CopyN(io.Discard, c.r, int64(h.Size)); derr != nil {
			return nil, closedError(derr)
		}
		return nil, err
	}

	if h.Size > c.cfg.MaxBodySize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", wire.ErrOversizedBody, h.Size, c.cfg.MaxBodySize)
	}

	body := make([]byte, h.Size)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, closedError(err)
	}

	return &wire.Message{Header: h, Body: body}, nil
}

// WriteMessage encodes m and writes the whole frame.
func (c *streamConn) WriteMessage(m *wire.Message) error {
	frame, err := wire.Encode(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return closedError(err)
		}
	}

	total := 0
	for total < len(frame) {
		n, err := c.conn.Write(frame[total:])
		if err != nil {
			return closedError(err)
		}
		if n == 0 {
			return closedError(io.ErrShortWrite)
		}
		total += n
	}
	return nil
}

func (c *streamConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *streamConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the stream. Later calls return the first result.
func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
