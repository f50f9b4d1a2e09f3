package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/ledgernet/internal/wire"
)

// wsConn implements Conn over a WebSocket. Each binary WebSocket message
// carries exactly one frame.
type wsConn struct {
	cfg  Config
	conn *websocket.Conn

	// Write serialization
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket wraps an established WebSocket connection.
func NewWebSocket(conn *websocket.Conn, cfg Config) Conn {
	return &wsConn{
		cfg:  cfg.withDefaults(),
		conn: conn,
	}
}

// DialWebSocket connects to a peer's WebSocket gateway.
func DialWebSocket(ctx context.Context, url string, cfg Config) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	header := http.Header{}
	header.Set("Accept", "application/octet-stream")

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocket(conn, cfg), nil
}

// ReadMessage reads the next WebSocket message and decodes it as one frame.
// Short or overlong messages are complete-but-invalid frames, not closures.
func (c *wsConn) ReadMessage() (*wire.Message, error) {
	mt, r, err := c.conn.NextReader()
	if err != nil {
		return nil, closedError(err)
	}
	if mt != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: %w", wire.ErrMalformedHeader, ErrNotBinary)
	}

	var hdr [wire.HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if isShortRead(err) {
			return nil, fmt.Errorf("%w: message shorter than header", wire.ErrMalformedHeader)
		}
		return nil, closedError(err)
	}

	h, err := wire.DecodeHeader(hdr[:])
	if err != nil {
		// The rest of this message is dropped by the next NextReader call.
		return nil, err
	}
	if h.Size > c.cfg.MaxBodySize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", wire.ErrOversizedBody, h.Size, c.cfg.MaxBodySize)
	}

	body := make([]byte, h.Size)
	if _, err := io.ReadFull(r, body); err != nil {
		if isShortRead(err) {
			return nil, fmt.Errorf("%w: need %d bytes", wire.ErrTruncatedBody, h.Size)
		}
		return nil, closedError(err)
	}

	var extra [1]byte
	if n, _ := r.Read(extra[:]); n > 0 {
		return nil, fmt.Errorf("%w: trailing bytes after body", wire.ErrMalformedHeader)
	}

	return &wire.Message{Header: h, Body: body}, nil
}

// WriteMessage writes m as a single binary WebSocket message.
func (c *wsConn) WriteMessage(m *wire.Message) error {
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
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return closedError(err)
	}
	return nil
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close sends a close message and closes the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func isShortRead(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
