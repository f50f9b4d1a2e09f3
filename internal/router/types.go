package router

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/ledgernet/internal/wire"
)

// Errors
var (
	// ErrDisconnect is returned by a handler to ask the server to close the
	// connection the request arrived on.
	ErrDisconnect = errors.New("router: handler requested disconnect")

	ErrUnknownType = errors.New("router: unknown message type")
)

// Request is one decoded message from a peer.
type Request struct {
	SessionID  uuid.UUID // Server-assigned connection ID
	RemoteAddr string    // Peer address
	Message    *wire.Message
	ReceivedAt time.Time // Local timestamp when ReadMessage returned
}

// Handler processes a peer message. A non-nil response is written back to
// the same peer only.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*wire.Message, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, req *Request) (*wire.Message, error)

func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*wire.Message, error) {
	return f(ctx, req)
}

// Publisher broadcasts a message to every connected peer.
type Publisher interface {
	Publish(m *wire.Message) (int, error)
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	Unhandled        int64
	HandlerErrors    int64
	ByType           map[string]int64
}
