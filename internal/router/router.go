package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rickgao/ledgernet/internal/wire"
)

// Default tracer name for dispatch spans.
const defaultTracerName = "github.com/rickgao/ledgernet/router"

// Router dispatches peer messages to the handler registered for their type.
type Router struct {
	logger *slog.Logger
	tracer trace.Tracer

	handlersMu sync.RWMutex
	handlers   [wire.NumMessageTypes]Handler

	// Stats
	mu            sync.RWMutex
	received      int64
	routed        int64
	unhandled     int64
	handlerErrors int64
	byType        [wire.NumMessageTypes]int64
}

// Option configures a Router.
type Option func(*Router)

// WithTracerProvider records dispatch spans with tp instead of the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Router) {
		if tp != nil {
			r.tracer = tp.Tracer(defaultTracerName)
		}
	}
}

// New creates a Router with no handlers registered.
func New(logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		logger: logger,
		tracer: otel.Tracer(defaultTracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs h for message type t, replacing any previous handler.
func (r *Router) Register(t wire.MessageType, h Handler) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.handlers[t] = h
	return nil
}

// RegisterFunc installs f for message type t.
func (r *Router) RegisterFunc(t wire.MessageType, f func(ctx context.Context, req *Request) (*wire.Message, error)) error {
	return r.Register(t, HandlerFunc(f))
}

// Handled returns the message types that currently have a handler.
func (r *Router) Handled() []wire.MessageType {
	r.handlersMu.RLock()
	defer r.handlersMu.RUnlock()

	var out []wire.MessageType
	for i, h := range r.handlers {
		if h != nil {
			out = append(out, wire.MessageType(i))
		}
	}
	return out
}

// Handle dispatches req to its type's handler. Messages without a handler
// are dropped with no response.
func (r *Router) Handle(ctx context.Context, req *Request) (*wire.Message, error) {
	m := req.Message
	t := m.Type()
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}

	r.mu.Lock()
	r.received++
	r.byType[t]++
	r.mu.Unlock()

	r.handlersMu.RLock()
	h := r.handlers[t]
	r.handlersMu.RUnlock()

	if h == nil {
		r.logger.Debug("no handler for message type", "type", t, "session_id", req.SessionID)
		r.mu.Lock()
		r.unhandled++
		r.mu.Unlock()
		return nil, nil
	}

	ctx, span := r.tracer.Start(ctx, "router.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("message.type", t.String()),
			attribute.Int("message.size", int(m.Header.Size)),
			attribute.String("session.id", req.SessionID.String()),
		),
	)
	defer span.End()

	resp, err := h.Handle(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, ErrDisconnect) {
			r.mu.Lock()
			r.handlerErrors++
			r.mu.Unlock()
		}
		return nil, err
	}

	r.mu.Lock()
	r.routed++
	r.mu.Unlock()

	return resp, nil
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byType := make(map[string]int64, wire.NumMessageTypes)
	for i, n := range r.byType {
		if n > 0 {
			byType[wire.MessageType(i).String()] = n
		}
	}

	return RouterStats{
		MessagesReceived: r.received,
		MessagesRouted:   r.routed,
		Unhandled:        r.unhandled,
		HandlerErrors:    r.handlerErrors,
		ByType:           byType,
	}
}
