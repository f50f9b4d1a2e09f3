package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/ledgernet/internal/broadcast"
	"github.com/rickgao/ledgernet/internal/connection"
	"github.com/rickgao/ledgernet/internal/router"
	"github.com/rickgao/ledgernet/internal/wire"
)

// session is one connected peer.
type session struct {
	id          uuid.UUID
	srv         *Server
	conn        connection.Conn
	transport   string
	remote      string
	connectedAt time.Time
	logger      *slog.Logger

	sub    *broadcast.Subscription[*wire.Message]
	inbox  chan *wire.Message // Direct messages from SendTo
	cancel context.CancelFunc

	state        atomic.Int32
	messagesIn   atomic.Int64
	messagesOut  atomic.Int64
	decodeErrors atomic.Int64
}

func newSession(srv *Server, conn connection.Conn, transport string, cancel context.CancelFunc) *session {
	id := uuid.New()
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	return &session{
		id:          id,
		srv:         srv,
		conn:        conn,
		transport:   transport,
		remote:      remote,
		connectedAt: time.Now(),
		logger: srv.logger.With(
			"session_id", id.String(),
			"remote", remote,
			"transport", transport,
		),
		sub:    srv.channel.Subscribe(),
		inbox:  make(chan *wire.Message, srv.cfg.InboxSize),
		cancel: cancel,
	}
}

// run drives the session until the peer leaves, an error ends it, or ctx is
// done. The connection and subscription are released on every path.
func (s *session) run(ctx context.Context) error {
	defer func() {
		s.setState(StateClosed)
		s.sub.Close()
		s.conn.Close()
	}()

	// Closing the connection is the only way to unblock a pending read.
	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()

	s.logger.Info("peer connected")

	cfg := s.srv.cfg
	if cfg.Announcement.Enabled {
		if _, err := s.srv.Publish(cfg.Announcement.Message()); err != nil {
			s.logger.Warn("announcement not published", "error", err)
		}
	}

	var first *wire.Message
	if cfg.Handshake.Enabled {
		s.setState(StateAwaitingHandshake)
		m, err := s.handshake(cfg.Handshake)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		first = m
	}

	s.setState(StateActive)

	g, gctx := errgroup.WithContext(ctx)
	stopGroup := context.AfterFunc(gctx, func() {
		s.conn.Close()
	})
	defer stopGroup()

	g.Go(func() error {
		return s.writeLoop(gctx)
	})
	g.Go(func() error {
		return s.readLoop(gctx, first)
	})

	return g.Wait()
}

// handshake reads the first message and checks its type.
func (s *session) handshake(hs HandshakeConfig) (*wire.Message, error) {
	s.conn.SetReadDeadline(time.Now().Add(hs.Timeout))
	m, err := s.conn.ReadMessage()
	s.conn.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if m.Type() != hs.Type {
		return nil, fmt.Errorf("%w: first message is %s, want %s", ErrHandshake, m.Type(), hs.Type)
	}
	s.logger.Debug("handshake complete")
	return m, nil
}

// readLoop decodes frames and dispatches them until an error ends the session.
func (s *session) readLoop(ctx context.Context, first *wire.Message) error {
	if first != nil {
		if err := s.dispatch(ctx, first); err != nil {
			return err
		}
	}

	cfg := s.srv.cfg
	for {
		if cfg.IdleTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		}

		m, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, connection.ErrConnectionClosed) {
				return err
			}

			s.srv.metrics.DecodeError(err)
			if !errors.Is(err, wire.ErrMalformedHeader) || errors.Is(err, wire.ErrOversizedBody) {
				return err
			}

			n := s.decodeErrors.Add(1)
			if n > int64(cfg.DecodeErrorTolerance) {
				return fmt.Errorf("%w: %w", ErrTooManyDecodeErrors, err)
			}
			s.logger.Debug("malformed frame skipped", "error", err, "count", n)
			continue
		}

		if err := s.dispatch(ctx, m); err != nil {
			return err
		}
	}
}

// dispatch hands one message to the handler and writes any response.
func (s *session) dispatch(ctx context.Context, m *wire.Message) error {
	s.messagesIn.Add(1)
	s.srv.metrics.MessageReceived(m.Type())

	resp, err := s.srv.handler.Handle(ctx, &router.Request{
		SessionID:  s.id,
		RemoteAddr: s.remote,
		Message:    m,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		if errors.Is(err, router.ErrDisconnect) {
			return err
		}
		s.logger.Warn("handler failed", "type", m.Type().String(), "error", err)
	}

	if resp != nil {
		return s.write(resp, "response")
	}
	return nil
}

// writeLoop forwards direct messages and broadcasts to the peer.
func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case m := <-s.inbox:
			if err := s.write(m, "direct"); err != nil {
				return err
			}
			continue
		default:
		}

		m, wait, err := s.sub.Poll()
		switch {
		case err == nil:
			if err := s.write(m, "broadcast"); err != nil {
				return err
			}
			continue

		case errors.Is(err, broadcast.ErrLagged):
			var lag *broadcast.LaggedError
			if errors.As(err, &lag) {
				s.srv.metrics.Lagged(lag.Missed)
			}
			if s.srv.cfg.LagPolicy == LagResync {
				s.logger.Warn("subscriber lagged, resyncing", "error", err)
				continue
			}
			return err

		case errors.Is(err, broadcast.ErrEmpty):
			// wait below

		default:
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-s.inbox:
			if err := s.write(m, "direct"); err != nil {
				return err
			}
		case <-wait:
		}
	}
}

func (s *session) write(m *wire.Message, source string) error {
	if err := s.conn.WriteMessage(m); err != nil {
		return fmt.Errorf("write %s: %w", m.Type(), err)
	}
	s.messagesOut.Add(1)
	s.srv.metrics.MessageSent(source)
	return nil
}

func (s *session) setState(st SessionState) {
	s.state.Store(int32(st))
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:           s.id,
		RemoteAddr:   s.remote,
		Transport:    s.transport,
		State:        SessionState(s.state.Load()).String(),
		ConnectedAt:  s.connectedAt,
		MessagesIn:   s.messagesIn.Load(),
		MessagesOut:  s.messagesOut.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		Pending:      s.sub.Pending(),
	}
}
