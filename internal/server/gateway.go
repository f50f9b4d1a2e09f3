package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rickgao/ledgernet/internal/connection"
)

// upgrader accepts any origin; peers are nodes, not browsers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebSocketHandler upgrades each request and serves it as a session. Every
// binary WebSocket message carries exactly one frame.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.isClosed() {
			http.Error(w, "server closed", http.StatusServiceUnavailable)
			return
		}

		ip := hostOf(r.RemoteAddr)
		if !s.limiter.acquire(ip) {
			s.metrics.ConnectionRejected("per_ip_limit")
			s.logger.Warn("websocket connection rejected", "remote", r.RemoteAddr, "error", ErrConnLimit)
			http.Error(w, "too many connections", http.StatusTooManyRequests)
			return
		}
		defer s.limiter.release(ip)

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			s.metrics.ConnectionRejected("upgrade_failed")
			s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		s.serve(r.Context(), connection.NewWebSocket(ws, s.cfg.connConfig()), transportWebSocket)
	})
}
