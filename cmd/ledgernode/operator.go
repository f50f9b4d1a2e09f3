package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/ledgernet/internal/metrics"
	"github.com/rickgao/ledgernet/internal/router"
	"github.com/rickgao/ledgernet/internal/server"
	"github.com/rickgao/ledgernet/internal/version"
)

// operatorDeps are the components the operator HTTP endpoints report on.
type operatorDeps struct {
	instanceID  string
	server      *server.Server
	router      *router.Router
	gatherer    prometheus.Gatherer
	metricsPath string
	startedAt   time.Time
	logger      *slog.Logger
}

// newOperatorHandler creates the HTTP handler for health, metrics and debug
// endpoints.
func newOperatorHandler(d operatorDeps) http.Handler {
	if d.logger == nil {
		d.logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		health := struct {
			Status     string         `json:"status"`
			Instance   string         `json:"instance"`
			Uptime     string         `json:"uptime"`
			Version    version.Info   `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Instance:   d.instanceID,
			Uptime:     time.Since(d.startedAt).Truncate(time.Second).String(),
			Version:    version.Get(),
			Components: make(map[string]any),
		}

		select {
		case <-d.server.Ready():
			addr := ""
			if a := d.server.Addr(); a != nil {
				addr = a.String()
			}
			health.Components["listener"] = map[string]any{
				"status": "listening",
				"addr":   addr,
			}
		default:
			health.Status = "starting"
			health.Components["listener"] = map[string]any{"status": "not listening"}
		}

		health.Components["sessions"] = len(d.server.Sessions())
		health.Components["broadcast"] = d.server.BroadcastStats()
		if d.router != nil {
			health.Components["router"] = d.router.Stats()
		}

		status := http.StatusOK
		if health.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	})

	r.Handle(d.metricsPath, metrics.Handler(d.gatherer))

	r.Route("/debug", func(r chi.Router) {
		r.Get("/connections", func(w http.ResponseWriter, req *http.Request) {
			sessions := d.server.Sessions()

			byTransport := make(map[string]int)
			for _, s := range sessions {
				byTransport[s.Transport]++
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"total":        len(sessions),
				"by_transport": byTransport,
				"sessions":     sessions,
			})
		})

		r.Post("/disconnect", func(w http.ResponseWriter, req *http.Request) {
			idStr := req.URL.Query().Get("id")
			if idStr == "" {
				http.Error(w, "id parameter required (e.g., ?id=<session uuid>)", http.StatusBadRequest)
				return
			}

			id, err := uuid.Parse(idStr)
			if err != nil {
				http.Error(w, "invalid id parameter", http.StatusBadRequest)
				return
			}

			if err := d.server.Disconnect(id); err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, server.ErrUnknownSession) {
					status = http.StatusNotFound
				}
				http.Error(w, err.Error(), status)
				return
			}

			d.logger.Info("session disconnected by operator", "session_id", id.String())
			writeJSON(w, http.StatusOK, map[string]any{
				"status":     "disconnected",
				"session_id": id,
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
