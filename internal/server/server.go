// Package server builds the HTTP listener that carries the websocket
// transport and the health endpoints.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/openagentlabs/signal-manager/internal/config"
	"github.com/openagentlabs/signal-manager/internal/database"
	"github.com/openagentlabs/signal-manager/internal/websocket"
)

// Dependencies holds all service dependencies for the server
type Dependencies struct {
	DB        *database.DB // nil for the memory backend
	WSHandler *websocket.Handler
	Logger    *slog.Logger
}

// New creates the HTTP server with all routes configured.
func New(cfg *config.Config, deps *Dependencies) *http.Server {
	mux := http.NewServeMux()

	// Health check - essential for docker, k8s, load balancers
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Ready check - verifies the durable backend when one is configured
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.DB != nil {
			if err := deps.DB.Health(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"not ready","error":"database unavailable"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	mux.Handle("GET /ws", deps.WSHandler)

	return &http.Server{
		Addr:    cfg.Addr(),
		Handler: mux,
		// No global read/write timeouts: the websocket connections are
		// long-lived and manage their own deadlines.
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve listens with or without TLS per the configuration. A TLS identity
// failure surfaces as the listen error and is fatal to the caller.
func Serve(srv *http.Server, cfg *config.Config) error {
	if cfg.Server.TLSEnabled {
		return srv.ListenAndServeTLS(cfg.Server.TLSCertPath, cfg.Server.TLSKeyPath)
	}
	return srv.ListenAndServe()
}
