package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openagentlabs/signal-manager/internal/middleware"
)

// Handler upgrades HTTP requests and runs the connection pumps.
type Handler struct {
	hub        *Hub
	upgrader   websocket.Upgrader
	conns      *middleware.ConnLimiter
	pingPeriod time.Duration
	logger     *slog.Logger
}

// NewHandler creates a WebSocket handler. allowedOrigins empty allows every
// origin (non-browser agents send none); conns may be nil for no limit.
func NewHandler(hub *Hub, readBuf, writeBuf int, allowedOrigins []string, conns *middleware.ConnLimiter, logger *slog.Logger) *Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origins[origin]
			},
		},
		conns:  conns,
		logger: logger,
	}
}

// SetPingInterval overrides the transport keepalive period (from
// server.heartbeat_interval).
func (h *Handler) SetPingInterval(d time.Duration) {
	h.pingPeriod = d
}

// ServeHTTP upgrades HTTP to WebSocket and handles the connection
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.conns != nil && !h.conns.Acquire(r.RemoteAddr) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if h.conns != nil {
		defer h.conns.Release(r.RemoteAddr)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn, h.pingPeriod, h.logger)

	// Use a dedicated context for the WebSocket connection lifecycle
	// The request context gets cancelled when ServeHTTP returns after upgrade
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.SetCancelFunc(cancel)

	// Start client goroutines
	go client.WritePump(ctx)
	client.ReadPump(ctx) // Block here until client disconnects
}
