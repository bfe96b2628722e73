// Package session maintains the live map of authenticated client sessions
// and routes peer-addressed signaling frames between them.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openagentlabs/signal-manager/internal/auth"
	"github.com/openagentlabs/signal-manager/internal/domain"
	"github.com/openagentlabs/signal-manager/internal/events"
	"github.com/openagentlabs/signal-manager/internal/protocol"
)

// DefaultChannelCapacity bounds each session's outbound channel.
const DefaultChannelCapacity = 100

// Registry owns the client_id → Session map. It holds its lock only for
// bounded in-memory critical sections; enqueueing is non-blocking.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	store    *auth.Store
	bus      events.Bus
	capacity int
	logger   *slog.Logger
}

// NewRegistry creates a session registry backed by the given credential
// store. bus may be nil when no event consumers are configured.
func NewRegistry(store *auth.Store, bus events.Bus, capacity int, logger *slog.Logger) *Registry {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	return &Registry{
		sessions: make(map[string]*Session),
		store:    store,
		bus:      bus,
		capacity: capacity,
		logger:   logger.With("component", "session"),
	}
}

// Connect authenticates (clientID, token) and installs a new session. The
// CONNECT_ACK is enqueued on the session's outbound channel before the
// session becomes routable, so it is always the first frame the client sees.
func (r *Registry) Connect(clientID, token string) (*Session, error) {
	if !r.store.Authenticate(clientID, token) {
		return nil, domain.ErrAuthenticationFailed
	}

	now := time.Now()
	sessionID := uuid.New().String()
	s := newSession(clientID, sessionID, now, r.capacity)

	ack := protocol.NewMessage(protocol.MsgConnectAck, &protocol.ConnectAckPayload{
		Status:    "success",
		SessionID: sessionID,
	})
	s.Enqueue(ack) // cannot fail: channel is fresh

	r.mu.Lock()
	if _, exists := r.sessions[clientID]; exists {
		r.mu.Unlock()
		return nil, domain.ErrAlreadyConnected
	}
	r.sessions[clientID] = s
	r.mu.Unlock()

	r.logger.Info("client connected", "client_id", clientID, "session_id", sessionID)
	r.emit(&events.Event{
		Type:      events.TypeSessionConnected,
		ClientID:  clientID,
		SessionID: sessionID,
		Timestamp: now,
	})
	return s, nil
}

// Disconnect removes the session and closes its outbound channel. It is a
// no-op for unknown clients.
func (r *Registry) Disconnect(clientID string) {
	r.mu.Lock()
	s, ok := r.sessions[clientID]
	if ok {
		delete(r.sessions, clientID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	s.close()
	r.logger.Info("client disconnected", "client_id", clientID, "session_id", s.SessionID)
	r.emit(&events.Event{
		Type:      events.TypeSessionDisconnected,
		ClientID:  clientID,
		SessionID: s.SessionID,
		Timestamp: time.Now(),
	})
}

// Heartbeat records a heartbeat and returns the server's unix-seconds
// timestamp for the ack. Returns ErrClientNotFound when no session exists.
func (r *Registry) Heartbeat(clientID string) (uint64, error) {
	r.mu.RLock()
	s, ok := r.sessions[clientID]
	r.mu.RUnlock()
	if !ok {
		return 0, domain.ErrClientNotFound
	}

	now := time.Now()
	s.touch(now)
	r.logger.Debug("heartbeat", "client_id", clientID)
	return uint64(now.Unix()), nil
}

// Route forwards a SIGNAL_* frame unchanged to the target session's outbound
// channel. A full or closed target channel drops the frame with a log event;
// only a missing target surfaces as an error to the caller.
func (r *Registry) Route(fromClientID string, msg *protocol.Message) error {
	payload, ok := msg.Payload.(*protocol.SignalPayload)
	if !ok {
		r.logger.Warn("unexpected message type for routing", "type", msg.Type.String())
		return nil
	}

	r.mu.RLock()
	target, ok := r.sessions[payload.TargetClientID]
	r.mu.RUnlock()
	if !ok {
		return domain.ErrClientNotFound
	}

	if !target.Enqueue(msg) {
		r.logger.Warn("dropping routed frame: outbound channel unavailable",
			"from", fromClientID, "to", payload.TargetClientID, "type", msg.Type.String())
		return nil
	}
	r.logger.Debug("routed frame", "from", fromClientID, "to", payload.TargetClientID, "type", msg.Type.String())
	return nil
}

// Broadcast enqueues the frame on every session except exclude ("" to reach
// all). Best-effort: full channels drop.
func (r *Registry) Broadcast(msg *protocol.Message, exclude string) {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id != exclude {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if !s.Enqueue(msg) {
			r.logger.Warn("dropping broadcast frame", "to", s.ClientID, "type", msg.Type.String())
		}
	}
}

// Get returns the live session for clientID, if any.
func (r *Registry) Get(clientID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[clientID]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of all live sessions.
func (r *Registry) Sessions() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, Info{
			ClientID:      s.ClientID,
			SessionID:     s.SessionID,
			ConnectedAt:   s.ConnectedAt,
			LastHeartbeat: s.LastHeartbeat(),
		})
	}
	return infos
}

// Sweep removes sessions whose last heartbeat is older than maxAge and
// returns the client ids that were reaped.
func (r *Registry) Sweep(maxAge time.Duration) []string {
	now := time.Now()

	r.mu.Lock()
	var expired []*Session
	for clientID, s := range r.sessions {
		if now.Sub(s.LastHeartbeat()) > maxAge {
			delete(r.sessions, clientID)
			expired = append(expired, s)
		}
	}
	r.mu.Unlock()

	reaped := make([]string, 0, len(expired))
	for _, s := range expired {
		s.close()
		reaped = append(reaped, s.ClientID)
		r.logger.Info("removed expired session", "client_id", s.ClientID, "session_id", s.SessionID)
		r.emit(&events.Event{
			Type:      events.TypeSessionExpired,
			ClientID:  s.ClientID,
			SessionID: s.SessionID,
			Timestamp: now,
		})
	}
	return reaped
}

// RunSweeper runs Sweep every interval until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(maxAge)
		}
	}
}

func (r *Registry) emit(ev *events.Event) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(context.Background(), events.TopicLifecycle, ev); err != nil {
		r.logger.Warn("failed to publish event", "type", ev.Type, "error", err)
	}
}
