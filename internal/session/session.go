package session

import (
	"sync"
	"time"

	"github.com/openagentlabs/signal-manager/internal/protocol"
)

// Session is the in-memory record of one live authenticated connection. The
// outbound channel has exactly one consumer: the connection's writer task.
type Session struct {
	ClientID    string
	SessionID   string
	ConnectedAt time.Time

	mu            sync.Mutex
	lastHeartbeat time.Time
	closed        bool
	out           chan *protocol.Message
}

func newSession(clientID, sessionID string, now time.Time, capacity int) *Session {
	return &Session{
		ClientID:      clientID,
		SessionID:     sessionID,
		ConnectedAt:   now,
		lastHeartbeat: now,
		out:           make(chan *protocol.Message, capacity),
	}
}

// Out is the outbound frame channel consumed by the connection's writer task.
// It is closed when the session is destroyed.
func (s *Session) Out() <-chan *protocol.Message {
	return s.out
}

// Enqueue offers a frame to the outbound channel without blocking. It returns
// false if the session is closed or the channel is full; the caller decides
// whether that is a drop worth logging.
func (s *Session) Enqueue(msg *protocol.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

// LastHeartbeat returns the time of the most recent heartbeat.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastHeartbeat = now
	s.mu.Unlock()
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}

// Info is a point-in-time snapshot of a session, safe to hand out.
type Info struct {
	ClientID      string    `json:"client_id"`
	SessionID     string    `json:"session_id"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}
