package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ClientStatus is the lifecycle state of a registered client.
type ClientStatus string

const (
	ClientStatusActive    ClientStatus = "active"
	ClientStatusInactive  ClientStatus = "inactive"
	ClientStatusSuspended ClientStatus = "suspended"
	ClientStatusPending   ClientStatus = "pending"
)

// RegisteredClient is the durable record created by REGISTER and removed by
// UNREGISTER. ClientID is unique across all live records.
type RegisteredClient struct {
	ID           uuid.UUID       `json:"id"`
	ClientID     string          `json:"client_id"`
	AuthToken    string          `json:"-"` // never expose
	RoomID       *string         `json:"room_id,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	RegisteredAt time.Time       `json:"registered_at"`
	LastSeen     time.Time       `json:"last_seen"`
	Status       ClientStatus    `json:"status"`
}

// Role of a participant within a room.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// ParseRole normalises and validates a wire-level role string.
func ParseRole(s string) (Role, bool) {
	switch Role(normalizeLower(s)) {
	case RoleSender:
		return RoleSender, true
	case RoleReceiver:
		return RoleReceiver, true
	}
	return "", false
}

// ParticipantStatus is the lifecycle state of a room participant.
type ParticipantStatus string

const (
	ParticipantStatusActive       ParticipantStatus = "active"
	ParticipantStatusInactive     ParticipantStatus = "inactive"
	ParticipantStatusDisconnected ParticipantStatus = "disconnected"
	ParticipantStatusPending      ParticipantStatus = "pending"
)

// RoomParticipant is the durable record of one client's membership in one
// room. For a given (client_id, room_id) at most one live record exists.
type RoomParticipant struct {
	ID        uuid.UUID         `json:"id"`
	ClientID  string            `json:"client_id"`
	RoomID    string            `json:"room_id"`
	Role      Role              `json:"role"`
	SessionID *string           `json:"session_id,omitempty"` // SFU session, set for senders and subscribed receivers
	JoinedAt  time.Time         `json:"joined_at"`
	Status    ParticipantStatus `json:"status"`
	Metadata  json.RawMessage   `json:"metadata,omitempty"`
}
