package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// RoomStatus is the lifecycle state of a room.
//
// Pending ──sender joins──► Active ──participants==0──► Terminated
//
// Terminated is absorbing: once reached, the room never leaves it.
type RoomStatus string

const (
	RoomStatusPending    RoomStatus = "pending"
	RoomStatusActive     RoomStatus = "active"
	RoomStatusInactive   RoomStatus = "inactive"
	RoomStatusTerminated RoomStatus = "terminated"
)

// Room is the durable record of one signaling room: up to one sender and one
// receiver sharing a single SFU session.
type Room struct {
	RoomID           string          `json:"room_id"`
	AppID            string          `json:"app_id"`
	SenderClientID   *string         `json:"sender_client_id,omitempty"`
	ReceiverClientID *string         `json:"receiver_client_id,omitempty"`
	SessionID        *string         `json:"session_id,omitempty"` // the sender's SFU session; set iff a sender has joined
	Status           RoomStatus      `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// Joinable reports whether new participants may still enter the room.
func (r *Room) Joinable() bool {
	return r.Status == RoomStatusPending || r.Status == RoomStatusActive
}

// Terminated reports whether the room has reached its terminal state.
func (r *Room) Terminated() bool {
	return r.Status == RoomStatusTerminated
}

// TerminatedRoom is the append-only archive record written when a room
// reaches Terminated. Never mutated after insert.
type TerminatedRoom struct {
	RoomID            string     `json:"room_id"`
	TerminatedAt      time.Time  `json:"terminated_at"`
	TerminationReason string     `json:"termination_reason"`
	TerminatedBy      string     `json:"terminated_by"`
	FinalStatus       RoomStatus `json:"final_status"`
	Room              Room       `json:"room"` // snapshot of the terminal state
}

// ParticipantHistory is the append-only archive record of one participant's
// terminal state.
type ParticipantHistory struct {
	RoomID            string            `json:"room_id"`
	ClientID          string            `json:"client_id"`
	TerminatedAt      time.Time         `json:"terminated_at"`
	TerminationReason string            `json:"termination_reason"`
	TerminatedBy      string            `json:"terminated_by"`
	FinalStatus       ParticipantStatus `json:"final_status"`
	Participant       RoomParticipant   `json:"participant"`
}

func normalizeLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
