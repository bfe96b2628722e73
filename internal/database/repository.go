// Package database owns the durable state of the signaling server: registered
// clients, rooms, room participants, and the append-only archives. The
// interfaces here are the pluggable seam; Postgres and in-memory
// implementations live alongside them.
package database

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openagentlabs/signal-manager/internal/domain"
)

// ClientRepository stores durable client registrations keyed by client_id.
type ClientRepository interface {
	// Register inserts a new registration. ErrDuplicate if client_id exists.
	Register(ctx context.Context, c *domain.RegisteredClient) error
	// Get returns the registration or ErrNotFound.
	Get(ctx context.Context, clientID string) (*domain.RegisteredClient, error)
	// ValidateCredentials returns nil when (client_id, auth_token) match,
	// ErrAuth on mismatch and ErrNotFound for unknown clients.
	ValidateCredentials(ctx context.Context, clientID, authToken string) error
	// Delete removes the registration. ErrNotFound if absent.
	Delete(ctx context.Context, clientID string) error
	// SetRoomID updates the convenience room pointer (nil clears it).
	SetRoomID(ctx context.Context, clientID string, roomID *string) error
	// TouchLastSeen bumps last_seen to now.
	TouchLastSeen(ctx context.Context, clientID string) error
}

// RoomRepository stores rooms keyed by room_id. All mutating operations
// return ErrNotFound for terminated rooms: Terminated is absorbing.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	Get(ctx context.Context, roomID string) (*domain.Room, error)
	SetSenderClientID(ctx context.Context, roomID, clientID string) error
	SetReceiverClientID(ctx context.Context, roomID, clientID string) error
	SetSessionID(ctx context.Context, roomID, sessionID string) error
	SetStatus(ctx context.Context, roomID string, status domain.RoomStatus) error
	// Delete removes the room row entirely (rollback path only).
	Delete(ctx context.Context, roomID string) error
}

// ParticipantRepository stores live room participants. At most one live
// record per (client_id, room_id).
type ParticipantRepository interface {
	// Add inserts a participant. ErrDuplicate on a live (client_id, room_id)
	// collision or a second live sender for the room.
	Add(ctx context.Context, p *domain.RoomParticipant) error
	// Get returns the live participant or ErrNotFound.
	Get(ctx context.Context, clientID, roomID string) (*domain.RoomParticipant, error)
	// ListByRoom returns all live participants of the room.
	ListByRoom(ctx context.Context, roomID string) ([]domain.RoomParticipant, error)
	// ListByClient returns all live participants for the client.
	ListByClient(ctx context.Context, clientID string) ([]domain.RoomParticipant, error)
	// Remove deletes the live participant. ErrNotFound if absent.
	Remove(ctx context.Context, clientID, roomID string) error
	// CountByRoom returns the number of live participants in the room.
	CountByRoom(ctx context.Context, roomID string) (int, error)
}

// TerminatedRoomRepository is the append-only room archive.
type TerminatedRoomRepository interface {
	Append(ctx context.Context, rec *domain.TerminatedRoom) error
	ListByRoom(ctx context.Context, roomID string) ([]domain.TerminatedRoom, error)
}

// ParticipantHistoryRepository is the append-only participant archive.
type ParticipantHistoryRepository interface {
	Append(ctx context.Context, rec *domain.ParticipantHistory) error
	ListByRoom(ctx context.Context, roomID string) ([]domain.ParticipantHistory, error)
}

// Repositories bundles the five repository interfaces for wiring.
type Repositories struct {
	Clients            ClientRepository
	Rooms              RoomRepository
	Participants       ParticipantRepository
	TerminatedRooms    TerminatedRoomRepository
	ParticipantHistory ParticipantHistoryRepository
}

const pgUniqueViolation = "23505"

// classify maps a pgx error onto the repository sentinels, wrapping so the
// original error stays inspectable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return errors.Join(ErrDuplicate, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrUnavailable, err)
	}
	return err
}
