package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/openagentlabs/signal-manager/internal/domain"
)

// PostgresRoomRepository stores rooms in Postgres. Updates carry a
// status <> 'terminated' guard so the terminal state is absorbing at the
// storage layer too.
type PostgresRoomRepository struct {
	db *DB
}

func NewPostgresRoomRepository(db *DB) *PostgresRoomRepository {
	return &PostgresRoomRepository{db: db}
}

func (r *PostgresRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO rooms (room_id, app_id, sender_client_id, receiver_client_id, session_id, status, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, room.RoomID, room.AppID, room.SenderClientID, room.ReceiverClientID,
		room.SessionID, room.Status, room.CreatedAt, room.Metadata)
	return classify(err)
}

func (r *PostgresRoomRepository) Get(ctx context.Context, roomID string) (*domain.Room, error) {
	room := &domain.Room{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT room_id, app_id, sender_client_id, receiver_client_id, session_id, status, created_at, metadata
		FROM rooms WHERE room_id = $1
	`, roomID).Scan(
		&room.RoomID, &room.AppID, &room.SenderClientID, &room.ReceiverClientID,
		&room.SessionID, &room.Status, &room.CreatedAt, &room.Metadata,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return room, nil
}

func (r *PostgresRoomRepository) SetSenderClientID(ctx context.Context, roomID, clientID string) error {
	return r.update(ctx, `
		UPDATE rooms SET sender_client_id = $2 WHERE room_id = $1 AND status <> 'terminated'
	`, roomID, clientID)
}

func (r *PostgresRoomRepository) SetReceiverClientID(ctx context.Context, roomID, clientID string) error {
	return r.update(ctx, `
		UPDATE rooms SET receiver_client_id = $2 WHERE room_id = $1 AND status <> 'terminated'
	`, roomID, clientID)
}

func (r *PostgresRoomRepository) SetSessionID(ctx context.Context, roomID, sessionID string) error {
	return r.update(ctx, `
		UPDATE rooms SET session_id = $2 WHERE room_id = $1 AND status <> 'terminated'
	`, roomID, sessionID)
}

func (r *PostgresRoomRepository) SetStatus(ctx context.Context, roomID string, status domain.RoomStatus) error {
	return r.update(ctx, `
		UPDATE rooms SET status = $2 WHERE room_id = $1 AND status <> 'terminated'
	`, roomID, status)
}

func (r *PostgresRoomRepository) Delete(ctx context.Context, roomID string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM rooms WHERE room_id = $1
	`, roomID)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRoomRepository) update(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
