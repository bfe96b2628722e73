package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/openagentlabs/signal-manager/internal/domain"
)

// PostgresParticipantRepository stores live room participants. The table's
// unique constraints back the one-live-record-per-(client,room) and
// one-sender-per-room invariants.
type PostgresParticipantRepository struct {
	db *DB
}

func NewPostgresParticipantRepository(db *DB) *PostgresParticipantRepository {
	return &PostgresParticipantRepository{db: db}
}

func (r *PostgresParticipantRepository) Add(ctx context.Context, p *domain.RoomParticipant) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO room_participants (id, client_id, room_id, role, session_id, joined_at, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.ClientID, p.RoomID, p.Role, p.SessionID, p.JoinedAt, p.Status, p.Metadata)
	return classify(err)
}

func (r *PostgresParticipantRepository) Get(ctx context.Context, clientID, roomID string) (*domain.RoomParticipant, error) {
	p := &domain.RoomParticipant{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, client_id, room_id, role, session_id, joined_at, status, metadata
		FROM room_participants WHERE client_id = $1 AND room_id = $2
	`, clientID, roomID).Scan(
		&p.ID, &p.ClientID, &p.RoomID, &p.Role,
		&p.SessionID, &p.JoinedAt, &p.Status, &p.Metadata,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return p, nil
}

func (r *PostgresParticipantRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.RoomParticipant, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, client_id, room_id, role, session_id, joined_at, status, metadata
		FROM room_participants WHERE room_id = $1
		ORDER BY joined_at
	`, roomID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return scanParticipants(rows)
}

func (r *PostgresParticipantRepository) ListByClient(ctx context.Context, clientID string) ([]domain.RoomParticipant, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, client_id, room_id, role, session_id, joined_at, status, metadata
		FROM room_participants WHERE client_id = $1
		ORDER BY joined_at
	`, clientID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return scanParticipants(rows)
}

func (r *PostgresParticipantRepository) Remove(ctx context.Context, clientID, roomID string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM room_participants WHERE client_id = $1 AND room_id = $2
	`, clientID, roomID)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresParticipantRepository) CountByRoom(ctx context.Context, roomID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM room_participants WHERE room_id = $1
	`, roomID).Scan(&count)
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

func scanParticipants(rows pgx.Rows) ([]domain.RoomParticipant, error) {
	var participants []domain.RoomParticipant
	for rows.Next() {
		var p domain.RoomParticipant
		if err := rows.Scan(
			&p.ID, &p.ClientID, &p.RoomID, &p.Role,
			&p.SessionID, &p.JoinedAt, &p.Status, &p.Metadata,
		); err != nil {
			return nil, classify(err)
		}
		participants = append(participants, p)
	}
	return participants, classify(rows.Err())
}
