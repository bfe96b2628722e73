package database

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/openagentlabs/signal-manager/internal/domain"
)

// PostgresClientRepository stores registered clients in Postgres.
type PostgresClientRepository struct {
	db *DB
}

func NewPostgresClientRepository(db *DB) *PostgresClientRepository {
	return &PostgresClientRepository{db: db}
}

func (r *PostgresClientRepository) Register(ctx context.Context, c *domain.RegisteredClient) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO registered_clients (id, client_id, auth_token, room_id, capabilities, metadata, registered_at, last_seen, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.ClientID, c.AuthToken, c.RoomID, c.Capabilities, c.Metadata, c.RegisteredAt, c.LastSeen, c.Status)
	return classify(err)
}

func (r *PostgresClientRepository) Get(ctx context.Context, clientID string) (*domain.RegisteredClient, error) {
	c := &domain.RegisteredClient{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, client_id, auth_token, room_id, capabilities, metadata, registered_at, last_seen, status
		FROM registered_clients WHERE client_id = $1
	`, clientID).Scan(
		&c.ID, &c.ClientID, &c.AuthToken, &c.RoomID,
		&c.Capabilities, &c.Metadata,
		&c.RegisteredAt, &c.LastSeen, &c.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return c, nil
}

func (r *PostgresClientRepository) ValidateCredentials(ctx context.Context, clientID, authToken string) error {
	var stored string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT auth_token FROM registered_clients WHERE client_id = $1
	`, clientID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return classify(err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(authToken)) != 1 {
		return ErrAuth
	}
	return nil
}

func (r *PostgresClientRepository) Delete(ctx context.Context, clientID string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM registered_clients WHERE client_id = $1
	`, clientID)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresClientRepository) SetRoomID(ctx context.Context, clientID string, roomID *string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE registered_clients SET room_id = $2 WHERE client_id = $1
	`, clientID, roomID)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresClientRepository) TouchLastSeen(ctx context.Context, clientID string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE registered_clients SET last_seen = NOW() WHERE client_id = $1
	`, clientID)
	return classify(err)
}
