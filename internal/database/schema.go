package database

import (
	"context"
	"fmt"
)

// Schema for the signaling tables. Idempotent so startup can apply it
// unconditionally.
const schema = `
CREATE TABLE IF NOT EXISTS registered_clients (
    id            UUID PRIMARY KEY,
    client_id     TEXT NOT NULL UNIQUE,
    auth_token    TEXT NOT NULL,
    room_id       TEXT,
    capabilities  TEXT[],
    metadata      JSONB,
    registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_seen     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    status        TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS rooms (
    room_id            TEXT PRIMARY KEY,
    app_id             TEXT NOT NULL,
    sender_client_id   TEXT,
    receiver_client_id TEXT,
    session_id         TEXT,
    status             TEXT NOT NULL DEFAULT 'pending',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    metadata           JSONB
);

CREATE TABLE IF NOT EXISTS room_participants (
    id         UUID PRIMARY KEY,
    client_id  TEXT NOT NULL,
    room_id    TEXT NOT NULL,
    role       TEXT NOT NULL,
    session_id TEXT,
    joined_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    status     TEXT NOT NULL DEFAULT 'active',
    metadata   JSONB,
    UNIQUE (client_id, room_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS room_participants_one_sender
    ON room_participants (room_id) WHERE role = 'sender';

CREATE TABLE IF NOT EXISTS terminated_rooms (
    id                 BIGSERIAL PRIMARY KEY,
    room_id            TEXT NOT NULL,
    terminated_at      TIMESTAMPTZ NOT NULL,
    termination_reason TEXT NOT NULL,
    terminated_by      TEXT NOT NULL,
    final_status       TEXT NOT NULL,
    room               JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS participant_history (
    id                 BIGSERIAL PRIMARY KEY,
    room_id            TEXT NOT NULL,
    client_id          TEXT NOT NULL,
    terminated_at      TIMESTAMPTZ NOT NULL,
    termination_reason TEXT NOT NULL,
    terminated_by      TEXT NOT NULL,
    final_status       TEXT NOT NULL,
    participant        JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS terminated_rooms_room_id ON terminated_rooms (room_id);
CREATE INDEX IF NOT EXISTS participant_history_room_id ON participant_history (room_id);
`

// EnsureSchema applies the signaling schema.
func EnsureSchema(ctx context.Context, db *DB) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
