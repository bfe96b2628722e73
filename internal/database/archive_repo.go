package database

import (
	"context"
	"encoding/json"

	"github.com/openagentlabs/signal-manager/internal/domain"
)

// PostgresTerminatedRoomRepository is the append-only room archive.
type PostgresTerminatedRoomRepository struct {
	db *DB
}

func NewPostgresTerminatedRoomRepository(db *DB) *PostgresTerminatedRoomRepository {
	return &PostgresTerminatedRoomRepository{db: db}
}

func (r *PostgresTerminatedRoomRepository) Append(ctx context.Context, rec *domain.TerminatedRoom) error {
	snapshot, err := json.Marshal(rec.Room)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO terminated_rooms (room_id, terminated_at, termination_reason, terminated_by, final_status, room)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.RoomID, rec.TerminatedAt, rec.TerminationReason, rec.TerminatedBy, rec.FinalStatus, snapshot)
	return classify(err)
}

func (r *PostgresTerminatedRoomRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.TerminatedRoom, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT room_id, terminated_at, termination_reason, terminated_by, final_status, room
		FROM terminated_rooms WHERE room_id = $1
		ORDER BY terminated_at
	`, roomID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var records []domain.TerminatedRoom
	for rows.Next() {
		var rec domain.TerminatedRoom
		var snapshot []byte
		if err := rows.Scan(&rec.RoomID, &rec.TerminatedAt, &rec.TerminationReason,
			&rec.TerminatedBy, &rec.FinalStatus, &snapshot); err != nil {
			return nil, classify(err)
		}
		if err := json.Unmarshal(snapshot, &rec.Room); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, classify(rows.Err())
}

// PostgresParticipantHistoryRepository is the append-only participant archive.
type PostgresParticipantHistoryRepository struct {
	db *DB
}

func NewPostgresParticipantHistoryRepository(db *DB) *PostgresParticipantHistoryRepository {
	return &PostgresParticipantHistoryRepository{db: db}
}

func (r *PostgresParticipantHistoryRepository) Append(ctx context.Context, rec *domain.ParticipantHistory) error {
	snapshot, err := json.Marshal(rec.Participant)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO participant_history (room_id, client_id, terminated_at, termination_reason, terminated_by, final_status, participant)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.RoomID, rec.ClientID, rec.TerminatedAt, rec.TerminationReason, rec.TerminatedBy, rec.FinalStatus, snapshot)
	return classify(err)
}

func (r *PostgresParticipantHistoryRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.ParticipantHistory, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT room_id, client_id, terminated_at, termination_reason, terminated_by, final_status, participant
		FROM participant_history WHERE room_id = $1
		ORDER BY terminated_at
	`, roomID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var records []domain.ParticipantHistory
	for rows.Next() {
		var rec domain.ParticipantHistory
		var snapshot []byte
		if err := rows.Scan(&rec.RoomID, &rec.ClientID, &rec.TerminatedAt, &rec.TerminationReason,
			&rec.TerminatedBy, &rec.FinalStatus, &snapshot); err != nil {
			return nil, classify(err)
		}
		if err := json.Unmarshal(snapshot, &rec.Participant); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, classify(rows.Err())
}

// NewPostgresRepositories wires all five Postgres repositories over one pool.
func NewPostgresRepositories(db *DB) *Repositories {
	return &Repositories{
		Clients:            NewPostgresClientRepository(db),
		Rooms:              NewPostgresRoomRepository(db),
		Participants:       NewPostgresParticipantRepository(db),
		TerminatedRooms:    NewPostgresTerminatedRoomRepository(db),
		ParticipantHistory: NewPostgresParticipantHistoryRepository(db),
	}
}
