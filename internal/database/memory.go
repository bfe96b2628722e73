package database

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/openagentlabs/signal-manager/internal/domain"
)

// In-memory repositories. Suitable for single-instance deployments without a
// Postgres backend, and for tests. Each repository copies the record struct on
// the way in and out; slice, pointer and raw JSON fields inside a record are
// not deep-copied and stay shared with the caller.

// MemoryClientRepository stores registered clients in a map.
type MemoryClientRepository struct {
	mu      sync.RWMutex
	clients map[string]domain.RegisteredClient
}

func NewMemoryClientRepository() *MemoryClientRepository {
	return &MemoryClientRepository{clients: make(map[string]domain.RegisteredClient)}
}

func (r *MemoryClientRepository) Register(ctx context.Context, c *domain.RegisteredClient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[c.ClientID]; exists {
		return ErrDuplicate
	}
	r.clients[c.ClientID] = *c
	return nil
}

func (r *MemoryClientRepository) Get(ctx context.Context, clientID string) (*domain.RegisteredClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (r *MemoryClientRepository) ValidateCredentials(ctx context.Context, clientID, authToken string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	if !ok {
		return ErrNotFound
	}
	if subtle.ConstantTimeCompare([]byte(c.AuthToken), []byte(authToken)) != 1 {
		return ErrAuth
	}
	return nil
}

func (r *MemoryClientRepository) Delete(ctx context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[clientID]; !ok {
		return ErrNotFound
	}
	delete(r.clients, clientID)
	return nil
}

func (r *MemoryClientRepository) SetRoomID(ctx context.Context, clientID string, roomID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return ErrNotFound
	}
	c.RoomID = roomID
	r.clients[clientID] = c
	return nil
}

func (r *MemoryClientRepository) TouchLastSeen(ctx context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return ErrNotFound
	}
	c.LastSeen = time.Now()
	r.clients[clientID] = c
	return nil
}

// MemoryRoomRepository stores rooms in a map.
type MemoryRoomRepository struct {
	mu    sync.RWMutex
	rooms map[string]domain.Room
}

func NewMemoryRoomRepository() *MemoryRoomRepository {
	return &MemoryRoomRepository{rooms: make(map[string]domain.Room)}
}

func (r *MemoryRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[room.RoomID]; exists {
		return ErrDuplicate
	}
	r.rooms[room.RoomID] = *room
	return nil
}

func (r *MemoryRoomRepository) Get(ctx context.Context, roomID string) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return &room, nil
}

// mutate applies fn to a live (non-terminated) room.
func (r *MemoryRoomRepository) mutate(roomID string, fn func(*domain.Room)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok || room.Terminated() {
		return ErrNotFound
	}
	fn(&room)
	r.rooms[roomID] = room
	return nil
}

func (r *MemoryRoomRepository) SetSenderClientID(ctx context.Context, roomID, clientID string) error {
	return r.mutate(roomID, func(room *domain.Room) { room.SenderClientID = &clientID })
}

func (r *MemoryRoomRepository) SetReceiverClientID(ctx context.Context, roomID, clientID string) error {
	return r.mutate(roomID, func(room *domain.Room) { room.ReceiverClientID = &clientID })
}

func (r *MemoryRoomRepository) SetSessionID(ctx context.Context, roomID, sessionID string) error {
	return r.mutate(roomID, func(room *domain.Room) { room.SessionID = &sessionID })
}

func (r *MemoryRoomRepository) SetStatus(ctx context.Context, roomID string, status domain.RoomStatus) error {
	return r.mutate(roomID, func(room *domain.Room) { room.Status = status })
}

func (r *MemoryRoomRepository) Delete(ctx context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[roomID]; !ok {
		return ErrNotFound
	}
	delete(r.rooms, roomID)
	return nil
}

// MemoryParticipantRepository stores live participants keyed by
// (client_id, room_id).
type MemoryParticipantRepository struct {
	mu           sync.RWMutex
	participants map[participantKey]domain.RoomParticipant
}

type participantKey struct {
	clientID string
	roomID   string
}

func NewMemoryParticipantRepository() *MemoryParticipantRepository {
	return &MemoryParticipantRepository{participants: make(map[participantKey]domain.RoomParticipant)}
}

func (r *MemoryParticipantRepository) Add(ctx context.Context, p *domain.RoomParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := participantKey{p.ClientID, p.RoomID}
	if _, exists := r.participants[key]; exists {
		return ErrDuplicate
	}
	if p.Role == domain.RoleSender {
		for _, other := range r.participants {
			if other.RoomID == p.RoomID && other.Role == domain.RoleSender {
				return ErrDuplicate
			}
		}
	}
	r.participants[key] = *p
	return nil
}

func (r *MemoryParticipantRepository) Get(ctx context.Context, clientID, roomID string) (*domain.RoomParticipant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[participantKey{clientID, roomID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryParticipantRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.RoomParticipant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.RoomParticipant
	for _, p := range r.participants {
		if p.RoomID == roomID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (r *MemoryParticipantRepository) ListByClient(ctx context.Context, clientID string) ([]domain.RoomParticipant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.RoomParticipant
	for _, p := range r.participants {
		if p.ClientID == clientID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (r *MemoryParticipantRepository) Remove(ctx context.Context, clientID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := participantKey{clientID, roomID}
	if _, ok := r.participants[key]; !ok {
		return ErrNotFound
	}
	delete(r.participants, key)
	return nil
}

func (r *MemoryParticipantRepository) CountByRoom(ctx context.Context, roomID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, p := range r.participants {
		if p.RoomID == roomID {
			count++
		}
	}
	return count, nil
}

// MemoryTerminatedRoomRepository is the append-only room archive.
type MemoryTerminatedRoomRepository struct {
	mu      sync.RWMutex
	records []domain.TerminatedRoom
}

func NewMemoryTerminatedRoomRepository() *MemoryTerminatedRoomRepository {
	return &MemoryTerminatedRoomRepository{}
}

func (r *MemoryTerminatedRoomRepository) Append(ctx context.Context, rec *domain.TerminatedRoom) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

func (r *MemoryTerminatedRoomRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.TerminatedRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.TerminatedRoom
	for _, rec := range r.records {
		if rec.RoomID == roomID {
			result = append(result, rec)
		}
	}
	return result, nil
}

// MemoryParticipantHistoryRepository is the append-only participant archive.
type MemoryParticipantHistoryRepository struct {
	mu      sync.RWMutex
	records []domain.ParticipantHistory
}

func NewMemoryParticipantHistoryRepository() *MemoryParticipantHistoryRepository {
	return &MemoryParticipantHistoryRepository{}
}

func (r *MemoryParticipantHistoryRepository) Append(ctx context.Context, rec *domain.ParticipantHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

func (r *MemoryParticipantHistoryRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.ParticipantHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.ParticipantHistory
	for _, rec := range r.records {
		if rec.RoomID == roomID {
			result = append(result, rec)
		}
	}
	return result, nil
}

// NewMemoryRepositories wires the in-memory implementations.
func NewMemoryRepositories() *Repositories {
	return &Repositories{
		Clients:            NewMemoryClientRepository(),
		Rooms:              NewMemoryRoomRepository(),
		Participants:       NewMemoryParticipantRepository(),
		TerminatedRooms:    NewMemoryTerminatedRoomRepository(),
		ParticipantHistory: NewMemoryParticipantHistoryRepository(),
	}
}
