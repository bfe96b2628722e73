package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagentlabs/signal-manager/internal/domain"
)

func newClient(clientID string) *domain.RegisteredClient {
	now := time.Now()
	return &domain.RegisteredClient{
		ID:           uuid.New(),
		ClientID:     clientID,
		AuthToken:    "t-" + clientID,
		Capabilities: []string{"video"},
		RegisteredAt: now,
		LastSeen:     now,
		Status:       domain.ClientStatusActive,
	}
}

func newRoom(roomID string) *domain.Room {
	return &domain.Room{
		RoomID:    roomID,
		AppID:     "app-1",
		Status:    domain.RoomStatusPending,
		CreatedAt: time.Now(),
	}
}

func newTestParticipant(clientID, roomID string, role domain.Role) *domain.RoomParticipant {
	return &domain.RoomParticipant{
		ID:       uuid.New(),
		ClientID: clientID,
		RoomID:   roomID,
		Role:     role,
		JoinedAt: time.Now(),
		Status:   domain.ParticipantStatusActive,
	}
}

// =============================================================================
// Client Repository Tests
// =============================================================================

func TestMemoryClientRepository_RegisterAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryClientRepository()

	require.NoError(t, repo.Register(ctx, newClient("c1")))

	got, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ClientID)

	_, err = repo.Get(ctx, "c2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryClientRepository_DuplicateClientID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryClientRepository()

	require.NoError(t, repo.Register(ctx, newClient("c1")))
	assert.ErrorIs(t, repo.Register(ctx, newClient("c1")), ErrDuplicate)
}

func TestMemoryClientRepository_ValidateCredentials(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryClientRepository()
	require.NoError(t, repo.Register(ctx, newClient("c1")))

	assert.NoError(t, repo.ValidateCredentials(ctx, "c1", "t-c1"))
	assert.ErrorIs(t, repo.ValidateCredentials(ctx, "c1", "wrong"), ErrAuth)
	assert.ErrorIs(t, repo.ValidateCredentials(ctx, "c9", "t"), ErrNotFound)
}

func TestMemoryClientRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryClientRepository()
	require.NoError(t, repo.Register(ctx, newClient("c1")))

	require.NoError(t, repo.Delete(ctx, "c1"))
	assert.ErrorIs(t, repo.Delete(ctx, "c1"), ErrNotFound)
}

func TestMemoryClientRepository_SetRoomID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryClientRepository()
	require.NoError(t, repo.Register(ctx, newClient("c1")))

	roomID := "r1"
	require.NoError(t, repo.SetRoomID(ctx, "c1", &roomID))
	got, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got.RoomID)
	assert.Equal(t, "r1", *got.RoomID)

	require.NoError(t, repo.SetRoomID(ctx, "c1", nil))
	got, err = repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, got.RoomID)
}

// =============================================================================
// Room Repository Tests
// =============================================================================

func TestMemoryRoomRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRoomRepository()

	require.NoError(t, repo.Create(ctx, newRoom("r1")))
	assert.ErrorIs(t, repo.Create(ctx, newRoom("r1")), ErrDuplicate)

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusPending, got.Status)
}

func TestMemoryRoomRepository_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRoomRepository()
	require.NoError(t, repo.Create(ctx, newRoom("r1")))

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	got.Status = domain.RoomStatusTerminated

	again, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusPending, again.Status, "mutating a returned room must not affect storage")
}

func TestMemoryRoomRepository_TerminatedIsAbsorbing(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRoomRepository()
	require.NoError(t, repo.Create(ctx, newRoom("r1")))

	require.NoError(t, repo.SetStatus(ctx, "r1", domain.RoomStatusTerminated))

	// No write path leads out of Terminated.
	assert.ErrorIs(t, repo.SetStatus(ctx, "r1", domain.RoomStatusActive), ErrNotFound)
	assert.ErrorIs(t, repo.SetSenderClientID(ctx, "r1", "c1"), ErrNotFound)
	assert.ErrorIs(t, repo.SetReceiverClientID(ctx, "r1", "c2"), ErrNotFound)
	assert.ErrorIs(t, repo.SetSessionID(ctx, "r1", "s1"), ErrNotFound)

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusTerminated, got.Status)
}

func TestMemoryRoomRepository_Setters(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRoomRepository()
	require.NoError(t, repo.Create(ctx, newRoom("r1")))

	require.NoError(t, repo.SetSenderClientID(ctx, "r1", "c1"))
	require.NoError(t, repo.SetReceiverClientID(ctx, "r1", "c2"))
	require.NoError(t, repo.SetSessionID(ctx, "r1", "sess-1"))
	require.NoError(t, repo.SetStatus(ctx, "r1", domain.RoomStatusActive))

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "c1", *got.SenderClientID)
	assert.Equal(t, "c2", *got.ReceiverClientID)
	assert.Equal(t, "sess-1", *got.SessionID)
	assert.Equal(t, domain.RoomStatusActive, got.Status)
}

// =============================================================================
// Participant Repository Tests
// =============================================================================

func TestMemoryParticipantRepository_AddGetRemove(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryParticipantRepository()

	require.NoError(t, repo.Add(ctx, newTestParticipant("c1", "r1", domain.RoleSender)))

	got, err := repo.Get(ctx, "c1", "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSender, got.Role)

	count, err := repo.CountByRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, repo.Remove(ctx, "c1", "r1"))
	assert.ErrorIs(t, repo.Remove(ctx, "c1", "r1"), ErrNotFound)
}

func TestMemoryParticipantRepository_OneLiveRecordPerClientRoom(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryParticipantRepository()

	require.NoError(t, repo.Add(ctx, newTestParticipant("c1", "r1", domain.RoleReceiver)))
	assert.ErrorIs(t, repo.Add(ctx, newTestParticipant("c1", "r1", domain.RoleReceiver)), ErrDuplicate)
}

func TestMemoryParticipantRepository_OneSenderPerRoom(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryParticipantRepository()

	require.NoError(t, repo.Add(ctx, newTestParticipant("c1", "r1", domain.RoleSender)))
	assert.ErrorIs(t, repo.Add(ctx, newTestParticipant("c2", "r1", domain.RoleSender)), ErrDuplicate)

	// A second sender in a different room is fine.
	require.NoError(t, repo.Add(ctx, newTestParticipant("c2", "r2", domain.RoleSender)))
	// And a receiver in the first room is fine.
	require.NoError(t, repo.Add(ctx, newTestParticipant("c3", "r1", domain.RoleReceiver)))
}

func TestMemoryParticipantRepository_MultiRoomMembership(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryParticipantRepository()

	require.NoError(t, repo.Add(ctx, newTestParticipant("c1", "r1", domain.RoleReceiver)))
	require.NoError(t, repo.Add(ctx, newTestParticipant("c1", "r2", domain.RoleReceiver)))

	memberships, err := repo.ListByClient(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, memberships, 2)
}

// =============================================================================
// Archive Repository Tests
// =============================================================================

func TestMemoryArchives_AppendOnly(t *testing.T) {
	ctx := context.Background()
	rooms := NewMemoryTerminatedRoomRepository()
	history := NewMemoryParticipantHistoryRepository()

	rec := &domain.TerminatedRoom{
		RoomID:            "r1",
		TerminatedAt:      time.Now(),
		TerminationReason: "Room empty",
		TerminatedBy:      "c1",
		FinalStatus:       domain.RoomStatusTerminated,
		Room:              *newRoom("r1"),
	}
	require.NoError(t, rooms.Append(ctx, rec))
	require.NoError(t, rooms.Append(ctx, rec))

	got, err := rooms.ListByRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	none, err := rooms.ListByRoom(ctx, "r9")
	require.NoError(t, err)
	assert.Empty(t, none)

	hrec := &domain.ParticipantHistory{
		RoomID:       "r1",
		ClientID:     "c1",
		TerminatedAt: time.Now(),
		FinalStatus:  domain.ParticipantStatusInactive,
	}
	require.NoError(t, history.Append(ctx, hrec))
	hgot, err := history.ListByRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, hgot, 1)
}

// =============================================================================
// Status Mapping Tests
// =============================================================================

func TestStatusFor(t *testing.T) {
	assert.EqualValues(t, 200, StatusFor(nil))
	assert.EqualValues(t, 404, StatusFor(ErrNotFound))
	assert.EqualValues(t, 409, StatusFor(ErrDuplicate))
	assert.EqualValues(t, 401, StatusFor(ErrAuth))
	assert.EqualValues(t, 503, StatusFor(ErrUnavailable))
	assert.EqualValues(t, 500, StatusFor(assert.AnError))
}
