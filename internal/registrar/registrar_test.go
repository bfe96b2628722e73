package registrar

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagentlabs/signal-manager/internal/database"
	"github.com/openagentlabs/signal-manager/internal/domain"
	"github.com/openagentlabs/signal-manager/internal/events"
	"github.com/openagentlabs/signal-manager/internal/protocol"
)

func testRegistrar() (*Registrar, *database.MemoryClientRepository) {
	clients := database.NewMemoryClientRepository()
	return New(clients, events.NewMemoryBus(), slog.Default()), clients
}

func registerPayload() *protocol.RegisterPayload {
	return &protocol.RegisterPayload{
		Version:      "1.0.0",
		ClientID:     "c1",
		AuthToken:    "t1",
		Capabilities: []string{"video", "audio"},
	}
}

// =============================================================================
// Register Tests
// =============================================================================

func TestRegister_Success(t *testing.T) {
	r, clients := testRegistrar()

	ack := r.Register(context.Background(), registerPayload())
	assert.EqualValues(t, 200, ack.Status)
	assert.Equal(t, "Registration successful", ack.Message)
	assert.Equal(t, protocol.CurrentVersion, ack.Version)
	assert.Equal(t, "c1", ack.ClientID)
	assert.NotEmpty(t, ack.SessionID)

	stored, err := clients.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"video", "audio"}, stored.Capabilities)
	assert.Equal(t, domain.ClientStatusActive, stored.Status)
}

func TestRegister_MissingFields(t *testing.T) {
	r, _ := testRegistrar()

	cases := []struct {
		name    string
		mutate  func(*protocol.RegisterPayload)
		message string
	}{
		{"version", func(p *protocol.RegisterPayload) { p.Version = "" }, "Missing or invalid 'version' field"},
		{"client_id", func(p *protocol.RegisterPayload) { p.ClientID = "" }, "Missing or invalid 'client_id' field"},
		{"auth_token", func(p *protocol.RegisterPayload) { p.AuthToken = "" }, "Missing or invalid 'auth_token' field"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := registerPayload()
			tc.mutate(p)
			ack := r.Register(context.Background(), p)
			assert.EqualValues(t, 400, ack.Status)
			assert.Equal(t, tc.message, ack.Message)
		})
	}
}

func TestRegister_VersionNewerThanServer(t *testing.T) {
	r, clients := testRegistrar()

	p := registerPayload()
	p.Version = "2.0.0"
	ack := r.Register(context.Background(), p)
	assert.EqualValues(t, 400, ack.Status)
	assert.Equal(t, "Unsupported version: newer than server", ack.Message)

	// Rejected before any side effect.
	_, err := clients.Get(context.Background(), "c1")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestRegister_OlderVersionAccepted(t *testing.T) {
	r, _ := testRegistrar()
	p := registerPayload()
	p.Version = "0.9.0"
	ack := r.Register(context.Background(), p)
	assert.EqualValues(t, 200, ack.Status)
}

func TestRegister_DuplicateClientID(t *testing.T) {
	r, _ := testRegistrar()

	require.EqualValues(t, 200, r.Register(context.Background(), registerPayload()).Status)
	ack := r.Register(context.Background(), registerPayload())
	assert.EqualValues(t, 409, ack.Status)
}

type failingClientRepo struct {
	database.ClientRepository
	err error
}

func (f *failingClientRepo) Register(ctx context.Context, c *domain.RegisteredClient) error {
	return f.err
}

func TestRegister_RepositoryErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status uint16
	}{
		{database.ErrUnavailable, 503},
		{database.ErrAuth, 401},
		{errors.New("boom"), 500},
	}
	for _, tc := range cases {
		r := New(&failingClientRepo{err: tc.err}, nil, slog.Default())
		ack := r.Register(context.Background(), registerPayload())
		assert.Equal(t, tc.status, ack.Status, "error %v", tc.err)
	}
}

// =============================================================================
// Unregister Tests
// =============================================================================

func TestUnregister_Success(t *testing.T) {
	r, clients := testRegistrar()
	require.EqualValues(t, 200, r.Register(context.Background(), registerPayload()).Status)

	ack := r.Unregister(context.Background(), &protocol.UnregisterPayload{
		Version: "1.0.0", ClientID: "c1", AuthToken: "t1",
	})
	assert.EqualValues(t, 200, ack.Status)
	assert.Equal(t, "c1", ack.ClientID)

	_, err := clients.Get(context.Background(), "c1")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestUnregister_WrongToken(t *testing.T) {
	r, clients := testRegistrar()
	require.EqualValues(t, 200, r.Register(context.Background(), registerPayload()).Status)

	ack := r.Unregister(context.Background(), &protocol.UnregisterPayload{
		Version: "1.0.0", ClientID: "c1", AuthToken: "stolen",
	})
	assert.EqualValues(t, 401, ack.Status)

	// The registration survives a failed unregister.
	_, err := clients.Get(context.Background(), "c1")
	assert.NoError(t, err)
}

func TestUnregister_UnknownClient(t *testing.T) {
	r, _ := testRegistrar()
	ack := r.Unregister(context.Background(), &protocol.UnregisterPayload{
		Version: "1.0.0", ClientID: "ghost", AuthToken: "t",
	})
	assert.EqualValues(t, 404, ack.Status)
}

func TestUnregister_VersionCheckBeforeSideEffect(t *testing.T) {
	r, clients := testRegistrar()
	require.EqualValues(t, 200, r.Register(context.Background(), registerPayload()).Status)

	ack := r.Unregister(context.Background(), &protocol.UnregisterPayload{
		Version: "9.9.9", ClientID: "c1", AuthToken: "t1",
	})
	assert.EqualValues(t, 400, ack.Status)

	_, err := clients.Get(context.Background(), "c1")
	assert.NoError(t, err, "version rejection must precede the delete")
}
