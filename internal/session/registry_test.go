package session

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagentlabs/signal-manager/internal/auth"
	"github.com/openagentlabs/signal-manager/internal/domain"
	"github.com/openagentlabs/signal-manager/internal/events"
	"github.com/openagentlabs/signal-manager/internal/protocol"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := auth.NewStore(auth.MethodToken, []string{"c1:t1", "c2:t2"}, slog.Default())
	require.NoError(t, err)
	return NewRegistry(store, events.NewMemoryBus(), 4, slog.Default())
}

// =============================================================================
// Connect / Disconnect Tests
// =============================================================================

func TestRegistry_ConnectSuccess(t *testing.T) {
	r := testRegistry(t)

	s, err := r.Connect("c1", "t1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "c1", s.ClientID)
	assert.NotEmpty(t, s.SessionID)
	assert.Equal(t, 1, r.Len())

	// The CONNECT_ACK must be the first frame on the outbound channel.
	select {
	case msg := <-s.Out():
		require.Equal(t, protocol.MsgConnectAck, msg.Type)
		ack := msg.Payload.(*protocol.ConnectAckPayload)
		assert.Equal(t, "success", ack.Status)
		assert.Equal(t, s.SessionID, ack.SessionID)
	default:
		t.Fatal("expected CONNECT_ACK queued on the session channel")
	}
}

func TestRegistry_ConnectBadCredentials(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Connect("c1", "wrong")
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)

	_, err = r.Connect("nobody", "t1")
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_SecondConnectRejected(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Connect("c1", "t1")
	require.NoError(t, err)

	_, err = r.Connect("c1", "t1")
	assert.ErrorIs(t, err, domain.ErrAlreadyConnected)
	assert.Equal(t, 1, r.Len(), "at most one session per client_id")
}

func TestRegistry_ReconnectAfterDisconnect(t *testing.T) {
	r := testRegistry(t)

	s1, err := r.Connect("c1", "t1")
	require.NoError(t, err)
	r.Disconnect("c1")
	assert.Equal(t, 0, r.Len())

	s2, err := r.Connect("c1", "t1")
	require.NoError(t, err)
	assert.NotEqual(t, s1.SessionID, s2.SessionID)
}

func TestRegistry_DisconnectClosesChannel(t *testing.T) {
	r := testRegistry(t)

	s, err := r.Connect("c1", "t1")
	require.NoError(t, err)

	r.Disconnect("c1")
	<-s.Out() // drain the CONNECT_ACK
	_, open := <-s.Out()
	assert.False(t, open, "outbound channel must be closed after disconnect")

	// Enqueue after close must not panic and must report the drop.
	assert.False(t, s.Enqueue(protocol.NewMessage(protocol.MsgHeartbeatAck, &protocol.HeartbeatAckPayload{})))
}

func TestRegistry_DisconnectUnknownClientIsNoop(t *testing.T) {
	r := testRegistry(t)
	r.Disconnect("ghost")
	assert.Equal(t, 0, r.Len())
}

// =============================================================================
// Heartbeat Tests
// =============================================================================

func TestRegistry_Heartbeat(t *testing.T) {
	r := testRegistry(t)

	s, err := r.Connect("c1", "t1")
	require.NoError(t, err)
	before := s.LastHeartbeat()

	time.Sleep(5 * time.Millisecond)
	ts, err := r.Heartbeat("c1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ts, uint64(before.Unix()))
	assert.True(t, s.LastHeartbeat().After(before))
}

func TestRegistry_HeartbeatUnknownClient(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Heartbeat("c1")
	assert.ErrorIs(t, err, domain.ErrClientNotFound)
}

// =============================================================================
// Routing Tests
// =============================================================================

func TestRegistry_RouteDeliversUnchanged(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Connect("c1", "t1")
	require.NoError(t, err)
	s2, err := r.Connect("c2", "t2")
	require.NoError(t, err)
	<-s2.Out() // drain c2's CONNECT_ACK

	sent := protocol.NewMessage(protocol.MsgSignalOffer, &protocol.SignalPayload{
		TargetClientID: "c2",
		SignalData:     "sdpA",
	})
	require.NoError(t, r.Route("c1", sent))

	select {
	case got := <-s2.Out():
		assert.Same(t, sent, got, "routed frame must be forwarded unchanged")
		assert.Equal(t, sent.UUID, got.UUID)
		assert.Equal(t, "sdpA", got.Payload.(*protocol.SignalPayload).SignalData)
	default:
		t.Fatal("expected routed frame on target channel")
	}
}

func TestRegistry_RouteToAbsentTarget(t *testing.T) {
	r := testRegistry(t)

	s1, err := r.Connect("c1", "t1")
	require.NoError(t, err)
	<-s1.Out()

	msg := protocol.NewMessage(protocol.MsgSignalOffer, &protocol.SignalPayload{
		TargetClientID: "c9",
		SignalData:     "sdp",
	})
	assert.ErrorIs(t, r.Route("c1", msg), domain.ErrClientNotFound)

	// The sender receives nothing.
	select {
	case frame := <-s1.Out():
		t.Fatalf("sender should receive nothing, got %s", frame.Type)
	default:
	}
}

func TestRegistry_RouteFullChannelDropsWithoutError(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Connect("c1", "t1")
	require.NoError(t, err)
	_, err = r.Connect("c2", "t2")
	require.NoError(t, err)

	msg := func() *protocol.Message {
		return protocol.NewMessage(protocol.MsgSignalICE, &protocol.SignalPayload{
			TargetClientID: "c2", SignalData: "cand",
		})
	}
	// Capacity is 4 and the CONNECT_ACK occupies one slot; overfill it.
	for i := 0; i < 10; i++ {
		assert.NoError(t, r.Route("c1", msg()), "a full channel is a drop, not a sender error")
	}
}

// =============================================================================
// Sweep / Broadcast Tests
// =============================================================================

func TestRegistry_SweepRemovesExpired(t *testing.T) {
	r := testRegistry(t)

	s, err := r.Connect("c1", "t1")
	require.NoError(t, err)
	_, err = r.Connect("c2", "t2")
	require.NoError(t, err)

	// Age c1's heartbeat far into the past.
	s.touch(time.Now().Add(-2 * time.Hour))

	reaped := r.Sweep(time.Hour)
	assert.Equal(t, []string{"c1"}, reaped)
	assert.Equal(t, 1, r.Len())

	_, ok := r.Get("c2")
	assert.True(t, ok)
}

func TestRegistry_SweepKeepsFresh(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Connect("c1", "t1")
	require.NoError(t, err)

	assert.Empty(t, r.Sweep(time.Hour))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Broadcast(t *testing.T) {
	r := testRegistry(t)

	s1, err := r.Connect("c1", "t1")
	require.NoError(t, err)
	s2, err := r.Connect("c2", "t2")
	require.NoError(t, err)
	<-s1.Out()
	<-s2.Out()

	msg := protocol.NewMessage(protocol.MsgError, &protocol.ErrorPayload{ErrorCode: 9, ErrorMessage: "maintenance"})
	r.Broadcast(msg, "c1")

	select {
	case <-s1.Out():
		t.Fatal("excluded client must not receive the broadcast")
	default:
	}
	select {
	case got := <-s2.Out():
		assert.Equal(t, protocol.MsgError, got.Type)
	default:
		t.Fatal("expected broadcast on c2")
	}
}

func TestRegistry_SessionsSnapshot(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Connect("c1", "t1")
	require.NoError(t, err)

	infos := r.Sessions()
	require.Len(t, infos, 1)
	assert.Equal(t, "c1", infos[0].ClientID)
	assert.False(t, infos[0].ConnectedAt.IsZero())
}
