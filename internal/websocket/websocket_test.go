package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagentlabs/signal-manager/internal/auth"
	"github.com/openagentlabs/signal-manager/internal/database"
	"github.com/openagentlabs/signal-manager/internal/events"
	"github.com/openagentlabs/signal-manager/internal/protocol"
	"github.com/openagentlabs/signal-manager/internal/registrar"
	"github.com/openagentlabs/signal-manager/internal/room"
	"github.com/openagentlabs/signal-manager/internal/session"
	"github.com/openagentlabs/signal-manager/internal/sfu"
)

// stubSFU satisfies the orchestrator without a live SFU.
type stubSFU struct{}

func (stubSFU) CreateSession(ctx context.Context, offerSDP string) (*sfu.SessionResponse, error) {
	return &sfu.SessionResponse{
		SessionID:          "stub-session",
		SessionDescription: sfu.SessionDescription{Type: "answer", SDP: "stub-answer"},
	}, nil
}

func (stubSFU) AddTracks(ctx context.Context, sessionID string, tracks []sfu.Track, offerSDP string) (*sfu.TracksResponse, error) {
	return &sfu.TracksResponse{Tracks: tracks}, nil
}

func (stubSFU) SendAnswerSDP(ctx context.Context, sessionID, answerSDP string) error { return nil }
func (stubSFU) TerminateSession(ctx context.Context, sessionID string) error         { return nil }
func (stubSFU) GetSession(ctx context.Context, sessionID string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}
func (stubSFU) ValidateCredentials(ctx context.Context) (bool, error) { return true, nil }

type harness struct {
	registry *session.Registry
	srv      *httptest.Server
	url      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.Default()

	store, err := auth.NewStore(auth.MethodToken, []string{"c1:t1", "c2:t2"}, logger)
	require.NoError(t, err)

	bus := events.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	repos := database.NewMemoryRepositories()
	registry := session.NewRegistry(store, bus, 16, logger)
	reg := registrar.New(repos.Clients, bus, logger)
	orch := room.New(stubSFU{}, repos, bus, nil, "app-1", "stun:stun.example.org:3478", logger)

	hub := NewHub(registry, reg, orch, nil, 65536+64, logger)
	handler := NewHandler(hub, 1024, 1024, nil, nil, logger)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &harness{
		registry: registry,
		srv:      srv,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func dial(t *testing.T, h *harness) *gws.Conn {
	t.Helper()
	conn, _, err := gws.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *gws.Conn, msg *protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gws.BinaryMessage, data))
}

func recv(t *testing.T, conn *gws.Conn) *protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

func connect(t *testing.T, h *harness, conn *gws.Conn, clientID, token string) *protocol.ConnectAckPayload {
	t.Helper()
	send(t, conn, protocol.NewMessage(protocol.MsgConnect, &protocol.ConnectPayload{
		ClientID: clientID, AuthToken: token,
	}))
	msg := recv(t, conn)
	require.Equal(t, protocol.MsgConnectAck, msg.Type)
	return msg.Payload.(*protocol.ConnectAckPayload)
}

// =============================================================================
// Scenario Tests
// =============================================================================

func TestConnectHeartbeatDisconnect(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	ack := connect(t, h, conn, "c1", "t1")
	assert.Equal(t, "success", ack.Status)
	assert.NotEmpty(t, ack.SessionID)
	assert.Equal(t, 1, h.registry.Len())

	send(t, conn, protocol.NewMessage(protocol.MsgHeartbeat, &protocol.HeartbeatPayload{Timestamp: 100}))
	msg := recv(t, conn)
	require.Equal(t, protocol.MsgHeartbeatAck, msg.Type)
	hb := msg.Payload.(*protocol.HeartbeatAckPayload)
	assert.GreaterOrEqual(t, hb.Timestamp, uint64(100))

	send(t, conn, protocol.NewMessage(protocol.MsgDisconnect, &protocol.DisconnectPayload{ClientID: "c1", Reason: "bye"}))
	require.Eventually(t, func() bool { return h.registry.Len() == 0 },
		2*time.Second, 10*time.Millisecond, "registry must no longer contain c1")
}

func TestConnectRejected(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	send(t, conn, protocol.NewMessage(protocol.MsgConnect, &protocol.ConnectPayload{
		ClientID: "c1", AuthToken: "wrong",
	}))
	msg := recv(t, conn)
	require.Equal(t, protocol.MsgError, msg.Type)
	p := msg.Payload.(*protocol.ErrorPayload)
	assert.EqualValues(t, 1, p.ErrorCode)
	assert.Equal(t, "Authentication failed", p.ErrorMessage)

	// The connection survives: a retry with good credentials succeeds.
	ack := connect(t, h, conn, "c1", "t1")
	assert.Equal(t, "success", ack.Status)
}

func TestSecondConnectForSameClientRejected(t *testing.T) {
	h := newHarness(t)
	first := dial(t, h)
	connect(t, h, first, "c1", "t1")

	second := dial(t, h)
	send(t, second, protocol.NewMessage(protocol.MsgConnect, &protocol.ConnectPayload{
		ClientID: "c1", AuthToken: "t1",
	}))
	msg := recv(t, second)
	require.Equal(t, protocol.MsgError, msg.Type)
	assert.Equal(t, "Client already connected", msg.Payload.(*protocol.ErrorPayload).ErrorMessage)
	assert.Equal(t, 1, h.registry.Len())
}

func TestSignalRouting(t *testing.T) {
	h := newHarness(t)
	c1 := dial(t, h)
	c2 := dial(t, h)
	connect(t, h, c1, "c1", "t1")
	connect(t, h, c2, "c2", "t2")

	sent := protocol.NewMessage(protocol.MsgSignalOffer, &protocol.SignalPayload{
		TargetClientID: "c2", SignalData: "sdpA",
	})
	send(t, c1, sent)

	got := recv(t, c2)
	require.Equal(t, protocol.MsgSignalOffer, got.Type)
	p := got.Payload.(*protocol.SignalPayload)
	assert.Equal(t, "sdpA", p.SignalData)
	assert.Equal(t, sent.UUID, got.UUID, "frame uuid is preserved end to end")
}

func TestSignalToAbsentTargetDropped(t *testing.T) {
	h := newHarness(t)
	c1 := dial(t, h)
	connect(t, h, c1, "c1", "t1")

	send(t, c1, protocol.NewMessage(protocol.MsgSignalOffer, &protocol.SignalPayload{
		TargetClientID: "c9", SignalData: "sdp",
	}))

	// c1 receives nothing and the connection stays up: the first frame c1
	// sees afterwards is the ack to its next heartbeat. No timed-out read is
	// used, because one leaves the client connection unable to read again.
	send(t, c1, protocol.NewMessage(protocol.MsgHeartbeat, &protocol.HeartbeatPayload{Timestamp: 1}))
	msg := recv(t, c1)
	assert.Equal(t, protocol.MsgHeartbeatAck, msg.Type, "no frame should arrive before the heartbeat ack")
	assert.Equal(t, 1, h.registry.Len(), "c1 stays connected")
}

func TestInvalidFrameTolerated(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	require.NoError(t, conn.WriteMessage(gws.BinaryMessage, []byte{0x00, 0x01, 0x02}))

	// A follow-up valid CONNECT on the same connection succeeds.
	ack := connect(t, h, conn, "c1", "t1")
	assert.Equal(t, "success", ack.Status)
}

func TestRegisterOverWire(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	send(t, conn, protocol.NewMessage(protocol.MsgRegister, &protocol.RegisterPayload{
		Version: "1.0.0", ClientID: "c7", AuthToken: "t7",
		Capabilities: []string{"video"},
	}))
	msg := recv(t, conn)
	require.Equal(t, protocol.MsgRegisterAck, msg.Type)
	ack := msg.Payload.(*protocol.RegisterAckPayload)
	assert.EqualValues(t, 200, ack.Status)
	assert.Equal(t, "c7", ack.ClientID)
	assert.NotEmpty(t, ack.SessionID)
}

func TestRoomCreateAndJoinOverWire(t *testing.T) {
	h := newHarness(t)
	c1 := dial(t, h)
	c2 := dial(t, h)
	connect(t, h, c1, "c1", "t1")
	connect(t, h, c2, "c2", "t2")

	send(t, c1, protocol.NewMessage(protocol.MsgRoomCreate, &protocol.RoomCreatePayload{
		Version: "1.0.0", ClientID: "c1", AuthToken: "t1",
		Role: "sender", OfferSDP: "offer-sdp",
	}))
	msg := recv(t, c1)
	require.Equal(t, protocol.MsgRoomCreateAck, msg.Type)
	created := msg.Payload.(*protocol.RoomAckPayload)
	require.EqualValues(t, 200, created.Status, "message: %s", created.Message)
	assert.NotEmpty(t, created.RoomID)
	assert.Equal(t, "stub-session", created.SessionID)
	assert.Equal(t, "app-1", created.AppID)
	assert.NotEmpty(t, created.StunURL)

	send(t, c2, protocol.NewMessage(protocol.MsgRoomJoin, &protocol.RoomJoinPayload{
		Version: "1.0.0", ClientID: "c2", AuthToken: "t2",
		RoomID: created.RoomID, Role: "receiver",
	}))
	msg = recv(t, c2)
	require.Equal(t, protocol.MsgRoomJoinAck, msg.Type)
	joined := msg.Payload.(*protocol.RoomAckPayload)
	require.EqualValues(t, 200, joined.Status, "message: %s", joined.Message)
	assert.Equal(t, created.RoomID, joined.RoomID)
	assert.Equal(t, "stub-session", joined.SessionID)
	assert.NotEmpty(t, joined.ConnectionInfo)
}

func TestUnhandledTypeGetsErrorFrame(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	// An ack type is server-to-client only.
	send(t, conn, protocol.NewMessage(protocol.MsgConnectAck, &protocol.ConnectAckPayload{
		Status: "success", SessionID: "s",
	}))
	msg := recv(t, conn)
	require.Equal(t, protocol.MsgError, msg.Type)
	p := msg.Payload.(*protocol.ErrorPayload)
	assert.EqualValues(t, 0xFF, p.ErrorCode)
	assert.Equal(t, "unhandled", p.ErrorMessage)
}

func TestHeartbeatWithoutSession(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	send(t, conn, protocol.NewMessage(protocol.MsgHeartbeat, &protocol.HeartbeatPayload{Timestamp: 1}))
	msg := recv(t, conn)
	require.Equal(t, protocol.MsgError, msg.Type)
	assert.Equal(t, "Client not found", msg.Payload.(*protocol.ErrorPayload).ErrorMessage)
}
