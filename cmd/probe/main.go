// Command probe exercises a running signaling server over the wire: connect,
// heartbeat, optional register/unregister, and a loopback signal. Useful for
// smoke-testing a deployment without a full client agent.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openagentlabs/signal-manager/internal/protocol"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8080/ws", "websocket URL of the signaling server")
	clientID := flag.String("client-id", "test_client_1", "client id to authenticate as")
	token := flag.String("token", "test_token_1", "auth token")
	register := flag.Bool("register", false, "also exercise REGISTER/UNREGISTER")
	timeout := flag.Duration("timeout", 5*time.Second, "per-reply timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Error("dial failed", "url", *url, "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("connected", "url", *url)

	p := &probe{conn: conn, timeout: *timeout, logger: logger}

	type step struct {
		name string
		run  func() error
	}
	steps := []step{
		{"connect", func() error { return p.connect(*clientID, *token) }},
		{"heartbeat", p.heartbeat},
		{"signal loopback", func() error { return p.signalLoopback(*clientID) }},
	}
	if *register {
		steps = append(steps,
			step{"register", func() error { return p.register(*clientID, *token) }},
			step{"unregister", func() error { return p.unregister(*clientID, *token) }},
		)
	}
	steps = append(steps, step{"disconnect", func() error { return p.disconnect(*clientID) }})

	failed := 0
	for _, step := range steps {
		if err := step.run(); err != nil {
			logger.Error("step failed", "step", step.name, "error", err)
			failed++
			continue
		}
		logger.Info("step ok", "step", step.name)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

type probe struct {
	conn    *websocket.Conn
	timeout time.Duration
	logger  *slog.Logger
}

func (p *probe) send(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return p.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (p *probe) recv() (*protocol.Message, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
		return nil, err
	}
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

func (p *probe) roundTrip(msg *protocol.Message, want protocol.MessageType) (*protocol.Message, error) {
	if err := p.send(msg); err != nil {
		return nil, err
	}
	reply, err := p.recv()
	if err != nil {
		return nil, err
	}
	if reply.Type == protocol.MsgError {
		e := reply.Payload.(*protocol.ErrorPayload)
		return nil, fmt.Errorf("server error %d: %s", e.ErrorCode, e.ErrorMessage)
	}
	if reply.Type != want {
		return nil, fmt.Errorf("expected %s, got %s", want, reply.Type)
	}
	return reply, nil
}

func (p *probe) connect(clientID, token string) error {
	reply, err := p.roundTrip(
		protocol.NewMessage(protocol.MsgConnect, &protocol.ConnectPayload{ClientID: clientID, AuthToken: token}),
		protocol.MsgConnectAck)
	if err != nil {
		return err
	}
	ack := reply.Payload.(*protocol.ConnectAckPayload)
	if ack.Status != "success" {
		return fmt.Errorf("connect status %q", ack.Status)
	}
	p.logger.Info("session established", "session_id", ack.SessionID)
	return nil
}

func (p *probe) heartbeat() error {
	sent := uint64(time.Now().Unix())
	reply, err := p.roundTrip(
		protocol.NewMessage(protocol.MsgHeartbeat, &protocol.HeartbeatPayload{Timestamp: sent}),
		protocol.MsgHeartbeatAck)
	if err != nil {
		return err
	}
	ack := reply.Payload.(*protocol.HeartbeatAckPayload)
	if ack.Timestamp < sent {
		return fmt.Errorf("server clock behind: sent %d, got %d", sent, ack.Timestamp)
	}
	return nil
}

// signalLoopback routes a SIGNAL_OFFER to ourselves and expects it back
// unchanged.
func (p *probe) signalLoopback(clientID string) error {
	sent := protocol.NewMessage(protocol.MsgSignalOffer, &protocol.SignalPayload{
		TargetClientID: clientID,
		SignalData:     "probe-loopback",
	})
	if err := p.send(sent); err != nil {
		return err
	}
	reply, err := p.recv()
	if err != nil {
		return err
	}
	if reply.Type != protocol.MsgSignalOffer {
		return fmt.Errorf("expected SIGNAL_OFFER back, got %s", reply.Type)
	}
	if reply.UUID != sent.UUID {
		return fmt.Errorf("frame uuid changed in transit")
	}
	return nil
}

func (p *probe) register(clientID, token string) error {
	reply, err := p.roundTrip(
		protocol.NewMessage(protocol.MsgRegister, &protocol.RegisterPayload{
			Version:      protocol.CurrentVersion,
			ClientID:     clientID,
			AuthToken:    token,
			Capabilities: []string{"probe"},
		}),
		protocol.MsgRegisterAck)
	if err != nil {
		return err
	}
	ack := reply.Payload.(*protocol.RegisterAckPayload)
	if ack.Status != 200 {
		return fmt.Errorf("register status %d: %s", ack.Status, ack.Message)
	}
	return nil
}

func (p *probe) unregister(clientID, token string) error {
	reply, err := p.roundTrip(
		protocol.NewMessage(protocol.MsgUnregister, &protocol.UnregisterPayload{
			Version:   protocol.CurrentVersion,
			ClientID:  clientID,
			AuthToken: token,
		}),
		protocol.MsgUnregisterAck)
	if err != nil {
		return err
	}
	ack := reply.Payload.(*protocol.UnregisterAckPayload)
	if ack.Status != 200 {
		return fmt.Errorf("unregister status %d: %s", ack.Status, ack.Message)
	}
	return nil
}

func (p *probe) disconnect(clientID string) error {
	return p.send(protocol.NewMessage(protocol.MsgDisconnect, &protocol.DisconnectPayload{
		ClientID: clientID,
		Reason:   "probe finished",
	}))
}
