// Package websocket is the transport adapter: it accepts full-duplex
// connections, frames them with the binary codec, and dispatches decoded
// control messages to the session registry, registrar and room orchestrator.
package websocket

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openagentlabs/signal-manager/internal/domain"
	"github.com/openagentlabs/signal-manager/internal/middleware"
	"github.com/openagentlabs/signal-manager/internal/protocol"
	"github.com/openagentlabs/signal-manager/internal/registrar"
	"github.com/openagentlabs/signal-manager/internal/room"
	"github.com/openagentlabs/signal-manager/internal/session"
)

// Error codes carried in ERROR frames.
const (
	errCodeAuthFailed       = 1
	errCodeClientNotFound   = 2
	errCodeAlreadyConnected = 3
	errCodeRateLimited      = 4
	errCodeUnhandled        = 0xFF
)

// Hub routes decoded frames to the subsystems that handle them.
type Hub struct {
	registry     *session.Registry
	registrar    *registrar.Registrar
	orchestrator *room.Orchestrator
	limiter      *middleware.RateLimiter

	maxMessageSize int64
	logger         *slog.Logger
}

// NewHub creates a hub. limiter may be nil when rate limiting is disabled.
func NewHub(registry *session.Registry, reg *registrar.Registrar, orch *room.Orchestrator, limiter *middleware.RateLimiter, maxMessageSize int64, logger *slog.Logger) *Hub {
	if maxMessageSize <= 0 {
		maxMessageSize = 65536 + 64
	}
	return &Hub{
		registry:       registry,
		registrar:      reg,
		orchestrator:   orch,
		limiter:        limiter,
		maxMessageSize: maxMessageSize,
		logger:         logger.With("component", "hub"),
	}
}

// Unregister tears down the connection's session, if any.
func (h *Hub) Unregister(c *Client) {
	if clientID := c.ClientID(); clientID != "" {
		h.registry.Disconnect(clientID)
		if h.limiter != nil {
			h.limiter.Forget(clientID)
		}
	}
}

// HandleFrame dispatches one decoded frame. It returns false when the reader
// loop should stop (orderly DISCONNECT).
func (h *Hub) HandleFrame(ctx context.Context, c *Client, msg *protocol.Message) bool {
	if h.limiter != nil {
		key := c.ClientID()
		if key == "" {
			key = c.conn.RemoteAddr().String()
		}
		if !h.limiter.Allow(key) {
			c.Reply(protocol.NewMessage(protocol.MsgError, &protocol.ErrorPayload{
				ErrorCode:    errCodeRateLimited,
				ErrorMessage: "Rate limit exceeded",
			}))
			return true
		}
	}

	switch msg.Type {
	case protocol.MsgConnect:
		h.handleConnect(ctx, c, msg)
	case protocol.MsgDisconnect:
		h.logger.Info("client requested disconnect", "client_id", c.ClientID())
		return false
	case protocol.MsgHeartbeat:
		h.handleHeartbeat(c)
	case protocol.MsgSignalOffer, protocol.MsgSignalAnswer, protocol.MsgSignalICE:
		h.handleSignal(c, msg)
	case protocol.MsgRegister:
		p := msg.Payload.(*protocol.RegisterPayload)
		ack := h.registrar.Register(ctx, p)
		c.Reply(protocol.NewMessage(protocol.MsgRegisterAck, ack))
	case protocol.MsgUnregister:
		p := msg.Payload.(*protocol.UnregisterPayload)
		ack := h.registrar.Unregister(ctx, p)
		c.Reply(protocol.NewMessage(protocol.MsgUnregisterAck, ack))
	case protocol.MsgRoomCreate:
		p := msg.Payload.(*protocol.RoomCreatePayload)
		ack := h.orchestrator.Create(ctx, p)
		c.Reply(protocol.NewMessage(protocol.MsgRoomCreateAck, ack))
	case protocol.MsgRoomJoin:
		p := msg.Payload.(*protocol.RoomJoinPayload)
		ack := h.orchestrator.Join(ctx, p)
		c.Reply(protocol.NewMessage(protocol.MsgRoomJoinAck, ack))
	case protocol.MsgRoomLeave:
		p := msg.Payload.(*protocol.RoomLeavePayload)
		ack := h.orchestrator.Leave(ctx, p)
		c.Reply(protocol.NewMessage(protocol.MsgRoomLeaveAck, ack))
	default:
		// Ack and error types are server-to-client only.
		c.Reply(protocol.NewMessage(protocol.MsgError, &protocol.ErrorPayload{
			ErrorCode:    errCodeUnhandled,
			ErrorMessage: "unhandled",
		}))
	}
	return true
}

func (h *Hub) handleConnect(ctx context.Context, c *Client, msg *protocol.Message) {
	p := msg.Payload.(*protocol.ConnectPayload)

	s, err := h.registry.Connect(p.ClientID, p.AuthToken)
	switch {
	case errors.Is(err, domain.ErrAuthenticationFailed):
		c.Reply(protocol.NewMessage(protocol.MsgError, &protocol.ErrorPayload{
			ErrorCode:    errCodeAuthFailed,
			ErrorMessage: "Authentication failed",
		}))
		return
	case errors.Is(err, domain.ErrAlreadyConnected):
		c.Reply(protocol.NewMessage(protocol.MsgError, &protocol.ErrorPayload{
			ErrorCode:    errCodeAlreadyConnected,
			ErrorMessage: "Client already connected",
		}))
		return
	case err != nil:
		h.logger.Error("connect failed", "client_id", p.ClientID, "error", err)
		c.Reply(protocol.NewMessage(protocol.MsgError, &protocol.ErrorPayload{
			ErrorCode:    errCodeAuthFailed,
			ErrorMessage: "Authentication failed",
		}))
		return
	}

	// The CONNECT_ACK is already queued on the session channel; attaching
	// starts the forwarder that delivers it first.
	c.attach(ctx, p.ClientID, s)
}

func (h *Hub) handleHeartbeat(c *Client) {
	clientID := c.ClientID()
	println("DEBUG handleHeartbeat clientID=", clientID)
	if clientID == "" {
		c.Reply(protocol.NewMessage(protocol.MsgError, &protocol.ErrorPayload{
			ErrorCode:    errCodeClientNotFound,
			ErrorMessage: "Client not found",
		}))
		return
	}

	ts, err := h.registry.Heartbeat(clientID)
	if err != nil {
		c.Reply(protocol.NewMessage(protocol.MsgError, &protocol.ErrorPayload{
			ErrorCode:    errCodeClientNotFound,
			ErrorMessage: "Client not found",
		}))
		return
	}
	c.Reply(protocol.NewMessage(protocol.MsgHeartbeatAck, &protocol.HeartbeatAckPayload{Timestamp: ts}))
}

func (h *Hub) handleSignal(c *Client, msg *protocol.Message) {
	clientID := c.ClientID()
	if clientID == "" {
		h.logger.Warn("dropping signal from unassociated connection", "type", msg.Type.String())
		return
	}

	if err := h.registry.Route(clientID, msg); err != nil {
		// Missing targets are a local event, never a sender-side error.
		h.logger.Warn("dropping signal: target not found",
			"from", clientID, "type", msg.Type.String())
	}
}
