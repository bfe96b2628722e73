package websocket

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openagentlabs/signal-manager/internal/protocol"
	"github.com/openagentlabs/signal-manager/internal/session"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Buffer for frames written outside the session channel (pre-CONNECT
	// acks and errors)
	sendBuffer = 256
)

// Client represents one live connection: a reader pump, a writer pump, and
// after a successful CONNECT the forwarder draining the session's outbound
// channel.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan *protocol.Message

	mu       sync.RWMutex
	clientID string
	session  *session.Session

	pingPeriod time.Duration
	logger     *slog.Logger
	cancel     context.CancelFunc
}

// NewClient creates a new client. pingPeriod of 0 uses the default; it is
// clamped below the pong wait so keepalive probes always precede the read
// deadline.
func NewClient(hub *Hub, conn *websocket.Conn, pingPeriod time.Duration, logger *slog.Logger) *Client {
	if pingPeriod <= 0 || pingPeriod >= pongWait {
		pingPeriod = (pongWait * 9) / 10
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan *protocol.Message, sendBuffer),
		pingPeriod: pingPeriod,
		logger:     logger,
	}
}

// SetCancelFunc sets the context cancel function for cleanup
func (c *Client) SetCancelFunc(cancel context.CancelFunc) {
	c.cancel = cancel
}

// ClientID returns the associated client id, or "" before CONNECT.
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// Session returns the live session, or nil before CONNECT.
func (c *Client) Session() *session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// attach associates the connection with an authenticated session and starts
// forwarding its outbound channel to the writer.
func (c *Client) attach(ctx context.Context, clientID string, s *session.Session) {
	c.mu.Lock()
	c.clientID = clientID
	c.session = s
	c.mu.Unlock()

	go c.forward(ctx, s)
}

// forward drains the session's outbound channel into the connection writer.
// A closed channel means the session was destroyed (disconnect or sweep), so
// the connection comes down with it.
func (c *Client) forward(ctx context.Context, s *session.Session) {
	defer c.cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.Out():
			if !ok {
				return
			}
			select {
			case c.send <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Reply enqueues a frame for this connection. Connected clients go through
// the session channel so ordering with routed frames is preserved; otherwise
// the frame rides the connection-local buffer.
func (c *Client) Reply(msg *protocol.Message) {
	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()

	if s != nil {
		if !s.Enqueue(msg) {
			c.logger.Warn("dropping reply: session channel unavailable", "type", msg.Type.String())
		}
		return
	}

	select {
	case c.send <- msg:
	default:
		c.logger.Warn("dropping reply: connection buffer full", "type", msg.Type.String())
	}
}

// ReadPump pumps frames from the WebSocket connection into the hub
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			msgType, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.logger.Warn("websocket read error", "error", err, "client_id", c.ClientID())
				}
				return
			}
			if msgType != websocket.BinaryMessage {
				c.logger.Warn("ignoring non-binary websocket message", "ws_type", msgType)
				continue
			}

			msg, err := protocol.Decode(data)
			if err != nil {
				// The connection survives a bad frame.
				c.logger.Warn("invalid_frame",
					"error", err,
					"bytes", len(data),
					"preview", hexPreview(data))
				continue
			}

			if !c.hub.HandleFrame(ctx, c, msg) {
				return
			}
		}
	}
}

// WritePump pumps frames to the WebSocket connection
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := protocol.Encode(msg)
			if err != nil {
				c.logger.Error("failed to encode outbound frame", "type", msg.Type.String(), "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// hexPreview renders the first 16 bytes for invalid-frame log events.
func hexPreview(data []byte) string {
	if len(data) > 16 {
		data = data[:16]
	}
	return hex.EncodeToString(data)
}
