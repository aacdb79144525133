package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

// Connection lifecycle states. A session only dispatches inbound events
// while active; everything after a close is dropped.
const (
	stateConnecting int32 = iota
	stateAuthenticating
	stateActive
	stateDisconnected
)

// Client is a single websocket session owned by an authenticated user.
// One user may hold any number of concurrent clients.
type Client struct {
	ID     string
	UserID int

	conn  *websocket.Conn
	send  chan []byte
	state atomic.Int32

	mu     sync.RWMutex
	closed bool
}

// NewClient wraps an upgraded connection. The caller is expected to
// have verified the user's identity before the upgrade.
func NewClient(conn *websocket.Conn, userID int) *Client {
	c := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
	}
	c.state.Store(stateConnecting)
	return c
}

func (c *Client) setState(s int32) { c.state.Store(s) }

func (c *Client) isActive() bool { return c.state.Load() == stateActive }

// enqueue queues an outbound frame without blocking. It reports false
// when the queue is full or already closed.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.setState(stateDisconnected)
		close(c.send)
	}
}

// inboundEvent is the raw envelope read off the wire; the payload is
// decoded per event type by the dispatcher.
type inboundEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// readPump reads client frames until the connection drops, handing each
// decoded envelope to handle. It runs on the connection's goroutine and
// returns when the peer goes away.
func (c *Client) readPump(handle func(*Client, inboundEvent)) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Warn("websocket read", zap.String("session_id", c.ID), zap.Error(err))
			}
			return
		}

		var event inboundEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			zap.L().Warn("malformed event", zap.String("session_id", c.ID), zap.Error(err))
			continue
		}
		if !c.isActive() {
			continue
		}
		handle(c, event)
	}
}

// writePump drains the send queue onto the wire and keeps the
// connection alive with pings. It exits when the queue closes or a
// write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
