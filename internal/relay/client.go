package relay

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// Conn is the subset of the websocket connection the relay needs. Tests
// substitute an in-memory implementation.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// Client is one live authenticated connection. Room memberships are
// connection-scoped: a second connection from the same identity keeps its
// own independent set.
type Client struct {
	ID     string // relay-assigned, ephemeral
	UserID string
	Name   string
	Groups []string

	hub  *Hub
	conn Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// SendEvent marshals the envelope and enqueues it on the outbound queue.
// It never blocks: a full queue or a closed client drops the event.
func (c *Client) SendEvent(event string, payload json.RawMessage) bool {
	data, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		return false
	}
	return c.enqueue(data)
}

func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump consumes inbound frames until the connection drops, then
// unregisters the client. Runs on the caller's goroutine.
func (c *Client) ReadPump() {
	defer c.hub.Unregister(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		c.hub.dispatch(c, frame)
	}
}

// WritePump drains the outbound queue onto the wire, preserving enqueue
// order per connection. It closes the transport once the queue is closed
// or the first write fails.
func (c *Client) WritePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
	_ = c.conn.Close()
}
