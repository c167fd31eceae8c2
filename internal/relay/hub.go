package relay

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/verzia/realtime-relay/internal/auth"
)

// Hub owns the room membership index and routes events to subscribed
// connections. All mutation is synchronous under one lock, so a completed
// Unregister is always observed by the next Publish. Construct one per
// process (or per test); there is no package-level instance.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*Client          // conn id -> client
	rooms       map[string]map[*Client]bool // room -> members
	clientRooms map[*Client]map[string]bool // client -> rooms

	sendBuffer int
}

func NewHub(sendBuffer int) *Hub {
	if sendBuffer < 1 {
		sendBuffer = 1
	}
	return &Hub{
		clients:     map[string]*Client{},
		rooms:       map[string]map[*Client]bool{},
		clientRooms: map[*Client]map[string]bool{},
		sendBuffer:  sendBuffer,
	}
}

// NewClient wraps a transport connection for a verified identity. The client
// is not registered and receives nothing until Register is called.
func (h *Hub) NewClient(conn Conn, ident auth.Identity) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: ident.UserID,
		Name:   ident.Name,
		Groups: ident.Groups,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.sendBuffer),
	}
}

// Register adds the client to the registry and auto-subscribes it to its
// identity room, the global broadcast room, and one room per group tag.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.ID] = c
	h.joinLocked(c, UserRoom(c.UserID))
	h.joinLocked(c, RoomAll)
	for _, tag := range c.Groups {
		if tag != "" {
			h.joinLocked(c, GroupRoom(tag))
		}
	}
	slog.Debug("client registered", "conn_id", c.ID, "user_id", c.UserID, "groups", c.Groups)
}

// Unregister releases every room membership and closes the outbound queue.
// Safe to call more than once; later calls are no-ops.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	h.releaseAllLocked(c)
	h.mu.Unlock()

	c.close()
	slog.Debug("client unregistered", "conn_id", c.ID, "user_id", c.UserID)
}

// Join subscribes the client to a room, creating it implicitly. Joining a
// room the client is already in is a no-op, as is an empty room name.
func (h *Hub) Join(c *Client, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(c, room)
}

// Leave removes the client from a room. Leaving a room the client is not in
// is a no-op, never an error.
func (h *Hub) Leave(c *Client, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) joinLocked(c *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = map[*Client]bool{}
	}
	h.rooms[room][c] = true

	if h.clientRooms[c] == nil {
		h.clientRooms[c] = map[string]bool{}
	}
	h.clientRooms[c][room] = true
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.clientRooms[c]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(h.clientRooms, c)
		}
	}
}

func (h *Hub) releaseAllLocked(c *Client) {
	for room := range h.clientRooms[c] {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.clientRooms, c)
}

// Publish delivers (event, payload) to every connection currently in the
// room and returns the number of queues it reached. An empty room is a
// normal zero-delivery outcome. Each send is a non-blocking enqueue, so one
// slow consumer cannot stall the rest of the room.
func (h *Hub) Publish(room, event string, payload json.RawMessage) int {
	data, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.rooms[room] {
		if c.enqueue(data) {
			delivered++
		}
	}
	return delivered
}

// RoomsOf returns the rooms the client is currently subscribed to.
func (h *Hub) RoomsOf(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clientRooms[c]))
	for room := range h.clientRooms[c] {
		out = append(out, room)
	}
	return out
}

// Stats reports the current connection and room counts.
func (h *Hub) Stats() (connections, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.rooms)
}

// Close unregisters every remaining client. Used on process shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	remaining := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		remaining = append(remaining, c)
	}
	h.mu.Unlock()

	for _, c := range remaining {
		h.Unregister(c)
	}
}

// dispatch routes one inbound client frame. Unknown events and frames with
// a missing id field are silently ignored.
func (h *Hub) dispatch(c *Client, f clientFrame) {
	switch f.Event {
	case eventThreadJoin:
		if f.Data.ThreadID != "" {
			h.Join(c, ThreadRoom(f.Data.ThreadID))
		}
	case eventThreadLeave:
		if f.Data.ThreadID != "" {
			h.Leave(c, ThreadRoom(f.Data.ThreadID))
		}
	case eventGroupJoin:
		if f.Data.GroupKey != "" {
			h.Join(c, GroupRoom(f.Data.GroupKey))
		}
	case eventGroupLeave:
		if f.Data.GroupKey != "" {
			h.Leave(c, GroupRoom(f.Data.GroupKey))
		}
	}
}
