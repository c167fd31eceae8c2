package relay

import "encoding/json"

// Server->client event names the relay itself emits. Application event names
// arriving via the internal push endpoint are relayed verbatim and never
// interpreted here.
const EventHello = "hello"

// Inbound client->server event names.
const (
	eventThreadJoin  = "thread:join"
	eventThreadLeave = "thread:leave"
	eventGroupJoin   = "group:join"
	eventGroupLeave  = "group:leave"
)

// Event is the wire envelope for every server->client message.
type Event struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloData acknowledges a successful registration with the resolved
// identity, so the client can confirm who it authenticated as.
type HelloData struct {
	OK     bool   `json:"ok"`
	UserID string `json:"userId"`
}

// clientFrame is an inbound fire-and-forget instruction. Malformed frames
// are dropped without acknowledgment or error.
type clientFrame struct {
	Event string    `json:"event"`
	Data  frameData `json:"data"`
}

type frameData struct {
	ThreadID string `json:"threadId"`
	GroupKey string `json:"groupKey"`
}
