package relay

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verzia/realtime-relay/internal/auth"
)

type fakeConn struct {
	mu     sync.Mutex
	inbox  chan []byte
	frames [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 8)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.inbox
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, data, nil
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func register(t *testing.T, h *Hub, userID string, groups ...string) *Client {
	t.Helper()
	c := h.NewClient(newFakeConn(), auth.Identity{UserID: userID, Groups: groups})
	h.Register(c)
	return c
}

// drain decodes everything currently queued for the client.
func drain(t *testing.T, c *Client) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case data := <-c.send:
			var ev Event
			require.NoError(t, json.Unmarshal(data, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestRegisterAutoSubscribes(t *testing.T) {
	h := NewHub(8)
	c := register(t, h, "u1", "sales", "ops")

	assert.ElementsMatch(t,
		[]string{UserRoom("u1"), RoomAll, GroupRoom("sales"), GroupRoom("ops")},
		h.RoomsOf(c))
}

func TestRegisterWithoutGroups(t *testing.T) {
	h := NewHub(8)
	c := register(t, h, "u1")

	assert.ElementsMatch(t, []string{UserRoom("u1"), RoomAll}, h.RoomsOf(c))
}

func TestJoinLeaveRoundTrip(t *testing.T) {
	h := NewHub(8)
	c := register(t, h, "u1")
	before := h.RoomsOf(c)

	h.Join(c, ThreadRoom("t1"))
	h.Join(c, ThreadRoom("t1")) // idempotent
	assert.Contains(t, h.RoomsOf(c), ThreadRoom("t1"))

	h.Leave(c, ThreadRoom("t1"))
	h.Leave(c, ThreadRoom("t1")) // leaving again is a no-op
	assert.ElementsMatch(t, before, h.RoomsOf(c))
}

func TestJoinEmptyRoomNameIgnored(t *testing.T) {
	h := NewHub(8)
	c := register(t, h, "u1")
	before := h.RoomsOf(c)

	h.Join(c, "")
	h.Leave(c, "")
	assert.ElementsMatch(t, before, h.RoomsOf(c))
}

func TestPublishToEmptyRoom(t *testing.T) {
	h := NewHub(8)
	assert.Equal(t, 0, h.Publish(UserRoom("nobody"), "ping", json.RawMessage(`{}`)))
}

func TestPublishToUserRoom(t *testing.T) {
	h := NewHub(8)
	c := register(t, h, "u1")

	n := h.Publish(UserRoom("u1"), "ping", json.RawMessage(`{"n":1}`))
	assert.Equal(t, 1, n)

	events := drain(t, c)
	require.Len(t, events, 1)
	assert.Equal(t, "ping", events[0].Event)
	assert.JSONEq(t, `{"n":1}`, string(events[0].Payload))
}

func TestThreadFanOut(t *testing.T) {
	h := NewHub(8)
	a := register(t, h, "u1")
	b := register(t, h, "u2")
	h.Join(a, ThreadRoom("t1"))
	h.Join(b, ThreadRoom("t1"))

	n := h.Publish(ThreadRoom("t1"), "msg", json.RawMessage(`{"body":"hi"}`))
	assert.Equal(t, 2, n)

	for _, c := range []*Client{a, b} {
		events := drain(t, c)
		require.Len(t, events, 1)
		assert.Equal(t, "msg", events[0].Event)
		assert.JSONEq(t, `{"body":"hi"}`, string(events[0].Payload))
	}
}

func TestSameIdentityTwoConnections(t *testing.T) {
	h := NewHub(8)
	a := register(t, h, "u1")
	b := register(t, h, "u1")

	n := h.Publish(UserRoom("u1"), "ping", json.RawMessage(`{}`))
	assert.Equal(t, 2, n)
	assert.Len(t, drain(t, a), 1)
	assert.Len(t, drain(t, b), 1)
}

func TestUnregisterReleasesAll(t *testing.T) {
	h := NewHub(8)
	c := register(t, h, "u1", "sales")
	h.Join(c, ThreadRoom("t1"))

	h.Unregister(c)

	assert.Equal(t, 0, h.Publish(UserRoom("u1"), "ping", json.RawMessage(`{}`)))
	assert.Equal(t, 0, h.Publish(ThreadRoom("t1"), "ping", json.RawMessage(`{}`)))
	connections, rooms := h.Stats()
	assert.Equal(t, 0, connections)
	assert.Equal(t, 0, rooms)
}

func TestUnregisterTwice(t *testing.T) {
	h := NewHub(8)
	c := register(t, h, "u1")
	h.Unregister(c)
	h.Unregister(c) // must not panic or double-close
}

func TestRoomVanishesWithLastMember(t *testing.T) {
	h := NewHub(8)
	a := register(t, h, "u1")
	b := register(t, h, "u2")
	h.Join(a, ThreadRoom("t1"))
	h.Join(b, ThreadRoom("t1"))

	h.Leave(a, ThreadRoom("t1"))
	_, rooms := h.Stats()
	assert.Equal(t, 4, rooms) // user:u1, user:u2, all, thread:t1

	h.Leave(b, ThreadRoom("t1"))
	_, rooms = h.Stats()
	assert.Equal(t, 3, rooms)
}

func TestFullQueueDropsWithoutBlocking(t *testing.T) {
	h := NewHub(1)
	c := register(t, h, "u1")

	assert.Equal(t, 1, h.Publish(UserRoom("u1"), "e", json.RawMessage(`{}`)))

	done := make(chan struct{})
	go func() {
		// second publish must drop, not block, on the full queue
		assert.Equal(t, 0, h.Publish(UserRoom("u1"), "e", json.RawMessage(`{}`)))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full send queue")
	}
	assert.Len(t, drain(t, c), 1)
}

func TestReadPumpDispatchesFrames(t *testing.T) {
	h := NewHub(8)
	fc := newFakeConn()
	c := h.NewClient(fc, auth.Identity{UserID: "u1"})
	h.Register(c)

	go c.ReadPump()

	fc.inbox <- []byte(`{"event":"thread:join","data":{"threadId":"t1"}}`)
	require.Eventually(t, func() bool {
		for _, r := range h.RoomsOf(c) {
			if r == ThreadRoom("t1") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// malformed and unknown frames are dropped without killing the connection
	fc.inbox <- []byte(`{bad json`)
	fc.inbox <- []byte(`{"event":"nonsense"}`)
	fc.inbox <- []byte(`{"event":"thread:join","data":{}}`) // missing id: no-op
	fc.inbox <- []byte(`{"event":"group:join","data":{"groupKey":"sales"}}`)
	require.Eventually(t, func() bool {
		for _, r := range h.RoomsOf(c) {
			if r == GroupRoom("sales") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	fc.inbox <- []byte(`{"event":"thread:leave","data":{"threadId":"t1"}}`)
	require.Eventually(t, func() bool {
		for _, r := range h.RoomsOf(c) {
			if r == ThreadRoom("t1") {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	close(fc.inbox)
	require.Eventually(t, func() bool {
		connections, _ := h.Stats()
		return connections == 0
	}, time.Second, 5*time.Millisecond)
}

func TestWritePumpPreservesOrder(t *testing.T) {
	h := NewHub(8)
	fc := newFakeConn()
	c := h.NewClient(fc, auth.Identity{UserID: "u1"})
	h.Register(c)

	for i, ev := range []string{"first", "second", "third"} {
		require.Equal(t, 1, h.Publish(UserRoom("u1"), ev, json.RawMessage(`{}`)), "publish %d", i)
	}
	go c.WritePump()
	h.Unregister(c) // closes the queue; pump drains and closes the conn

	require.Eventually(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return fc.closed && len(fc.frames) == 3
	}, time.Second, 5*time.Millisecond)

	var events []string
	fc.mu.Lock()
	for _, data := range fc.frames {
		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		events = append(events, ev.Event)
	}
	fc.mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, events)
}

func TestHubClose(t *testing.T) {
	h := NewHub(8)
	register(t, h, "u1")
	register(t, h, "u2", "sales")

	h.Close()

	connections, rooms := h.Stats()
	assert.Equal(t, 0, connections)
	assert.Equal(t, 0, rooms)
}
