package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/verzia/realtime-relay/internal/relay"
)

// Internal is the trusted server-to-server control surface. It is
// authenticated by a static bearer secret, never by connection tokens, and
// must not be exposed on the browser-facing path.
type Internal struct {
	hub    *relay.Hub
	secret string
}

func NewInternal(hub *relay.Hub, secret string) *Internal {
	return &Internal{hub: hub, secret: secret}
}

// pushRequest targets are independent: every field that is present triggers
// its own fan-out, including overlapping ones. A push with broadcast and a
// matching userId delivers twice on purpose.
type pushRequest struct {
	UserID    string          `json:"userId"`
	ThreadID  string          `json:"threadId"`
	GroupKey  string          `json:"groupKey"`
	Broadcast bool            `json:"broadcast"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
}

// Push handles POST /internal/push. Delivery is best-effort and synchronous;
// reaching zero connections is a normal success.
func (s *Internal) Push(c *fiber.Ctx) error {
	if !s.authorized(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req pushRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	if req.Event == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing event"})
	}
	if req.UserID == "" && req.ThreadID == "" && req.GroupKey == "" && !req.Broadcast {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing target"})
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	delivered := 0
	if req.UserID != "" {
		delivered += s.hub.Publish(relay.UserRoom(req.UserID), req.Event, payload)
	}
	if req.ThreadID != "" {
		delivered += s.hub.Publish(relay.ThreadRoom(req.ThreadID), req.Event, payload)
	}
	if req.GroupKey != "" {
		delivered += s.hub.Publish(relay.GroupRoom(req.GroupKey), req.Event, payload)
	}
	if req.Broadcast {
		delivered += s.hub.Publish(relay.RoomAll, req.Event, payload)
	}

	slog.Debug("push accepted", "event", req.Event, "delivered", delivered)
	return c.JSON(fiber.Map{"ok": true})
}

// Stats handles GET /internal/stats behind the same bearer secret.
func (s *Internal) Stats(c *fiber.Ctx) error {
	if !s.authorized(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	connections, rooms := s.hub.Stats()
	return c.JSON(fiber.Map{"connections": connections, "rooms": rooms})
}

// authorized fails closed: with no secret configured, nothing passes.
func (s *Internal) authorized(c *fiber.Ctx) bool {
	if s.secret == "" {
		return false
	}
	presented := bearerToken(c.Get(fiber.HeaderAuthorization))
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.secret)) == 1
}

// Healthz is the unauthenticated liveness probe.
func Healthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true})
}
