package handlers

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/verzia/realtime-relay/internal/auth"
	"github.com/verzia/realtime-relay/internal/config"
	"github.com/verzia/realtime-relay/internal/relay"
)

// CookieToken is the session cookie checked last when resolving the
// connection credential.
const CookieToken = "realtime_token"

// authHeaderKey carries the Authorization header across the websocket
// upgrade, where request headers are no longer reachable.
const authHeaderKey = "authHeader"

// Gateway accepts browser connections, authenticates them, and hands them
// to the hub.
type Gateway struct {
	hub      *relay.Hub
	verifier *auth.Verifier
	cfg      *config.Config
}

func NewGateway(hub *relay.Hub, verifier *auth.Verifier, cfg *config.Config) *Gateway {
	return &Gateway{hub: hub, verifier: verifier, cfg: cfg}
}

// Upgrade gates the websocket handshake: enforces the origin allowlist and
// stashes the Authorization header for the post-upgrade handler.
func (g *Gateway) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if origin := c.Get(fiber.HeaderOrigin); origin != "" && !g.cfg.OriginAllowed(origin) {
		return c.SendStatus(fiber.StatusForbidden)
	}
	c.Locals(authHeaderKey, c.Get(fiber.HeaderAuthorization))
	return c.Next()
}

// Handle runs one connection from handshake to disconnect. The credential is
// taken from the Authorization header, then the token query parameter, then
// the session cookie. A failed verification closes the socket before any
// room state exists.
func (g *Gateway) Handle(conn *websocket.Conn) {
	token := bearerToken(localString(conn, authHeaderKey))
	if token == "" {
		token = conn.Query("token")
	}
	if token == "" {
		token = conn.Cookies(CookieToken)
	}

	ident, err := g.verifier.Verify(token)
	if err != nil {
		slog.Info("connection rejected", "error", err)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "UNAUTHORIZED"))
		_ = conn.Close()
		return
	}

	client := g.hub.NewClient(conn, ident)
	g.hub.Register(client)
	defer g.hub.Unregister(client)

	hello, _ := json.Marshal(relay.HelloData{OK: true, UserID: ident.UserID})
	client.SendEvent(relay.EventHello, hello)

	go client.WritePump()
	client.ReadPump()
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func localString(conn *websocket.Conn, key string) string {
	if v, ok := conn.Locals(key).(string); ok {
		return v
	}
	return ""
}
