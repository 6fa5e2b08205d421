// Package handler wires the Fiber HTTP surface: the WebSocket upgrade
// that carries the job protocol, and the liveness endpoint. Deliberately
// thin — the socket, not REST, carries the protocol per SPEC_FULL §4.10.
package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/makeasinger/mediaforge/internal/job"
	"github.com/makeasinger/mediaforge/internal/logging"
	"github.com/makeasinger/mediaforge/internal/middleware"
	"github.com/makeasinger/mediaforge/internal/session"
	"github.com/makeasinger/mediaforge/pkg/response"
)

// WSHandler upgrades /ws connections and binds each one to a new
// Session.
type WSHandler struct {
	manager *job.Manager
	hub     *session.Hub
	gate    *middleware.WSGate
	log     zerolog.Logger
}

func NewWSHandler(manager *job.Manager, hub *session.Hub, gate *middleware.WSGate) *WSHandler {
	return &WSHandler{
		manager: manager,
		hub:     hub,
		gate:    gate,
		log:     logging.WithComponent("ws-handler"),
	}
}

// Upgrade is the pre-upgrade Fiber middleware: reject non-WebSocket
// requests and unauthenticated ones before the handshake completes.
func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if !h.gate.Allow(c) {
		return response.Unauthorized(c, "missing or invalid credentials")
	}
	// c.IP() is only available on the fiber.Ctx, not the websocket.Conn
	// that Handle receives after the handshake, so it rides Locals
	// across the upgrade the same way the teacher's auth middleware
	// threads claims through to downstream handlers.
	c.Locals("ip", c.IP())
	return c.Next()
}

// Handle is the accepted websocket.New callback: construct a Session,
// admit it through the hub, and run its read loop until disconnect.
func (h *WSHandler) Handle(c *websocket.Conn) {
	id := uuid.NewString()
	s := session.New(id, c, h.manager, h.hub, 0)

	ip, _ := c.Locals("ip").(string)
	if !h.hub.Admit(ip, s) {
		h.log.Warn().Str("session_id", id).Msg("connection rejected: hub at capacity")
		_ = c.WriteMessage(websocket.CloseMessage, []byte{})
		return
	}

	s.Run()
}
