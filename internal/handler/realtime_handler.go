package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/buddychat/buddychat-api/internal/middleware"
	"github.com/buddychat/buddychat-api/internal/realtime"
)

// RealtimeHandler upgrades authenticated websocket connections onto the hub.
// Authentication happens during the upgrade request, so an invalid credential
// fails the handshake before the connection is accepted.
type RealtimeHandler struct {
	hub       *realtime.Hub
	jwtSecret string
	logger    zerolog.Logger
}

// NewRealtimeHandler creates a realtime handler instance.
func NewRealtimeHandler(hub *realtime.Hub, jwtSecret string, logger zerolog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		hub:       hub,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "realtime_handler").Logger(),
	}
}

// Register binds the websocket route under the provided router group.
func (h *RealtimeHandler) Register(router fiber.Router) {
	router.Use("/", h.upgrade)
	router.Get("/", websocket.New(h.handleConnection, websocket.Config{
		Subprotocols: []string{"graphql-transport-ws"},
	}))
}

func (h *RealtimeHandler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	token := credentialFromRequest(c)
	userID, err := middleware.UserIDFromToken(h.jwtSecret, token)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket handshake rejected")
		return fiber.ErrUnauthorized
	}

	c.Locals("user_id", userID)
	c.Locals("subscription_id", strings.TrimSpace(c.Query("subscription_id")))
	return c.Next()
}

func (h *RealtimeHandler) handleConnection(conn *websocket.Conn) {
	userID, ok := conn.Locals("user_id").(uint)
	if !ok || userID == 0 {
		_ = conn.Close()
		return
	}

	subscriptionID, _ := conn.Locals("subscription_id").(string)

	h.logger.Info().Uint("user_id", userID).Msg("realtime websocket connected")
	h.hub.ServeConnection(conn, userID, subscriptionID)
	h.logger.Info().Uint("user_id", userID).Msg("realtime websocket disconnected")
}

// credentialFromRequest resolves the token from the Authorization header, the
// websocket subprotocol list, or the token query parameter, in that order.
// Browsers cannot set headers on websocket upgrades, hence the fallbacks.
func credentialFromRequest(c *fiber.Ctx) string {
	const bearer = "bearer "

	authorization := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authorization), bearer) {
		return strings.TrimSpace(authorization[len(bearer):])
	}

	if protocols := c.Get("Sec-WebSocket-Protocol"); protocols != "" {
		parts := strings.Split(protocols, ",")
		for _, part := range parts {
			candidate := strings.TrimSpace(part)
			if candidate == "" || candidate == "graphql-transport-ws" {
				continue
			}
			return candidate
		}
	}

	return strings.TrimSpace(c.Query("token"))
}
