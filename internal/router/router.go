package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/buddychat/buddychat-api/internal/config"
	"github.com/buddychat/buddychat-api/internal/handler"
	"github.com/buddychat/buddychat-api/internal/middleware"
	"github.com/buddychat/buddychat-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler         *handler.ChatHandler
	GroupHandler        *handler.GroupHandler
	NotificationHandler *handler.NotificationHandler
	RealtimeHandler     *handler.RealtimeHandler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	sendLimiter := middleware.RateLimit("send", 30, time.Minute)

	if deps.ChatHandler != nil {
		chats := app.Group("/api/v1/chats", jwtMiddleware)
		chats.Use("/messages", sendLimiter)
		deps.ChatHandler.Register(chats)
	}

	if deps.GroupHandler != nil {
		groups := app.Group("/api/v1/groups", jwtMiddleware)
		groups.Use("/messages", sendLimiter)
		deps.GroupHandler.Register(groups)
	}

	if deps.NotificationHandler != nil {
		notifications := app.Group("/api/v1/notifications", jwtMiddleware)
		deps.NotificationHandler.Register(notifications)
	}

	// The websocket route authenticates during the handshake itself; the
	// bearer middleware would reject browser clients that cannot set headers.
	if deps.RealtimeHandler != nil {
		realtime := app.Group("/ws")
		deps.RealtimeHandler.Register(realtime)
	}
}
