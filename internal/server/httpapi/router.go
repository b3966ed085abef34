package httpapi

import (
	"github.com/gofiber/fiber/v3"

	"github.com/dmitrijs2005/stravasync/internal/logging"
)

// NewApp wires the handlers and middleware into a fiber application.
func NewApp(h *Handlers, logger logging.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "stravasync",
		ErrorHandler: errorHandler,
	})

	app.Use(requestLogger(logger.With("module", "http")))

	app.Get("/", h.Home)
	app.Get("/auth", h.Auth)
	app.Get("/exchange_token", h.ExchangeToken)
	app.Get("/activities/:userId", h.Activities)
	app.Get("/sync_activities", h.SyncActivities)

	return app
}
