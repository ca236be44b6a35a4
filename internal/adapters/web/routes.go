package web

import (
	"github.com/gofiber/fiber/v2"
)

// SetupRoutes configures the application routes.
func SetupRoutes(app *fiber.App, handlers *Handlers) {
	// Inbound comment webhook: the single processing entrypoint.
	app.Post("/api/webhook/comment", handlers.Webhook)

	// Activity feed read, consumed by the product's Activity view.
	app.Get("/api/activity", handlers.Activity)

	app.Get("/healthz", handlers.Health)
}
