package router

import (
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// HttpRouter serves the routes outside /api: provider webhooks and signed
// pay links.
type HttpRouter struct {
	deps Deps
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	origins := h.deps.CORSOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	// Apply UserContext middleware globally; anonymous requests pass through.
	app.Use(middleware.UserContextMiddleware(h.deps.JWTSecret))

	// Signature-verified in the controller, no session needed
	app.Post("/webhooks/stripe", h.deps.Webhooks.HandleStripeWebhook)

	// Reminder emails link here
	app.Get("/pay/:token", h.deps.Invoices.HandlePayLink)
}
