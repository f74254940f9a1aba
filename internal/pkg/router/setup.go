package router

import (
	"time"

	"github.com/ManuelReschke/PixelProPortal/app/controllers"
	"github.com/ManuelReschke/PixelProPortal/app/repository"
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps are the handlers and settings the routes are built from. Profiles and
// LimiterStorage are optional.
type Deps struct {
	JWTSecret      string
	CORSOrigins    string
	Crowd          *controllers.CrowdController
	Invoices       *controllers.InvoiceController
	Admin          *controllers.AdminController
	Webhooks       *controllers.WebhookController
	Profiles       repository.ProfileRepository
	LimiterStorage fiber.Storage
	RateLimit      int
	ProfileSync    time.Duration
}

func InstallRouter(app *fiber.App, deps Deps) {
	// HttpRouter installs the user context middleware the API routes rely on,
	// so it goes first.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
