package router

import (
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/middleware"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/ratelimit"
	"github.com/gofiber/fiber/v2"
)

type ApiRouter struct {
	deps        Deps
	profileSync fiber.Handler
}

func NewApiRouter(deps Deps) *ApiRouter {
	r := &ApiRouter{deps: deps}
	if deps.Profiles != nil {
		r.profileSync = middleware.ProfileSync(deps.Profiles, deps.ProfileSync)
	}
	return r
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", ratelimit.New(h.deps.LimiterStorage, ratelimit.Config{
		Max: h.deps.RateLimit,
		// Event streams stay open; counting them would only lock browsers out.
		Skip: func(c *fiber.Ctx) bool { return c.Get(fiber.HeaderAccept) == "text/event-stream" },
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	h.registerCrowdRoutes(v1)
	h.registerInvoiceRoutes(v1)
	h.registerAdminRoutes(v1)
}

// userChain requires a signed-in caller and mirrors their profile.
func (h ApiRouter) userChain() []fiber.Handler {
	chain := []fiber.Handler{middleware.RequireAuth}
	if h.deps.Profiles != nil {
		chain = append(chain, h.profileSync)
	}
	return chain
}

func (h ApiRouter) withUser(handler fiber.Handler) []fiber.Handler {
	return append(h.userChain(), handler)
}

func (h ApiRouter) registerCrowdRoutes(v1 fiber.Router) {
	crowd := h.deps.Crowd
	group := v1.Group("/crowd")
	group.Get("/projects", crowd.HandleListProjects)
	group.Get("/projects/:id", crowd.HandleGetProject)
	group.Get("/projects/:id/events", crowd.HandleEvents)
	group.Post("/allocation", crowd.HandleAllocationPreview)

	group.Post("/group-session", h.withUser(crowd.HandleCreateGroupSession)...)
	group.Post("/projects/:id/join", h.withUser(crowd.HandleJoin)...)
	group.Get("/projects/:id/participants", h.withUser(crowd.HandleParticipants)...)
}

func (h ApiRouter) registerInvoiceRoutes(v1 fiber.Router) {
	invoices := h.deps.Invoices
	group := v1.Group("/invoices", h.userChain()...)
	group.Get("/", invoices.HandleList)
	group.Post("/:id/checkout", invoices.HandleCheckout)
	group.Post("/:id/cancel", invoices.HandleCancel)
}

func (h ApiRouter) registerAdminRoutes(v1 fiber.Router) {
	admin := h.deps.Admin
	group := v1.Group("/admin", middleware.RequireAdmin)
	group.Post("/crowd/projects", admin.HandleCreateProject)
	group.Patch("/crowd/projects/:id", admin.HandleUpdateProject)
	group.Post("/crowd/projects/:id/close", admin.HandleCloseProject)
	group.Post("/invoices", admin.HandleIssueInvoice)
	group.Post("/invoices/reminders", admin.HandleSendReminders)
	group.Get("/invoices/:id/webhooks", admin.HandleInvoiceWebhooks)

	// Queue monitor
	group.Get("/jobs/stats", admin.HandleJobStats)
	group.Get("/jobs/:id", admin.HandleGetJob)
	group.Get("/stats/events", admin.HandleEventStats)
}
