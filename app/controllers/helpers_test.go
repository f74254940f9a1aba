package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"github.com/ManuelReschke/PixelProPortal/app/repository"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/billing"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/crowdfund"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/database/databasetest"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/invoicing"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/middleware"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_controller_test"

type fakeProvider struct {
	mu         sync.Mutex
	seq        int
	failOnCall int
	expired    []string
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, params billing.CheckoutSessionParams) (*billing.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if f.failOnCall > 0 && f.seq == f.failOnCall {
		return nil, errors.New("provider unavailable")
	}
	id := fmt.Sprintf("cs_ctrl_%d", f.seq)
	return &billing.CheckoutSession{
		ID:          id,
		URL:         "https://checkout.example/" + id,
		AmountTotal: params.AmountMinor,
		Currency:    params.Currency,
		Metadata:    params.Metadata,
	}, nil
}

func (f *fakeProvider) ExpireCheckoutSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, sessionID)
	return nil
}

type testApp struct {
	app      *fiber.App
	db       *gorm.DB
	provider *fakeProvider
	projects *crowdfund.Projects
	invoices *invoicing.Service
}

// asUser stands in for the JWT middleware: X-Test-User signs the request in,
// X-Test-Admin makes the caller staff.
func asUser(c *fiber.Ctx) error {
	if id := c.Get("X-Test-User"); id != "" {
		isAdmin := c.Get("X-Test-Admin") == "1"
		role := models.ROLE_USER
		if isAdmin {
			role = models.ROLE_ADMIN
		}
		usercontext.Set(c, usercontext.UserContext{UserID: id, Role: role, IsLoggedIn: true, IsAdmin: isAdmin})
	}
	return c.Next()
}

func newTestApp(t *testing.T, jobs JobMonitor, stats ...EventStats) *testApp {
	t.Helper()
	db := databasetest.Open(t)
	provider := &fakeProvider{}

	store := crowdfund.NewStore(db)
	ledger := crowdfund.NewLedger(store, nil)
	webhookLog := billing.NewServiceFromDB(db)
	reconciler := crowdfund.NewReconciler(store, ledger, webhookLog, nil, crowdfund.ReconcilerConfig{WebhookSecret: testWebhookSecret})
	orchestrator := crowdfund.NewOrchestrator(store, ledger, provider, nil, nil, crowdfund.OrchestratorConfig{PublicBaseURL: "https://portal.example"})
	projects := crowdfund.NewProjects(store, reconciler, nil)
	readModel := crowdfund.NewReadModel(store, nil, 0)
	repos := repository.NewRepositories(db)
	invoices := invoicing.NewService(invoicing.Deps{
		Invoices: repos.Invoice,
		Profiles: repos.Profile,
		Ledger:   ledger,
		Provider: provider,
	}, invoicing.Config{PublicBaseURL: "https://portal.example", PayLinkSecret: "paylink-secret"})

	crowd := NewCrowdController(orchestrator, ledger, readModel, nil)
	invoiceCtrl := NewInvoiceController(invoices)
	admin := NewAdminController(projects, invoices, jobs).WithWebhookHistory(webhookLog)
	if len(stats) > 0 {
		admin.WithEventStats(stats[0])
	}
	webhooks := NewWebhookController(reconciler)

	app := fiber.New()
	app.Use(asUser)
	app.Post("/webhooks/stripe", webhooks.HandleStripeWebhook)
	app.Get("/pay/:token", invoiceCtrl.HandlePayLink)

	v1 := app.Group("/api/v1")
	v1.Get("/crowd/projects", crowd.HandleListProjects)
	v1.Get("/crowd/projects/:id", crowd.HandleGetProject)
	v1.Get("/crowd/projects/:id/events", crowd.HandleEvents)
	v1.Post("/crowd/allocation", crowd.HandleAllocationPreview)

	user := v1.Group("", middleware.RequireAuth)
	user.Post("/crowd/group-session", crowd.HandleCreateGroupSession)
	user.Post("/crowd/projects/:id/join", crowd.HandleJoin)
	user.Get("/crowd/projects/:id/participants", crowd.HandleParticipants)
	user.Get("/invoices", invoiceCtrl.HandleList)
	user.Post("/invoices/:id/checkout", invoiceCtrl.HandleCheckout)
	user.Post("/invoices/:id/cancel", invoiceCtrl.HandleCancel)

	adm := v1.Group("/admin", middleware.RequireAdmin)
	adm.Post("/crowd/projects", admin.HandleCreateProject)
	adm.Patch("/crowd/projects/:id", admin.HandleUpdateProject)
	adm.Post("/crowd/projects/:id/close", admin.HandleCloseProject)
	adm.Post("/invoices", admin.HandleIssueInvoice)
	adm.Post("/invoices/reminders", admin.HandleSendReminders)
	adm.Get("/invoices/:id/webhooks", admin.HandleInvoiceWebhooks)
	adm.Get("/jobs/stats", admin.HandleJobStats)
	adm.Get("/jobs/:id", admin.HandleGetJob)
	adm.Get("/stats/events", admin.HandleEventStats)

	return &testApp{app: app, db: db, provider: provider, projects: projects, invoices: invoices}
}

func (a *testApp) createProject(t *testing.T, goal int64, expected int) *models.CrowdProject {
	t.Helper()
	p, err := a.projects.Create(context.Background(), crowdfund.ProjectInput{
		Title:                "Group commission",
		GoalAmount:           goal,
		ExpectedParticipants: expected,
	})
	require.NoError(t, err)
	return p
}

type testResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r testResponse) json(t *testing.T) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(r.Body, &out), string(r.Body))
	return out
}

// do sends a request; user "" is anonymous, a "!" suffix makes the user an admin.
func (a *testApp) do(t *testing.T, method, path, user string, body interface{}, headers ...string) testResponse {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	case []byte:
		reader = strings.NewReader(string(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		if strings.HasSuffix(user, "!") {
			user = strings.TrimSuffix(user, "!")
			req.Header.Set("X-Test-Admin", "1")
		}
		req.Header.Set("X-Test-User", user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return testResponse{Status: resp.StatusCode, Header: resp.Header, Body: raw}
}
