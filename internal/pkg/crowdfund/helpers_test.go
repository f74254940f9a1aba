package crowdfund

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/billing"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/database/databasetest"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/events"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test_secret"

type fakeProvider struct {
	mu         sync.Mutex
	seq        int
	created    []billing.CheckoutSessionParams
	expired    []string
	failOnCall int
	fixedID    string
	failExpire bool
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, params billing.CheckoutSessionParams) (*billing.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if f.failOnCall > 0 && f.seq == f.failOnCall {
		return nil, errors.New("provider unavailable")
	}
	f.created = append(f.created, params)
	id := fmt.Sprintf("cs_test_%d", f.seq)
	if f.fixedID != "" {
		id = f.fixedID
	}
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
	if f.failExpire {
		return errors.New("expire failed")
	}
	f.expired = append(f.expired, sessionID)
	return nil
}

func (f *fakeProvider) expiredSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.expired...)
}

type recordedQueue struct {
	mu       sync.Mutex
	sessions []string
}

func (q *recordedQueue) EnqueueSessionExpiry(_ context.Context, sessionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sessions = append(q.sessions, sessionID)
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Notify(_ context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type testEnv struct {
	db         *gorm.DB
	store      *Store
	ledger     *Ledger
	reconciler *Reconciler
	orch       *Orchestrator
	projects   *Projects
	provider   *fakeProvider
	queue      *recordedQueue
	events     *eventRecorder
	webhooks   *billing.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := databasetest.Open(t)
	env := &testEnv{
		db:       db,
		store:    NewStore(db),
		provider: &fakeProvider{},
		queue:    &recordedQueue{},
		events:   &eventRecorder{},
		webhooks: billing.NewServiceFromDB(db),
	}
	env.ledger = NewLedger(env.store, env.events)
	env.reconciler = NewReconciler(env.store, env.ledger, env.webhooks, env.events, ReconcilerConfig{WebhookSecret: testWebhookSecret})
	env.orch = NewOrchestrator(env.store, env.ledger, env.provider, env.queue, env.events, OrchestratorConfig{
		Currency:      "usd",
		PublicBaseURL: "https://portal.example/",
	})
	env.projects = NewProjects(env.store, env.reconciler, env.events)
	return env
}

func (e *testEnv) createProject(t *testing.T, goal int64, expected int) *models.CrowdProject {
	t.Helper()
	p, err := e.projects.Create(context.Background(), ProjectInput{
		Title:                "Mural commission",
		Description:          "Shared mural for the studio",
		GoalAmount:           goal,
		ExpectedParticipants: expected,
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) project(t *testing.T, id string) *models.CrowdProject {
	t.Helper()
	var p models.CrowdProject
	require.NoError(t, e.db.Where("id = ?", id).First(&p).Error)
	return &p
}

func (e *testEnv) invoices(t *testing.T) []models.Invoice {
	t.Helper()
	var out []models.Invoice
	require.NoError(t, e.db.Order("created_at ASC, id ASC").Find(&out).Error)
	return out
}

func (e *testEnv) invoiceByUser(t *testing.T, projectID, userID, status string) *models.Invoice {
	t.Helper()
	var inv models.Invoice
	require.NoError(t, e.db.Where("crowd_project_id = ? AND user_id = ? AND status = ?", projectID, userID, status).First(&inv).Error)
	return &inv
}

func (e *testEnv) participation(t *testing.T, projectID, userID string) *models.Participation {
	t.Helper()
	var p models.Participation
	require.NoError(t, e.db.Where("crowd_project_id = ? AND user_id = ?", projectID, userID).First(&p).Error)
	return &p
}

func checkoutEventPayload(t *testing.T, eventID, eventType, sessionID string, amount int64, paymentStatus string) []byte {
	t.Helper()
	return checkoutEventPayloadWithMetadata(t, eventID, eventType, sessionID, amount, paymentStatus, nil)
}

func checkoutEventPayloadWithMetadata(t *testing.T, eventID, eventType, sessionID string, amount int64, paymentStatus string, metadata map[string]string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"id":      eventID,
		"type":    eventType,
		"created": time.Now().Unix(),
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":             sessionID,
				"object":         "checkout.session",
				"payment_status": paymentStatus,
				"amount_total":   amount,
				"currency":       "usd",
				"metadata":       metadata,
			},
		},
	})
	require.NoError(t, err)
	return raw
}

func signed(payload []byte) string {
	return billing.SignStripePayload(payload, testWebhookSecret, time.Now())
}

func (e *testEnv) deliverPaid(t *testing.T, eventID, sessionID string, amount int64) (*WebhookOutcome, error) {
	t.Helper()
	payload := checkoutEventPayload(t, eventID, billing.EventCheckoutCompleted, sessionID, amount, billing.PaymentStatusPaid)
	return e.reconciler.HandleWebhook(context.Background(), payload, signed(payload))
}
