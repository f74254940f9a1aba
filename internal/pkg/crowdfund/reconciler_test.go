package crowdfund

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/billing"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openGroup(t *testing.T, env *testEnv, projectID string, users []string, amount string) map[string]*models.Invoice {
	t.Helper()
	participants := make([]ParticipantAmount, len(users))
	for i, u := range users {
		participants[i] = ParticipantAmount{UserID: u, Amount: dollars(amount)}
	}
	_, err := env.orch.CreateGroupSession(context.Background(), GroupSessionRequest{
		ProjectID:    projectID,
		RequesterID:  users[0],
		Participants: participants,
	})
	require.NoError(t, err)

	out := make(map[string]*models.Invoice, len(users))
	for _, u := range users {
		out[u] = env.invoiceByUser(t, projectID, u, models.InvoiceStatusPending)
	}
	return out
}

func TestReconciler_EndToEndReverseOrder(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t, 900, 3)
	users := []string{"alice", "bob", "carol"}
	invoices := openGroup(t, env, project.ID, users, "3.00")

	for i := len(users) - 1; i >= 0; i-- {
		inv := invoices[users[i]]
		out, err := env.deliverPaid(t, fmt.Sprintf("evt_%d", i), inv.SessionID(), 300)
		require.NoError(t, err)
		require.NotNil(t, out.Confirm)
		assert.False(t, out.Confirm.AlreadyPaid)
		if i > 0 {
			assert.Equal(t, models.CrowdStatusOpen, env.project(t, project.ID).Status, "funded before last payment")
		}
	}

	for _, u := range users {
		part := env.participation(t, project.ID, u)
		assert.Equal(t, models.ParticipationStatusConfirmed, part.Status)
		assert.True(t, part.Paid)
		assert.NotNil(t, part.PaidAt)
		assert.Equal(t, int64(300), part.Amount)
		assert.Equal(t, models.InvoiceStatusPaid, env.invoiceByUser(t, project.ID, u, models.InvoiceStatusPaid).Status)
	}

	got := env.project(t, project.ID)
	assert.Equal(t, models.CrowdStatusFunded, got.Status)
	assert.Equal(t, int64(900), got.CurrentAmount)
	assert.NotNil(t, got.FundedAt)
	assert.Equal(t, 1, env.events.count(events.TypeProjectFunded))
	assert.Equal(t, 3, env.events.count(events.TypeParticipationConfirmed))
}

func TestReconciler_NoPrematureFunding(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t, 900, 3)
	invoices := openGroup(t, env, project.ID, []string{"a", "b", "c"}, "3.00")

	_, err := env.deliverPaid(t, "evt_a", invoices["a"].SessionID(), 300)
	require.NoError(t, err)
	out, err := env.deliverPaid(t, "evt_b", invoices["b"].SessionID(), 300)
	require.NoError(t, err)

	assert.Equal(t, int64(2), out.Confirm.Funding.Confirmed)
	assert.False(t, out.Confirm.Funding.Transitioned)
	got := env.project(t, project.ID)
	assert.Equal(t, models.CrowdStatusOpen, got.Status)
	assert.Equal(t, int64(600), got.CurrentAmount)
	assert.Zero(t, env.events.count(events.TypeProjectFunded))
}

func TestReconciler_IdempotentConfirmation(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t, 300, 1)
	inv := openGroup(t, env, project.ID, []string{"a"}, "3.00")["a"]

	_, err := env.deliverPaid(t, "evt_1", inv.SessionID(), 300)
	require.NoError(t, err)
	before := env.participation(t, project.ID, "a")

	replay, err := env.deliverPaid(t, "evt_1", inv.SessionID(), 300)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)

	again, err := env.deliverPaid(t, "evt_2", inv.SessionID(), 300)
	require.NoError(t, err)
	assert.False(t, again.Duplicate)
	assert.True(t, again.Confirm.AlreadyPaid)
	assert.False(t, again.Confirm.Funding.Transitioned)

	after := env.participation(t, project.ID, "a")
	assert.Equal(t, before.PaidAt.Unix(), after.PaidAt.Unix())
	assert.Equal(t, 1, env.events.count(events.TypeInvoicePaid))
	assert.Equal(t, 1, env.events.count(events.TypeProjectFunded))
	assert.Equal(t, models.CrowdStatusFunded, env.project(t, project.ID).Status)
}

func TestReconciler_InvalidSignatureMutatesNothing(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t, 300, 1)
	inv := openGroup(t, env, project.ID, []string{"a"}, "3.00")["a"]

	payload := checkoutEventPayload(t, "evt_forged", billing.EventCheckoutCompleted, inv.SessionID(), 300, billing.PaymentStatusPaid)
	forged := billing.SignStripePayload(payload, "whsec_wrong", time.Now())

	for _, sig := range []string{"", "garbage", forged} {
		_, err := env.reconciler.HandleWebhook(context.Background(), payload, sig)
		assert.True(t, errors.Is(err, ErrInvalidSignature), "signature %q: %v", sig, err)
	}

	var logged int64
	require.NoError(t, env.db.Model(&models.PaymentWebhookEvent{}).Count(&logged).Error)
	assert.Zero(t, logged)
	assert.Equal(t, models.InvoiceStatusPending, env.invoiceByUser(t, project.ID, "a", models.InvoiceStatusPending).Status)
	assert.Equal(t, models.ParticipationStatusPending, env.participation(t, project.ID, "a").Status)
	assert.Equal(t, models.CrowdStatusOpen, env.project(t, project.ID).Status)
}

func TestReconciler_UnknownSession(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t, 300, 1)
	openGroup(t, env, project.ID, []string{"a"}, "3.00")

	_, err := env.deliverPaid(t, "evt_unknown", "cs_nope", 300)
	assert.True(t, errors.Is(err, ErrInvoiceNotFound))

	assert.Equal(t, models.ParticipationStatusPending, env.participation(t, project.ID, "a").Status)
	assert.Equal(t, models.CrowdStatusOpen, env.project(t, project.ID).Status)

	var stored models.PaymentWebhookEvent
	require.NoError(t, env.db.Where("provider_event_id = ?", "evt_unknown").First(&stored).Error)
	assert.False(t, stored.ProcessedOK())
	assert.Contains(t, stored.ProcessingError, "invoice not found")
}

func TestReconciler_MalformedPayload(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte(`{"id":"evt_x","type":"checkout.session.completed","data":{}}`)
	_, err := env.reconciler.HandleWebhook(context.Background(), payload, signed(payload))
	assert.True(t, errors.Is(err, billing.ErrMalformedEvent))
}

func TestReconciler_IgnoresUnrelatedEvents(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte(`{"id":"evt_c","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	out, err := env.reconciler.HandleWebhook(context.Background(), payload, signed(payload))
	require.NoError(t, err)
	assert.True(t, out.Ignored)

	unpaid := checkoutEventPayload(t, "evt_u", billing.EventCheckoutCompleted, "cs_any", 100, billing.PaymentStatusUnpaid)
	out, err = env.reconciler.HandleWebhook(context.Background(), unpaid, signed(unpaid))
	require.NoError(t, err)
	assert.True(t, out.Ignored)
}

func TestReconciler_ExpiredSessionCancelsInvoice(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t, 600, 2)
	inv := openGroup(t, env, project.ID, []string{"a", "b"}, "3.00")["a"]

	payload := checkoutEventPayload(t, "evt_exp", billing.EventCheckoutExpired, inv.SessionID(), 0, billing.PaymentStatusUnpaid)
	_, err := env.reconciler.HandleWebhook(context.Background(), payload, signed(payload))
	require.NoError(t, err)

	env.invoiceByUser(t, project.ID, "a", models.InvoiceStatusCancelled)
	assert.Equal(t, models.ParticipationStatusPending, env.participation(t, project.ID, "a").Status)
	assert.Equal(t, 1, env.events.count(events.TypeInvoiceCancelled))

	_, err = env.deliverPaid(t, "evt_late", inv.SessionID(), 300)
	assert.True(t, errors.Is(err, ErrInvoiceCancelled))
	assert.Equal(t, models.ParticipationStatusPending, env.participation(t, project.ID, "a").Status)

	other := checkoutEventPayload(t, "evt_exp2", billing.EventCheckoutExpired, "cs_unknown", 0, billing.PaymentStatusUnpaid)
	out, err := env.reconciler.HandleWebhook(context.Background(), other, signed(other))
	require.NoError(t, err)
	assert.True(t, out.Ignored)
}

func TestReconciler_AmountMismatch(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t, 300, 1)
	inv := openGroup(t, env, project.ID, []string{"a"}, "3.00")["a"]

	_, err := env.deliverPaid(t, "evt_m", inv.SessionID(), 299)
	assert.True(t, errors.Is(err, ErrAmountMismatch))
	assert.Equal(t, models.InvoiceStatusPending, env.invoiceByUser(t, project.ID, "a", models.InvoiceStatusPending).Status)
	assert.Equal(t, models.CrowdStatusOpen, env.project(t, project.ID).Status)
}

func TestReconciler_FundedExactlyOnceUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6"}
	project := env.createProject(t, 1200, 4)
	invoices := openGroup(t, env, project.ID, users, "2.00")

	var wg sync.WaitGroup
	errs := make(chan error, len(users)*2)
	for _, u := range users {
		sessionID := invoices[u].SessionID()
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.reconciler.Confirm(context.Background(), ConfirmInput{SessionID: sessionID, ChargedAmount: 200})
				errs <- err
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got := env.project(t, project.ID)
	assert.Equal(t, models.CrowdStatusFunded, got.Status)
	assert.Equal(t, 1, env.events.count(events.TypeProjectFunded))
	assert.Equal(t, len(users), env.events.count(events.TypeInvoicePaid))
	assert.Equal(t, int64(1200), got.CurrentAmount)
}

func TestReconciler_StandaloneInvoice(t *testing.T) {
	env := newTestEnv(t)
	session := "cs_standalone"
	inv := &models.Invoice{UserID: "a", Amount: 4500, Currency: "usd", Description: "Logo design", ExternalSessionID: &session}
	require.NoError(t, env.db.Create(inv).Error)

	out, err := env.deliverPaid(t, "evt_s", session, 4500)
	require.NoError(t, err)
	assert.Nil(t, out.Confirm.Funding)
	assert.Nil(t, out.Confirm.Participation)

	var stored models.Invoice
	require.NoError(t, env.db.Where("id = ?", inv.ID).First(&stored).Error)
	assert.Equal(t, models.InvoiceStatusPaid, stored.Status)
	assert.Zero(t, env.events.count(events.TypeParticipationConfirmed))
}

func TestReconciler_PaymentOnReplacedSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.reconciler.WithExpiryQueue(env.queue)
	project := env.createProject(t, 500, 1)
	inv := openGroup(t, env, project.ID, []string{"alice"}, "5.00")["alice"]
	oldSession := inv.SessionID()

	previous, err := env.ledger.AttachSession(ctx, inv.ID, "cs_new", "https://checkout.example/cs_new")
	require.NoError(t, err)
	require.Equal(t, oldSession, previous)

	payload := checkoutEventPayloadWithMetadata(t, "evt_old", billing.EventCheckoutCompleted, oldSession, 500, billing.PaymentStatusPaid,
		map[string]string{"invoiceId": inv.ID, "userId": "alice", "projectId": project.ID})
	out, err := env.reconciler.HandleWebhook(ctx, payload, signed(payload))
	require.NoError(t, err)
	require.NotNil(t, out.Confirm)
	assert.Equal(t, inv.ID, out.Confirm.Invoice.ID)
	require.NotNil(t, out.Confirm.Funding)
	assert.True(t, out.Confirm.Funding.Transitioned)

	env.invoiceByUser(t, project.ID, "alice", models.InvoiceStatusPaid)
	assert.Equal(t, models.ParticipationStatusConfirmed, env.participation(t, project.ID, "alice").Status)
	assert.Equal(t, []string{"cs_new"}, env.queue.sessions, "the session the invoice moved to must not stay payable")
	assert.Equal(t, 1, env.events.count(events.TypeInvoicePaid))
}

func TestReconciler_ReplacedSessionRequiresMatchingOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	project := env.createProject(t, 500, 1)
	inv := openGroup(t, env, project.ID, []string{"alice"}, "5.00")["alice"]
	oldSession := inv.SessionID()
	_, err := env.ledger.AttachSession(ctx, inv.ID, "cs_new", "https://checkout.example/cs_new")
	require.NoError(t, err)

	payload := checkoutEventPayloadWithMetadata(t, "evt_other", billing.EventCheckoutCompleted, oldSession, 500, billing.PaymentStatusPaid,
		map[string]string{"invoiceId": inv.ID, "userId": "mallory"})
	_, err = env.reconciler.HandleWebhook(ctx, payload, signed(payload))
	assert.True(t, errors.Is(err, ErrInvoiceNotFound), "got %v", err)

	env.invoiceByUser(t, project.ID, "alice", models.InvoiceStatusPending)
	assert.Equal(t, models.ParticipationStatusPending, env.participation(t, project.ID, "alice").Status)
	assert.Zero(t, env.events.count(events.TypeInvoicePaid))
}

func TestReconciler_LoweringExpectedParticipantsFunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	project := env.createProject(t, 900, 3)
	invoices := openGroup(t, env, project.ID, []string{"a", "b", "c"}, "3.00")
	for _, u := range []string{"a", "b"} {
		_, err := env.reconciler.Confirm(ctx, ConfirmInput{SessionID: invoices[u].SessionID()})
		require.NoError(t, err)
	}
	require.Equal(t, models.CrowdStatusOpen, env.project(t, project.ID).Status)

	two := 2
	updated, funding, err := env.projects.Update(ctx, project.ID, ProjectPatch{ExpectedParticipants: &two})
	require.NoError(t, err)
	assert.True(t, funding.Transitioned)
	assert.Equal(t, models.CrowdStatusFunded, updated.Status)

	_, _, err = env.projects.Update(ctx, project.ID, ProjectPatch{ExpectedParticipants: &two})
	assert.True(t, errors.Is(err, ErrProjectNotOpen))
}
