package crowdfund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/billing"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/events"
	"github.com/gofiber/fiber/v2/log"
)

// WebhookLog deduplicates provider deliveries.
type WebhookLog interface {
	RecordWebhookEvent(ctx context.Context, in billing.WebhookEventInput) (bool, *models.PaymentWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error
}

type ReconcilerConfig struct {
	WebhookSecret      string
	SignatureTolerance time.Duration
}

// Reconciler turns provider payment events into ledger confirmations and
// moves projects to funded once enough participants have paid.
type Reconciler struct {
	store    *Store
	ledger   *Ledger
	webhooks WebhookLog
	notifier events.Notifier
	expiry   ExpiryQueue
	cfg      ReconcilerConfig
	now      func() time.Time
}

func NewReconciler(store *Store, ledger *Ledger, webhooks WebhookLog, notifier events.Notifier, cfg ReconcilerConfig) *Reconciler {
	if notifier == nil {
		notifier = events.Discard
	}
	if cfg.SignatureTolerance == 0 {
		cfg.SignatureTolerance = billing.DefaultSignatureTolerance
	}
	return &Reconciler{
		store:    store,
		ledger:   ledger,
		webhooks: webhooks,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithExpiryQueue lets the reconciler expire the current session of an
// invoice that was paid through a session it had replaced.
func (r *Reconciler) WithExpiryQueue(q ExpiryQueue) *Reconciler {
	r.expiry = q
	return r
}

// WebhookOutcome summarizes what a delivery did.
type WebhookOutcome struct {
	EventID   string
	EventType string
	SessionID string
	Duplicate bool
	Ignored   bool
	Confirm   *ConfirmOutcome
}

// ConfirmInput identifies a paid checkout session. InvoiceID and UserID come
// from the session metadata and locate the invoice when it has since moved on
// to a newer session.
type ConfirmInput struct {
	SessionID     string
	ChargedAmount int64
	InvoiceID     string
	UserID        string
}

type ConfirmOutcome struct {
	Invoice       *models.Invoice
	Participation *models.Participation
	AlreadyPaid   bool
	Funding       *FundingResult
}

// FundingResult reports the funding check for one project. Transitioned is
// true only for the single evaluation that moved the project to funded.
type FundingResult struct {
	Project      *models.CrowdProject
	Confirmed    int64
	Transitioned bool
}

// HandleWebhook verifies, records and applies one provider delivery. Nothing
// is read or written before the signature checks out.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookOutcome, error) {
	if err := billing.VerifyStripeWebhookSignature(payload, signature, r.cfg.WebhookSecret, r.now(), r.cfg.SignatureTolerance); err != nil {
		log.Warnf("[Reconciler] Rejected webhook: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	ev, err := billing.ParseCheckoutEvent(payload)
	if err != nil {
		log.Warnf("[Reconciler] Rejected webhook payload: %v", err)
		return nil, err
	}
	out := &WebhookOutcome{EventID: ev.ID, EventType: ev.Type, SessionID: ev.Session.ID}

	created, stored, err := r.webhooks.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.PaymentProviderStripe,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		SessionID:       ev.Session.ID,
		PayloadJSON:     string(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	if !created && stored.ProcessedOK() {
		out.Duplicate = true
		return out, nil
	}

	processErr := r.apply(ctx, ev, out)
	if markErr := r.webhooks.MarkWebhookProcessed(ctx, stored.ID, processErr); markErr != nil {
		log.Errorf("[Reconciler] Failed to mark webhook event %s processed: %v", ev.ID, markErr)
	}
	if processErr != nil {
		return out, processErr
	}
	return out, nil
}

func (r *Reconciler) apply(ctx context.Context, ev *billing.CheckoutEvent, out *WebhookOutcome) error {
	switch {
	case ev.ConfirmsPayment():
		invoiceID := ev.Session.Metadata["invoiceId"]
		if invoiceID == "" {
			invoiceID = ev.Session.ClientReferenceID
		}
		res, err := r.Confirm(ctx, ConfirmInput{
			SessionID:     ev.Session.ID,
			ChargedAmount: ev.Session.AmountTotal,
			InvoiceID:     invoiceID,
			UserID:        ev.Session.Metadata["userId"],
		})
		if err != nil {
			return err
		}
		out.Confirm = res
		return nil
	case ev.EndsSession():
		inv, changed, err := r.ledger.CancelBySession(ctx, ev.Session.ID)
		if errors.Is(err, ErrInvoiceNotFound) {
			out.Ignored = true
			return nil
		}
		if err != nil {
			return err
		}
		if changed {
			r.notifier.Notify(ctx, events.Event{
				Type:      events.TypeInvoiceCancelled,
				ProjectID: inv.CrowdProjectID,
				UserID:    inv.UserID,
				InvoiceID: inv.ID,
				Amount:    inv.Amount,
			})
		}
		return nil
	default:
		out.Ignored = true
		return nil
	}
}

// Confirm applies a payment confirmation for a checkout session and then
// evaluates the project's funding. A failure in the funding step leaves the
// confirmation in place; calling Confirm again retries the evaluation.
func (r *Reconciler) Confirm(ctx context.Context, in ConfirmInput) (*ConfirmOutcome, error) {
	res, err := r.ledger.Confirm(ctx, in.SessionID, in.ChargedAmount)
	replaced := false
	if errors.Is(err, ErrInvoiceNotFound) && in.InvoiceID != "" {
		res, err = r.ledger.ConfirmReplaced(ctx, in.InvoiceID, in.UserID, in.ChargedAmount)
		replaced = err == nil
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrInvoiceNotFound):
			log.Warnf("[Reconciler] No invoice for session %s", in.SessionID)
		case errors.Is(err, ErrInvoiceCancelled), errors.Is(err, ErrAmountMismatch):
			log.Errorf("[Reconciler] Payment for session %s needs manual review: %v", in.SessionID, err)
		}
		return nil, err
	}

	out := &ConfirmOutcome{Invoice: res.Invoice, Participation: res.Participation, AlreadyPaid: res.AlreadyPaid}
	inv := res.Invoice
	if replaced && !res.AlreadyPaid {
		current := inv.SessionID()
		log.Warnf("[Reconciler] Invoice %s paid through replaced session %s (current=%s)", inv.ID, in.SessionID, current)
		if current != "" && current != in.SessionID && r.expiry != nil {
			if err := r.expiry.EnqueueSessionExpiry(ctx, current); err != nil {
				log.Errorf("[Reconciler] Failed to enqueue expiry for session %s: %v", current, err)
			}
		}
	}
	if !res.AlreadyPaid {
		log.Infof("[Reconciler] Invoice %s paid (session=%s amount=%d)", inv.ID, in.SessionID, inv.Amount)
		r.notifier.Notify(ctx, events.Event{Type: events.TypeInvoicePaid, ProjectID: inv.CrowdProjectID, UserID: inv.UserID, InvoiceID: inv.ID, Amount: inv.Amount})
		if inv.IsCrowdInvoice() {
			r.notifier.Notify(ctx, events.Event{Type: events.TypeParticipationConfirmed, ProjectID: inv.CrowdProjectID, UserID: inv.UserID, InvoiceID: inv.ID, Amount: inv.Amount})
		}
	}
	if !inv.IsCrowdInvoice() {
		return out, nil
	}

	funding, err := r.EvaluateFunding(ctx, inv.CrowdProjectID)
	if err != nil {
		return out, fmt.Errorf("evaluate funding for project %s: %w", inv.CrowdProjectID, err)
	}
	out.Funding = funding
	return out, nil
}

// EvaluateFunding moves an open project to funded when its confirmed
// participants reach the expected count. Safe to call any number of times.
func (r *Reconciler) EvaluateFunding(ctx context.Context, projectID string) (*FundingResult, error) {
	out := &FundingResult{}
	err := r.store.transaction(ctx, func(tx *Store) error {
		project, err := tx.lockProject(projectID)
		if err != nil {
			return err
		}
		out.Project = project

		confirmed, _, err := tx.tally(projectID)
		if err != nil {
			return err
		}
		out.Confirmed = confirmed.Count
		if !project.IsOpen() || confirmed.Count < int64(project.ExpectedParticipants) {
			return nil
		}

		now := r.now()
		res := tx.db.Model(&models.CrowdProject{}).
			Where("id = ? AND status = ?", projectID, models.CrowdStatusOpen).
			Updates(map[string]interface{}{
				"status":         models.CrowdStatusFunded,
				"funded_at":      &now,
				"current_amount": confirmed.Total,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			out.Transitioned = true
			project.Status = models.CrowdStatusFunded
			project.FundedAt = &now
			project.CurrentAmount = confirmed.Total
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Transitioned {
		log.Infof("[Reconciler] Crowd project %s funded (%d/%d participants, %d collected)",
			projectID, out.Confirmed, out.Project.ExpectedParticipants, out.Project.CurrentAmount)
		r.notifier.Notify(ctx, events.Event{Type: events.TypeProjectFunded, ProjectID: projectID, Amount: out.Project.CurrentAmount})
	}
	return out, nil
}
