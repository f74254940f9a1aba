package crowdfund

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ManuelReschke/PixelProPortal/internal/pkg/billing"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/events"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExpiryQueue schedules a background retry for a checkout session that could
// not be expired inline.
type ExpiryQueue interface {
	EnqueueSessionExpiry(ctx context.Context, sessionID string) error
}

type OrchestratorConfig struct {
	Currency        string
	PublicBaseURL   string
	ProviderTimeout time.Duration
}

// Orchestrator creates one hosted checkout per participant of a group
// payment and records each as a pending invoice.
type Orchestrator struct {
	store    *Store
	ledger   *Ledger
	provider billing.CheckoutProvider
	expiry   ExpiryQueue
	notifier events.Notifier
	cfg      OrchestratorConfig
}

func NewOrchestrator(store *Store, ledger *Ledger, provider billing.CheckoutProvider, expiry ExpiryQueue, notifier events.Notifier, cfg OrchestratorConfig) *Orchestrator {
	if notifier == nil {
		notifier = events.Discard
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 15 * time.Second
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Orchestrator{
		store:    store,
		ledger:   ledger,
		provider: provider,
		expiry:   expiry,
		notifier: notifier,
		cfg:      cfg,
	}
}

// ParticipantAmount is one participant's share in major currency units.
type ParticipantAmount struct {
	UserID string
	Amount decimal.Decimal
}

type GroupSessionRequest struct {
	ProjectID    string
	RequesterID  string
	Participants []ParticipantAmount
}

// SessionRef points a client at its hosted checkout.
type SessionRef struct {
	SessionID   string `json:"sessionId"`
	CheckoutURL string `json:"url"`
	InvoiceID   string `json:"invoiceId"`
	Amount      int64  `json:"amount"`
}

type plannedPayment struct {
	userID string
	amount int64
}

type createdSession struct {
	userID    string
	sessionID string
	invoiceID string
}

// CreateGroupSession opens a checkout for every participant and returns the
// requester's. Validation failures leave everything untouched. If a provider
// or persistence call fails part way, every session this call created is
// expired and its invoice cancelled before the error is returned.
func (o *Orchestrator) CreateGroupSession(ctx context.Context, req GroupSessionRequest) (*SessionRef, error) {
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	plan, err := o.validate(req)
	if err != nil {
		return nil, err
	}

	s := o.store.withContext(ctx)
	project, err := s.findProject(req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !project.IsOpen() {
		return nil, ErrProjectNotOpen
	}
	userIDs := make([]string, len(plan))
	for i, p := range plan {
		userIDs[i] = p.userID
	}
	confirmed, err := s.confirmedAmong(project.ID, userIDs)
	if err != nil {
		return nil, err
	}
	if len(confirmed) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConfirmed, strings.Join(confirmed, ", "))
	}

	successURL, cancelURL := o.returnURLs(project.ID)
	var (
		created   []createdSession
		requester *SessionRef
	)
	for _, p := range plan {
		invoiceID := uuid.NewString()
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
		sess, err := o.provider.CreateCheckoutSession(callCtx, billing.CheckoutSessionParams{
			AmountMinor:       p.amount,
			Currency:          o.cfg.Currency,
			ProductName:       project.Title,
			SuccessURL:        successURL,
			CancelURL:         cancelURL,
			ClientReferenceID: invoiceID,
			Metadata: map[string]string{
				"userId":    p.userID,
				"projectId": project.ID,
				"invoiceId": invoiceID,
			},
			IdempotencyKey: invoiceID,
		})
		cancel()
		if err != nil {
			return nil, o.abort(ctx, created, p.userID, "", err)
		}
		created = append(created, createdSession{userID: p.userID, sessionID: sess.ID})

		res, err := o.ledger.RecordPendingPayment(ctx, PendingPayment{
			InvoiceID:   invoiceID,
			ProjectID:   project.ID,
			UserID:      p.userID,
			Amount:      p.amount,
			Currency:    o.cfg.Currency,
			Description: "Crowd funding: " + project.Title,
			SessionID:   sess.ID,
			CheckoutURL: sess.URL,
		})
		if err != nil {
			return nil, o.abort(ctx, created, p.userID, sess.ID, err)
		}
		created[len(created)-1].invoiceID = res.Invoice.ID
		// The replaced invoices are already cancelled; their sessions must not stay payable.
		for _, sid := range res.SupersededSessions {
			o.expireOrEnqueue(ctx, sid)
		}

		if p.userID == req.RequesterID {
			requester = &SessionRef{SessionID: sess.ID, CheckoutURL: sess.URL, InvoiceID: res.Invoice.ID, Amount: p.amount}
		}
	}

	log.Infof("[Orchestrator] Created %d checkout sessions for crowd project %s (requester=%s)", len(created), project.ID, req.RequesterID)
	o.notifier.Notify(ctx, events.Event{Type: events.TypeProjectUpdated, ProjectID: project.ID, UserID: req.RequesterID})
	return requester, nil
}

func (o *Orchestrator) validate(req GroupSessionRequest) ([]plannedPayment, error) {
	if req.ProjectID == "" {
		return nil, &RequestError{Field: "projectId", Reason: "required"}
	}
	if req.RequesterID == "" {
		return nil, &RequestError{Field: "requesterId", Reason: "required"}
	}
	if len(req.Participants) == 0 {
		return nil, &RequestError{Field: "participants", Reason: "at least one participant is required"}
	}

	plan := make([]plannedPayment, 0, len(req.Participants))
	seen := make(map[string]struct{}, len(req.Participants))
	requesterIncluded := false
	for i, p := range req.Participants {
		userID := strings.TrimSpace(p.UserID)
		if userID == "" {
			return nil, &RequestError{Field: fmt.Sprintf("participants[%d].userId", i), Reason: "required"}
		}
		if _, dup := seen[userID]; dup {
			return nil, &RequestError{Field: "participants", UserID: userID, Reason: "listed more than once"}
		}
		seen[userID] = struct{}{}

		amount, err := billing.MajorToMinor(p.Amount)
		if err != nil {
			return nil, &RequestError{Field: "amount", UserID: userID, Reason: "exceeds the maximum chargeable amount"}
		}
		if amount <= 0 {
			return nil, &RequestError{Field: "amount", UserID: userID, Reason: "must be greater than zero"}
		}
		if userID == req.RequesterID {
			requesterIncluded = true
		}
		plan = append(plan, plannedPayment{userID: userID, amount: amount})
	}
	if !requesterIncluded {
		return nil, &RequestError{Field: "requesterId", UserID: req.RequesterID, Reason: "requester must be one of the participants"}
	}
	return plan, nil
}

// abort compensates every session created so far and wraps the failure.
func (o *Orchestrator) abort(ctx context.Context, created []createdSession, userID, sessionID string, cause error) error {
	bg := context.WithoutCancel(ctx)
	compensated := true
	for _, c := range created {
		if !o.expireOrEnqueue(bg, c.sessionID) {
			compensated = false
		}
		if c.invoiceID == "" {
			continue
		}
		inv, changed, err := o.ledger.CancelInvoice(bg, c.invoiceID)
		if err != nil {
			compensated = false
			log.Errorf("[Orchestrator] Failed to cancel invoice %s during compensation: %v", c.invoiceID, err)
			continue
		}
		if changed {
			o.notifier.Notify(bg, events.Event{
				Type:      events.TypeInvoiceCancelled,
				ProjectID: inv.CrowdProjectID,
				UserID:    inv.UserID,
				InvoiceID: inv.ID,
				Amount:    inv.Amount,
			})
		}
	}
	perr := &PartialSessionError{UserID: userID, SessionID: sessionID, Compensated: compensated, Err: cause}
	log.Errorf("[Orchestrator] %v", perr)
	return perr
}

// expireOrEnqueue expires a checkout session, falling back to the background
// queue. It reports whether the session was expired inline.
func (o *Orchestrator) expireOrEnqueue(ctx context.Context, sessionID string) bool {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	err := o.provider.ExpireCheckoutSession(callCtx, sessionID)
	cancel()
	if err == nil {
		return true
	}
	log.Warnf("[Orchestrator] Failed to expire session %s: %v", sessionID, err)
	if o.expiry != nil {
		if qerr := o.expiry.EnqueueSessionExpiry(ctx, sessionID); qerr != nil {
			log.Errorf("[Orchestrator] Failed to enqueue expiry for session %s: %v", sessionID, qerr)
		}
	}
	return false
}

func (o *Orchestrator) returnURLs(projectID string) (string, string) {
	base := o.cfg.PublicBaseURL + "/crowd/" + url.PathEscape(projectID)
	return base + "?checkout=success&session_id={CHECKOUT_SESSION_ID}", base + "?checkout=cancelled"
}
