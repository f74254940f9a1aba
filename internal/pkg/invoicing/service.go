package invoicing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"github.com/ManuelReschke/PixelProPortal/app/repository"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/billing"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/crowdfund"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/events"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/mail"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/security"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// NoticeQueue schedules the abandoned-checkout email of a cancelled invoice.
type NoticeQueue interface {
	EnqueueAbandonNotice(ctx context.Context, invoiceID string) error
}

type Config struct {
	Currency         string
	PublicBaseURL    string
	PayLinkSecret    string
	PayLinkTTL       time.Duration
	ReminderInterval time.Duration
	ReminderBatch    int
	ProviderTimeout  time.Duration
}

// Deps are the collaborators of the invoice service. Expiry, Notices, Mailer
// and Notifier are optional.
type Deps struct {
	Invoices repository.InvoiceRepository
	Profiles repository.ProfileRepository
	Ledger   *crowdfund.Ledger
	Provider billing.CheckoutProvider
	Expiry   crowdfund.ExpiryQueue
	Notices  NoticeQueue
	Mailer   mail.Mailer
	Notifier events.Notifier
}

// Service covers invoices outside the group checkout: listing, standalone
// invoices, single-invoice checkout, cancellation and reminders.
type Service struct {
	Deps
	cfg Config
	now func() time.Time
}

func NewService(deps Deps, cfg Config) *Service {
	if deps.Notifier == nil {
		deps.Notifier = events.Discard
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.PayLinkTTL <= 0 {
		cfg.PayLinkTTL = 14 * 24 * time.Hour
	}
	if cfg.ReminderInterval <= 0 {
		cfg.ReminderInterval = 3 * 24 * time.Hour
	}
	if cfg.ReminderBatch <= 0 {
		cfg.ReminderBatch = 100
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 15 * time.Second
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Service{Deps: deps, cfg: cfg, now: time.Now}
}

// IssueInput describes a standalone invoice created by staff.
type IssueInput struct {
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// Issue creates a pending invoice without a crowd project.
func (s *Service) Issue(ctx context.Context, in IssueInput) (*models.Invoice, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return nil, &crowdfund.RequestError{Field: "userId", Reason: "required"}
	}
	minor, err := billing.MajorToMinor(in.Amount)
	if err != nil {
		return nil, &crowdfund.RequestError{Field: "amount", UserID: in.UserID, Reason: "exceeds the maximum chargeable amount"}
	}
	if minor <= 0 {
		return nil, &crowdfund.RequestError{Field: "amount", UserID: in.UserID, Reason: "must be positive"}
	}
	if len(in.Description) > 255 {
		return nil, &crowdfund.RequestError{Field: "description", Reason: "at most 255 characters"}
	}
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.cfg.Currency
	}

	invoice := &models.Invoice{
		UserID:      in.UserID,
		Description: strings.TrimSpace(in.Description),
		Amount:      minor,
		Currency:    currency,
		Status:      models.InvoiceStatusPending,
	}
	if err := s.Invoices.Create(invoice); err != nil {
		return nil, err
	}
	log.Infof("[Invoicing] Issued invoice %s for user %s (%s)", invoice.ID, invoice.UserID, billing.FormatMinor(minor, currency))
	return invoice, nil
}

// List returns a page of the user's invoices and their total count.
func (s *Service) List(ctx context.Context, userID string, offset, limit int) ([]models.Invoice, int64, error) {
	invoices, err := s.Invoices.ListByUser(userID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Invoices.CountByUser(userID)
	if err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

// Get loads an invoice. A non-empty userID must own it; other users' invoices
// are reported as not found.
func (s *Service) Get(ctx context.Context, invoiceID, userID string) (*models.Invoice, error) {
	invoice, err := s.Invoices.GetByID(strings.TrimSpace(invoiceID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, crowdfund.ErrInvoiceNotFound
		}
		return nil, err
	}
	if userID != "" && invoice.UserID != userID {
		return nil, crowdfund.ErrInvoiceNotFound
	}
	return invoice, nil
}

// Checkout opens a new hosted checkout for a pending invoice. The session the
// invoice pointed at before is expired.
func (s *Service) Checkout(ctx context.Context, invoiceID, userID string) (*crowdfund.SessionRef, error) {
	invoice, err := s.Get(ctx, invoiceID, userID)
	if err != nil {
		return nil, err
	}
	switch invoice.Status {
	case models.InvoiceStatusPending:
	case models.InvoiceStatusCancelled:
		return nil, fmt.Errorf("%w: %s", crowdfund.ErrInvoiceCancelled, invoice.ID)
	default:
		return nil, fmt.Errorf("%w: %s is %s", crowdfund.ErrInvoiceNotPayable, invoice.ID, invoice.Status)
	}

	successURL, cancelURL := s.returnURLs(invoice)
	metadata := map[string]string{
		"invoiceId": invoice.ID,
		"userId":    invoice.UserID,
	}
	if invoice.IsCrowdInvoice() {
		metadata["projectId"] = invoice.CrowdProjectID
	}
	productName := invoice.Description
	if productName == "" {
		productName = "Invoice " + invoice.ID
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	session, err := s.Provider.CreateCheckoutSession(callCtx, billing.CheckoutSessionParams{
		AmountMinor:       invoice.Amount,
		Currency:          invoice.Currency,
		ProductName:       productName,
		SuccessURL:        successURL,
		CancelURL:         cancelURL,
		ClientReferenceID: invoice.ID,
		Metadata:          metadata,
		IdempotencyKey:    invoice.ID + ":" + uuid.NewString(),
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("create checkout session for invoice %s: %w", invoice.ID, err)
	}

	previous, err := s.Ledger.AttachSession(ctx, invoice.ID, session.ID, session.URL)
	if err != nil {
		s.expireOrEnqueue(context.WithoutCancel(ctx), session.ID)
		return nil, err
	}
	if previous != "" {
		s.expireOrEnqueue(ctx, previous)
	}

	log.Infof("[Invoicing] Checkout session %s opened for invoice %s", session.ID, invoice.ID)
	return &crowdfund.SessionRef{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		InvoiceID:   invoice.ID,
		Amount:      invoice.Amount,
	}, nil
}

// Cancel cancels a pending invoice, expires its checkout session and sends
// the abandoned-checkout notice. Cancelling a cancelled invoice is a no-op.
func (s *Service) Cancel(ctx context.Context, invoiceID, userID string) (*models.Invoice, error) {
	invoice, err := s.Get(ctx, invoiceID, userID)
	if err != nil {
		return nil, err
	}

	updated, changed, err := s.Ledger.CancelInvoice(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}
	if !changed {
		if updated.Status == models.InvoiceStatusPaid {
			return nil, fmt.Errorf("%w: %s is paid", crowdfund.ErrInvoiceNotPayable, updated.ID)
		}
		return updated, nil
	}

	if sid := updated.SessionID(); sid != "" {
		s.expireOrEnqueue(ctx, sid)
	}
	s.scheduleAbandonNotice(ctx, updated.ID)
	s.Notifier.Notify(ctx, events.Event{
		Type:      events.TypeInvoiceCancelled,
		ProjectID: updated.CrowdProjectID,
		UserID:    updated.UserID,
		InvoiceID: updated.ID,
		Amount:    updated.Amount,
	})
	return updated, nil
}

// PayLinkURL returns the signed link used in reminder emails.
func (s *Service) PayLinkURL(invoice *models.Invoice) (string, error) {
	token, err := security.GeneratePayLinkToken(invoice.ID, invoice.UserID, s.cfg.PayLinkTTL, s.cfg.PayLinkSecret)
	if err != nil {
		return "", err
	}
	return s.cfg.PublicBaseURL + "/pay/" + url.PathEscape(token), nil
}

// CheckoutByToken verifies a pay link token and opens a checkout for its
// invoice.
func (s *Service) CheckoutByToken(ctx context.Context, token string) (*crowdfund.SessionRef, error) {
	claims, err := security.VerifyPayLinkToken(token, s.cfg.PayLinkSecret)
	if err != nil {
		return nil, err
	}
	return s.Checkout(ctx, claims.InvoiceID, claims.UserID)
}

func (s *Service) scheduleAbandonNotice(ctx context.Context, invoiceID string) {
	if s.Notices != nil {
		err := s.Notices.EnqueueAbandonNotice(ctx, invoiceID)
		if err == nil {
			return
		}
		log.Warnf("[Invoicing] Failed to enqueue abandon notice for %s, sending inline: %v", invoiceID, err)
	}
	if err := s.SendAbandonNotice(ctx, invoiceID); err != nil {
		log.Errorf("[Invoicing] Abandon notice for %s failed: %v", invoiceID, err)
	}
}

func (s *Service) expireOrEnqueue(ctx context.Context, sessionID string) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	err := s.Provider.ExpireCheckoutSession(callCtx, sessionID)
	cancel()
	if err == nil {
		return
	}
	log.Warnf("[Invoicing] Failed to expire session %s: %v", sessionID, err)
	if s.Expiry != nil {
		if qerr := s.Expiry.EnqueueSessionExpiry(ctx, sessionID); qerr != nil {
			log.Errorf("[Invoicing] Failed to enqueue expiry for session %s: %v", sessionID, qerr)
		}
	}
}

func (s *Service) returnURLs(invoice *models.Invoice) (string, string) {
	base := s.cfg.PublicBaseURL + "/invoices/" + url.PathEscape(invoice.ID)
	if invoice.IsCrowdInvoice() {
		base = s.cfg.PublicBaseURL + "/crowd/" + url.PathEscape(invoice.CrowdProjectID)
	}
	return base + "?checkout=success&session_id={CHECKOUT_SESSION_ID}", base + "?checkout=cancelled"
}
