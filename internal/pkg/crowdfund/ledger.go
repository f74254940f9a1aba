package crowdfund

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/events"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Ledger owns Participation and Invoice state for crowd projects. Every
// mutation runs in a transaction that first locks the project row.
type Ledger struct {
	store    *Store
	notifier events.Notifier
	now      func() time.Time
}

// NewLedger creates a ledger. The notifier receives join events and the
// cancellation of superseded invoices once they are committed.
func NewLedger(store *Store, notifier events.Notifier) *Ledger {
	if notifier == nil {
		notifier = events.Discard
	}
	return &Ledger{store: store, notifier: notifier, now: time.Now}
}

// Join records a pending, unpaid participation with no amount. Joining twice
// returns the existing participation and created=false.
func (l *Ledger) Join(ctx context.Context, projectID, userID string) (*models.Participation, bool, error) {
	projectID = strings.TrimSpace(projectID)
	userID = strings.TrimSpace(userID)
	if projectID == "" {
		return nil, false, &RequestError{Field: "projectId", Reason: "required"}
	}
	if userID == "" {
		return nil, false, &RequestError{Field: "userId", Reason: "required"}
	}

	var (
		created bool
		stored  *models.Participation
	)
	err := l.store.transaction(ctx, func(tx *Store) error {
		project, err := tx.lockProject(projectID)
		if err != nil {
			return err
		}
		existing, err := tx.findParticipation(projectID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			stored = existing
			return nil
		}
		if !project.IsOpen() {
			return ErrProjectNotOpen
		}
		created, stored, err = tx.insertParticipation(&models.Participation{
			UserID:         userID,
			CrowdProjectID: projectID,
			Status:         models.ParticipationStatusPending,
		})
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		l.notifier.Notify(ctx, events.Event{Type: events.TypeParticipantJoined, ProjectID: projectID, UserID: userID})
	}
	return stored, created, nil
}

// PendingPayment is a checkout session that must be tracked as an unpaid
// invoice and a pending participation.
type PendingPayment struct {
	InvoiceID   string
	ProjectID   string
	UserID      string
	Amount      int64
	Currency    string
	Description string
	SessionID   string
	CheckoutURL string
}

// PendingResult is the stored invoice plus the checkout sessions of earlier
// pending invoices it replaced. Those sessions are still payable at the
// provider until expired.
type PendingResult struct {
	Invoice            *models.Invoice
	Participation      *models.Participation
	SupersededSessions []string
}

// RecordPendingPayment stores a new pending invoice for the session together
// with the user's pending participation at the session amount. Earlier pending
// invoices for the same user and project are cancelled.
func (l *Ledger) RecordPendingPayment(ctx context.Context, in PendingPayment) (*PendingResult, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, &RequestError{Field: "sessionId", UserID: in.UserID, Reason: "required"}
	}
	if in.Amount <= 0 {
		return nil, &RequestError{Field: "amount", UserID: in.UserID, Reason: "must be positive"}
	}

	out := &PendingResult{}
	var superseded []models.Invoice
	err := l.store.transaction(ctx, func(tx *Store) error {
		project, err := tx.lockProject(in.ProjectID)
		if err != nil {
			return err
		}
		if !project.IsOpen() {
			return ErrProjectNotOpen
		}

		exists, err := tx.sessionExists(in.SessionID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicateSession, in.SessionID)
		}

		part, err := tx.findParticipation(in.ProjectID, in.UserID)
		if err != nil {
			return err
		}
		if part != nil && part.IsConfirmed() {
			return fmt.Errorf("%w: user %s", ErrAlreadyConfirmed, in.UserID)
		}

		previous, err := tx.pendingInvoices(in.ProjectID, in.UserID)
		if err != nil {
			return err
		}
		for _, inv := range previous {
			changed, err := tx.setInvoiceStatus(inv.ID, models.InvoiceStatusPending, models.InvoiceStatusCancelled, nil)
			if err != nil {
				return err
			}
			if changed {
				superseded = append(superseded, inv)
			}
			if sid := inv.SessionID(); sid != "" {
				out.SupersededSessions = append(out.SupersededSessions, sid)
			}
		}

		sessionID := in.SessionID
		invoice := &models.Invoice{
			ID:                in.InvoiceID,
			UserID:            in.UserID,
			CrowdProjectID:    in.ProjectID,
			Description:       in.Description,
			Amount:            in.Amount,
			Currency:          in.Currency,
			Status:            models.InvoiceStatusPending,
			ExternalSessionID: &sessionID,
			CheckoutURL:       in.CheckoutURL,
		}
		if invoice.Currency == "" {
			invoice.Currency = "usd"
		}
		if err := tx.db.Create(invoice).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s", ErrDuplicateSession, in.SessionID)
			}
			return err
		}
		out.Invoice = invoice

		if part == nil {
			part = &models.Participation{
				UserID:         in.UserID,
				CrowdProjectID: in.ProjectID,
				Amount:         in.Amount,
				Status:         models.ParticipationStatusPending,
			}
			if err := tx.db.Create(part).Error; err != nil {
				return err
			}
		} else {
			if err := tx.db.Model(part).Updates(map[string]interface{}{
				"amount":  in.Amount,
				"status":  models.ParticipationStatusPending,
				"paid":    false,
				"paid_at": nil,
			}).Error; err != nil {
				return err
			}
			part.Amount = in.Amount
			part.Status = models.ParticipationStatusPending
			part.Paid = false
			part.PaidAt = nil
		}
		out.Participation = part
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, inv := range superseded {
		l.notifier.Notify(ctx, events.Event{
			Type:      events.TypeInvoiceCancelled,
			ProjectID: inv.CrowdProjectID,
			UserID:    inv.UserID,
			InvoiceID: inv.ID,
			Amount:    inv.Amount,
		})
	}
	return out, nil
}

// ConfirmResult describes the outcome of a confirmation. AlreadyPaid is set
// when the invoice had been confirmed by an earlier delivery.
type ConfirmResult struct {
	Invoice       *models.Invoice
	Participation *models.Participation
	AlreadyPaid   bool
}

// Confirm marks the session's invoice paid and the matching participation
// confirmed at the invoice amount. chargedAmount, when positive, must equal
// the invoice amount. Confirming an already paid invoice changes nothing.
func (l *Ledger) Confirm(ctx context.Context, sessionID string, chargedAmount int64) (*ConfirmResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, &RequestError{Field: "sessionId", Reason: "required"}
	}

	found, err := l.store.withContext(ctx).findInvoiceBySession(sessionID)
	if err != nil {
		return nil, err
	}
	return l.confirm(ctx, found, chargedAmount)
}

// ConfirmReplaced confirms an invoice that was paid through a checkout
// session it no longer points at, identified by the invoice id and owner the
// session was opened with. An owner mismatch reads as an unknown invoice.
func (l *Ledger) ConfirmReplaced(ctx context.Context, invoiceID, userID string, chargedAmount int64) (*ConfirmResult, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	userID = strings.TrimSpace(userID)
	if invoiceID == "" || userID == "" {
		return nil, ErrInvoiceNotFound
	}
	found, err := l.store.withContext(ctx).findInvoice(invoiceID)
	if err != nil {
		return nil, err
	}
	if found.UserID != userID {
		return nil, fmt.Errorf("%w: %s is not owned by %s", ErrInvoiceNotFound, invoiceID, userID)
	}
	return l.confirm(ctx, found, chargedAmount)
}

func (l *Ledger) confirm(ctx context.Context, found *models.Invoice, chargedAmount int64) (*ConfirmResult, error) {
	out := &ConfirmResult{}
	err := l.store.transaction(ctx, func(tx *Store) error {
		if found.IsCrowdInvoice() {
			if _, err := tx.lockProject(found.CrowdProjectID); err != nil {
				return err
			}
		}
		invoice, err := tx.findInvoice(found.ID)
		if err != nil {
			return err
		}
		out.Invoice = invoice

		switch invoice.Status {
		case models.InvoiceStatusCancelled:
			return fmt.Errorf("%w: %s", ErrInvoiceCancelled, invoice.ID)
		case models.InvoiceStatusPaid:
			out.AlreadyPaid = true
		}
		if chargedAmount > 0 && chargedAmount != invoice.Amount {
			return fmt.Errorf("%w: charged %d, invoice %s is %d", ErrAmountMismatch, chargedAmount, invoice.ID, invoice.Amount)
		}

		now := l.now()
		if !out.AlreadyPaid {
			changed, err := tx.setInvoiceStatus(invoice.ID, models.InvoiceStatusPending, models.InvoiceStatusPaid,
				map[string]interface{}{"paid_at": &now})
			if err != nil {
				return err
			}
			if changed {
				invoice.Status = models.InvoiceStatusPaid
				invoice.PaidAt = &now
			} else {
				out.AlreadyPaid = true
			}
		}

		if !invoice.IsCrowdInvoice() {
			return nil
		}

		part, err := tx.findParticipation(invoice.CrowdProjectID, invoice.UserID)
		if err != nil {
			return err
		}
		switch {
		case part == nil:
			part = &models.Participation{
				UserID:         invoice.UserID,
				CrowdProjectID: invoice.CrowdProjectID,
				Amount:         invoice.Amount,
				Status:         models.ParticipationStatusConfirmed,
				Paid:           true,
				PaidAt:         &now,
			}
			if err := tx.db.Create(part).Error; err != nil {
				return err
			}
		case !part.IsConfirmed():
			if err := tx.db.Model(part).Updates(map[string]interface{}{
				"amount":  invoice.Amount,
				"status":  models.ParticipationStatusConfirmed,
				"paid":    true,
				"paid_at": &now,
			}).Error; err != nil {
				return err
			}
			part.Amount = invoice.Amount
			part.Status = models.ParticipationStatusConfirmed
			part.Paid = true
			part.PaidAt = &now
		}
		out.Participation = part

		return tx.refreshCurrentAmount(invoice.CrowdProjectID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelBySession cancels the pending invoice behind an expired or failed
// checkout session. The participation stays pending so the user can pay
// through a new session. Returns changed=false for invoices no longer pending.
func (l *Ledger) CancelBySession(ctx context.Context, sessionID string) (*models.Invoice, bool, error) {
	inv, err := l.store.withContext(ctx).findInvoiceBySession(strings.TrimSpace(sessionID))
	if err != nil {
		return nil, false, err
	}
	return l.CancelInvoice(ctx, inv.ID)
}

// CancelInvoice moves a pending invoice to cancelled.
func (l *Ledger) CancelInvoice(ctx context.Context, invoiceID string) (*models.Invoice, bool, error) {
	found, err := l.store.withContext(ctx).findInvoice(strings.TrimSpace(invoiceID))
	if err != nil {
		return nil, false, err
	}

	var (
		out     *models.Invoice
		changed bool
	)
	err = l.store.transaction(ctx, func(tx *Store) error {
		if found.IsCrowdInvoice() {
			if _, err := tx.lockProject(found.CrowdProjectID); err != nil {
				return err
			}
		}
		changed, err = tx.setInvoiceStatus(found.ID, models.InvoiceStatusPending, models.InvoiceStatusCancelled, nil)
		if err != nil {
			return err
		}
		out, err = tx.findInvoice(found.ID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		log.Infof("[Ledger] Invoice %s cancelled (session=%s)", out.ID, out.SessionID())
	}
	return out, changed, nil
}

// AttachSession points a pending invoice at a new checkout session and
// returns the session it replaced, if any. Crowd invoices stay payable only
// while their project is open.
func (l *Ledger) AttachSession(ctx context.Context, invoiceID, sessionID, checkoutURL string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", &RequestError{Field: "sessionId", Reason: "required"}
	}
	found, err := l.store.withContext(ctx).findInvoice(strings.TrimSpace(invoiceID))
	if err != nil {
		return "", err
	}

	var previous string
	err = l.store.transaction(ctx, func(tx *Store) error {
		if found.IsCrowdInvoice() {
			project, err := tx.lockProject(found.CrowdProjectID)
			if err != nil {
				return err
			}
			if !project.IsOpen() {
				return ErrProjectNotOpen
			}
		}
		exists, err := tx.sessionExists(sessionID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicateSession, sessionID)
		}

		invoice, err := tx.findInvoice(found.ID)
		if err != nil {
			return err
		}
		switch invoice.Status {
		case models.InvoiceStatusPending:
		case models.InvoiceStatusCancelled:
			return fmt.Errorf("%w: %s", ErrInvoiceCancelled, invoice.ID)
		default:
			return fmt.Errorf("%w: %s is %s", ErrInvoiceNotPayable, invoice.ID, invoice.Status)
		}
		previous = invoice.SessionID()

		return tx.db.Model(&models.Invoice{}).Where("id = ?", invoice.ID).Updates(map[string]interface{}{
			"external_session_id": sessionID,
			"checkout_url":        checkoutURL,
		}).Error
	})
	if err != nil {
		return "", err
	}
	return previous, nil
}

// refreshCurrentAmount recomputes the cached project total from confirmed
// participations.
func (s *Store) refreshCurrentAmount(projectID string) error {
	confirmed, _, err := s.tally(projectID)
	if err != nil {
		return err
	}
	return s.db.Model(&models.CrowdProject{}).Where("id = ?", projectID).
		UpdateColumn("current_amount", confirmed.Total).Error
}
