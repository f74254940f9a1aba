package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ManuelReschke/PixelProPortal/internal/pkg/billing"
	"github.com/gofiber/fiber/v2/log"
)

// ReminderSender sends reminders for every invoice that is due one.
type ReminderSender interface {
	SendDueReminders(ctx context.Context) (int, error)
}

// AbandonNoticeSender emails the owner of a cancelled invoice.
type AbandonNoticeSender interface {
	SendAbandonNotice(ctx context.Context, invoiceID string) error
}

// Handlers bundles the dependencies of the portal's job handlers. Nil
// dependencies leave the corresponding job type unregistered.
type Handlers struct {
	Provider  billing.CheckoutProvider
	Reminders ReminderSender
	Notices   AbandonNoticeSender
}

// Register installs the handlers on q.
func (h Handlers) Register(q *Queue) {
	if h.Provider != nil {
		q.Handle(JobTypeExpireCheckoutSession, h.expireCheckoutSession)
	}
	if h.Reminders != nil {
		q.Handle(JobTypeInvoiceReminderSweep, h.reminderSweep)
	}
	if h.Notices != nil {
		q.Handle(JobTypeInvoiceAbandonNotice, h.abandonNotice)
	}
}

func (h Handlers) expireCheckoutSession(ctx context.Context, job *Job) error {
	payload, err := ExpireSessionJobPayloadFromMap(job.Payload)
	if err != nil || payload.SessionID == "" {
		return fmt.Errorf("%w: invalid expire payload: %v", ErrPermanent, err)
	}

	err = h.Provider.ExpireCheckoutSession(ctx, payload.SessionID)
	var apiErr *billing.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= http.StatusBadRequest && apiErr.StatusCode < http.StatusInternalServerError {
		// Already expired, completed or unknown at the provider.
		log.Warnf("[JobQueue] Session %s not expirable: %v", payload.SessionID, err)
		return nil
	}
	return err
}

func (h Handlers) reminderSweep(ctx context.Context, job *Job) error {
	payload, err := ReminderSweepJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("%w: invalid reminder payload: %v", ErrPermanent, err)
	}
	sent, err := h.Reminders.SendDueReminders(ctx)
	if err != nil {
		return err
	}
	log.Infof("[JobQueue] Reminder sweep (%s) sent %d reminders", payload.TriggeredBy, sent)
	return nil
}

func (h Handlers) abandonNotice(ctx context.Context, job *Job) error {
	payload, err := AbandonNoticeJobPayloadFromMap(job.Payload)
	if err != nil || payload.InvoiceID == "" {
		return fmt.Errorf("%w: invalid abandon notice payload: %v", ErrPermanent, err)
	}
	return h.Notices.SendAbandonNotice(ctx, payload.InvoiceID)
}
