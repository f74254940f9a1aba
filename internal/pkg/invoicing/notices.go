package invoicing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/billing"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/mail"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

var (
	reminderTemplate = template.Must(template.New("reminder").Parse(
		`<p>Hi {{.Name}},</p>
<p>your invoice <strong>{{.Description}}</strong> over {{.Amount}} is still open.</p>
<p><a href="{{.Link}}">Pay now</a></p>`))

	abandonTemplate = template.Must(template.New("abandon").Parse(
		`<p>Hi {{.Name}},</p>
<p>the checkout for <strong>{{.Description}}</strong> over {{.Amount}} was cancelled and nothing was charged.</p>
<p>You can start a new payment any time: <a href="{{.Link}}">{{.Link}}</a></p>`))
)

type noticeData struct {
	Name        string
	Description string
	Amount      string
	Link        string
}

// SendAbandonNotice emails the owner of a cancelled invoice. Users without a
// known email address are skipped.
func (s *Service) SendAbandonNotice(ctx context.Context, invoiceID string) error {
	if s.Mailer == nil {
		return nil
	}
	invoice, err := s.Get(ctx, invoiceID, "")
	if err != nil {
		return err
	}
	profile, ok, err := s.recipient(invoice.UserID)
	if err != nil || !ok {
		return err
	}

	link := s.cfg.PublicBaseURL + "/invoices"
	if invoice.IsCrowdInvoice() {
		link = s.cfg.PublicBaseURL + "/crowd/" + invoice.CrowdProjectID
	}
	body, err := render(abandonTemplate, noticeData{
		Name:        displayName(profile),
		Description: describe(invoice),
		Amount:      billing.FormatMinor(invoice.Amount, invoice.Currency),
		Link:        link,
	})
	if err != nil {
		return err
	}
	return s.Mailer.Send(ctx, mail.Message{To: profile.Email, Subject: "Your checkout was cancelled", Body: body})
}

// SendDueReminders emails a pay link for every pending invoice older than the
// reminder interval that was not reminded within it. It returns the number of
// reminders sent; failed ones are retried on the next sweep.
func (s *Service) SendDueReminders(ctx context.Context) (int, error) {
	if s.Mailer == nil {
		return 0, nil
	}
	cutoff := s.now().Add(-s.cfg.ReminderInterval)
	due, err := s.Invoices.ListDueForReminder(cutoff, cutoff, s.cfg.ReminderBatch)
	if err != nil {
		return 0, err
	}

	sent := 0
	var errs []error
	for i := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		invoice := &due[i]
		ok, err := s.remind(ctx, invoice)
		if err != nil {
			log.Warnf("[Invoicing] Reminder for invoice %s failed: %v", invoice.ID, err)
			errs = append(errs, fmt.Errorf("invoice %s: %w", invoice.ID, err))
			continue
		}
		if ok {
			sent++
		}
	}
	if sent > 0 {
		log.Infof("[Invoicing] Sent %d invoice reminders", sent)
	}
	return sent, errors.Join(errs...)
}

// remind reports false when the user has no address. The invoice is still
// marked so it does not hold a place in every following batch.
func (s *Service) remind(ctx context.Context, invoice *models.Invoice) (bool, error) {
	profile, ok, err := s.recipient(invoice.UserID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, s.Invoices.MarkReminded(invoice.ID, s.now())
	}
	link, err := s.PayLinkURL(invoice)
	if err != nil {
		return false, err
	}
	body, err := render(reminderTemplate, noticeData{
		Name:        displayName(profile),
		Description: describe(invoice),
		Amount:      billing.FormatMinor(invoice.Amount, invoice.Currency),
		Link:        link,
	})
	if err != nil {
		return false, err
	}
	if err := s.Mailer.Send(ctx, mail.Message{To: profile.Email, Subject: "Payment reminder", Body: body}); err != nil {
		return false, err
	}
	return true, s.Invoices.MarkReminded(invoice.ID, s.now())
}

// recipient reports ok=false for users without a mirrored profile or email.
func (s *Service) recipient(userID string) (*models.Profile, bool, error) {
	profile, err := s.Profiles.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Invoicing] No profile for user %s, skipping email", userID)
			return nil, false, nil
		}
		return nil, false, err
	}
	if profile.Email == "" {
		return nil, false, nil
	}
	return profile, true, nil
}

func render(t *template.Template, data noticeData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func displayName(p *models.Profile) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Email
}

func describe(invoice *models.Invoice) string {
	if invoice.Description != "" {
		return invoice.Description
	}
	return "invoice " + invoice.ID
}
