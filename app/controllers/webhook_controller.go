package controllers

import (
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/crowdfund"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

type WebhookController struct {
	reconciler *crowdfund.Reconciler
}

func NewWebhookController(reconciler *crowdfund.Reconciler) *WebhookController {
	return &WebhookController{reconciler: reconciler}
}

// HandleStripeWebhook verifies and applies one provider delivery. Failures
// after verification answer 5xx so the provider retries.
func (wc *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	out, err := wc.reconciler.HandleWebhook(c.UserContext(), payload, c.Get("Stripe-Signature"))
	if err != nil {
		return respondError(c, err)
	}

	if out.Duplicate {
		log.Infof("[Webhook] Duplicate delivery %s ignored", out.EventID)
	}
	return c.JSON(fiber.Map{
		"received":  true,
		"eventId":   out.EventID,
		"duplicate": out.Duplicate,
		"ignored":   out.Ignored,
	})
}
