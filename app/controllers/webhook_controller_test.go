package controllers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkoutCompleted(t *testing.T, eventID, sessionID string, amount int64) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"id":      eventID,
		"type":    billing.EventCheckoutCompleted,
		"created": time.Now().Unix(),
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":             sessionID,
				"object":         "checkout.session",
				"payment_status": billing.PaymentStatusPaid,
				"amount_total":   amount,
				"currency":       "usd",
			},
		},
	})
	require.NoError(t, err)
	return raw
}

func TestWebhookController_ConfirmsPayment(t *testing.T) {
	a := newTestApp(t, nil)
	p := a.createProject(t, 4000, 1)

	session := a.do(t, "POST", "/api/v1/crowd/group-session", "user-a", map[string]interface{}{
		"projectId":    p.ID,
		"participants": []map[string]interface{}{{"userId": "user-a", "amount": 40}},
	})
	require.Equal(t, 201, session.Status, string(session.Body))
	sessionID := session.json(t)["sessionId"].(string)

	payload := checkoutCompleted(t, "evt_1", sessionID, 4000)
	sig := billing.SignStripePayload(payload, testWebhookSecret, time.Now())

	resp := a.do(t, "POST", "/webhooks/stripe", "", payload, "Stripe-Signature", sig)
	require.Equal(t, 200, resp.Status, string(resp.Body))
	body := resp.json(t)
	assert.Equal(t, "evt_1", body["eventId"])
	assert.Equal(t, false, body["duplicate"])

	var project models.CrowdProject
	require.NoError(t, a.db.First(&project, "id = ?", p.ID).Error)
	assert.Equal(t, models.CrowdStatusFunded, project.Status)
	assert.EqualValues(t, 4000, project.CurrentAmount)

	replay := a.do(t, "POST", "/webhooks/stripe", "", payload, "Stripe-Signature", sig)
	require.Equal(t, 200, replay.Status)
	assert.Equal(t, true, replay.json(t)["duplicate"])
}

func TestWebhookController_Rejections(t *testing.T) {
	a := newTestApp(t, nil)
	payload := checkoutCompleted(t, "evt_2", "cs_unknown", 100)

	badSig := a.do(t, "POST", "/webhooks/stripe", "", payload, "Stripe-Signature", "t=1,v1=deadbeef")
	assert.Equal(t, 400, badSig.Status)
	assert.Equal(t, "invalid_signature", badSig.json(t)["error"])

	missing := a.do(t, "POST", "/webhooks/stripe", "", payload)
	assert.Equal(t, 400, missing.Status)

	garbage := []byte(`{"id":`)
	malformed := a.do(t, "POST", "/webhooks/stripe", "", garbage,
		"Stripe-Signature", billing.SignStripePayload(garbage, testWebhookSecret, time.Now()))
	assert.Equal(t, 400, malformed.Status)
	assert.Equal(t, "invalid_payload", malformed.json(t)["error"])

	var events int64
	require.NoError(t, a.db.Model(&models.PaymentWebhookEvent{}).Count(&events).Error)
	assert.Zero(t, events)
}

func TestWebhookController_AmountMismatch(t *testing.T) {
	a := newTestApp(t, nil)
	p := a.createProject(t, 4000, 2)

	session := a.do(t, "POST", "/api/v1/crowd/group-session", "user-a", map[string]interface{}{
		"projectId":    p.ID,
		"participants": []map[string]interface{}{{"userId": "user-a", "amount": 20}},
	})
	require.Equal(t, 201, session.Status)
	sessionID := session.json(t)["sessionId"].(string)

	payload := checkoutCompleted(t, "evt_3", sessionID, 1999)
	resp := a.do(t, "POST", "/webhooks/stripe", "", payload,
		"Stripe-Signature", billing.SignStripePayload(payload, testWebhookSecret, time.Now()))
	assert.Equal(t, 422, resp.Status)
	assert.Equal(t, "amount_mismatch", resp.json(t)["error"])

	invoiceID := session.json(t)["invoiceId"].(string)
	assert.Equal(t, 403, a.do(t, "GET", "/api/v1/admin/invoices/"+invoiceID+"/webhooks", "user-a", nil).Status)

	history := a.do(t, "GET", "/api/v1/admin/invoices/"+invoiceID+"/webhooks", "staff!", nil)
	require.Equal(t, 200, history.Status, string(history.Body))
	body := history.json(t)
	assert.Equal(t, "pending", body["invoice"].(map[string]interface{})["status"])
	deliveries := body["deliveries"].([]interface{})
	require.Len(t, deliveries, 1)
	first := deliveries[0].(map[string]interface{})
	assert.Equal(t, "evt_3", first["provider_event_id"])
	assert.Contains(t, first["processing_error"], "amount")

	missing := a.do(t, "GET", "/api/v1/admin/invoices/nope/webhooks", "staff!", nil)
	assert.Equal(t, 404, missing.Status)
}
