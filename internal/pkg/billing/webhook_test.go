package billing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCheckoutEvent_Completed(t *testing.T) {
	raw := []byte(`{
		"id": "evt_123",
		"type": "checkout.session.completed",
		"created": 1700000000,
		"data": {
			"object": {
				"id": "cs_abc",
				"object": "checkout.session",
				"payment_status": "paid",
				"status": "complete",
				"amount_total": 333,
				"currency": "usd",
				"client_reference_id": "inv-1",
				"metadata": {"invoiceId": "inv-1", "crowdProjectId": "p1"}
			}
		}
	}`)

	ev, err := ParseCheckoutEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, "evt_123", ev.ID)
	assert.Equal(t, "cs_abc", ev.Session.ID)
	assert.Equal(t, int64(333), ev.Session.AmountTotal)
	assert.Equal(t, "p1", ev.Session.Metadata["crowdProjectId"])
	assert.True(t, ev.ConfirmsPayment())
	assert.False(t, ev.EndsSession())
}

func TestParseCheckoutEvent_UnpaidCompletionDoesNotConfirm(t *testing.T) {
	raw := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_status":"unpaid"}}}`)
	ev, err := ParseCheckoutEvent(raw)
	require.NoError(t, err)
	assert.False(t, ev.ConfirmsPayment())

	raw = []byte(`{"id":"evt_2","type":"checkout.session.async_payment_succeeded","data":{"object":{"id":"cs_1","payment_status":"paid"}}}`)
	ev, err = ParseCheckoutEvent(raw)
	require.NoError(t, err)
	assert.True(t, ev.ConfirmsPayment())
}

func TestParseCheckoutEvent_Expired(t *testing.T) {
	raw := []byte(`{"id":"evt_9","type":"checkout.session.expired","data":{"object":{"id":"cs_9","object":"checkout.session"}}}`)
	ev, err := ParseCheckoutEvent(raw)
	require.NoError(t, err)
	assert.True(t, ev.EndsSession())
	assert.False(t, ev.ConfirmsPayment())
}

func TestParseCheckoutEvent_NonCheckoutEvent(t *testing.T) {
	raw := []byte(`{"id":"evt_5","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)
	ev, err := ParseCheckoutEvent(raw)
	require.NoError(t, err)
	assert.False(t, ev.IsCheckoutEvent())
	assert.Empty(t, ev.Session.ID)
}

func TestParseCheckoutEvent_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `{`,
		"missing id":     `{"type":"checkout.session.completed"}`,
		"missing object": `{"id":"evt","type":"checkout.session.completed"}`,
		"no session id":  `{"id":"evt","type":"checkout.session.completed","data":{"object":{"payment_status":"paid"}}}`,
		"wrong object":   `{"id":"evt","type":"checkout.session.completed","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`,
	}
	for name, raw := range cases {
		_, err := ParseCheckoutEvent([]byte(raw))
		assert.True(t, errors.Is(err, ErrMalformedEvent), name)
	}
}
