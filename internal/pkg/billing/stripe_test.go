package billing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStripeClient(srv *httptest.Server) *StripeClient {
	return &StripeClient{
		SecretKey:  "sk_test_123",
		APIBaseURL: srv.URL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestStripeClient_CreateCheckoutSession(t *testing.T) {
	var gotForm url.Values
	var gotAuth, gotIdem, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("Idempotency-Key")
		body, _ := io.ReadAll(r.Body)
		gotForm, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.example/cs_test_1","status":"open","payment_status":"unpaid","amount_total":334,"currency":"usd","metadata":{"invoiceId":"inv-1"}}`))
	}))
	defer srv.Close()

	c := newTestStripeClient(srv)
	sess, err := c.CreateCheckoutSession(context.Background(), CheckoutSessionParams{
		AmountMinor:       334,
		Currency:          "USD",
		ProductName:       "Mural commission",
		SuccessURL:        "https://portal.example/crowd/p1?status=success",
		CancelURL:         "https://portal.example/crowd/p1?status=cancel",
		ClientReferenceID: "inv-1",
		Metadata:          map[string]string{"invoiceId": "inv-1", "crowdProjectId": "p1"},
		IdempotencyKey:    "inv-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/checkout/sessions", gotPath)
	assert.Equal(t, "Bearer sk_test_123", gotAuth)
	assert.Equal(t, "inv-1", gotIdem)
	assert.Equal(t, "payment", gotForm.Get("mode"))
	assert.Equal(t, "usd", gotForm.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "334", gotForm.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "Mural commission", gotForm.Get("line_items[0][price_data][product_data][name]"))
	assert.Equal(t, "inv-1", gotForm.Get("client_reference_id"))
	assert.Equal(t, "p1", gotForm.Get("metadata[crowdProjectId]"))

	assert.Equal(t, "cs_test_1", sess.ID)
	assert.Equal(t, "https://checkout.example/cs_test_1", sess.URL)
	assert.Equal(t, int64(334), sess.AmountTotal)
	assert.Equal(t, "inv-1", sess.Metadata["invoiceId"])
}

func TestStripeClient_CreateCheckoutSession_Validation(t *testing.T) {
	c := &StripeClient{APIBaseURL: "http://127.0.0.1:1", HTTPClient: http.DefaultClient}
	_, err := c.CreateCheckoutSession(context.Background(), CheckoutSessionParams{AmountMinor: 100, Currency: "usd"})
	assert.Error(t, err, "missing secret key must fail before any request")

	c.SecretKey = "sk_test"
	_, err = c.CreateCheckoutSession(context.Background(), CheckoutSessionParams{AmountMinor: 0, Currency: "usd"})
	assert.Error(t, err)
	_, err = c.CreateCheckoutSession(context.Background(), CheckoutSessionParams{AmountMinor: 10})
	assert.Error(t, err)
}

func TestStripeClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`))
	}))
	defer srv.Close()

	err := newTestStripeClient(srv).ExpireCheckoutSession(context.Background(), "cs_missing")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "resource_missing", apiErr.Code)
}

func TestStripeClient_ExpireCheckoutSession(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"cs_1","status":"expired"}`))
	}))
	defer srv.Close()

	require.NoError(t, newTestStripeClient(srv).ExpireCheckoutSession(context.Background(), "cs_1"))
	assert.Equal(t, "/v1/checkout/sessions/cs_1/expire", gotPath)
	assert.Error(t, newTestStripeClient(srv).ExpireCheckoutSession(context.Background(), " "))
}
