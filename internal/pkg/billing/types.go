package billing

import (
	"context"
	"fmt"
)

// Checkout event types handled by the portal.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncFailed    = "checkout.session.async_payment_failed"
	EventCheckoutExpired        = "checkout.session.expired"
)

// Checkout session payment states as reported by the provider.
const (
	PaymentStatusPaid              = "paid"
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// CheckoutProvider is the hosted-checkout surface the portal depends on.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
	ExpireCheckoutSession(ctx context.Context, sessionID string) error
}

// CheckoutSessionParams describes one single-line-item hosted checkout.
type CheckoutSessionParams struct {
	AmountMinor       int64
	Currency          string
	ProductName       string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	Metadata          map[string]string
	IdempotencyKey    string
}

// CheckoutSession is the provider-agnostic view of a hosted checkout session.
type CheckoutSession struct {
	ID                string            `json:"id"`
	Object            string            `json:"object"`
	URL               string            `json:"url"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	SessionID       string
	PayloadJSON     string
}

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment provider error: status=%d type=%s code=%s: %s", e.StatusCode, e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("payment provider error: status=%d type=%s: %s", e.StatusCode, e.Type, e.Message)
}
