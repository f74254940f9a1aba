package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedEvent = errors.New("malformed webhook event")

// CheckoutEvent is a parsed provider webhook event. Session is populated only
// for checkout.session.* events.
type CheckoutEvent struct {
	ID      string
	Type    string
	Created int64
	Session CheckoutSession
}

// ParseCheckoutEvent decodes a provider event envelope.
func ParseCheckoutEvent(payload []byte) (*CheckoutEvent, error) {
	var raw struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	out := &CheckoutEvent{
		ID:      strings.TrimSpace(raw.ID),
		Type:    strings.TrimSpace(raw.Type),
		Created: raw.Created,
	}
	if out.ID == "" || out.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	if !out.IsCheckoutEvent() {
		return out, nil
	}

	if len(raw.Data.Object) == 0 {
		return nil, fmt.Errorf("%w: missing data.object", ErrMalformedEvent)
	}
	if err := json.Unmarshal(raw.Data.Object, &out.Session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if out.Session.Object != "" && out.Session.Object != "checkout.session" {
		return nil, fmt.Errorf("%w: unexpected object type %s", ErrMalformedEvent, out.Session.Object)
	}
	out.Session.ID = strings.TrimSpace(out.Session.ID)
	if out.Session.ID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrMalformedEvent)
	}
	return out, nil
}

func (e *CheckoutEvent) IsCheckoutEvent() bool {
	return strings.HasPrefix(e.Type, "checkout.session.")
}

// ConfirmsPayment reports whether the event means the session's money was
// collected.
func (e *CheckoutEvent) ConfirmsPayment() bool {
	switch e.Type {
	case EventCheckoutCompleted:
		return e.Session.PaymentStatus == PaymentStatusPaid || e.Session.PaymentStatus == PaymentStatusNoPaymentRequired
	case EventCheckoutAsyncSucceeded:
		return true
	default:
		return false
	}
}

// EndsSession reports whether the session can no longer be paid.
func (e *CheckoutEvent) EndsSession() bool {
	return e.Type == EventCheckoutExpired || e.Type == EventCheckoutAsyncFailed
}
