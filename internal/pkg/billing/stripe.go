package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/PixelProPortal/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com"

// StripeClient talks to the Stripe Checkout REST API.
type StripeClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

var _ CheckoutProvider = (*StripeClient)(nil)

func NewStripeClientFromEnv() *StripeClient {
	timeout := env.GetEnvSeconds("PAYMENT_TIMEOUT_SECONDS", 15*time.Second)
	return &StripeClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateCheckoutSession creates a hosted payment-mode checkout session with a
// single line item.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	if params.AmountMinor <= 0 {
		return nil, fmt.Errorf("checkout amount must be positive, got %d", params.AmountMinor)
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		return nil, errors.New("checkout currency is required")
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(params.AmountMinor, 10))
	form.Set("line_items[0][price_data][product_data][name]", params.ProductName)
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	if params.ClientReferenceID != "" {
		form.Set("client_reference_id", params.ClientReferenceID)
	}
	keys := make([]string, 0, len(params.Metadata))
	for k := range params.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		form.Set("metadata["+k+"]", params.Metadata[k])
	}

	var out CheckoutSession
	if err := c.post(ctx, "/v1/checkout/sessions", form, params.IdempotencyKey, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" || strings.TrimSpace(out.URL) == "" {
		return nil, errors.New("stripe checkout session response missing id or url")
	}
	return &out, nil
}

// ExpireCheckoutSession expires an open checkout session so it can no longer
// be paid.
func (c *StripeClient) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return errors.New("session id is required")
	}
	return c.post(ctx, "/v1/checkout/sessions/"+url.PathEscape(id)+"/expire", url.Values{}, "", nil)
}

func (c *StripeClient) post(ctx context.Context, path string, form url.Values, idempotencyKey string, out interface{}) error {
	baseURL := strings.TrimRight(c.APIBaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var wrapped struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(body, &wrapped) == nil && wrapped.Error != nil {
			apiErr.Type = wrapped.Error.Type
			apiErr.Code = wrapped.Error.Code
			apiErr.Message = wrapped.Error.Message
		} else {
			apiErr.Message = string(body)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
