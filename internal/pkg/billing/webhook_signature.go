package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance bounds the age of a signed webhook timestamp.
const DefaultSignatureTolerance = 5 * time.Minute

var (
	ErrSignatureMissing   = errors.New("webhook signature missing")
	ErrSignatureMalformed = errors.New("webhook signature malformed")
	ErrSignatureMismatch  = errors.New("webhook signature mismatch")
	ErrSignatureExpired   = errors.New("webhook signature timestamp outside tolerance")
)

// VerifyStripeWebhookSignature checks a Stripe-Signature header of the form
// "t=<unix>,v1=<hex>[,v1=<hex>...]" against HMAC-SHA256("<t>.<payload>").
// A tolerance of zero disables the timestamp check.
func VerifyStripeWebhookSignature(payload []byte, signatureHeader, webhookSecret string, now time.Time, tolerance time.Duration) error {
	header := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if header == "" || secret == "" {
		return ErrSignatureMissing
	}

	var timestamp string
	var signatures [][]byte
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			decoded, err := hex.DecodeString(strings.ToLower(value))
			if err != nil {
				continue
			}
			signatures = append(signatures, decoded)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return ErrSignatureMalformed
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrSignatureMalformed
	}

	signed := append([]byte(timestamp+"."), payload...)
	matched := false
	for _, sig := range signatures {
		if verifyHMAC(signed, sig, []byte(secret), sha256.New) {
			matched = true
			break
		}
	}
	if !matched {
		return ErrSignatureMismatch
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrSignatureExpired
		}
	}
	return nil
}

// SignStripePayload builds a Stripe-Signature header value for payload.
func SignStripePayload(payload []byte, webhookSecret string, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func verifyHMAC(payload, expectedSig, secret []byte, hashFunc func() hash.Hash) bool {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}
