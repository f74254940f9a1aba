package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTokenInvalid = errors.New("invalid pay link token")
	ErrTokenExpired = errors.New("pay link token expired")
)

// PayLinkClaims identifies the invoice a reminder email links to.
type PayLinkClaims struct {
	InvoiceID string `json:"inv"`
	UserID    string `json:"sub"`
	ExpiresAt int64  `json:"exp"`
}

func GeneratePayLinkToken(invoiceID, userID string, ttl time.Duration, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret is required for token generation")
	}
	if invoiceID == "" || userID == "" {
		return "", errors.New("invoice and user are required")
	}
	claims := PayLinkClaims{
		InvoiceID: invoiceID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	token := fmt.Sprintf("%s.%s", base64.RawURLEncoding.EncodeToString(payload), base64.RawURLEncoding.EncodeToString(sign(payload, secret)))
	return token, nil
}

func VerifyPayLinkToken(token, secret string) (*PayLinkClaims, error) {
	if secret == "" {
		return nil, errors.New("secret is required for token verification")
	}
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: format", ErrTokenInvalid)
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: payload encoding", ErrTokenInvalid)
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: signature encoding", ErrTokenInvalid)
	}
	if !hmac.Equal(sigBytes, sign(payloadBytes, secret)) {
		return nil, fmt.Errorf("%w: signature", ErrTokenInvalid)
	}
	var claims PayLinkClaims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil || claims.InvoiceID == "" {
		return nil, fmt.Errorf("%w: payload", ErrTokenInvalid)
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

func sign(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}
