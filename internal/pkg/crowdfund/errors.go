package crowdfund

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInvalidAllocation     = errors.New("invalid allocation")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrInvoiceNotFound       = errors.New("invoice not found")
	ErrInvoiceCancelled      = errors.New("invoice cancelled")
	ErrInvoiceNotPayable     = errors.New("invoice not payable")
	ErrAmountMismatch        = errors.New("charged amount does not match invoice")
	ErrDuplicateSession      = errors.New("duplicate checkout session")
	ErrPartialSessionFailure = errors.New("group checkout partially failed")
	ErrProjectNotFound       = errors.New("crowd project not found")
	ErrProjectNotOpen        = errors.New("crowd project is not open")
	ErrAlreadyConfirmed      = errors.New("participation already confirmed")
)

// RequestError names the field and, when relevant, the participant that
// failed validation.
type RequestError struct {
	Field  string
	UserID string
	Reason string
}

func (e *RequestError) Error() string {
	if e.UserID != "" {
		return fmt.Sprintf("invalid request: %s for participant %s: %s", e.Field, e.UserID, e.Reason)
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func (e *RequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// PartialSessionError reports a group checkout that failed after at least one
// provider call. Compensated is true when every session created by the call
// was expired and its invoice cancelled.
type PartialSessionError struct {
	UserID      string
	SessionID   string
	Compensated bool
	Err         error
}

func (e *PartialSessionError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("group checkout failed for participant %s (session %s, compensated=%t): %v", e.UserID, e.SessionID, e.Compensated, e.Err)
	}
	return fmt.Sprintf("group checkout failed for participant %s (compensated=%t): %v", e.UserID, e.Compensated, e.Err)
}

func (e *PartialSessionError) Is(target error) bool {
	return target == ErrPartialSessionFailure
}

func (e *PartialSessionError) Unwrap() error {
	return e.Err
}
