package controllers

import (
	"errors"

	"github.com/ManuelReschke/PixelProPortal/internal/pkg/billing"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/crowdfund"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/security"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// respondError maps domain errors to the JSON error shape
// {"error": code, "message": text} plus optional detail fields.
func respondError(c *fiber.Ctx, err error) error {
	var reqErr *crowdfund.RequestError
	if errors.As(err, &reqErr) {
		body := fiber.Map{"error": "invalid_request", "message": err.Error(), "field": reqErr.Field}
		if reqErr.UserID != "" {
			body["userId"] = reqErr.UserID
		}
		return c.Status(fiber.StatusBadRequest).JSON(body)
	}

	var partial *crowdfund.PartialSessionError
	if errors.As(err, &partial) {
		log.Errorf("[API] Group checkout failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":       "session_fanout_failed",
			"message":     "Checkout could not be created for every participant",
			"userId":      partial.UserID,
			"compensated": partial.Compensated,
		})
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		fields := make([]string, 0, len(validationErrs))
		for _, fe := range validationErrs {
			fields = append(fields, fe.Namespace())
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error(), "fields": fields})
	}

	status, code := classify(err)
	if status >= fiber.StatusInternalServerError {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": code, "message": "Internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, crowdfund.ErrInvalidRequest), errors.Is(err, crowdfund.ErrInvalidAllocation):
		return fiber.StatusBadRequest, "invalid_request"
	case errors.Is(err, crowdfund.ErrInvalidSignature):
		return fiber.StatusBadRequest, "invalid_signature"
	case errors.Is(err, billing.ErrMalformedEvent):
		return fiber.StatusBadRequest, "invalid_payload"
	case errors.Is(err, security.ErrTokenInvalid):
		return fiber.StatusBadRequest, "invalid_token"
	case errors.Is(err, security.ErrTokenExpired):
		return fiber.StatusGone, "token_expired"
	case errors.Is(err, crowdfund.ErrInvoiceNotFound):
		return fiber.StatusNotFound, "invoice_not_found"
	case errors.Is(err, crowdfund.ErrProjectNotFound):
		return fiber.StatusNotFound, "project_not_found"
	case errors.Is(err, crowdfund.ErrProjectNotOpen):
		return fiber.StatusConflict, "project_not_open"
	case errors.Is(err, crowdfund.ErrAlreadyConfirmed):
		return fiber.StatusConflict, "already_confirmed"
	case errors.Is(err, crowdfund.ErrInvoiceCancelled):
		return fiber.StatusConflict, "invoice_cancelled"
	case errors.Is(err, crowdfund.ErrInvoiceNotPayable):
		return fiber.StatusConflict, "invoice_not_payable"
	case errors.Is(err, crowdfund.ErrAmountMismatch):
		return fiber.StatusUnprocessableEntity, "amount_mismatch"
	case errors.Is(err, crowdfund.ErrDuplicateSession), errors.Is(err, crowdfund.ErrPartialSessionFailure):
		return fiber.StatusBadGateway, "session_fanout_failed"
	default:
		return fiber.StatusInternalServerError, "internal_server_error"
	}
}

var validate = validator.New()

// parseBody decodes the JSON body into dst and validates its tags.
func parseBody(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return &crowdfund.RequestError{Field: "body", Reason: "malformed JSON"}
	}
	return validate.Struct(dst)
}
