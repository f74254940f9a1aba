package controllers

import (
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/invoicing"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultInvoicePageSize = 20
	maxInvoicePageSize     = 100
)

type InvoiceController struct {
	invoices *invoicing.Service
}

func NewInvoiceController(invoices *invoicing.Service) *InvoiceController {
	return &InvoiceController{invoices: invoices}
}

// HandleList returns the signed-in user's invoices, newest first.
func (ic *InvoiceController) HandleList(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	perPage := c.QueryInt("per_page", defaultInvoicePageSize)
	if perPage < 1 || perPage > maxInvoicePageSize {
		perPage = defaultInvoicePageSize
	}

	list, total, err := ic.invoices.List(c.UserContext(), usercontext.GetUserID(c), (page-1)*perPage, perPage)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"invoices": list,
		"page":     page,
		"per_page": perPage,
		"total":    total,
	})
}

func (ic *InvoiceController) HandleCheckout(c *fiber.Ctx) error {
	ref, err := ic.invoices.Checkout(c.UserContext(), c.Params("id"), usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(ref)
}

func (ic *InvoiceController) HandleCancel(c *fiber.Ctx) error {
	invoice, err := ic.invoices.Cancel(c.UserContext(), c.Params("id"), usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(invoice)
}

// HandlePayLink opens a checkout from a signed reminder link and sends the
// browser straight to it.
func (ic *InvoiceController) HandlePayLink(c *fiber.Ctx) error {
	ref, err := ic.invoices.CheckoutByToken(c.UserContext(), c.Params("token"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Redirect(ref.CheckoutURL, fiber.StatusSeeOther)
}
