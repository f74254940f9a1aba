package repository

import (
	"time"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"gorm.io/gorm"
)

// invoiceRepository implements the InvoiceRepository interface
type invoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates a new invoice repository instance
func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

// Create creates a new invoice in the database
func (r *invoiceRepository) Create(invoice *models.Invoice) error {
	return r.db.Create(invoice).Error
}

// GetByID retrieves an invoice by its ID
func (r *invoiceRepository) GetByID(id string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.Where("id = ?", id).First(&invoice).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// ListByUser returns a page of the user's invoices, newest first
func (r *invoiceRepository) ListByUser(userID string, offset, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&invoices).Error
	return invoices, err
}

// CountByUser counts all invoices of a user
func (r *invoiceRepository) CountByUser(userID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Invoice{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// ListDueForReminder returns pending invoices created before createdBefore
// that were never reminded or last reminded before remindedBefore.
func (r *invoiceRepository) ListDueForReminder(createdBefore, remindedBefore time.Time, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.Where("status = ? AND created_at < ?", models.InvoiceStatusPending, createdBefore).
		Where("last_reminder_at IS NULL OR last_reminder_at < ?", remindedBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&invoices).Error
	return invoices, err
}

// MarkReminded records when the last reminder was sent
func (r *invoiceRepository) MarkReminded(id string, at time.Time) error {
	return r.db.Model(&models.Invoice{}).Where("id = ?", id).
		UpdateColumn("last_reminder_at", at).Error
}
