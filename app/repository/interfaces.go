package repository

import (
	"time"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"gorm.io/gorm"
)

// InvoiceRepository defines the invoice operations outside the crowd-funding
// ledger: listings, standalone invoices and reminders.
type InvoiceRepository interface {
	Create(invoice *models.Invoice) error
	GetByID(id string) (*models.Invoice, error)
	ListByUser(userID string, offset, limit int) ([]models.Invoice, error)
	CountByUser(userID string) (int64, error)
	ListDueForReminder(createdBefore, remindedBefore time.Time, limit int) ([]models.Invoice, error)
	MarkReminded(id string, at time.Time) error
}

// ProfileRepository defines the operations on mirrored user profiles
type ProfileRepository interface {
	GetByID(id string) (*models.Profile, error)
	Upsert(profile *models.Profile) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	Invoice InvoiceRepository
	Profile ProfileRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Invoice: NewInvoiceRepository(db),
		Profile: NewProfileRepository(db),
	}
}
