package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	InvoiceStatusPending   = "pending"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusCancelled = "cancelled"
)

// Invoice is the payment-provider-facing record of one checkout. Crowd invoices
// carry CrowdProjectID; invoices issued directly by staff leave it empty.
// ExternalSessionID is nullable so invoices without a checkout yet do not
// collide on the unique index.
type Invoice struct {
	ID                string     `gorm:"type:char(36);primaryKey" json:"id"`
	UserID            string     `gorm:"type:varchar(64);not null;index:idx_invoices_user_project,priority:1" json:"user_id"`
	CrowdProjectID    string     `gorm:"type:varchar(36);not null;default:'';index:idx_invoices_user_project,priority:2" json:"crowd_project_id,omitempty"`
	Description       string     `gorm:"type:varchar(255);default:''" json:"description"`
	Amount            int64      `gorm:"not null" json:"amount"`
	Currency          string     `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	Status            string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ExternalSessionID *string    `gorm:"type:varchar(191);uniqueIndex:ux_invoices_external_session;default:null" json:"external_session_id,omitempty"`
	CheckoutURL       string     `gorm:"type:text" json:"checkout_url,omitempty"`
	PaidAt            *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	LastReminderAt    *time.Time `gorm:"type:timestamp;default:null" json:"last_reminder_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.Status == "" {
		i.Status = InvoiceStatusPending
	}
	return nil
}

// SessionID returns the provider session id or an empty string.
func (i *Invoice) SessionID() string {
	if i.ExternalSessionID == nil {
		return ""
	}
	return *i.ExternalSessionID
}

func (i *Invoice) IsCrowdInvoice() bool {
	return i.CrowdProjectID != ""
}
