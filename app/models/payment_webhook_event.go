package models

import "time"

// Payment provider constants.
const (
	PaymentProviderStripe = "stripe"
)

// PaymentWebhookEvent stores verified provider webhook deliveries with
// deduplication metadata for idempotent processing.
type PaymentWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_payment_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';index:ux_payment_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	SessionID       string     `gorm:"type:varchar(191);default:'';index" json:"session_id"`
	PayloadJSON     string     `gorm:"type:text;not null" json:"payload_json"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProcessedOK reports whether an earlier delivery of this event finished
// without error.
func (e *PaymentWebhookEvent) ProcessedOK() bool {
	return e.ProcessedAt != nil && e.ProcessingError == ""
}
