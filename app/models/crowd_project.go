package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	CrowdStatusOpen   = "open"
	CrowdStatusFunded = "funded"
	CrowdStatusClosed = "closed"
)

// CrowdProject is a commission fundable by several paying participants toward
// one goal amount. Amounts are stored in minor currency units.
type CrowdProject struct {
	ID                   string     `gorm:"type:char(36);primaryKey" json:"id"`
	Title                string     `gorm:"type:varchar(255);not null" json:"title" validate:"required,min=1,max=255"`
	Description          string     `gorm:"type:text" json:"description" validate:"max=5000"`
	LongDescription      string     `gorm:"type:text" json:"long_description,omitempty"`
	GoalAmount           int64      `gorm:"not null" json:"goal_amount" validate:"gt=0"`
	CurrentAmount        int64      `gorm:"not null;default:0" json:"current_amount" validate:"gte=0"`
	ExpectedParticipants int        `gorm:"not null;default:1" json:"expected_participants" validate:"gte=1"`
	Status               string     `gorm:"type:varchar(16);not null;default:'open';index" json:"status" validate:"oneof=open funded closed"`
	FundedAt             *time.Time `gorm:"type:timestamp;default:null" json:"funded_at,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *CrowdProject) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = CrowdStatusOpen
	}
	return nil
}

func (p *CrowdProject) Validate() error {
	v := validator.New()
	return v.Struct(p)
}

// IsOpen reports whether the project still accepts participants and payments.
func (p *CrowdProject) IsOpen() bool {
	return p.Status == CrowdStatusOpen
}
