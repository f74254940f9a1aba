package models

import "time"

const (
	ParticipationStatusPending   = "pending"
	ParticipationStatusConfirmed = "confirmed"
)

// Participation is one user's commitment against a crowd project. There is at
// most one row per (user, project).
type Participation struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         string     `gorm:"type:varchar(64);not null;index:ux_participations_user_project,unique,priority:1" json:"user_id"`
	CrowdProjectID string     `gorm:"type:char(36);not null;index:ux_participations_user_project,unique,priority:2;index:idx_participations_project_status,priority:1" json:"crowd_project_id"`
	Amount         int64      `gorm:"not null;default:0" json:"amount"`
	Status         string     `gorm:"type:varchar(16);not null;default:'pending';index:idx_participations_project_status,priority:2" json:"status"`
	Paid           bool       `gorm:"not null;default:false" json:"paid"`
	PaidAt         *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Participation) IsConfirmed() bool {
	return p.Status == ParticipationStatusConfirmed
}
