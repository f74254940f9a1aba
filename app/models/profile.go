package models

import "time"

const (
	ROLE_USER  = "user"
	ROLE_ADMIN = "admin"
)

// Profile mirrors the identity record kept by the auth service. It is used to
// address notification emails.
type Profile struct {
	ID          string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Email       string    `gorm:"type:varchar(200);index" json:"email" validate:"omitempty,email"`
	DisplayName string    `gorm:"type:varchar(150);default:''" json:"display_name"`
	Role        string    `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
