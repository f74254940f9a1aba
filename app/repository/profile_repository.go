package repository

import (
	"github.com/ManuelReschke/PixelProPortal/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// profileRepository implements the ProfileRepository interface
type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new profile repository instance
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

// GetByID retrieves a profile by user id
func (r *profileRepository) GetByID(id string) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.Where("id = ?", id).First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// Upsert inserts the profile or refreshes email and role of an existing one.
// Empty emails never overwrite a known address.
func (r *profileRepository) Upsert(profile *models.Profile) error {
	columns := []string{"role", "updated_at"}
	if profile.Email != "" {
		columns = append(columns, "email")
	}
	if profile.DisplayName != "" {
		columns = append(columns, "display_name")
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(profile).Error
}
