package crowdfund

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store holds the crowd-funding queries. A Store obtained inside transaction
// runs every statement on that transaction.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) withContext(ctx context.Context) *Store {
	return &Store{db: s.db.WithContext(ctx)}
}

// lockProject writes to the project row so that concurrent transactions on
// the same project queue behind this one, then reads it. It must be the first
// statement of the transaction: on MySQL the read snapshot is taken at the
// first plain read, which then already sees every earlier committed change.
func (s *Store) lockProject(id string) (*models.CrowdProject, error) {
	if err := s.db.Model(&models.CrowdProject{}).Where("id = ?", id).
		UpdateColumn("updated_at", time.Now()).Error; err != nil {
		return nil, err
	}
	return s.findProject(id)
}

func (s *Store) findProject(id string) (*models.CrowdProject, error) {
	var p models.CrowdProject
	if err := s.db.Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) listProjects(status string) ([]models.CrowdProject, error) {
	var out []models.CrowdProject
	q := s.db.Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Find(&out).Error
	return out, err
}

func (s *Store) findInvoice(id string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := s.db.Where("id = ?", id).First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Store) findInvoiceBySession(sessionID string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := s.db.Where("external_session_id = ?", sessionID).First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Store) sessionExists(sessionID string) (bool, error) {
	var n int64
	err := s.db.Model(&models.Invoice{}).Where("external_session_id = ?", sessionID).Count(&n).Error
	return n > 0, err
}

func (s *Store) pendingInvoices(projectID, userID string) ([]models.Invoice, error) {
	var out []models.Invoice
	err := s.db.Where("crowd_project_id = ? AND user_id = ? AND status = ?", projectID, userID, models.InvoiceStatusPending).
		Find(&out).Error
	return out, err
}

// setInvoiceStatus moves an invoice from one status to another and reports
// whether this call made the change.
func (s *Store) setInvoiceStatus(id, from, to string, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := s.db.Model(&models.Invoice{}).Where("id = ? AND status = ?", id, from).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// findParticipation returns nil without error when the user has not joined.
func (s *Store) findParticipation(projectID, userID string) (*models.Participation, error) {
	var p models.Participation
	err := s.db.Where("crowd_project_id = ? AND user_id = ?", projectID, userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// insertParticipation creates the row unless one already exists for the
// (user, project) pair, and returns the stored row.
func (s *Store) insertParticipation(p *models.Participation) (bool, *models.Participation, error) {
	res := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "crowd_project_id"},
		},
		DoNothing: true,
	}).Create(p)
	if res.Error != nil {
		return false, nil, res.Error
	}
	stored, err := s.findParticipation(p.CrowdProjectID, p.UserID)
	if err != nil {
		return false, nil, err
	}
	return res.RowsAffected > 0, stored, nil
}

func (s *Store) confirmedAmong(projectID string, userIDs []string) ([]string, error) {
	var out []string
	err := s.db.Model(&models.Participation{}).
		Where("crowd_project_id = ? AND user_id IN ? AND status = ?", projectID, userIDs, models.ParticipationStatusConfirmed).
		Order("user_id ASC").
		Pluck("user_id", &out).Error
	return out, err
}

func (s *Store) listParticipations(projectID string) ([]models.Participation, error) {
	var out []models.Participation
	err := s.db.Where("crowd_project_id = ?", projectID).Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

func (s *Store) joinedProjectIDs(userID string) (map[string]bool, error) {
	var ids []string
	if err := s.db.Model(&models.Participation{}).Where("user_id = ?", userID).Pluck("crowd_project_id", &ids).Error; err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

type participationTally struct {
	Status string
	Count  int64
	Total  int64
}

// tally returns per-status counts and amount sums for a project.
func (s *Store) tally(projectID string) (confirmed, pending participationTally, err error) {
	var rows []participationTally
	err = s.db.Model(&models.Participation{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Where("crowd_project_id = ?", projectID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return
	}
	for _, r := range rows {
		switch r.Status {
		case models.ParticipationStatusConfirmed:
			confirmed = r
		case models.ParticipationStatusPending:
			pending = r
		}
	}
	return
}
