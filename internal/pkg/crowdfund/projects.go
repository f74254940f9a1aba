package crowdfund

import (
	"context"
	"strings"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/events"
	"github.com/gofiber/fiber/v2/log"
)

// Projects is the staff-facing management of crowd projects.
type Projects struct {
	store      *Store
	reconciler *Reconciler
	notifier   events.Notifier
}

func NewProjects(store *Store, reconciler *Reconciler, notifier events.Notifier) *Projects {
	if notifier == nil {
		notifier = events.Discard
	}
	return &Projects{store: store, reconciler: reconciler, notifier: notifier}
}

type ProjectInput struct {
	Title                string
	Description          string
	LongDescription      string
	GoalAmount           int64
	ExpectedParticipants int
}

// ProjectPatch holds optional changes; nil fields are left alone.
type ProjectPatch struct {
	Title                *string
	Description          *string
	LongDescription      *string
	GoalAmount           *int64
	ExpectedParticipants *int
}

func (p *Projects) Create(ctx context.Context, in ProjectInput) (*models.CrowdProject, error) {
	project := &models.CrowdProject{
		Title:                strings.TrimSpace(in.Title),
		Description:          strings.TrimSpace(in.Description),
		LongDescription:      in.LongDescription,
		GoalAmount:           in.GoalAmount,
		ExpectedParticipants: in.ExpectedParticipants,
		Status:               models.CrowdStatusOpen,
	}
	if err := project.Validate(); err != nil {
		return nil, &RequestError{Field: "project", Reason: err.Error()}
	}
	if err := p.store.db.WithContext(ctx).Create(project).Error; err != nil {
		return nil, err
	}
	log.Infof("[Projects] Created crowd project %s (goal=%d expected=%d)", project.ID, project.GoalAmount, project.ExpectedParticipants)
	return project, nil
}

// Update applies a patch. Goal and participant changes are only accepted
// while the project is open; afterwards funding is evaluated again so that
// lowering the expected participants can complete a project.
func (p *Projects) Update(ctx context.Context, id string, patch ProjectPatch) (*models.CrowdProject, *FundingResult, error) {
	var updated *models.CrowdProject
	err := p.store.transaction(ctx, func(tx *Store) error {
		project, err := tx.lockProject(id)
		if err != nil {
			return err
		}
		if (patch.GoalAmount != nil || patch.ExpectedParticipants != nil) && !project.IsOpen() {
			return ErrProjectNotOpen
		}
		if patch.Title != nil {
			project.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			project.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.LongDescription != nil {
			project.LongDescription = *patch.LongDescription
		}
		if patch.GoalAmount != nil {
			project.GoalAmount = *patch.GoalAmount
		}
		if patch.ExpectedParticipants != nil {
			project.ExpectedParticipants = *patch.ExpectedParticipants
		}
		if err := project.Validate(); err != nil {
			return &RequestError{Field: "project", Reason: err.Error()}
		}
		if err := tx.db.Model(project).Select("title", "description", "long_description", "goal_amount", "expected_participants").
			Updates(project).Error; err != nil {
			return err
		}
		updated = project
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	p.notifier.Notify(ctx, events.Event{Type: events.TypeProjectUpdated, ProjectID: updated.ID})

	if !updated.IsOpen() {
		return updated, nil, nil
	}
	funding, err := p.reconciler.EvaluateFunding(ctx, updated.ID)
	if err != nil {
		return updated, nil, err
	}
	return funding.Project, funding, nil
}

// Close stops an open project from taking further participants or payments.
func (p *Projects) Close(ctx context.Context, id string) (*models.CrowdProject, error) {
	var closed *models.CrowdProject
	err := p.store.transaction(ctx, func(tx *Store) error {
		project, err := tx.lockProject(id)
		if err != nil {
			return err
		}
		res := tx.db.Model(&models.CrowdProject{}).
			Where("id = ? AND status = ?", id, models.CrowdStatusOpen).
			UpdateColumn("status", models.CrowdStatusClosed)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrProjectNotOpen
		}
		project.Status = models.CrowdStatusClosed
		closed = project
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Projects] Closed crowd project %s", id)
	p.notifier.Notify(ctx, events.Event{Type: events.TypeProjectUpdated, ProjectID: id})
	return closed, nil
}

func (p *Projects) Get(ctx context.Context, id string) (*models.CrowdProject, error) {
	return p.store.withContext(ctx).findProject(id)
}
