package crowdfund

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/events"
	"github.com/gofiber/fiber/v2/log"
)

const summaryKeyPrefix = "crowd:summary:"

// SummaryCache is the key/value store used for project summaries.
type SummaryCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Summary is the progress view of a crowd project. Amounts are derived from
// the participation ledger; Status is copied from the project.
type Summary struct {
	ID                    string     `json:"id"`
	Title                 string     `json:"title"`
	Description           string     `json:"description"`
	Status                string     `json:"status"`
	GoalAmount            int64      `json:"goalAmount"`
	CurrentAmount         int64      `json:"currentAmount"`
	PendingAmount         int64      `json:"pendingAmount"`
	ExpectedParticipants  int        `json:"expectedParticipants"`
	ConfirmedParticipants int64      `json:"confirmedParticipants"`
	PendingParticipants   int64      `json:"pendingParticipants"`
	ProgressPercent       int        `json:"progressPercent"`
	FundedAt              *time.Time `json:"fundedAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	Joined                bool       `json:"joined"`
}

type ParticipantView struct {
	UserID string     `json:"userId"`
	Amount int64      `json:"amount"`
	Status string     `json:"status"`
	Paid   bool       `json:"paid"`
	PaidAt *time.Time `json:"paidAt,omitempty"`
}

// ReadModel serves project progress. A nil cache disables caching.
type ReadModel struct {
	store *Store
	cache SummaryCache
	ttl   time.Duration
}

func NewReadModel(store *Store, cache SummaryCache, ttl time.Duration) *ReadModel {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ReadModel{store: store, cache: cache, ttl: ttl}
}

func (m *ReadModel) Summary(ctx context.Context, projectID string) (*Summary, error) {
	key := summaryKeyPrefix + projectID
	if m.cache != nil {
		if raw, err := m.cache.Get(ctx, key); err == nil {
			var cached Summary
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return &cached, nil
			}
		}
	}

	s := m.store.withContext(ctx)
	project, err := s.findProject(projectID)
	if err != nil {
		return nil, err
	}
	out, err := m.build(s, project)
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		if raw, err := json.Marshal(out); err == nil {
			if err := m.cache.Set(ctx, key, string(raw), m.ttl); err != nil {
				log.Debugf("[ReadModel] Failed to cache summary %s: %v", projectID, err)
			}
		}
	}
	return out, nil
}

// List returns summaries for all projects, newest first, optionally filtered
// by status. viewerID, when set, fills in Joined.
func (m *ReadModel) List(ctx context.Context, status, viewerID string) ([]Summary, error) {
	s := m.store.withContext(ctx)
	projects, err := s.listProjects(status)
	if err != nil {
		return nil, err
	}
	joined := map[string]bool{}
	if viewerID != "" {
		if joined, err = s.joinedProjectIDs(viewerID); err != nil {
			return nil, err
		}
	}

	out := make([]Summary, 0, len(projects))
	for _, p := range projects {
		sum, err := m.Summary(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		sum.Joined = joined[p.ID]
		out = append(out, *sum)
	}
	return out, nil
}

func (m *ReadModel) HasJoined(ctx context.Context, projectID, userID string) (bool, error) {
	p, err := m.store.withContext(ctx).findParticipation(projectID, userID)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

func (m *ReadModel) Participants(ctx context.Context, projectID string) ([]ParticipantView, error) {
	s := m.store.withContext(ctx)
	if _, err := s.findProject(projectID); err != nil {
		return nil, err
	}
	rows, err := s.listParticipations(projectID)
	if err != nil {
		return nil, err
	}
	out := make([]ParticipantView, len(rows))
	for i, r := range rows {
		out[i] = ParticipantView{UserID: r.UserID, Amount: r.Amount, Status: r.Status, Paid: r.Paid, PaidAt: r.PaidAt}
	}
	return out, nil
}

// Notify drops the cached summary of the project an event touched.
func (m *ReadModel) Notify(ctx context.Context, ev events.Event) {
	if m.cache == nil || ev.ProjectID == "" {
		return
	}
	if err := m.cache.Delete(ctx, summaryKeyPrefix+ev.ProjectID); err != nil {
		log.Warnf("[ReadModel] Failed to invalidate summary %s: %v", ev.ProjectID, err)
	}
}

func (m *ReadModel) build(s *Store, p *models.CrowdProject) (*Summary, error) {
	confirmed, pending, err := s.tally(p.ID)
	if err != nil {
		return nil, err
	}
	progress := 0
	if p.GoalAmount > 0 {
		progress = int(confirmed.Total * 100 / p.GoalAmount)
		if progress > 100 {
			progress = 100
		}
	}
	return &Summary{
		ID:                    p.ID,
		Title:                 p.Title,
		Description:           p.Description,
		Status:                p.Status,
		GoalAmount:            p.GoalAmount,
		CurrentAmount:         confirmed.Total,
		PendingAmount:         pending.Total,
		ExpectedParticipants:  p.ExpectedParticipants,
		ConfirmedParticipants: confirmed.Count,
		PendingParticipants:   pending.Count,
		ProgressPercent:       progress,
		FundedAt:              p.FundedAt,
		CreatedAt:             p.CreatedAt,
	}, nil
}
