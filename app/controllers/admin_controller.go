package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/billing"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/crowdfund"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/invoicing"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// JobMonitor is the part of the job queue the admin endpoints use.
type JobMonitor interface {
	EnqueueReminderSweep(ctx context.Context, triggeredBy string) (*jobqueue.Job, error)
	GetJob(ctx context.Context, jobID string) (*jobqueue.Job, error)
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
	GetQueueSize(ctx context.Context) (int64, error)
	GetProcessingSize(ctx context.Context) (int64, error)
}

// EventStats reports the per-day event tallies.
type EventStats interface {
	Daily(ctx context.Context, day time.Time) (map[string]int64, error)
}

// WebhookHistory lists the recorded provider deliveries of a checkout session.
type WebhookHistory interface {
	SessionHistory(ctx context.Context, sessionID string) ([]models.PaymentWebhookEvent, error)
}

type AdminController struct {
	projects *crowdfund.Projects
	invoices *invoicing.Service
	jobs     JobMonitor
	stats    EventStats
	webhooks WebhookHistory
}

// NewAdminController wires the staff endpoints. Without a job queue the
// reminder sweep runs inline and the job endpoints answer 503.
func NewAdminController(projects *crowdfund.Projects, invoices *invoicing.Service, jobs JobMonitor) *AdminController {
	return &AdminController{projects: projects, invoices: invoices, jobs: jobs}
}

// WithEventStats enables the daily event statistics endpoint.
func (ac *AdminController) WithEventStats(stats EventStats) *AdminController {
	ac.stats = stats
	return ac
}

func (ac *AdminController) WithWebhookHistory(history WebhookHistory) *AdminController {
	ac.webhooks = history
	return ac
}

type createProjectRequest struct {
	Title                string          `json:"title" validate:"required,max=255"`
	Description          string          `json:"description" validate:"max=5000"`
	LongDescription      string          `json:"longDescription"`
	GoalAmount           decimal.Decimal `json:"goalAmount"`
	ExpectedParticipants int             `json:"expectedParticipants" validate:"gte=1"`
}

func (ac *AdminController) HandleCreateProject(c *fiber.Ctx) error {
	var req createProjectRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	goal, err := billing.MajorToMinor(req.GoalAmount)
	if err != nil {
		return respondError(c, &crowdfund.RequestError{Field: "goalAmount", Reason: "exceeds the maximum chargeable amount"})
	}
	project, err := ac.projects.Create(c.UserContext(), crowdfund.ProjectInput{
		Title:                req.Title,
		Description:          req.Description,
		LongDescription:      req.LongDescription,
		GoalAmount:           goal,
		ExpectedParticipants: req.ExpectedParticipants,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(project)
}

type updateProjectRequest struct {
	Title                *string          `json:"title" validate:"omitempty,max=255"`
	Description          *string          `json:"description" validate:"omitempty,max=5000"`
	LongDescription      *string          `json:"longDescription"`
	GoalAmount           *decimal.Decimal `json:"goalAmount"`
	ExpectedParticipants *int             `json:"expectedParticipants" validate:"omitempty,gte=1"`
}

// HandleUpdateProject applies a partial update and reports whether it
// completed the project's funding.
func (ac *AdminController) HandleUpdateProject(c *fiber.Ctx) error {
	var req updateProjectRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	patch := crowdfund.ProjectPatch{
		Title:                req.Title,
		Description:          req.Description,
		LongDescription:      req.LongDescription,
		ExpectedParticipants: req.ExpectedParticipants,
	}
	if req.GoalAmount != nil {
		goal, err := billing.MajorToMinor(*req.GoalAmount)
		if err != nil {
			return respondError(c, &crowdfund.RequestError{Field: "goalAmount", Reason: "exceeds the maximum chargeable amount"})
		}
		patch.GoalAmount = &goal
	}

	project, funding, err := ac.projects.Update(c.UserContext(), c.Params("id"), patch)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"project": project,
		"funded":  funding != nil && funding.Transitioned,
	})
}

func (ac *AdminController) HandleCloseProject(c *fiber.Ctx) error {
	project, err := ac.projects.Close(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(project)
}

type issueInvoiceRequest struct {
	UserID      string          `json:"userId" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"omitempty,len=3,alpha"`
	Description string          `json:"description" validate:"max=255"`
}

func (ac *AdminController) HandleIssueInvoice(c *fiber.Ctx) error {
	var req issueInvoiceRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	invoice, err := ac.invoices.Issue(c.UserContext(), invoicing.IssueInput{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(invoice)
}

// HandleSendReminders queues a reminder sweep, or runs it inline when no job
// queue is configured.
func (ac *AdminController) HandleSendReminders(c *fiber.Ctx) error {
	adminID := usercontext.GetUserID(c)
	if ac.jobs == nil {
		sent, err := ac.invoices.SendDueReminders(c.UserContext())
		if err != nil {
			log.Errorf("[Admin] Reminder sweep by %s failed: %v", adminID, err)
		}
		return c.JSON(fiber.Map{"queued": false, "sent": sent})
	}

	job, err := ac.jobs.EnqueueReminderSweep(c.UserContext(), adminID)
	if err != nil {
		return respondError(c, err)
	}
	log.Infof("[Admin] Reminder sweep %s queued by %s", job.ID, adminID)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": true, "jobId": job.ID})
}

// HandleInvoiceWebhooks shows an invoice together with the provider deliveries
// recorded for its current checkout session.
func (ac *AdminController) HandleInvoiceWebhooks(c *fiber.Ctx) error {
	if ac.webhooks == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "history_unavailable", "message": "Webhook history is not configured"})
	}
	ctx := c.UserContext()
	invoice, err := ac.invoices.Get(ctx, c.Params("id"), "")
	if err != nil {
		return respondError(c, err)
	}
	deliveries := []models.PaymentWebhookEvent{}
	if sid := invoice.SessionID(); sid != "" {
		if deliveries, err = ac.webhooks.SessionHistory(ctx, sid); err != nil {
			return respondError(c, err)
		}
	}
	return c.JSON(fiber.Map{"invoice": invoice, "deliveries": deliveries})
}

// HandleJobStats reports the background queue counters.
func (ac *AdminController) HandleJobStats(c *fiber.Ctx) error {
	if ac.jobs == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue_unavailable", "message": "Job queue is not configured"})
	}
	ctx := c.UserContext()
	stats, err := ac.jobs.GetJobStats(ctx)
	if err != nil {
		return respondError(c, err)
	}
	queued, err := ac.jobs.GetQueueSize(ctx)
	if err != nil {
		return respondError(c, err)
	}
	processing, err := ac.jobs.GetProcessingSize(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"stats":      stats,
		"queued":     queued,
		"processing": processing,
	})
}

func (ac *AdminController) HandleGetJob(c *fiber.Ctx) error {
	if ac.jobs == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue_unavailable", "message": "Job queue is not configured"})
	}
	job, err := ac.jobs.GetJob(c.UserContext(), c.Params("id"))
	if errors.Is(err, redis.Nil) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job_not_found", "message": "Job not found"})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(job)
}

// HandleEventStats returns the event tallies of one UTC day, today by default.
func (ac *AdminController) HandleEventStats(c *fiber.Ctx) error {
	if ac.stats == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "stats_unavailable", "message": "Event statistics are not configured"})
	}
	day := time.Now().UTC()
	if raw := c.Query("day"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return respondError(c, &crowdfund.RequestError{Field: "day", Reason: "expected YYYY-MM-DD"})
		}
		day = parsed
	}
	counts, err := ac.stats.Daily(c.UserContext(), day)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"day": day.Format("2006-01-02"), "counts": counts})
}
