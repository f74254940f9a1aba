package controllers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PixelProPortal/internal/pkg/billing"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/crowdfund"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/realtime"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
)

const sseKeepAlive = 25 * time.Second

// EventSource opens a live event stream for one project.
type EventSource interface {
	Subscribe(ctx context.Context, projectID string) (*realtime.Subscription, error)
}

type CrowdController struct {
	orchestrator *crowdfund.Orchestrator
	ledger       *crowdfund.Ledger
	readModel    *crowdfund.ReadModel
	events       EventSource
}

// NewCrowdController wires the crowd endpoints. A nil event source disables
// the live stream.
func NewCrowdController(orchestrator *crowdfund.Orchestrator, ledger *crowdfund.Ledger, readModel *crowdfund.ReadModel, source EventSource) *CrowdController {
	return &CrowdController{orchestrator: orchestrator, ledger: ledger, readModel: readModel, events: source}
}

type participantRequest struct {
	UserID string          `json:"userId" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type groupSessionRequest struct {
	ProjectID    string               `json:"projectId" validate:"required"`
	RequesterID  string               `json:"requesterId"`
	Participants []participantRequest `json:"participants" validate:"required,min=1,dive"`
}

// HandleCreateGroupSession opens a checkout for every listed participant and
// answers with the requester's session.
func (cc *CrowdController) HandleCreateGroupSession(c *fiber.Ctx) error {
	var req groupSessionRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	requester := usercontext.GetUserID(c)
	if req.RequesterID != "" && strings.TrimSpace(req.RequesterID) != requester {
		return respondError(c, &crowdfund.RequestError{Field: "requesterId", UserID: req.RequesterID, Reason: "must be the signed-in user"})
	}

	participants := make([]crowdfund.ParticipantAmount, len(req.Participants))
	for i, p := range req.Participants {
		participants[i] = crowdfund.ParticipantAmount{UserID: p.UserID, Amount: p.Amount}
	}
	ref, err := cc.orchestrator.CreateGroupSession(c.UserContext(), crowdfund.GroupSessionRequest{
		ProjectID:    req.ProjectID,
		RequesterID:  requester,
		Participants: participants,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(ref)
}

func (cc *CrowdController) HandleJoin(c *fiber.Ctx) error {
	participation, created, err := cc.ledger.Join(c.UserContext(), c.Params("id"), usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"projectId": participation.CrowdProjectID,
		"userId":    participation.UserID,
		"amount":    participation.Amount,
		"status":    participation.Status,
		"created":   created,
	})
}

func (cc *CrowdController) HandleListProjects(c *fiber.Ctx) error {
	list, err := cc.readModel.List(c.UserContext(), c.Query("status"), usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"projects": list})
}

func (cc *CrowdController) HandleGetProject(c *fiber.Ctx) error {
	ctx := c.UserContext()
	summary, err := cc.readModel.Summary(ctx, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if userID := usercontext.GetUserID(c); userID != "" {
		if summary.Joined, err = cc.readModel.HasJoined(ctx, summary.ID, userID); err != nil {
			return respondError(c, err)
		}
	}
	return c.JSON(summary)
}

func (cc *CrowdController) HandleParticipants(c *fiber.Ctx) error {
	list, err := cc.readModel.Participants(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"participants": list})
}

type allocationRequest struct {
	Goal         decimal.Decimal `json:"goal"`
	Participants []string        `json:"participants" validate:"required,min=1"`
}

// HandleAllocationPreview splits a goal across participants without
// touching any project.
func (cc *CrowdController) HandleAllocationPreview(c *fiber.Ctx) error {
	var req allocationRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	goal, err := billing.MajorToMinor(req.Goal)
	if err != nil {
		return respondError(c, &crowdfund.RequestError{Field: "goal", Reason: "exceeds the maximum chargeable amount"})
	}
	shares, err := crowdfund.Allocate(goal, req.Participants)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"shares": shares})
}

// HandleEvents streams project events as server-sent events, starting with
// the current summary.
func (cc *CrowdController) HandleEvents(c *fiber.Ctx) error {
	if cc.events == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "stream_unavailable", "message": "Live updates are disabled"})
	}
	projectID := c.Params("id")
	summary, err := cc.readModel.Summary(c.UserContext(), projectID)
	if err != nil {
		return respondError(c, err)
	}
	sub, err := cc.events.Subscribe(context.Background(), projectID)
	if err != nil {
		log.Errorf("[API] Failed to subscribe to project %s: %v", projectID, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "stream_unavailable", "message": "Live updates are unavailable"})
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		if err := writeSSE(w, "summary", summary); err != nil {
			return
		}
		ticker := time.NewTicker(sseKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := writeSSE(w, ev.Type, ev); err != nil {
					log.Debugf("[API] Event stream for project %s closed: %v", projectID, err)
					return
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}

func writeSSE(w *bufio.Writer, name string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, raw); err != nil {
		return err
	}
	return w.Flush()
}
