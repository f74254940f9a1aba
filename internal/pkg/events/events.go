// Package events carries portal domain events from the payment flow to the
// realtime stream, the message broker and cache invalidation.
package events

import (
	"context"
	"time"
)

const (
	TypeParticipantJoined      = "crowd.participant.joined"
	TypeParticipationConfirmed = "crowd.participation.confirmed"
	TypeProjectFunded          = "crowd.project.funded"
	TypeProjectUpdated         = "crowd.project.updated"
	TypeInvoicePaid            = "invoice.paid"
	TypeInvoiceCancelled       = "invoice.cancelled"
)

type Event struct {
	Type       string    `json:"type"`
	ProjectID  string    `json:"projectId,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	InvoiceID  string    `json:"invoiceId,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Notifier receives events after the state change that produced them has
// been committed. Implementations must not block for long; delivery failures
// are theirs to log.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Fanout delivers each event to every notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	for _, n := range f {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(context.Context, Event) {})
