package mq

import (
	"context"
	"time"

	"github.com/ManuelReschke/PixelProPortal/internal/pkg/events"
	"github.com/gofiber/fiber/v2/log"
)

// JSONPublisher is satisfied by *Publisher.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// EventNotifier forwards domain events to the broker, routed by event type.
type EventNotifier struct {
	pub     JSONPublisher
	types   map[string]bool
	timeout time.Duration
}

// NewEventNotifier publishes the given event types, or every type when none
// are listed.
func NewEventNotifier(pub JSONPublisher, types ...string) *EventNotifier {
	n := &EventNotifier{pub: pub, timeout: 5 * time.Second}
	if len(types) > 0 {
		n.types = make(map[string]bool, len(types))
		for _, t := range types {
			n.types[t] = true
		}
	}
	return n
}

func (n *EventNotifier) Notify(ctx context.Context, ev events.Event) {
	if n.types != nil && !n.types[ev.Type] {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.pub.PublishJSON(ctx, ev.Type, ev); err != nil {
		log.Errorf("[MQ] Failed to publish %s (project=%s invoice=%s): %v", ev.Type, ev.ProjectID, ev.InvoiceID, err)
	}
}
