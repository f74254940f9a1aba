// Package realtime pushes crowd project events to browsers through Redis
// pub/sub, so every portal instance can serve every project's stream.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ManuelReschke/PixelProPortal/internal/pkg/events"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "crowd:events:"

// Channel returns the pub/sub channel of a project.
func Channel(projectID string) string {
	return channelPrefix + projectID
}

// Hub publishes and subscribes to project channels.
type Hub struct {
	client *redis.Client
}

func NewHub(client *redis.Client) *Hub {
	return &Hub{client: client}
}

// Notify publishes project-scoped events. Events without a project are
// dropped.
func (h *Hub) Notify(ctx context.Context, ev events.Event) {
	if ev.ProjectID == "" {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("[Realtime] Failed to encode %s: %v", ev.Type, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := h.client.Publish(ctx, Channel(ev.ProjectID), raw).Err(); err != nil {
		log.Warnf("[Realtime] Failed to publish %s for project %s: %v", ev.Type, ev.ProjectID, err)
	}
}

// Subscription streams the events of one project until closed.
type Subscription struct {
	pubsub *redis.PubSub
	events chan events.Event
	done   chan struct{}
}

// Subscribe waits until Redis confirmed the subscription, so no event
// published after it returns is missed.
func (h *Hub) Subscribe(ctx context.Context, projectID string) (*Subscription, error) {
	pubsub := h.client.Subscribe(ctx, Channel(projectID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	s := &Subscription{
		pubsub: pubsub,
		events: make(chan events.Event, 16),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan events.Event {
	return s.events
}

func (s *Subscription) Close() error {
	err := s.pubsub.Close()
	<-s.done
	return err
}

func (s *Subscription) run() {
	defer close(s.done)
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var ev events.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Warnf("[Realtime] Dropping malformed message on %s: %v", msg.Channel, err)
			continue
		}
		select {
		case s.events <- ev:
		default:
			log.Warnf("[Realtime] Subscriber on %s is slow, dropping %s", msg.Channel, ev.Type)
		}
	}
}
