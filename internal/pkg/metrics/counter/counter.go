// Package counter keeps daily per-event-type tallies of the payment flow in
// Redis hashes.
package counter

import (
	"context"
	"strconv"
	"time"

	"github.com/ManuelReschke/PixelProPortal/internal/pkg/events"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	dailyKeyPrefix = "portal:counters:daily:"
	amountPrefix   = "amount:"
	retention      = 90 * 24 * time.Hour
)

func dailyKey(day time.Time) string {
	return dailyKeyPrefix + day.UTC().Format("2006-01-02")
}

// Recorder counts every event it is notified of. Events carrying an amount
// also add it to an "amount:<type>" field.
type Recorder struct {
	client *redis.Client
}

func NewRecorder(client *redis.Client) *Recorder {
	return &Recorder{client: client}
}

func (r *Recorder) Notify(ctx context.Context, ev events.Event) {
	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	key := dailyKey(at)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, key, ev.Type, 1)
	if ev.Amount != 0 {
		pipe.HIncrBy(ctx, key, amountPrefix+ev.Type, ev.Amount)
	}
	pipe.Expire(ctx, key, retention)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("[Counter] Failed to count %s: %v", ev.Type, err)
	}
}

// Daily returns the tallies recorded on the given UTC day. Days without any
// event yield an empty map.
func (r *Recorder) Daily(ctx context.Context, day time.Time) (map[string]int64, error) {
	data, err := r.client.HGetAll(ctx, dailyKey(day)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}
