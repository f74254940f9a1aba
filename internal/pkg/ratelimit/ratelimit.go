// Package ratelimit builds the API request limiter. Counters live in Redis so
// every portal instance shares one budget per client.
package ratelimit

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PixelProPortal/internal/pkg/env"
)

// limiterDatabase keeps limiter keys apart from the cache (DB 0).
const limiterDatabase = 1

type Config struct {
	Max        int
	Expiration time.Duration
	// Skip bypasses the limiter, e.g. for provider webhooks.
	Skip func(c *fiber.Ctx) bool
}

// NewStorage creates the Redis storage for limiter counters, reusing the
// address and password of the cache client when one is given. Like every
// gofiber storage it panics when Redis cannot be reached.
func NewStorage(cacheClient *goredis.Client) *redis.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: limiterDatabase,
		Reset:    false,
	})
}

// New returns the limiter middleware. A nil storage keeps counters in memory.
func New(storage fiber.Storage, cfg Config) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = 120
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = time.Minute
	}
	lc := limiter.Config{
		Max:        cfg.Max,
		Expiration: cfg.Expiration,
		Next:       cfg.Skip,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests, slow down",
			})
		},
	}
	if storage != nil {
		lc.Storage = storage
	}
	return limiter.New(lc)
}
