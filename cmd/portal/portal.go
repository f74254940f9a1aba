package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelProPortal/app/controllers"
	"github.com/ManuelReschke/PixelProPortal/app/repository"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/billing"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/cache"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/crowdfund"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/database"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/env"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/events"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/invoicing"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/mail"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/mq"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/ratelimit"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/realtime"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/router"
)

// Portal owns the HTTP app and every background resource it depends on.
type Portal struct {
	App       *fiber.App
	db        *gorm.DB
	redis     *redis.Client
	jobs      *jobqueue.Manager
	publisher *mq.Publisher
}

func NewPortal(ctx context.Context) (*Portal, error) {
	jwtSecret := env.GetEnv("JWT_SECRET", "")
	webhookSecret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")
	if jwtSecret == "" || webhookSecret == "" {
		return nil, errors.New("JWT_SECRET and STRIPE_WEBHOOK_SECRET must be set")
	}

	db, err := database.Open()
	if err != nil {
		return nil, err
	}
	p := &Portal{db: db}

	// Redis backs the summary cache, live events, rate limits and the job
	// queue. Without it the portal still serves requests, uncached.
	redisClient := cache.NewClientFromEnv(ctx)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	redisUp := redisClient.Ping(pingCtx).Err() == nil
	cancel()
	if redisUp {
		p.redis = redisClient
	} else {
		log.Warn("[Portal] Cache unreachable: running without job queue, live events and shared rate limits")
		_ = redisClient.Close()
	}

	currency := strings.ToLower(env.GetEnv("PAYMENT_CURRENCY", "usd"))
	publicBaseURL := publicBaseURL()
	providerTimeout := env.GetEnvSeconds("PAYMENT_TIMEOUT_SECONDS", 15*time.Second)
	provider := billing.NewStripeClientFromEnv()
	if provider.SecretKey == "" {
		log.Warn("[Portal] STRIPE_SECRET_KEY is empty, checkout calls will fail")
	}

	store := crowdfund.NewStore(db)

	var (
		summaryCache crowdfund.SummaryCache
		eventSource  controllers.EventSource
		jobMonitor   controllers.JobMonitor
		expiryQueue  crowdfund.ExpiryQueue
		noticeQueue  invoicing.NoticeQueue
		limiterStore fiber.Storage
		queue        *jobqueue.Queue
		eventCounter *counter.Recorder
		fanout       events.Fanout
	)
	if p.redis != nil {
		summaryCache = cache.New(p.redis)
		hub := realtime.NewHub(p.redis)
		eventSource = hub
		eventCounter = counter.NewRecorder(p.redis)
		fanout = append(fanout, hub, eventCounter)

		queue = jobqueue.NewQueue(p.redis, env.GetEnvInt("JOBQUEUE_WORKERS", 4))
		jobMonitor = queue
		expiryQueue = queue
		noticeQueue = queue
		limiterStore = ratelimit.NewStorage(p.redis)
	}

	readModel := crowdfund.NewReadModel(store, summaryCache, 30*time.Second)
	fanout = append(events.Fanout{readModel}, fanout...)

	if amqpURL := env.GetEnv("AMQP_URL", ""); amqpURL != "" {
		publisher, err := mq.NewPublisher(amqpURL, env.GetEnv("AMQP_EXCHANGE", "portal.events"))
		if err != nil {
			log.Errorf("[Portal] Message broker unavailable, domain events stay local: %v", err)
		} else {
			p.publisher = publisher
			fanout = append(fanout, mq.NewEventNotifier(publisher,
				events.TypeInvoicePaid,
				events.TypeInvoiceCancelled,
				events.TypeParticipationConfirmed,
				events.TypeProjectFunded,
			))
		}
	}

	ledger := crowdfund.NewLedger(store, fanout)
	webhookLog := billing.NewServiceFromDB(db)
	reconciler := crowdfund.NewReconciler(store, ledger, webhookLog, fanout, crowdfund.ReconcilerConfig{
		WebhookSecret: webhookSecret,
	})
	orchestrator := crowdfund.NewOrchestrator(store, ledger, provider, expiryQueue, fanout, crowdfund.OrchestratorConfig{
		Currency:        currency,
		PublicBaseURL:   publicBaseURL,
		ProviderTimeout: providerTimeout,
	})
	if expiryQueue != nil {
		reconciler.WithExpiryQueue(expiryQueue)
	}
	projects := crowdfund.NewProjects(store, reconciler, fanout)

	repos := repository.NewRepositories(db)
	reminderInterval := time.Duration(env.GetEnvInt("REMINDER_INTERVAL_DAYS", 3)) * 24 * time.Hour
	var mailer mail.Mailer
	if smtp := mail.NewSMTPMailerFromEnv(); smtp.Host != "" {
		mailer = smtp
	} else {
		log.Warn("[Portal] SMTP_HOST is empty, reminder and abandon emails are disabled")
	}
	invoices := invoicing.NewService(invoicing.Deps{
		Invoices: repos.Invoice,
		Profiles: repos.Profile,
		Ledger:   ledger,
		Provider: provider,
		Expiry:   expiryQueue,
		Notices:  noticeQueue,
		Mailer:   mailer,
		Notifier: fanout,
	}, invoicing.Config{
		Currency:         currency,
		PublicBaseURL:    publicBaseURL,
		PayLinkSecret:    env.GetEnv("PAYMENT_LINK_SECRET", jwtSecret),
		ReminderInterval: reminderInterval,
		ProviderTimeout:  providerTimeout,
	})

	if queue != nil {
		jobqueue.Handlers{Provider: provider, Reminders: invoices, Notices: invoices}.Register(queue)
		// The hourly tick only queues a sweep; the sweep itself picks the
		// invoices whose reminder interval has passed.
		p.jobs = jobqueue.NewManager(queue, time.Hour)
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New(), logger.New())

	// fiber metrics
	if password := env.GetEnv("METRICS_PASSWORD", ""); password != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				env.GetEnv("METRICS_USER", "admin"): password,
			},
		}), monitor.New())
	}

	// SWAGGER / OPENAPI
	if specPath := findFile("public/docs/v1/openapi.yml"); specPath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: specPath,
			Path:     "v1",
		}))
	}

	admin := controllers.NewAdminController(projects, invoices, jobMonitor).WithWebhookHistory(webhookLog)
	if eventCounter != nil {
		admin.WithEventStats(eventCounter)
	}

	router.InstallRouter(app, router.Deps{
		JWTSecret:      jwtSecret,
		CORSOrigins:    env.GetEnv("CORS_ORIGINS", publicBaseURL),
		Crowd:          controllers.NewCrowdController(orchestrator, ledger, readModel, eventSource),
		Invoices:       controllers.NewInvoiceController(invoices),
		Admin:          admin,
		Webhooks:       controllers.NewWebhookController(reconciler),
		Profiles:       repos.Profile,
		LimiterStorage: limiterStore,
		RateLimit:      env.GetEnvInt("API_RATE_LIMIT", 120),
		ProfileSync:    10 * time.Minute,
	})

	p.App = app
	return p, nil
}

// Start launches the background workers.
func (p *Portal) Start() {
	if p.jobs != nil {
		p.jobs.Start()
	}
}

// Shutdown stops accepting requests, drains workers and closes connections.
func (p *Portal) Shutdown(timeout time.Duration) {
	if err := p.App.ShutdownWithTimeout(timeout); err != nil {
		log.Errorf("[Portal] HTTP shutdown: %v", err)
	}
	if p.jobs != nil {
		p.jobs.Stop()
	}
	if p.publisher != nil {
		if err := p.publisher.Close(); err != nil {
			log.Warnf("[Portal] Closing broker connection: %v", err)
		}
	}
	if p.redis != nil {
		_ = p.redis.Close()
	}
	if sqlDB, err := p.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func publicBaseURL() string {
	domain := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "localhost:4000"), "/")
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return domain
	}
	if env.IsDev() {
		return "http://" + domain
	}
	return "https://" + domain
}

// findFile looks for rel in the working directory and the project root when
// started from cmd/portal.
func findFile(rel string) string {
	for _, base := range []string{"./", "../../", "../../../"} {
		if _, err := os.Stat(base + rel); err == nil {
			return base + rel
		}
	}
	return ""
}
