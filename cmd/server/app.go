package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/guildly/taskcore/internal/config"
	"github.com/guildly/taskcore/internal/events"
	"github.com/guildly/taskcore/internal/isolation"
	"github.com/guildly/taskcore/internal/platform/postgres"
	"github.com/guildly/taskcore/internal/scheduler"
	"github.com/guildly/taskcore/internal/store"
	"github.com/guildly/taskcore/internal/task"
	"github.com/guildly/taskcore/internal/tenant"
)

// application holds the shared application dependencies so lifecycle and
// cleanup are managed in one place.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	// Stores
	tenantStore   store.TenantStore
	envelopeStore store.EnvelopeStore
	resultStore   store.ResultStore
	scheduleStore store.ScheduleStore
	auditStore    store.AuditStore

	// Tenant resolution
	metadataCache *tenant.MetadataCache
	statusFeed    tenant.StatusFeed
	redisFeed     *tenant.RedisStatusFeed
	redisClient   *redis.Client
	resolver      *tenant.Resolver

	// Isolation
	guard *isolation.Guard

	// Task execution
	registry    *task.Registry
	router      *task.Router
	factory     *task.Factory
	retryMgr    *task.RetryManager
	pool        *task.Pool
	taskService *task.Service

	// Scheduling and events
	scheduler    *scheduler.Scheduler
	eventEmitter events.EventEmitter
}

// newApplication wires all components. The registry is sealed here, so a
// misconfigured handler set fails startup rather than dispatch.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	// Stores
	app.tenantStore = postgres.NewTenantStore(db)
	app.envelopeStore = postgres.NewEnvelopeStore(db)
	app.resultStore = postgres.NewResultStore(db)
	app.scheduleStore = postgres.NewScheduleStore(db)
	app.auditStore = postgres.NewAuditStore(db)

	// Tenant metadata cache with status-change invalidation. With Redis
	// configured, invalidations propagate across processes; without it,
	// only in-process changes invalidate immediately and the TTL bounds
	// staleness for the rest.
	app.metadataCache = tenant.NewMetadataCache(
		app.tenantStore,
		time.Duration(cfg.Tenant.CacheTTLSec)*time.Second,
	)
	if cfg.Redis.Addr != "" {
		app.redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		app.redisFeed = tenant.NewRedisStatusFeed(app.redisClient, cfg.Redis.Channel, logger)
		app.redisFeed.Start(ctx)
		app.statusFeed = app.redisFeed
		logger.Info("tenant status feed connected", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	} else {
		app.statusFeed = tenant.NewLocalStatusFeed()
		logger.Warn("no redis configured, tenant status changes only invalidate in-process")
	}
	app.statusFeed.Subscribe(app.metadataCache)

	app.resolver = tenant.NewResolver(
		app.metadataCache,
		cfg.Auth.JWTSecret,
		cfg.Auth.ServiceKeyHash,
		cfg.Auth.BaseDomain,
	)

	app.guard = isolation.NewGuard(app.auditStore)

	// Handler registry, sealed after the built-in handlers register.
	app.registry = task.NewRegistry()
	if err := registerHandlers(app.registry, logger); err != nil {
		return nil, fmt.Errorf("failed to register task handlers: %w", err)
	}
	app.registry.Seal()
	logger.Info("task registry sealed", "task_types", app.registry.TaskTypes())

	var err error
	app.router, err = task.NewRouter(task.DefaultBindings())
	if err != nil {
		return nil, fmt.Errorf("invalid queue binding table: %w", err)
	}

	app.eventEmitter = events.NewInMemoryEventEmitter(logger)

	app.factory = task.NewFactory(
		app.envelopeStore,
		app.metadataCache,
		app.registry,
		app.router,
		app.guard,
	)

	app.retryMgr = task.NewRetryManager(
		app.envelopeStore,
		app.resultStore,
		app.eventEmitter,
		task.RetryPolicy{
			BaseDelay: time.Duration(cfg.Worker.RetryBaseDelayMS) * time.Millisecond,
			MaxDelay:  time.Duration(cfg.Worker.RetryMaxDelaySec) * time.Second,
		},
	)

	app.pool = task.NewPool(
		app.envelopeStore,
		app.resultStore,
		app.metadataCache,
		app.registry,
		app.retryMgr,
		app.guard,
		app.eventEmitter,
		task.PoolConfig{
			WorkerCount:  cfg.Worker.Count,
			Queues:       cfg.Worker.Queues,
			PollInterval: time.Duration(cfg.Worker.PollIntervalMS) * time.Millisecond,
			TaskTimeout:  time.Duration(cfg.Worker.TaskTimeoutSec) * time.Second,
		},
		logger,
	)

	app.taskService = task.NewService(
		app.envelopeStore,
		app.resultStore,
		app.factory,
		app.pool,
		app.guard,
	)

	app.scheduler = scheduler.New(
		app.scheduleStore,
		app.tenantStore,
		app.metadataCache,
		app.factory,
		app.guard,
		scheduler.Config{
			TickInterval:   time.Duration(cfg.Scheduler.TickIntervalSec) * time.Second,
			FanOutPageSize: cfg.Scheduler.FanOutPageSize,
			FanOutRate:     rate.Limit(cfg.Scheduler.FanOutRatePerSec),
		},
		logger,
	)

	logger.Info("application initialized")
	return app, nil
}

// Run starts the background components and the HTTP server, blocking
// until shutdown.
func (app *application) Run(ctx context.Context) error {
	app.pool.Start()
	app.scheduler.Start()

	router := app.setupRouter()
	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources, stopping
// intake-facing components before the workers draining their queues.
func (app *application) cleanup() {
	if app.scheduler != nil {
		app.scheduler.Stop()
	}
	if app.pool != nil {
		app.pool.Stop()
	}
	if app.redisFeed != nil {
		app.redisFeed.Stop()
	}
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
