// Package scheduler fires recurring task envelopes on cron cadences.
//
// Firing is crash-safe via persisted watermarks: a schedule's watermark
// only advances after its fan-out succeeds, so a crash in between causes
// the tick to be re-evaluated on restart. Combined with deterministic
// per-tick idempotency keys, the envelope factory collapses the replayed
// enqueues, giving at-least-once firing with at-most-one in-flight
// envelope per tick and tenant.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/isolation"
	"github.com/guildly/taskcore/internal/platform/logger"
	"github.com/guildly/taskcore/internal/store"
	"github.com/guildly/taskcore/internal/task"
	"github.com/guildly/taskcore/internal/tenant"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
// Exposed so schedule entries can be validated when they are created.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Config holds scheduler settings.
type Config struct {
	// TickInterval is how often schedule entries are evaluated.
	TickInterval time.Duration

	// FanOutPageSize bounds how many tenants are loaded per page during
	// an all-active-tenants fan-out.
	FanOutPageSize int

	// FanOutRate paces enqueues during fan-out so one schedule firing
	// cannot flood the worker pool.
	FanOutRate rate.Limit
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:   15 * time.Second,
		FanOutPageSize: 100,
		FanOutRate:     rate.Limit(50),
	}
}

// Scheduler evaluates schedule entries on a fixed tick and fans out task
// envelopes through the envelope factory.
type Scheduler struct {
	schedules store.ScheduleStore
	tenants   store.TenantStore
	metadata  *tenant.MetadataCache
	factory   *task.Factory
	guard     *isolation.Guard
	config    Config
	logger    *slog.Logger

	limiter *rate.Limiter

	// parsed caches parsed cron expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	// missedTicks counts deliberately skipped ticks for alerting.
	missedTicks atomic.Uint64

	stopCh   chan struct{}
	wg       sync.WaitGroup
	timeFunc func() time.Time // Injectable for testing
}

// New creates a Scheduler.
func New(
	schedules store.ScheduleStore,
	tenants store.TenantStore,
	metadata *tenant.MetadataCache,
	factory *task.Factory,
	guard *isolation.Guard,
	config Config,
	logger *slog.Logger,
) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = 15 * time.Second
	}
	if config.FanOutPageSize <= 0 {
		config.FanOutPageSize = 100
	}
	if config.FanOutRate <= 0 {
		config.FanOutRate = rate.Limit(50)
	}

	return &Scheduler{
		schedules: schedules,
		tenants:   tenants,
		metadata:  metadata,
		factory:   factory,
		guard:     guard,
		config:    config,
		logger:    logger.With("component", "scheduler"),
		limiter:   rate.NewLimiter(config.FanOutRate, 1),
		parsed:    make(map[string]cronlib.Schedule),
		stopCh:    make(chan struct{}),
		timeFunc:  time.Now,
	}
}

// Start launches the tick loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("scheduler started", "tick_interval", s.config.TickInterval)
}

// Stop signals the scheduler to stop and waits for the loop to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// MissedTicks returns how many schedule ticks have been deliberately
// skipped because evaluation fell more than one cadence behind.
func (s *Scheduler) MissedTicks() uint64 {
	return s.missedTicks.Load()
}

// tickLoop fires on each tick interval and evaluates all entries.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick evaluates every enabled schedule entry once. Exposed for tests and
// for forcing an immediate evaluation after startup.
func (s *Scheduler) Tick(ctx context.Context) {
	ctx = logger.WithLogger(ctx, s.logger)

	entries, err := s.schedules.ListSchedules(ctx)
	if err != nil {
		s.logger.Error("failed to list schedules", "error", err)
		return
	}

	now := s.timeFunc().UTC()
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}

		select {
		case <-s.stopCh:
			return
		default:
		}

		s.evaluate(ctx, entry, now)
	}
}

// evaluate fires the entry if a cron occurrence is due, advancing the
// watermark only after the fan-out succeeds.
func (s *Scheduler) evaluate(ctx context.Context, entry *domain.ScheduleEntry, now time.Time) {
	log := s.logger.With("schedule", entry.Name)

	sched, err := s.getOrParseSchedule(entry.CronExpr)
	if err != nil {
		log.Error("invalid cron expression", "cron_expr", entry.CronExpr, "error", err)
		return
	}

	watermark := entry.LastFiredWatermark
	if watermark.IsZero() {
		// A new entry starts from now; it does not fire for the past.
		watermark = now
		if err := s.schedules.AdvanceWatermark(ctx, entry.ID, watermark); err != nil {
			log.Error("failed to initialize watermark", "error", err)
			return
		}
		entry.LastFiredWatermark = watermark
		return
	}

	due := sched.Next(watermark)
	if due.After(now) {
		return
	}

	// If more than one occurrence is pending, fire only the most recent
	// and skip the rest: a catch-up burst would overload the worker pool.
	fireAt := due
	skipped := 0
	for {
		next := sched.Next(fireAt)
		if next.After(now) {
			break
		}
		fireAt = next
		skipped++
	}
	if skipped > 0 {
		s.missedTicks.Add(uint64(skipped))
		log.Warn("schedule fell behind, skipping missed ticks",
			"skipped_ticks", skipped,
			"firing_for", fireAt)
	}

	if err := s.fire(ctx, entry, fireAt); err != nil {
		log.Error("schedule fan-out failed, tick will be re-evaluated", "error", err)
		return
	}

	// The watermark persists only after the fan-out committed. A crash
	// before this point replays the tick; idempotency keys collapse the
	// duplicates.
	if err := s.schedules.AdvanceWatermark(ctx, entry.ID, fireAt); err != nil {
		log.Error("failed to advance watermark, tick will be re-evaluated", "error", err)
		return
	}
	entry.LastFiredWatermark = fireAt

	log.Info("schedule fired", "fired_for", fireAt)
}

// fire fans the entry out into task envelopes.
func (s *Scheduler) fire(ctx context.Context, entry *domain.ScheduleEntry, fireAt time.Time) error {
	switch entry.TenantScope {
	case domain.ScopeSpecificTenant:
		return s.fireForTenant(ctx, entry, entry.TenantID, fireAt)
	case domain.ScopeAllActiveTenants:
		return s.fanOut(ctx, entry, fireAt)
	default:
		return fmt.Errorf("schedule %q has invalid tenant scope %q", entry.Name, entry.TenantScope)
	}
}

// fanOut pages through the active tenants and fires one envelope each,
// paced by the fan-out limiter to avoid a thundering herd.
func (s *Scheduler) fanOut(ctx context.Context, entry *domain.ScheduleEntry, fireAt time.Time) error {
	after := ""
	for {
		ids, err := s.tenants.ListActiveTenants(ctx, after, s.config.FanOutPageSize)
		if err != nil {
			return fmt.Errorf("failed to list active tenants: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		for _, tenantID := range ids {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			if err := s.fireForTenant(ctx, entry, tenantID, fireAt); err != nil {
				return err
			}
		}

		after = ids[len(ids)-1]
		if len(ids) < s.config.FanOutPageSize {
			return nil
		}
	}
}

// fireForTenant enqueues one envelope for the tenant under that tenant's
// own bound context. Tenants that went inactive since listing are skipped.
func (s *Scheduler) fireForTenant(ctx context.Context, entry *domain.ScheduleEntry, tenantID string, fireAt time.Time) error {
	t, err := s.metadata.Get(ctx, tenantID)
	if err != nil {
		if store.IsNotFoundError(err) {
			s.logger.Warn("scheduled tenant no longer exists",
				"schedule", entry.Name,
				"tenant_id", tenantID)
			return nil
		}
		return fmt.Errorf("failed to load tenant %q: %w", tenantID, err)
	}

	bound, err := s.guard.Bind(ctx, t)
	if err != nil {
		// Inactive tenants drop out of the fan-out; they resume on their
		// next tick after reactivation.
		s.logger.Debug("skipping inactive tenant in fan-out",
			"schedule", entry.Name,
			"tenant_id", tenantID)
		return nil
	}

	_, err = s.factory.Enqueue(bound, task.EnqueueRequest{
		TenantID:   tenantID,
		TaskType:   entry.TaskType,
		Payload:    entry.PayloadTemplate,
		Priority:   entry.Priority,
		MaxRetries: entry.MaxRetries,
		// Deterministic per tick and tenant: a replay of this tick after
		// a crash collapses onto the envelope already enqueued.
		IdempotencyKey: scheduleIdempotencyKey(entry, tenantID, fireAt),
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue scheduled task for tenant %q: %w", tenantID, err)
	}
	return nil
}

// scheduleIdempotencyKey derives the deterministic key for one schedule
// firing.
func scheduleIdempotencyKey(entry *domain.ScheduleEntry, tenantID string, fireAt time.Time) string {
	return fmt.Sprintf("sched:%s:%s:%d", entry.ID, tenantID, fireAt.Unix())
}

// getOrParseSchedule caches parsed cron expressions.
func (s *Scheduler) getOrParseSchedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
