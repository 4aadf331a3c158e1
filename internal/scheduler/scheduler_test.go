package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/isolation"
	"github.com/guildly/taskcore/internal/platform/memory"
	"github.com/guildly/taskcore/internal/store"
	"github.com/guildly/taskcore/internal/task"
	"github.com/guildly/taskcore/internal/tenant"
)

type schedFixture struct {
	envelopes *memory.EnvelopeStore
	tenants   *memory.TenantStore
	schedules store.ScheduleStore
	scheduler *Scheduler
	now       time.Time
}

func newSchedFixture(t *testing.T, schedules store.ScheduleStore) *schedFixture {
	t.Helper()

	f := &schedFixture{
		envelopes: memory.NewEnvelopeStore(),
		tenants:   memory.NewTenantStore(),
		schedules: schedules,
		now:       time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
	}

	cache := tenant.NewMetadataCache(f.tenants, time.Minute)
	guard := isolation.NewGuard(memory.NewAuditStore())

	registry := task.NewRegistry()
	require.NoError(t, registry.Register("report.generate", task.HandlerFunc(
		func(ctx context.Context, payload []byte) ([]byte, error) {
			return nil, nil
		})))
	registry.Seal()

	router, err := task.NewRouter(task.DefaultBindings())
	require.NoError(t, err)
	factory := task.NewFactory(f.envelopes, cache, registry, router, guard)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.scheduler = New(f.schedules, f.tenants, cache, factory, guard, Config{
		TickInterval:   time.Second,
		FanOutPageSize: 2,
		FanOutRate:     1000,
	}, log)
	f.scheduler.timeFunc = func() time.Time { return f.now }

	return f
}

func (f *schedFixture) seedTenant(t *testing.T, id string, status domain.TenantStatus) {
	t.Helper()
	require.NoError(t, f.tenants.CreateTenant(context.Background(), &domain.Tenant{
		ID:     id,
		Name:   id,
		Tier:   domain.TierStandard,
		Status: status,
	}))
}

func (f *schedFixture) seedSchedule(t *testing.T, entry *domain.ScheduleEntry) *domain.ScheduleEntry {
	t.Helper()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	require.NoError(t, f.schedules.CreateSchedule(context.Background(), entry))
	return entry
}

// drainEnvelopes claims everything eligible and returns the claimed set.
func (f *schedFixture) drainEnvelopes(t *testing.T) []*domain.TaskEnvelope {
	t.Helper()
	var out []*domain.TaskEnvelope
	for {
		env, err := f.envelopes.ClaimNext(context.Background(), []string{"default"}, f.now.Add(time.Hour))
		if err != nil {
			require.ErrorIs(t, err, store.ErrEnvelopeNotFound)
			return out
		}
		out = append(out, env)
	}
}

func (f *schedFixture) watermark(t *testing.T, id uuid.UUID) time.Time {
	t.Helper()
	entries, err := f.schedules.ListSchedules(context.Background())
	require.NoError(t, err)
	for _, e := range entries {
		if e.ID == id {
			return e.LastFiredWatermark
		}
	}
	t.Fatalf("schedule %s not found", id)
	return time.Time{}
}

func TestSchedulerNewEntryDoesNotFireForThePast(t *testing.T) {
	f := newSchedFixture(t, memory.NewScheduleStore())
	f.seedTenant(t, "acme", domain.TenantStatusActive)
	entry := f.seedSchedule(t, &domain.ScheduleEntry{
		Name:        "monthly-report",
		CronExpr:    "@every 5m",
		TaskType:    "report.generate",
		TenantScope: domain.ScopeSpecificTenant,
		TenantID:    "acme",
		Enabled:     true,
	})

	f.scheduler.Tick(context.Background())

	// The zero watermark initializes to now; nothing fires.
	assert.Empty(t, f.drainEnvelopes(t))
	assert.Equal(t, f.now, f.watermark(t, entry.ID))

	// The next tick inside the cadence stays quiet too.
	f.now = f.now.Add(time.Minute)
	f.scheduler.Tick(context.Background())
	assert.Empty(t, f.drainEnvelopes(t))
}

func TestSchedulerFiresDueEntry(t *testing.T) {
	f := newSchedFixture(t, memory.NewScheduleStore())
	f.seedTenant(t, "acme", domain.TenantStatusActive)
	entry := f.seedSchedule(t, &domain.ScheduleEntry{
		Name:               "monthly-report",
		CronExpr:           "@every 5m",
		TaskType:           "report.generate",
		TenantScope:        domain.ScopeSpecificTenant,
		TenantID:           "acme",
		PayloadTemplate:    []byte(`{"kind":"scheduled"}`),
		Priority:           2,
		MaxRetries:         4,
		LastFiredWatermark: f.now.Add(-5 * time.Minute),
		Enabled:            true,
	})

	f.scheduler.Tick(context.Background())

	claimed := f.drainEnvelopes(t)
	require.Len(t, claimed, 1)
	env := claimed[0]
	assert.Equal(t, "acme", env.TenantID)
	assert.Equal(t, "report.generate", env.TaskType)
	assert.Equal(t, []byte(`{"kind":"scheduled"}`), env.Payload)
	assert.Equal(t, 2, env.Priority)
	assert.Equal(t, 4, env.MaxRetries)
	assert.Equal(t, fmt.Sprintf("sched:%s:acme:%d", entry.ID, f.now.Unix()), env.IdempotencyKey)

	assert.Equal(t, f.now, f.watermark(t, entry.ID))
	assert.Zero(t, f.scheduler.MissedTicks())
}

func TestSchedulerSkipsMissedTicksAndFiresLatest(t *testing.T) {
	f := newSchedFixture(t, memory.NewScheduleStore())
	f.seedTenant(t, "acme", domain.TenantStatusActive)
	entry := f.seedSchedule(t, &domain.ScheduleEntry{
		Name:        "monthly-report",
		CronExpr:    "@every 5m",
		TaskType:    "report.generate",
		TenantScope: domain.ScopeSpecificTenant,
		TenantID:    "acme",
		// Four occurrences are pending: only the latest fires.
		LastFiredWatermark: f.now.Add(-20 * time.Minute),
		Enabled:            true,
	})

	f.scheduler.Tick(context.Background())

	claimed := f.drainEnvelopes(t)
	require.Len(t, claimed, 1)
	assert.Equal(t, fmt.Sprintf("sched:%s:acme:%d", entry.ID, f.now.Unix()), claimed[0].IdempotencyKey)

	assert.Equal(t, uint64(3), f.scheduler.MissedTicks())
	assert.Equal(t, f.now, f.watermark(t, entry.ID))
}

func TestSchedulerIgnoresDisabledAndNotDueEntries(t *testing.T) {
	f := newSchedFixture(t, memory.NewScheduleStore())
	f.seedTenant(t, "acme", domain.TenantStatusActive)
	f.seedSchedule(t, &domain.ScheduleEntry{
		Name:               "disabled",
		CronExpr:           "@every 5m",
		TaskType:           "report.generate",
		TenantScope:        domain.ScopeSpecificTenant,
		TenantID:           "acme",
		LastFiredWatermark: f.now.Add(-time.Hour),
		Enabled:            false,
	})
	f.seedSchedule(t, &domain.ScheduleEntry{
		Name:               "not-due",
		CronExpr:           "@every 5m",
		TaskType:           "report.generate",
		TenantScope:        domain.ScopeSpecificTenant,
		TenantID:           "acme",
		LastFiredWatermark: f.now.Add(-time.Minute),
		Enabled:            true,
	})

	f.scheduler.Tick(context.Background())
	assert.Empty(t, f.drainEnvelopes(t))
}

func TestSchedulerFanOutAcrossActiveTenants(t *testing.T) {
	f := newSchedFixture(t, memory.NewScheduleStore())
	// Five tenants across three pagination pages (page size 2); one is
	// suspended and must be skipped.
	for i := 0; i < 5; i++ {
		f.seedTenant(t, fmt.Sprintf("tenant-%d", i), domain.TenantStatusActive)
	}
	f.seedTenant(t, "suspended-co", domain.TenantStatusSuspended)

	f.seedSchedule(t, &domain.ScheduleEntry{
		Name:               "cleanup",
		CronExpr:           "@every 5m",
		TaskType:           "report.generate",
		TenantScope:        domain.ScopeAllActiveTenants,
		LastFiredWatermark: f.now.Add(-5 * time.Minute),
		Enabled:            true,
	})

	f.scheduler.Tick(context.Background())

	claimed := f.drainEnvelopes(t)
	require.Len(t, claimed, 5)

	seen := make(map[string]bool)
	for _, env := range claimed {
		seen[env.TenantID] = true
	}
	for i := 0; i < 5; i++ {
		assert.True(t, seen[fmt.Sprintf("tenant-%d", i)])
	}
	assert.False(t, seen["suspended-co"])
}

// flakyScheduleStore fails AdvanceWatermark a configured number of times,
// simulating a crash between fan-out and watermark persistence.
type flakyScheduleStore struct {
	store.ScheduleStore
	failures int
}

func (s *flakyScheduleStore) AdvanceWatermark(ctx context.Context, id uuid.UUID, watermark time.Time) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	return s.ScheduleStore.AdvanceWatermark(ctx, id, watermark)
}

func TestSchedulerReplayedTickCollapsesOntoOneEnvelope(t *testing.T) {
	flaky := &flakyScheduleStore{ScheduleStore: memory.NewScheduleStore(), failures: 1}
	f := newSchedFixture(t, flaky)
	f.seedTenant(t, "acme", domain.TenantStatusActive)
	entry := f.seedSchedule(t, &domain.ScheduleEntry{
		Name:               "monthly-report",
		CronExpr:           "@every 5m",
		TaskType:           "report.generate",
		TenantScope:        domain.ScopeSpecificTenant,
		TenantID:           "acme",
		LastFiredWatermark: f.now.Add(-5 * time.Minute),
		Enabled:            true,
	})

	// First tick fans out but fails to persist the watermark.
	f.scheduler.Tick(context.Background())
	assert.True(t, f.watermark(t, entry.ID).Equal(f.now.Add(-5*time.Minute)))

	// The re-evaluated tick enqueues again; the deterministic idempotency
	// key collapses the duplicate onto the envelope already in flight.
	f.scheduler.Tick(context.Background())
	assert.Equal(t, f.now, f.watermark(t, entry.ID))

	claimed := f.drainEnvelopes(t)
	assert.Len(t, claimed, 1)
}
