package task

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/events"
	"github.com/guildly/taskcore/internal/isolation"
	"github.com/guildly/taskcore/internal/platform/memory"
	"github.com/guildly/taskcore/internal/tenant"
)

// fixture wires the task package against the in-memory stores the way the
// assembled application wires it against postgres.
type fixture struct {
	envelopes *memory.EnvelopeStore
	tenants   *memory.TenantStore
	results   *memory.ResultStore
	audit     *memory.AuditStore
	cache     *tenant.MetadataCache
	guard     *isolation.Guard
	registry  *Registry
	router    *Router
	factory   *Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		envelopes: memory.NewEnvelopeStore(),
		tenants:   memory.NewTenantStore(),
		results:   memory.NewResultStore(),
		audit:     memory.NewAuditStore(),
		registry:  NewRegistry(),
	}
	f.cache = tenant.NewMetadataCache(f.tenants, time.Minute)
	f.guard = isolation.NewGuard(f.audit)

	router, err := NewRouter(DefaultBindings())
	require.NoError(t, err)
	f.router = router

	f.factory = NewFactory(f.envelopes, f.cache, f.registry, f.router, f.guard)
	return f
}

// seedTenant creates an active standard-tier tenant.
func (f *fixture) seedTenant(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.tenants.CreateTenant(context.Background(), &domain.Tenant{
		ID:     id,
		Name:   id,
		Tier:   domain.TierStandard,
		Status: domain.TenantStatusActive,
	}))
}

// suspendTenant flips the tenant to suspended and invalidates the cache,
// the way the status-change feed does in production.
func (f *fixture) suspendTenant(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.tenants.UpdateTenantStatus(context.Background(), id, domain.TenantStatusSuspended))
	f.cache.Invalidate(id)
}

// boundCtx returns a context bound to the given tenant, as the resolver
// middleware produces for an authenticated request.
func (f *fixture) boundCtx(tenantID string) context.Context {
	return f.guard.BindResolved(context.Background(), domain.TenantContext{
		TenantID: tenantID,
		Tier:     domain.TierStandard,
		Status:   domain.TenantStatusActive,
	})
}

// systemCtx returns a context carrying the audited system context.
func (f *fixture) systemCtx() context.Context {
	return isolation.WithSystemContext(context.Background(), "test_ops", "test run")
}

// discardLogger returns a logger that drops everything, keeping test
// output readable.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// capturingHandler records every lifecycle event it receives.
type capturingHandler struct {
	mu     sync.Mutex
	events []*events.TaskLifecycleEvent
}

func (h *capturingHandler) HandleEvent(_ context.Context, event *events.TaskLifecycleEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func (h *capturingHandler) byType(eventType string) []*events.TaskLifecycleEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*events.TaskLifecycleEvent
	for _, e := range h.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
