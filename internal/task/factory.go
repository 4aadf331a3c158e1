package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/isolation"
	"github.com/guildly/taskcore/internal/platform/logger"
	"github.com/guildly/taskcore/internal/store"
	"github.com/guildly/taskcore/internal/tenant"
)

// EnqueueRequest describes one unit of work a producer wants executed.
type EnqueueRequest struct {
	TenantID   string
	TaskType   string
	Payload    []byte
	Priority   int
	MaxRetries int

	// IdempotencyKey deduplicates logically identical requests. When
	// empty, a deterministic key is derived from the tenant, task type,
	// and payload.
	IdempotencyKey string

	// NotBefore defers eligibility for execution. Zero means immediately
	// eligible.
	NotBefore time.Time
}

// Factory builds durable, idempotent envelopes from producer requests and
// routes them onto queues. It is the single entry point for enqueuing
// work, used by the HTTP API, the scheduler, and dead-letter replay alike.
type Factory struct {
	envelopes store.EnvelopeStore
	tenants   *tenant.MetadataCache
	registry  *Registry
	router    *Router
	guard     *isolation.Guard
	timeFunc  func() time.Time // Injectable for testing
}

// NewFactory creates a Factory.
func NewFactory(
	envelopes store.EnvelopeStore,
	tenants *tenant.MetadataCache,
	registry *Registry,
	router *Router,
	guard *isolation.Guard,
) *Factory {
	return &Factory{
		envelopes: envelopes,
		tenants:   tenants,
		registry:  registry,
		router:    router,
		guard:     guard,
		timeFunc:  time.Now,
	}
}

// Enqueue validates the request and persists a pending envelope, returning
// its ID. If a non-terminal envelope already holds the same idempotency
// key, its ID is returned unchanged instead of enqueuing a duplicate
// (at-most-one-in-flight-per-key).
func (f *Factory) Enqueue(ctx context.Context, req EnqueueRequest) (uuid.UUID, error) {
	log := logger.FromContext(ctx)

	if err := f.guard.Authorize(ctx, req.TenantID, "task.enqueue"); err != nil {
		return uuid.Nil, err
	}

	if !f.registry.Known(req.TaskType) {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, req.TaskType)
	}

	t, err := f.tenants.Get(ctx, req.TenantID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to check tenant status: %w", err)
	}
	if !t.Active() {
		return uuid.Nil, fmt.Errorf("%w: tenant %q is %s", isolation.ErrTenantInactive, t.ID, t.Status)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = domain.DeriveIdempotencyKey(req.TenantID, req.TaskType, req.Payload)
	}

	// Collapse onto an envelope already in flight for this key.
	if existing, err := f.envelopes.FindByIdempotencyKey(ctx, req.TenantID, req.TaskType, key); err == nil {
		log.Debug("enqueue collapsed onto in-flight envelope",
			"task_id", existing.ID,
			"task_type", req.TaskType,
			"idempotency_key", key)
		return existing.ID, nil
	} else if !store.IsNotFoundError(err) {
		return uuid.Nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	env, err := domain.NewTaskEnvelope(req.TenantID, req.TaskType, req.Payload, req.Priority, req.MaxRetries)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	env.IdempotencyKey = key
	env.Queue = f.router.Route(req.TaskType, t.Tier)
	if !req.NotBefore.IsZero() {
		env.NotBefore = req.NotBefore.UTC()
	}

	if err := f.envelopes.CreateEnvelope(ctx, env); err != nil {
		// Two producers can race past the idempotency check; the store's
		// unique key constraint settles it and we return the winner.
		if errors.Is(err, store.ErrDuplicate) {
			if existing, findErr := f.envelopes.FindByIdempotencyKey(ctx, req.TenantID, req.TaskType, key); findErr == nil {
				return existing.ID, nil
			}
		}
		return uuid.Nil, fmt.Errorf("failed to persist envelope: %w", err)
	}

	log.Info("task enqueued",
		"task_id", env.ID,
		"task_type", env.TaskType,
		"queue", env.Queue,
		"priority", env.Priority)

	return env.ID, nil
}
