package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/events"
	"github.com/guildly/taskcore/internal/isolation"
	"github.com/guildly/taskcore/internal/platform/logger"
	"github.com/guildly/taskcore/internal/store"
	"github.com/guildly/taskcore/internal/tenant"
)

// PoolConfig holds configuration for the worker pool.
type PoolConfig struct {
	// WorkerCount determines how many concurrent workers claim envelopes.
	WorkerCount int

	// Queues is the queue set this pool claims from.
	Queues []string

	// PollInterval is how long a worker sleeps after an empty claim.
	PollInterval time.Duration

	// TaskTimeout bounds each handler execution. A timeout is a
	// transient failure.
	TaskTimeout time.Duration
}

// DefaultPoolConfig returns a PoolConfig with reasonable defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		WorkerCount:  4,
		Queues:       []string{"default"},
		PollInterval: 250 * time.Millisecond,
		TaskTimeout:  time.Minute,
	}
}

// Pool is a fixed-size pool of workers that claim eligible envelopes
// atomically from the envelope store, restore the owning tenant's context,
// execute the registered handler under a bounded timeout, and finalize the
// envelope. Claims are mutually exclusive, so no envelope is ever executed
// by two workers at once.
type Pool struct {
	envelopes store.EnvelopeStore
	results   store.ResultStore
	tenants   *tenant.MetadataCache
	registry  *Registry
	retryMgr  *RetryManager
	guard     *isolation.Guard
	emitter   events.EventEmitter
	config    PoolConfig
	logger    *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	// running tracks in-flight executions so an advisory cancel can reach
	// them cooperatively through context cancellation.
	runningMu sync.Mutex
	running   map[uuid.UUID]context.CancelFunc

	timeFunc func() time.Time // Injectable for testing
}

// NewPool creates a Pool. The registry must be sealed before Start.
func NewPool(
	envelopes store.EnvelopeStore,
	results store.ResultStore,
	tenants *tenant.MetadataCache,
	registry *Registry,
	retryMgr *RetryManager,
	guard *isolation.Guard,
	emitter events.EventEmitter,
	config PoolConfig,
	logger *slog.Logger,
) *Pool {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 250 * time.Millisecond
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		envelopes:  envelopes,
		results:    results,
		tenants:    tenants,
		registry:   registry,
		retryMgr:   retryMgr,
		guard:      guard,
		emitter:    emitter,
		config:     config,
		logger:     logger.With("component", "worker_pool"),
		ctx:        ctx,
		cancelFunc: cancel,
		running:    make(map[uuid.UUID]context.CancelFunc),
		timeFunc:   time.Now,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		"worker_count", p.config.WorkerCount,
		"queues", p.config.Queues)
}

// Stop gracefully shuts down the pool, waiting for in-flight executions
// to finish or time out.
func (p *Pool) Stop() {
	p.cancelFunc()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// CancelRunning cooperatively cancels an in-flight execution. Returns
// true if the task was running and its context has been cancelled; the
// handler must notice the cancellation itself, there is no pre-emption.
func (p *Pool) CancelRunning(taskID uuid.UUID) bool {
	p.runningMu.Lock()
	cancel, ok := p.running[taskID]
	p.runningMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// worker claims and processes envelopes until the pool stops.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := p.logger.With("worker_id", id)
	log.Debug("starting worker")

	for {
		select {
		case <-p.ctx.Done():
			log.Debug("stopping worker")
			return
		default:
		}

		env, err := p.envelopes.ClaimNext(p.ctx, p.config.Queues, p.timeFunc().UTC())
		if err != nil {
			if !store.IsNotFoundError(err) && !errors.Is(err, context.Canceled) {
				log.Error("failed to claim envelope", "error", err)
			}
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.config.PollInterval):
			}
			continue
		}

		p.process(env, log)
	}
}

// process executes one claimed envelope through to a state transition.
func (p *Pool) process(env *domain.TaskEnvelope, log *slog.Logger) {
	log = log.With(
		"task_id", env.ID,
		"task_type", env.TaskType,
		"tenant_id", env.TenantID,
	)
	ctx := logger.WithLogger(context.Background(), log)

	// Restore the tenant context for this envelope. A tenant that went
	// inactive while the envelope waited (or mid-retry) is refused at the
	// isolation boundary and the envelope dead-letters; the handler never
	// runs without a valid active-tenant context. A store outage during
	// the lookup is transient and re-enters the backoff loop instead.
	execCtx, bindErr := p.restoreContext(ctx, env)
	if bindErr != nil {
		log.Warn("tenant context restore failed", "error", bindErr)
		newStatus, err := p.retryMgr.HandleFailure(ctx, env, bindErr)
		if err != nil {
			log.Error("failed to finalize unrunnable envelope", "error", err)
			return
		}
		log.Info("task not runnable", "new_status", newStatus)
		return
	}

	handler, err := p.registry.Lookup(env.TaskType)
	if err != nil {
		// Only reachable for envelopes recovered from a deployment that
		// registered more types than this one; fail permanently rather
		// than retrying what no handler can serve.
		log.Error("no handler for claimed envelope", "error", err)
		if _, hErr := p.retryMgr.HandleFailure(ctx, env, Permanent(err)); hErr != nil {
			log.Error("failed to finalize unrunnable envelope", "error", hErr)
		}
		return
	}

	log.Info("processing task", "retry_count", env.RetryCount)

	resultPayload, execErr := p.execute(execCtx, env, handler)

	if execErr != nil {
		newStatus, hErr := p.retryMgr.HandleFailure(ctx, env, execErr)
		if hErr != nil {
			log.Error("failed to handle task failure", "error", hErr)
			return
		}
		log.Info("task failed", "new_status", newStatus)
		return
	}

	p.complete(ctx, env, resultPayload, log)
}

// restoreContext binds the TenantContext matching the envelope's tenant,
// or the audited system context for system-scoped envelopes. The errors it
// returns are already classified: an unknown or inactive tenant is
// permanent, a failing tenant lookup is transient.
func (p *Pool) restoreContext(ctx context.Context, env *domain.TaskEnvelope) (context.Context, error) {
	if env.SystemScoped && env.TenantID == "" {
		return isolation.WithSystemContext(ctx, "worker_pool", "system-scoped task "+env.TaskType), nil
	}

	t, err := p.tenants.Get(ctx, env.TenantID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, Permanent(fmt.Errorf("tenant inactive: %w", err))
		}
		// The store failing says nothing about the tenant's status.
		return nil, Transient(fmt.Errorf("tenant lookup failed: %w", err))
	}

	bound, err := p.guard.Bind(ctx, t)
	if err != nil {
		return nil, Permanent(fmt.Errorf("tenant inactive: tenant %q is %s", t.ID, t.Status))
	}
	return bound, nil
}

// execute runs the handler under the configured timeout, tracking the
// execution so advisory cancellation can reach it.
func (p *Pool) execute(ctx context.Context, env *domain.TaskEnvelope, handler Handler) ([]byte, error) {
	execCtx, cancel := context.WithTimeout(ctx, p.config.TaskTimeout)
	defer cancel()

	p.runningMu.Lock()
	p.running[env.ID] = cancel
	p.runningMu.Unlock()
	defer func() {
		p.runningMu.Lock()
		delete(p.running, env.ID)
		p.runningMu.Unlock()
	}()

	payload, err := handler.Handle(execCtx, env.Payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, Transient(fmt.Errorf("handler timed out after %s: %w", p.config.TaskTimeout, err))
		}
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			// The pool context is intact, so this cancellation came from
			// an advisory cancel request, not shutdown.
			return nil, Permanent(fmt.Errorf("cancelled by request: %w", err))
		}
		return nil, err
	}
	return payload, nil
}

// complete finalizes a successful execution: completed status, stored
// result, lifecycle event.
func (p *Pool) complete(ctx context.Context, env *domain.TaskEnvelope, resultPayload []byte, log *slog.Logger) {
	if err := p.envelopes.CompleteEnvelope(ctx, env.ID); err != nil {
		log.Error("failed to mark envelope completed", "error", err)
		return
	}
	env.Status = domain.StatusCompleted

	result := &domain.TaskResult{
		TaskID:        env.ID,
		TenantID:      env.TenantID,
		Status:        domain.StatusCompleted,
		ResultPayload: resultPayload,
		CompletedAt:   p.timeFunc().UTC(),
	}
	if err := p.results.SaveResult(ctx, result); err != nil {
		log.Error("failed to save task result", "error", err)
	}

	if p.emitter != nil {
		event := events.NewTaskLifecycleEvent(events.TypeTaskCompleted, env.ID, env.TenantID, env.TaskType, "")
		if err := p.emitter.EmitEvent(ctx, event); err != nil {
			log.Error("failed to emit lifecycle event", "error", err)
		}
	}

	log.Info("task completed successfully")
}
