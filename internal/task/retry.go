package task

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/events"
	"github.com/guildly/taskcore/internal/platform/logger"
	"github.com/guildly/taskcore/internal/store"
)

// RetryPolicy configures the exponential backoff applied to transient
// failures.
type RetryPolicy struct {
	// BaseDelay is the backoff base: retry n waits roughly
	// BaseDelay * 2^n, with jitter.
	BaseDelay time.Duration

	// MaxDelay caps a single computed delay.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the backoff used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  5 * time.Minute,
	}
}

// RetryManager classifies execution failures and drives the envelope state
// machine to retrying or dead_lettered. Dead-lettering always preserves
// the original payload and the last error for inspection or replay.
type RetryManager struct {
	envelopes store.EnvelopeStore
	results   store.ResultStore
	emitter   events.EventEmitter
	policy    RetryPolicy

	timeFunc   func() time.Time // Injectable for testing
	jitterFunc func() float64   // Injectable for testing; uniform in [0,1)
}

// NewRetryManager creates a RetryManager.
func NewRetryManager(
	envelopes store.EnvelopeStore,
	results store.ResultStore,
	emitter events.EventEmitter,
	policy RetryPolicy,
) *RetryManager {
	if policy.BaseDelay <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &RetryManager{
		envelopes:  envelopes,
		results:    results,
		emitter:    emitter,
		policy:     policy,
		timeFunc:   time.Now,
		jitterFunc: rand.Float64,
	}
}

// HandleFailure classifies the execution error and transitions the
// envelope accordingly, returning the new status. Transient failures
// below the retry bound go to retrying with a jittered exponential
// not-before; everything else dead-letters.
func (m *RetryManager) HandleFailure(ctx context.Context, env *domain.TaskEnvelope, execErr error) (domain.EnvelopeStatus, error) {
	log := logger.FromContext(ctx).With(
		"task_id", env.ID,
		"task_type", env.TaskType,
	)

	if IsPermanent(execErr) {
		log.Warn("permanent task failure, dead-lettering",
			"error", execErr,
			"retry_count", env.RetryCount)
		return m.deadLetter(ctx, env, execErr)
	}

	if env.RetryCount >= env.MaxRetries {
		log.Warn("retries exhausted, dead-lettering",
			"error", execErr,
			"retry_count", env.RetryCount,
			"max_retries", env.MaxRetries)
		return m.deadLetter(ctx, env, execErr)
	}

	retryCount := env.RetryCount + 1
	delay := m.delay(retryCount)
	notBefore := m.timeFunc().UTC().Add(delay)

	if err := m.envelopes.MarkRetrying(ctx, env.ID, retryCount, notBefore, execErr.Error()); err != nil {
		return env.Status, fmt.Errorf("failed to mark envelope retrying: %w", err)
	}

	env.RetryCount = retryCount
	env.Status = domain.StatusRetrying
	env.NotBefore = notBefore
	env.LastError = execErr.Error()

	log.Info("transient task failure, scheduled retry",
		"error", execErr,
		"retry_count", retryCount,
		"max_retries", env.MaxRetries,
		"not_before", notBefore)

	m.emit(ctx, events.TypeTaskFailed, env, execErr.Error())

	return domain.StatusRetrying, nil
}

// deadLetter finalizes the envelope as dead_lettered and records a failed
// result so producers can observe the outcome via get_status.
func (m *RetryManager) deadLetter(ctx context.Context, env *domain.TaskEnvelope, execErr error) (domain.EnvelopeStatus, error) {
	log := logger.FromContext(ctx)

	if err := m.envelopes.MarkDeadLettered(ctx, env.ID, execErr.Error()); err != nil {
		return env.Status, fmt.Errorf("failed to dead-letter envelope: %w", err)
	}

	env.Status = domain.StatusDeadLettered
	env.LastError = execErr.Error()

	result := &domain.TaskResult{
		TaskID:      env.ID,
		TenantID:    env.TenantID,
		Status:      domain.StatusDeadLettered,
		ErrorDetail: execErr.Error(),
		CompletedAt: m.timeFunc().UTC(),
	}
	if err := m.results.SaveResult(ctx, result); err != nil {
		log.Error("failed to save dead-letter result",
			"task_id", env.ID,
			"error", err)
	}

	m.emit(ctx, events.TypeTaskDeadLettered, env, execErr.Error())

	return domain.StatusDeadLettered, nil
}

// delay computes the backoff before retry attempt n (1-indexed):
// BaseDelay * 2^n capped at MaxDelay, scaled by a jitter factor in
// [0.5, 1.0) so simultaneous failures do not retry in lockstep.
func (m *RetryManager) delay(attempt int) time.Duration {
	base := float64(m.policy.BaseDelay) * math.Pow(2, float64(attempt))
	if limit := float64(m.policy.MaxDelay); m.policy.MaxDelay > 0 && base > limit {
		base = limit
	}
	jitter := 0.5 + m.jitterFunc()/2
	return time.Duration(base * jitter)
}

// emit publishes a lifecycle event, logging (not failing) on emitter errors.
func (m *RetryManager) emit(ctx context.Context, eventType string, env *domain.TaskEnvelope, detail string) {
	if m.emitter == nil {
		return
	}
	event := events.NewTaskLifecycleEvent(eventType, env.ID, env.TenantID, env.TaskType, detail)
	if err := m.emitter.EmitEvent(ctx, event); err != nil {
		logger.FromContext(ctx).Error("failed to emit lifecycle event",
			"event_type", eventType,
			"task_id", env.ID,
			"error", err)
	}
}
