package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/platform/logger"
	"github.com/guildly/taskcore/internal/store"
)

// Service exposes the producer-facing task operations that are not
// enqueues: status polling, advisory cancellation, and dead-letter
// inspection/replay. Every operation is gated on the bound tenant
// context; ownership mismatches surface as isolation violations, which
// the API layer maps to Forbidden.
type Service struct {
	envelopes store.EnvelopeStore
	results   store.ResultStore
	factory   *Factory
	pool      *Pool
	guard     authorizer
}

// authorizer is the slice of the isolation guard the service needs.
type authorizer interface {
	Authorize(ctx context.Context, ownerTenantID, operation string) error
}

// NewService creates a Service.
func NewService(
	envelopes store.EnvelopeStore,
	results store.ResultStore,
	factory *Factory,
	pool *Pool,
	guard authorizer,
) *Service {
	return &Service{
		envelopes: envelopes,
		results:   results,
		factory:   factory,
		pool:      pool,
		guard:     guard,
	}
}

// GetStatus returns the result record for a task. For envelopes that have
// not finished yet, a snapshot with the current status and no payload is
// returned. Returns store.ErrEnvelopeNotFound for unknown IDs and an
// isolation violation when the bound context does not own the task.
func (s *Service) GetStatus(ctx context.Context, taskID uuid.UUID) (*domain.TaskResult, error) {
	env, err := s.envelopes.GetEnvelope(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if err := s.guard.Authorize(ctx, env.TenantID, "task.get_status"); err != nil {
		return nil, err
	}

	result, err := s.results.GetResult(ctx, taskID)
	if err == nil {
		return result, nil
	}
	if !store.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to load result: %w", err)
	}

	// No result written yet; report the envelope's live status.
	return &domain.TaskResult{
		TaskID:   env.ID,
		TenantID: env.TenantID,
		Status:   env.Status,
	}, nil
}

// Cancel requests cancellation of a task. The request is advisory: an
// unclaimed envelope is cancelled immediately; a running execution has
// its context cancelled and the handler must notice cooperatively; a
// terminal envelope is left untouched. The call acknowledges in all three
// cases.
func (s *Service) Cancel(ctx context.Context, taskID uuid.UUID) error {
	log := logger.FromContext(ctx)

	env, err := s.envelopes.GetEnvelope(ctx, taskID)
	if err != nil {
		return err
	}

	if err := s.guard.Authorize(ctx, env.TenantID, "task.cancel"); err != nil {
		return err
	}

	err = s.envelopes.CancelPending(ctx, taskID, "cancelled by request")
	if err == nil {
		log.Info("cancelled unclaimed task", "task_id", taskID)
		return nil
	}
	if !errors.Is(err, store.ErrStaleTransition) {
		return fmt.Errorf("failed to cancel task: %w", err)
	}

	// Already claimed or terminal; reach the running execution if there
	// is one.
	if s.pool != nil && s.pool.CancelRunning(taskID) {
		log.Info("requested cooperative cancellation of running task", "task_id", taskID)
	} else {
		log.Debug("cancel request arrived after task reached a terminal state", "task_id", taskID)
	}
	return nil
}

// ListDeadLetters returns dead-lettered envelopes for inspection. The
// caller must hold the system context; per-tenant callers inspect their
// failures through GetStatus.
func (s *Service) ListDeadLetters(ctx context.Context, limit int) ([]*domain.TaskEnvelope, error) {
	if err := s.guard.Authorize(ctx, "*", "dlq.list"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.envelopes.ListDeadLettered(ctx, limit)
}

// ReplayDeadLetter re-enqueues a dead-lettered envelope as a fresh
// envelope with the original payload and routing inputs. The dead
// letter itself stays terminal; the replay is a new unit of work.
func (s *Service) ReplayDeadLetter(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error) {
	env, err := s.envelopes.GetEnvelope(ctx, taskID)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.guard.Authorize(ctx, env.TenantID, "dlq.replay"); err != nil {
		return uuid.Nil, err
	}

	if env.Status != domain.StatusDeadLettered {
		return uuid.Nil, fmt.Errorf("%w: envelope %s is %s, not dead_lettered",
			store.ErrStaleTransition, env.ID, env.Status)
	}

	newID, err := s.factory.Enqueue(ctx, EnqueueRequest{
		TenantID:   env.TenantID,
		TaskType:   env.TaskType,
		Payload:    env.Payload,
		Priority:   env.Priority,
		MaxRetries: env.MaxRetries,
		// A fresh key: the replay is deliberate new work, not a duplicate
		// of the dead envelope.
		IdempotencyKey: fmt.Sprintf("replay:%s:%d", env.ID, time.Now().UTC().UnixNano()),
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to replay dead letter: %w", err)
	}

	logger.FromContext(ctx).Info("dead letter replayed",
		"dead_task_id", env.ID,
		"new_task_id", newID)

	return newID, nil
}
