package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/guildly/taskcore/internal/domain"
)

// EnvelopeStore defines the interface for persisting task envelopes.
// Implementations back the distributed work queue, so the claim primitive
// must be atomic and mutually exclusive across concurrent workers.
// Version: 1.0
type EnvelopeStore interface {
	// CreateEnvelope persists a new envelope in pending status.
	CreateEnvelope(ctx context.Context, env *domain.TaskEnvelope) error

	// GetEnvelope retrieves an envelope by ID.
	// Returns ErrEnvelopeNotFound if it does not exist.
	GetEnvelope(ctx context.Context, id uuid.UUID) (*domain.TaskEnvelope, error)

	// FindByIdempotencyKey returns the non-terminal envelope holding the
	// given key for a tenant and task type, or ErrEnvelopeNotFound. The
	// factory uses this to collapse duplicate enqueues onto the envelope
	// already in flight.
	FindByIdempotencyKey(ctx context.Context, tenantID, taskType, key string) (*domain.TaskEnvelope, error)

	// ClaimNext atomically claims the next eligible envelope (status
	// pending or retrying, not_before <= now) from the given queues,
	// ordered by priority descending then enqueue time, and moves it to
	// in_progress. No two callers ever receive the same envelope.
	// Returns ErrEnvelopeNotFound when no envelope is eligible.
	ClaimNext(ctx context.Context, queues []string, now time.Time) (*domain.TaskEnvelope, error)

	// CompleteEnvelope conditionally transitions an in_progress envelope
	// to completed. Returns ErrStaleTransition if the envelope is no
	// longer in_progress.
	CompleteEnvelope(ctx context.Context, id uuid.UUID) error

	// MarkRetrying conditionally transitions an in_progress envelope to
	// retrying with the incremented retry count, next eligibility time,
	// and last error recorded.
	MarkRetrying(ctx context.Context, id uuid.UUID, retryCount int, notBefore time.Time, lastError string) error

	// MarkDeadLettered conditionally transitions a non-terminal envelope
	// to dead_lettered, preserving the payload and recording the final
	// error for inspection or replay.
	MarkDeadLettered(ctx context.Context, id uuid.UUID, lastError string) error

	// CancelPending cancels an envelope that has not been claimed yet by
	// dead-lettering it with a cancellation note. Returns
	// ErrStaleTransition if the envelope has already been claimed or is
	// terminal.
	CancelPending(ctx context.Context, id uuid.UUID, note string) error

	// ListDeadLettered returns dead-lettered envelopes, newest first,
	// for inspection and replay.
	ListDeadLettered(ctx context.Context, limit int) ([]*domain.TaskEnvelope, error)
}
