package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/platform/logger"
	"github.com/guildly/taskcore/internal/store"
)

// envelopeColumns is the column list scanned by scanEnvelope.
const envelopeColumns = `
	id, tenant_id, task_type, payload, priority, queue, idempotency_key,
	retry_count, max_retries, not_before, status, last_error,
	system_scoped, created_at, updated_at
`

// EnvelopeStore implements store.EnvelopeStore using PostgreSQL. The
// claim primitive relies on FOR UPDATE SKIP LOCKED so concurrent workers
// never receive the same envelope.
type EnvelopeStore struct {
	db *sql.DB
}

// NewEnvelopeStore creates a new EnvelopeStore.
func NewEnvelopeStore(db *sql.DB) *EnvelopeStore {
	return &EnvelopeStore{db: db}
}

// CreateEnvelope persists a new envelope in pending status. The partial
// unique index on (tenant_id, task_type, idempotency_key) over
// non-terminal envelopes turns duplicate enqueue races into
// store.ErrDuplicate.
func (s *EnvelopeStore) CreateEnvelope(ctx context.Context, env *domain.TaskEnvelope) error {
	log := logger.FromContext(ctx)

	if err := env.Validate(); err != nil {
		return store.NewStoreError("envelope", "create", "validation failed", err)
	}

	query := `
		INSERT INTO task_envelopes (
			id, tenant_id, task_type, payload, priority, queue,
			idempotency_key, retry_count, max_retries, not_before,
			status, last_error, system_scoped, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := s.db.ExecContext(ctx, query,
		env.ID,
		env.TenantID,
		env.TaskType,
		env.Payload,
		env.Priority,
		env.Queue,
		env.IdempotencyKey,
		env.RetryCount,
		env.MaxRetries,
		env.NotBefore,
		env.Status,
		env.LastError,
		env.SystemScoped,
		env.CreatedAt,
		env.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return MapError(err)
		}
		log.Error("failed to create envelope",
			"task_id", env.ID,
			"task_type", env.TaskType,
			"error", err)
		return fmt.Errorf("failed to create envelope: %w", MapError(err))
	}

	return nil
}

// GetEnvelope retrieves an envelope by ID.
func (s *EnvelopeStore) GetEnvelope(ctx context.Context, id uuid.UUID) (*domain.TaskEnvelope, error) {
	query := `SELECT ` + envelopeColumns + ` FROM task_envelopes WHERE id = $1`

	env, err := scanEnvelope(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if mapped := MapError(err); store.IsNotFoundError(mapped) {
			return nil, store.ErrEnvelopeNotFound
		}
		return nil, fmt.Errorf("failed to get envelope: %w", err)
	}
	return env, nil
}

// FindByIdempotencyKey returns the non-terminal envelope holding the key.
func (s *EnvelopeStore) FindByIdempotencyKey(ctx context.Context, tenantID, taskType, key string) (*domain.TaskEnvelope, error) {
	query := `
		SELECT ` + envelopeColumns + `
		FROM task_envelopes
		WHERE tenant_id = $1
		  AND task_type = $2
		  AND idempotency_key = $3
		  AND status NOT IN ($4, $5)
		LIMIT 1
	`

	env, err := scanEnvelope(s.db.QueryRowContext(ctx, query,
		tenantID, taskType, key, domain.StatusCompleted, domain.StatusDeadLettered))
	if err != nil {
		if mapped := MapError(err); store.IsNotFoundError(mapped) {
			return nil, store.ErrEnvelopeNotFound
		}
		return nil, fmt.Errorf("failed to find envelope by idempotency key: %w", err)
	}
	return env, nil
}

// ClaimNext atomically claims the next eligible envelope from the given
// queues. The SKIP LOCKED row lock makes the claim mutually exclusive:
// a row selected by one worker is invisible to concurrent claims until
// the transaction commits, at which point its status is already
// in_progress.
func (s *EnvelopeStore) ClaimNext(ctx context.Context, queues []string, now time.Time) (*domain.TaskEnvelope, error) {
	var claimed *domain.TaskEnvelope

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		selectQuery := `
			SELECT ` + envelopeColumns + `
			FROM task_envelopes
			WHERE queue = ANY($1)
			  AND status IN ($2, $3)
			  AND not_before <= $4
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`

		env, err := scanEnvelope(tx.QueryRowContext(ctx, selectQuery,
			queues, domain.StatusPending, domain.StatusRetrying, now))
		if err != nil {
			return MapError(err)
		}

		updateQuery := `
			UPDATE task_envelopes
			SET status = $1, updated_at = now()
			WHERE id = $2
		`
		if _, err := tx.ExecContext(ctx, updateQuery, domain.StatusInProgress, env.ID); err != nil {
			return fmt.Errorf("failed to mark envelope in_progress: %w", err)
		}

		env.Status = domain.StatusInProgress
		claimed = env
		return nil
	})
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, store.ErrEnvelopeNotFound
		}
		return nil, err
	}

	return claimed, nil
}

// conditionalUpdate runs an UPDATE that must move exactly one row out of
// an expected status set; zero rows means the envelope raced into another
// state and the transition is stale.
func (s *EnvelopeStore) conditionalUpdate(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrStaleTransition
	}
	return nil
}

// CompleteEnvelope conditionally transitions in_progress -> completed.
func (s *EnvelopeStore) CompleteEnvelope(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE task_envelopes
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`
	return s.conditionalUpdate(ctx, query, domain.StatusCompleted, id, domain.StatusInProgress)
}

// MarkRetrying conditionally transitions in_progress -> retrying.
func (s *EnvelopeStore) MarkRetrying(ctx context.Context, id uuid.UUID, retryCount int, notBefore time.Time, lastError string) error {
	query := `
		UPDATE task_envelopes
		SET status = $1, retry_count = $2, not_before = $3, last_error = $4, updated_at = now()
		WHERE id = $5 AND status = $6
	`
	return s.conditionalUpdate(ctx, query,
		domain.StatusRetrying, retryCount, notBefore, lastError, id, domain.StatusInProgress)
}

// MarkDeadLettered conditionally transitions any non-terminal status to
// dead_lettered. The payload column is untouched: dead letters keep the
// original payload for inspection and replay.
func (s *EnvelopeStore) MarkDeadLettered(ctx context.Context, id uuid.UUID, lastError string) error {
	query := `
		UPDATE task_envelopes
		SET status = $1, last_error = $2, updated_at = now()
		WHERE id = $3 AND status NOT IN ($4, $5)
	`
	return s.conditionalUpdate(ctx, query,
		domain.StatusDeadLettered, lastError, id, domain.StatusCompleted, domain.StatusDeadLettered)
}

// CancelPending cancels an envelope that has not been claimed yet.
func (s *EnvelopeStore) CancelPending(ctx context.Context, id uuid.UUID, note string) error {
	query := `
		UPDATE task_envelopes
		SET status = $1, last_error = $2, updated_at = now()
		WHERE id = $3 AND status IN ($4, $5)
	`
	return s.conditionalUpdate(ctx, query,
		domain.StatusDeadLettered, note, id, domain.StatusPending, domain.StatusRetrying)
}

// ListDeadLettered returns dead-lettered envelopes, newest first.
func (s *EnvelopeStore) ListDeadLettered(ctx context.Context, limit int) ([]*domain.TaskEnvelope, error) {
	query := `
		SELECT ` + envelopeColumns + `
		FROM task_envelopes
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, domain.StatusDeadLettered, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var envelopes []*domain.TaskEnvelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan envelope row: %w", err)
		}
		envelopes = append(envelopes, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating envelope rows: %w", err)
	}

	return envelopes, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanEnvelope.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEnvelope reads one envelope from a row.
func scanEnvelope(row rowScanner) (*domain.TaskEnvelope, error) {
	var env domain.TaskEnvelope
	var lastError sql.NullString

	err := row.Scan(
		&env.ID,
		&env.TenantID,
		&env.TaskType,
		&env.Payload,
		&env.Priority,
		&env.Queue,
		&env.IdempotencyKey,
		&env.RetryCount,
		&env.MaxRetries,
		&env.NotBefore,
		&env.Status,
		&lastError,
		&env.SystemScoped,
		&env.CreatedAt,
		&env.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	env.LastError = lastError.String
	return &env, nil
}
