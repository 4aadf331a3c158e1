package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/store"
)

// ResultStore implements store.ResultStore using PostgreSQL.
type ResultStore struct {
	db store.DBTX
}

// NewResultStore creates a new ResultStore.
func NewResultStore(db store.DBTX) *ResultStore {
	return &ResultStore{db: db}
}

// SaveResult persists the outcome of a finished task. A replayed write
// for the same task overwrites the previous record.
func (s *ResultStore) SaveResult(ctx context.Context, result *domain.TaskResult) error {
	query := `
		INSERT INTO task_results (task_id, tenant_id, status, result_payload, error_detail, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id) DO UPDATE
		SET status = EXCLUDED.status,
		    result_payload = EXCLUDED.result_payload,
		    error_detail = EXCLUDED.error_detail,
		    completed_at = EXCLUDED.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		result.TaskID,
		result.TenantID,
		result.Status,
		result.ResultPayload,
		result.ErrorDetail,
		result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save task result: %w", MapError(err))
	}
	return nil
}

// GetResult retrieves the result for a task.
func (s *ResultStore) GetResult(ctx context.Context, taskID uuid.UUID) (*domain.TaskResult, error) {
	query := `
		SELECT task_id, tenant_id, status, result_payload, error_detail, completed_at
		FROM task_results
		WHERE task_id = $1
	`

	var r domain.TaskResult
	var errorDetail sql.NullString
	err := s.db.QueryRowContext(ctx, query, taskID).Scan(
		&r.TaskID, &r.TenantID, &r.Status, &r.ResultPayload, &errorDetail, &r.CompletedAt,
	)
	if err != nil {
		if mapped := MapError(err); store.IsNotFoundError(mapped) {
			return nil, store.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get task result: %w", err)
	}

	r.ErrorDetail = errorDetail.String
	return &r, nil
}
