package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/guildly/taskcore/internal/domain"
)

// ResultStore defines the interface for persisting task results.
// Results are only ever read within the owning tenant's context; the
// isolation guard enforces that before any call reaches the store.
// Version: 1.0
type ResultStore interface {
	// SaveResult persists the outcome of a finished envelope. Saving a
	// result for the same task twice overwrites the previous record.
	SaveResult(ctx context.Context, result *domain.TaskResult) error

	// GetResult retrieves the result for a task.
	// Returns ErrResultNotFound if no result has been written yet.
	GetResult(ctx context.Context, taskID uuid.UUID) (*domain.TaskResult, error)
}
