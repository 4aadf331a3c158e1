package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/store"
)

// ResultStore is an in-memory implementation of store.ResultStore.
// Safe for concurrent use.
type ResultStore struct {
	mu      sync.RWMutex
	results map[uuid.UUID]*domain.TaskResult
}

// NewResultStore creates an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[uuid.UUID]*domain.TaskResult),
	}
}

// SaveResult persists the outcome of a finished envelope.
func (s *ResultStore) SaveResult(_ context.Context, result *domain.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *result
	s.results[result.TaskID] = &cp
	return nil
}

// GetResult retrieves the result for a task.
func (s *ResultStore) GetResult(_ context.Context, taskID uuid.UUID) (*domain.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[taskID]
	if !ok {
		return nil, store.ErrResultNotFound
	}
	cp := *result
	return &cp, nil
}
