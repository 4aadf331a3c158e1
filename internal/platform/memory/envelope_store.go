package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/store"
)

// EnvelopeStore is an in-memory implementation of store.EnvelopeStore.
// The claim primitive holds the store lock across the scan-and-transition,
// which gives the same mutual exclusion the Postgres implementation gets
// from FOR UPDATE SKIP LOCKED.
type EnvelopeStore struct {
	mu        sync.Mutex
	envelopes map[uuid.UUID]*domain.TaskEnvelope
	// order preserves enqueue order for the FIFO tie-break at equal
	// priority within a queue.
	order []uuid.UUID
}

// NewEnvelopeStore creates an empty EnvelopeStore.
func NewEnvelopeStore() *EnvelopeStore {
	return &EnvelopeStore{
		envelopes: make(map[uuid.UUID]*domain.TaskEnvelope),
	}
}

// CreateEnvelope persists a new envelope in pending status.
func (s *EnvelopeStore) CreateEnvelope(_ context.Context, env *domain.TaskEnvelope) error {
	if err := env.Validate(); err != nil {
		return store.NewStoreError("envelope", "create", "validation failed", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.envelopes[env.ID]; exists {
		return store.ErrDuplicate
	}

	// Enforce the at-most-one-in-flight-per-key constraint the way the
	// database's partial unique index does.
	for _, other := range s.envelopes {
		if other.TenantID == env.TenantID &&
			other.TaskType == env.TaskType &&
			other.IdempotencyKey == env.IdempotencyKey &&
			!other.Status.Terminal() {
			return store.ErrDuplicate
		}
	}

	cp := *env
	s.envelopes[env.ID] = &cp
	s.order = append(s.order, env.ID)
	return nil
}

// GetEnvelope retrieves an envelope by ID.
func (s *EnvelopeStore) GetEnvelope(_ context.Context, id uuid.UUID) (*domain.TaskEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.envelopes[id]
	if !ok {
		return nil, store.ErrEnvelopeNotFound
	}
	cp := *env
	return &cp, nil
}

// FindByIdempotencyKey returns the non-terminal envelope holding the key.
func (s *EnvelopeStore) FindByIdempotencyKey(_ context.Context, tenantID, taskType, key string) (*domain.TaskEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		env := s.envelopes[id]
		if env.TenantID == tenantID &&
			env.TaskType == taskType &&
			env.IdempotencyKey == key &&
			!env.Status.Terminal() {
			cp := *env
			return &cp, nil
		}
	}
	return nil, store.ErrEnvelopeNotFound
}

// ClaimNext atomically claims the next eligible envelope from the given
// queues: highest priority first, then enqueue order.
func (s *EnvelopeStore) ClaimNext(_ context.Context, queues []string, now time.Time) (*domain.TaskEnvelope, error) {
	queueSet := make(map[string]bool, len(queues))
	for _, q := range queues {
		queueSet[q] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*domain.TaskEnvelope
	for _, id := range s.order {
		env := s.envelopes[id]
		if !queueSet[env.Queue] {
			continue
		}
		if env.Status != domain.StatusPending && env.Status != domain.StatusRetrying {
			continue
		}
		if env.NotBefore.After(now) {
			continue
		}
		eligible = append(eligible, env)
	}
	if len(eligible) == 0 {
		return nil, store.ErrEnvelopeNotFound
	}

	// Stable sort keeps enqueue order as the tie-break at equal priority.
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Priority > eligible[j].Priority
	})

	env := eligible[0]
	env.Status = domain.StatusInProgress
	env.UpdatedAt = time.Now().UTC()

	cp := *env
	return &cp, nil
}

// transition applies a conditional status change under the store lock.
func (s *EnvelopeStore) transition(id uuid.UUID, allowedFrom []domain.EnvelopeStatus, apply func(*domain.TaskEnvelope)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.envelopes[id]
	if !ok {
		return store.ErrEnvelopeNotFound
	}

	allowed := false
	for _, from := range allowedFrom {
		if env.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return store.ErrStaleTransition
	}

	apply(env)
	env.UpdatedAt = time.Now().UTC()
	return nil
}

// CompleteEnvelope conditionally transitions in_progress -> completed.
func (s *EnvelopeStore) CompleteEnvelope(_ context.Context, id uuid.UUID) error {
	return s.transition(id, []domain.EnvelopeStatus{domain.StatusInProgress}, func(env *domain.TaskEnvelope) {
		env.Status = domain.StatusCompleted
	})
}

// MarkRetrying conditionally transitions in_progress -> retrying.
func (s *EnvelopeStore) MarkRetrying(_ context.Context, id uuid.UUID, retryCount int, notBefore time.Time, lastError string) error {
	return s.transition(id, []domain.EnvelopeStatus{domain.StatusInProgress}, func(env *domain.TaskEnvelope) {
		env.Status = domain.StatusRetrying
		env.RetryCount = retryCount
		env.NotBefore = notBefore
		env.LastError = lastError
	})
}

// MarkDeadLettered conditionally transitions any non-terminal status to
// dead_lettered, preserving the payload.
func (s *EnvelopeStore) MarkDeadLettered(_ context.Context, id uuid.UUID, lastError string) error {
	nonTerminal := []domain.EnvelopeStatus{
		domain.StatusPending,
		domain.StatusInProgress,
		domain.StatusRetrying,
	}
	return s.transition(id, nonTerminal, func(env *domain.TaskEnvelope) {
		env.Status = domain.StatusDeadLettered
		env.LastError = lastError
	})
}

// CancelPending cancels an envelope that has not been claimed yet.
func (s *EnvelopeStore) CancelPending(_ context.Context, id uuid.UUID, note string) error {
	return s.transition(id, []domain.EnvelopeStatus{domain.StatusPending, domain.StatusRetrying}, func(env *domain.TaskEnvelope) {
		env.Status = domain.StatusDeadLettered
		env.LastError = note
	})
}

// ListDeadLettered returns dead-lettered envelopes, newest first.
func (s *EnvelopeStore) ListDeadLettered(_ context.Context, limit int) ([]*domain.TaskEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dead []*domain.TaskEnvelope
	for _, id := range s.order {
		env := s.envelopes[id]
		if env.Status == domain.StatusDeadLettered {
			cp := *env
			dead = append(dead, &cp)
		}
	}

	sort.SliceStable(dead, func(i, j int) bool {
		return dead[i].UpdatedAt.After(dead[j].UpdatedAt)
	})

	if limit > 0 && len(dead) > limit {
		dead = dead[:limit]
	}
	return dead, nil
}
