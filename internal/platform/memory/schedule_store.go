package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/store"
)

// ScheduleStore is an in-memory implementation of store.ScheduleStore.
// Safe for concurrent use.
type ScheduleStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*domain.ScheduleEntry
}

// NewScheduleStore creates an empty ScheduleStore.
func NewScheduleStore() *ScheduleStore {
	return &ScheduleStore{
		entries: make(map[uuid.UUID]*domain.ScheduleEntry),
	}
}

// CreateSchedule persists a new schedule entry.
func (s *ScheduleStore) CreateSchedule(_ context.Context, entry *domain.ScheduleEntry) error {
	if err := entry.Validate(); err != nil {
		return store.NewStoreError("schedule", "create", "validation failed", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; exists {
		return store.ErrDuplicate
	}

	cp := *entry
	s.entries[entry.ID] = &cp
	return nil
}

// ListSchedules returns all schedule entries.
func (s *ScheduleStore) ListSchedules(_ context.Context) ([]*domain.ScheduleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*domain.ScheduleEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		cp := *entry
		entries = append(entries, &cp)
	}
	return entries, nil
}

// AdvanceWatermark persists a new firing watermark. Values that do not
// move the watermark forward are ignored, keeping it monotonic.
func (s *ScheduleStore) AdvanceWatermark(_ context.Context, id uuid.UUID, watermark time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return store.ErrScheduleNotFound
	}

	if watermark.After(entry.LastFiredWatermark) {
		entry.LastFiredWatermark = watermark
		entry.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// SetEnabled enables or disables a schedule entry.
func (s *ScheduleStore) SetEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return store.ErrScheduleNotFound
	}
	entry.Enabled = enabled
	entry.UpdatedAt = time.Now().UTC()
	return nil
}
