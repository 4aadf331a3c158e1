package memory

import (
	"context"
	"sync"

	"github.com/guildly/taskcore/internal/store"
)

// AuditStore is an in-memory, append-only implementation of
// store.AuditStore. Safe for concurrent use.
type AuditStore struct {
	mu      sync.RWMutex
	records []store.SystemAccessRecord
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// RecordSystemAccess appends one system-context usage record.
func (s *AuditStore) RecordSystemAccess(_ context.Context, rec *store.SystemAccessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

// Records returns a copy of the audit trail, oldest first.
func (s *AuditStore) Records() []store.SystemAccessRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.SystemAccessRecord, len(s.records))
	copy(out, s.records)
	return out
}
