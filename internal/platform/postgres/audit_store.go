package postgres

import (
	"context"
	"fmt"

	"github.com/guildly/taskcore/internal/store"
)

// AuditStore implements store.AuditStore using PostgreSQL. The table is
// append-only; nothing in the codebase updates or deletes rows.
type AuditStore struct {
	db store.DBTX
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(db store.DBTX) *AuditStore {
	return &AuditStore{db: db}
}

// RecordSystemAccess appends one system-context usage record.
func (s *AuditStore) RecordSystemAccess(ctx context.Context, rec *store.SystemAccessRecord) error {
	query := `
		INSERT INTO system_access_audit (id, actor, reason, operation, affected_tenants, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Actor,
		rec.Reason,
		rec.Operation,
		rec.AffectedTenants,
		rec.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record system access: %w", MapError(err))
	}
	return nil
}
