package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SystemAccessRecord is one audited use of the cross-tenant system
// context: who acted, why, and which tenants were touched.
type SystemAccessRecord struct {
	ID              uuid.UUID `json:"id"`
	Actor           string    `json:"actor"`
	Reason          string    `json:"reason"`
	Operation       string    `json:"operation"`
	AffectedTenants []string  `json:"affected_tenants"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// AuditStore records every use of the system context. The audit trail is
// append-only; records are never updated or deleted.
// Version: 1.0
type AuditStore interface {
	// RecordSystemAccess appends one system-context usage record.
	RecordSystemAccess(ctx context.Context, rec *SystemAccessRecord) error
}
