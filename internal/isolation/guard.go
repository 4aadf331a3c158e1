// Package isolation enforces tenant data isolation: every tenant-scoped
// operation must run under a bound TenantContext that owns the rows it
// touches, and every use of the cross-tenant system context is audited.
//
// A failure here is treated as a programming or security error. Guards
// fail closed, log at the highest severity, and are never bypassed or
// defaulted.
package isolation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/platform/logger"
	"github.com/guildly/taskcore/internal/store"
)

// Isolation errors.
var (
	// ErrIsolationViolation is the root of the isolation failure family:
	// a data access was attempted with no bound context or with a context
	// that does not own the target rows. There is no "default to all
	// tenants" fallback.
	ErrIsolationViolation = errors.New("isolation violation")

	// ErrNoContext indicates no TenantContext was bound at all.
	ErrNoContext = fmt.Errorf("%w: no tenant context bound", ErrIsolationViolation)

	// ErrWrongTenant indicates the bound context does not own the rows
	// the operation targets.
	ErrWrongTenant = fmt.Errorf("%w: context does not own target tenant", ErrIsolationViolation)

	// ErrTenantInactive indicates the bound tenant is no longer active.
	// Work for suspended or deleted tenants is refused at this boundary.
	ErrTenantInactive = fmt.Errorf("%w: tenant inactive", ErrIsolationViolation)
)

// IsViolation checks if the error belongs to the isolation failure family.
func IsViolation(err error) bool {
	return errors.Is(err, ErrIsolationViolation)
}

// Guard gates tenant-scoped operations on a correctly bound context and
// records every system-context access in the audit store.
type Guard struct {
	audit    store.AuditStore
	timeFunc func() time.Time // Injectable for testing
}

// NewGuard creates a Guard writing system-context audit records to the
// given store.
func NewGuard(audit store.AuditStore) *Guard {
	return &Guard{
		audit:    audit,
		timeFunc: time.Now,
	}
}

// Bind validates the tenant is active and returns a context carrying its
// TenantContext. It is the only way (besides WithSystemContext) to
// produce a bound context, so a bound context always corresponds to a
// tenant that was active at bind time.
func (g *Guard) Bind(ctx context.Context, t *domain.Tenant) (context.Context, error) {
	if !t.Active() {
		logger.FromContext(ctx).Error("refusing to bind inactive tenant",
			"tenant_id", t.ID,
			"tenant_status", t.Status)
		return nil, fmt.Errorf("%w: tenant %q is %s", ErrTenantInactive, t.ID, t.Status)
	}

	return withTenantContext(ctx, domain.TenantContext{
		TenantID:     t.ID,
		Tier:         t.Tier,
		Status:       t.Status,
		FeatureFlags: t.FeatureFlags,
	}), nil
}

// BindResolved binds an already-resolved TenantContext (produced by the
// tenant resolver, which has applied its own status checks).
func (g *Guard) BindResolved(ctx context.Context, tc domain.TenantContext) context.Context {
	return withTenantContext(ctx, tc)
}

// Authorize is the gate in front of every tenant-scoped data access: the
// calling context must be bound and must own ownerTenantID, otherwise the
// operation fails closed with an isolation violation. System-context use
// is allowed and audited with the caller identity, reason, and affected
// tenant.
func (g *Guard) Authorize(ctx context.Context, ownerTenantID, operation string) error {
	log := logger.FromContext(ctx)

	tc, ok := FromContext(ctx)
	if !ok {
		log.Error("isolation violation: data access with no bound context",
			"operation", operation,
			"owner_tenant_id", ownerTenantID)
		return ErrNoContext
	}

	if tc.System {
		return g.recordSystemAccess(ctx, tc, operation, []string{ownerTenantID})
	}

	if !tc.Owns(ownerTenantID) {
		log.Error("isolation violation: context does not own target rows",
			"operation", operation,
			"bound_tenant_id", tc.TenantID,
			"owner_tenant_id", ownerTenantID)
		return ErrWrongTenant
	}

	return nil
}

// recordSystemAccess writes the audit record for one system-context use.
// The access is refused if the record cannot be written; an unauditable
// cross-tenant operation must not proceed.
func (g *Guard) recordSystemAccess(ctx context.Context, tc domain.TenantContext, operation string, affected []string) error {
	log := logger.FromContext(ctx)

	rec := &store.SystemAccessRecord{
		ID:              uuid.New(),
		Actor:           tc.Actor,
		Reason:          tc.Reason,
		Operation:       operation,
		AffectedTenants: affected,
		OccurredAt:      g.timeFunc().UTC(),
	}

	if err := g.audit.RecordSystemAccess(ctx, rec); err != nil {
		log.Error("failed to audit system context access, refusing operation",
			"actor", tc.Actor,
			"operation", operation,
			"error", err)
		return fmt.Errorf("failed to audit system access: %w", err)
	}

	log.Warn("system context access",
		"actor", tc.Actor,
		"reason", tc.Reason,
		"operation", operation,
		"affected_tenants", affected)

	return nil
}
