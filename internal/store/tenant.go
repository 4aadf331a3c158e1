package store

import (
	"context"

	"github.com/guildly/taskcore/internal/domain"
)

// TenantStore defines the interface for tenant metadata persistence.
// Version: 1.0
type TenantStore interface {
	// GetTenant retrieves a tenant by ID.
	// Returns ErrTenantNotFound if the tenant does not exist.
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)

	// CreateTenant persists a new tenant.
	// Returns ErrDuplicate if a tenant with the same ID already exists.
	CreateTenant(ctx context.Context, tenant *domain.Tenant) error

	// UpdateTenantStatus changes a tenant's lifecycle status. Callers are
	// responsible for publishing the corresponding status-change signal so
	// resolver caches invalidate synchronously.
	UpdateTenantStatus(ctx context.Context, tenantID string, status domain.TenantStatus) error

	// ListActiveTenants returns a page of active tenant IDs ordered by ID,
	// starting strictly after afterID. Used by the scheduler to paginate
	// all-active-tenants fan-outs.
	ListActiveTenants(ctx context.Context, afterID string, limit int) ([]string, error)
}
