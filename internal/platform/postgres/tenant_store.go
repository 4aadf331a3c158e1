// Package postgres implements the store interfaces on PostgreSQL using
// the pgx stdlib driver.
package postgres

import (
	"context"
	"fmt"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/platform/logger"
	"github.com/guildly/taskcore/internal/store"
)

// TenantStore implements store.TenantStore using PostgreSQL.
type TenantStore struct {
	db store.DBTX
}

// NewTenantStore creates a new TenantStore.
func NewTenantStore(db store.DBTX) *TenantStore {
	return &TenantStore{db: db}
}

// GetTenant retrieves a tenant by ID.
func (s *TenantStore) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	query := `
		SELECT id, name, tier, status, feature_flags, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`

	var t domain.Tenant
	var flags []byte
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&t.ID, &t.Name, &t.Tier, &t.Status, &flags, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if mapped := MapError(err); store.IsNotFoundError(mapped) {
			return nil, store.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	t.FeatureFlags = decodeFlags(flags)
	return &t, nil
}

// CreateTenant persists a new tenant.
func (s *TenantStore) CreateTenant(ctx context.Context, tenant *domain.Tenant) error {
	log := logger.FromContext(ctx)

	if err := tenant.Validate(); err != nil {
		return store.NewStoreError("tenant", "create", "validation failed", err)
	}

	query := `
		INSERT INTO tenants (id, name, tier, status, feature_flags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.Tier,
		tenant.Status,
		encodeFlags(tenant.FeatureFlags),
		tenant.CreatedAt,
		tenant.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create tenant",
			"tenant_id", tenant.ID,
			"error", err)
		return MapError(err)
	}

	return nil
}

// UpdateTenantStatus changes a tenant's lifecycle status.
func (s *TenantStore) UpdateTenantStatus(ctx context.Context, tenantID string, status domain.TenantStatus) error {
	query := `
		UPDATE tenants
		SET status = $1, updated_at = now()
		WHERE id = $2
	`

	result, err := s.db.ExecContext(ctx, query, status, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", MapError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrTenantNotFound
	}

	return nil
}

// ListActiveTenants returns a page of active tenant IDs ordered by ID,
// starting strictly after afterID.
func (s *TenantStore) ListActiveTenants(ctx context.Context, afterID string, limit int) ([]string, error) {
	query := `
		SELECT id
		FROM tenants
		WHERE status = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, domain.TenantStatusActive, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenant rows: %w", err)
	}

	return ids, nil
}
