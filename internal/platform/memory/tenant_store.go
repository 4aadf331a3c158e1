// Package memory provides in-memory store implementations. They back unit
// tests and single-process local development; production deployments use
// the postgres implementations.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/store"
)

// TenantStore is an in-memory implementation of store.TenantStore.
// Safe for concurrent use.
type TenantStore struct {
	mu      sync.RWMutex
	tenants map[string]*domain.Tenant
}

// NewTenantStore creates an empty TenantStore.
func NewTenantStore() *TenantStore {
	return &TenantStore{
		tenants: make(map[string]*domain.Tenant),
	}
}

// GetTenant retrieves a tenant by ID.
func (s *TenantStore) GetTenant(_ context.Context, tenantID string) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, store.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

// CreateTenant persists a new tenant.
func (s *TenantStore) CreateTenant(_ context.Context, tenant *domain.Tenant) error {
	if err := tenant.Validate(); err != nil {
		return store.NewStoreError("tenant", "create", "validation failed", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[tenant.ID]; exists {
		return store.ErrDuplicate
	}

	cp := *tenant
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
		cp.UpdatedAt = cp.CreatedAt
	}
	s.tenants[tenant.ID] = &cp
	return nil
}

// UpdateTenantStatus changes a tenant's lifecycle status.
func (s *TenantStore) UpdateTenantStatus(_ context.Context, tenantID string, status domain.TenantStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return store.ErrTenantNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// ListActiveTenants returns a page of active tenant IDs ordered by ID,
// starting strictly after afterID.
func (s *TenantStore) ListActiveTenants(_ context.Context, afterID string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, t := range s.tenants {
		if t.Status == domain.TenantStatusActive && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
