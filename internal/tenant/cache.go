package tenant

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/platform/logger"
	"github.com/guildly/taskcore/internal/store"
)

// cacheEntry holds one cached tenant with its expiry.
type cacheEntry struct {
	tenant    *domain.Tenant
	expiresAt time.Time
}

// MetadataCache caches resolved tenant metadata with a bounded TTL so the
// resolver does not hit the store on every request. Entries are
// invalidated immediately when a tenant-status-change signal arrives, so
// the cache can never serve a stale "active" status for a tenant that has
// since been suspended.
type MetadataCache struct {
	store store.TenantStore
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry

	// gens counts invalidations per tenant. A lookup records the
	// generation before hitting the store and only caches its result if
	// no invalidation landed in between, so a read racing a suspension
	// can never re-install the pre-suspension entry.
	gens map[string]uint64

	// group collapses concurrent misses for the same tenant into one
	// store lookup.
	group singleflight.Group

	timeFunc func() time.Time // Injectable for testing
}

// NewMetadataCache creates a MetadataCache over the given tenant store.
func NewMetadataCache(tenantStore store.TenantStore, ttl time.Duration) *MetadataCache {
	return &MetadataCache{
		store:    tenantStore,
		ttl:      ttl,
		entries:  make(map[string]cacheEntry),
		gens:     make(map[string]uint64),
		timeFunc: time.Now,
	}
}

// Get returns the tenant's metadata, from cache when fresh, otherwise from
// the store. Returns store.ErrTenantNotFound for unknown tenants; that
// outcome is deliberately not cached so a tenant created moments later is
// visible immediately.
func (c *MetadataCache) Get(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	now := c.timeFunc()

	c.mu.RLock()
	entry, ok := c.entries[tenantID]
	c.mu.RUnlock()

	if ok && now.Before(entry.expiresAt) {
		return entry.tenant, nil
	}

	v, err, _ := c.group.Do(tenantID, func() (interface{}, error) {
		c.mu.RLock()
		gen := c.gens[tenantID]
		c.mu.RUnlock()

		t, err := c.store.GetTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		// An invalidation that arrived while the store read was in
		// flight makes this read stale; skip the write so the next Get
		// consults the store again.
		if c.gens[tenantID] == gen {
			c.entries[tenantID] = cacheEntry{tenant: t, expiresAt: c.timeFunc().Add(c.ttl)}
		}
		c.mu.Unlock()

		return t, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Tenant), nil
}

// Invalidate drops the cached entry for the tenant. Called synchronously
// from the status-change feed, before the change is acknowledged, so the
// next Get observes the new status.
func (c *MetadataCache) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.gens[tenantID]++
	c.mu.Unlock()
}

// TenantStatusChanged implements StatusListener by invalidating the entry.
func (c *MetadataCache) TenantStatusChanged(ctx context.Context, tenantID string) {
	c.Invalidate(tenantID)
	logger.FromContext(ctx).Debug("tenant cache entry invalidated",
		"tenant_id", tenantID)
}
