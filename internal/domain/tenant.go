package domain

import (
	"errors"
	"time"
)

// Common tenant validation errors
var (
	ErrEmptyTenantID       = errors.New("tenant ID cannot be empty")
	ErrInvalidTenantTier   = errors.New("invalid tenant tier")
	ErrInvalidTenantStatus = errors.New("invalid tenant status")
)

// TenantTier represents the subscription level of a tenant.
type TenantTier string

// Possible tenant tier values
const (
	TierFree     TenantTier = "free"
	TierStandard TenantTier = "standard"
	TierPremium  TenantTier = "premium"
)

// TenantStatus represents the lifecycle state of a tenant account.
type TenantStatus string

// Possible tenant status values
const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusDeleted   TenantStatus = "deleted"
)

// Tenant represents an isolated customer account. All data and background
// work in the system is partitioned by the tenant's ID.
type Tenant struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Tier         TenantTier   `json:"tier"`
	Status       TenantStatus `json:"status"`
	FeatureFlags []string     `json:"feature_flags"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Validate checks if the Tenant has valid data.
// Returns an error if any field fails validation.
func (t *Tenant) Validate() error {
	if t.ID == "" {
		return ErrEmptyTenantID
	}

	switch t.Tier {
	case TierFree, TierStandard, TierPremium:
	default:
		return ErrInvalidTenantTier
	}

	switch t.Status {
	case TenantStatusActive, TenantStatusSuspended, TenantStatusDeleted:
	default:
		return ErrInvalidTenantStatus
	}

	return nil
}

// Active reports whether the tenant may authenticate and run work.
// Suspended and deleted tenants are rejected at the resolution boundary.
func (t *Tenant) Active() bool {
	return t.Status == TenantStatusActive
}

// TenantContext is the per-unit-of-work identity under which all data
// access and task execution happens. It is created per inbound request or
// per dequeued envelope, carried in a context.Context, and never persisted
// as global state.
//
// A system context (System == true) is the only way to perform
// cross-tenant administrative operations; every use of it is audited with
// the acting identity and a reason.
type TenantContext struct {
	TenantID     string
	Tier         TenantTier
	Status       TenantStatus
	FeatureFlags []string

	// System marks a privileged cross-tenant context. When set, TenantID
	// is empty and Actor/Reason identify who is acting and why.
	System bool
	Actor  string
	Reason string
}

// HasFeature reports whether the given capability flag is enabled for the
// tenant bound to this context.
func (tc TenantContext) HasFeature(flag string) bool {
	for _, f := range tc.FeatureFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// Owns reports whether this context is allowed to touch rows belonging to
// the given tenant. A system context owns everything; a tenant context
// owns exactly its own tenant's rows.
func (tc TenantContext) Owns(tenantID string) bool {
	if tc.System {
		return true
	}
	return tc.TenantID != "" && tc.TenantID == tenantID
}
