package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantValidate(t *testing.T) {
	valid := Tenant{ID: "acme", Name: "Acme", Tier: TierStandard, Status: TenantStatusActive}
	assert.NoError(t, valid.Validate())

	noID := valid
	noID.ID = ""
	assert.ErrorIs(t, noID.Validate(), ErrEmptyTenantID)

	badTier := valid
	badTier.Tier = "platinum"
	assert.ErrorIs(t, badTier.Validate(), ErrInvalidTenantTier)

	badStatus := valid
	badStatus.Status = "paused"
	assert.ErrorIs(t, badStatus.Validate(), ErrInvalidTenantStatus)
}

func TestTenantActive(t *testing.T) {
	assert.True(t, (&Tenant{Status: TenantStatusActive}).Active())
	assert.False(t, (&Tenant{Status: TenantStatusSuspended}).Active())
	assert.False(t, (&Tenant{Status: TenantStatusDeleted}).Active())
}

func TestTenantContextOwns(t *testing.T) {
	tc := TenantContext{TenantID: "acme"}
	assert.True(t, tc.Owns("acme"))
	assert.False(t, tc.Owns("globex"))
	assert.False(t, tc.Owns(""))

	// An empty context owns nothing, not even the empty tenant.
	empty := TenantContext{}
	assert.False(t, empty.Owns("acme"))
	assert.False(t, empty.Owns(""))

	system := TenantContext{System: true, Actor: "ops", Reason: "audit"}
	assert.True(t, system.Owns("acme"))
	assert.True(t, system.Owns("globex"))
}

func TestTenantContextHasFeature(t *testing.T) {
	tc := TenantContext{FeatureFlags: []string{"bulk_export", "priority_queue"}}
	assert.True(t, tc.HasFeature("bulk_export"))
	assert.False(t, tc.HasFeature("sso"))
	assert.False(t, TenantContext{}.HasFeature("bulk_export"))
}
