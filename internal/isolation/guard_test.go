package isolation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/platform/memory"
	"github.com/guildly/taskcore/internal/store"
)

func activeTenant(id string) *domain.Tenant {
	return &domain.Tenant{
		ID:     id,
		Name:   id,
		Tier:   domain.TierStandard,
		Status: domain.TenantStatusActive,
	}
}

func TestGuardBind(t *testing.T) {
	guard := NewGuard(memory.NewAuditStore())

	t.Run("active tenant binds", func(t *testing.T) {
		ctx, err := guard.Bind(context.Background(), activeTenant("acme"))
		require.NoError(t, err)

		tc, ok := FromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, "acme", tc.TenantID)
		assert.False(t, tc.System)
	})

	t.Run("suspended tenant refused", func(t *testing.T) {
		suspended := activeTenant("acme")
		suspended.Status = domain.TenantStatusSuspended

		_, err := guard.Bind(context.Background(), suspended)
		assert.ErrorIs(t, err, ErrTenantInactive)
		assert.True(t, IsViolation(err))
	})

	t.Run("deleted tenant refused", func(t *testing.T) {
		deleted := activeTenant("acme")
		deleted.Status = domain.TenantStatusDeleted

		_, err := guard.Bind(context.Background(), deleted)
		assert.ErrorIs(t, err, ErrTenantInactive)
	})
}

func TestGuardAuthorize(t *testing.T) {
	guard := NewGuard(memory.NewAuditStore())

	t.Run("no bound context fails closed", func(t *testing.T) {
		err := guard.Authorize(context.Background(), "acme", "task.enqueue")
		assert.ErrorIs(t, err, ErrNoContext)
		assert.True(t, IsViolation(err))
	})

	t.Run("owner passes", func(t *testing.T) {
		ctx, err := guard.Bind(context.Background(), activeTenant("acme"))
		require.NoError(t, err)
		assert.NoError(t, guard.Authorize(ctx, "acme", "task.enqueue"))
	})

	t.Run("non-owner refused", func(t *testing.T) {
		ctx, err := guard.Bind(context.Background(), activeTenant("acme"))
		require.NoError(t, err)

		err = guard.Authorize(ctx, "globex", "task.get_status")
		assert.ErrorIs(t, err, ErrWrongTenant)
		assert.True(t, IsViolation(err))
	})
}

func TestGuardSystemContextAudit(t *testing.T) {
	t.Run("system access is recorded", func(t *testing.T) {
		audit := memory.NewAuditStore()
		guard := NewGuard(audit)
		now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
		guard.timeFunc = func() time.Time { return now }

		ctx := WithSystemContext(context.Background(), "ops_cli", "incident 4711")
		require.NoError(t, guard.Authorize(ctx, "acme", "dlq.replay"))

		records := audit.Records()
		require.Len(t, records, 1)
		assert.Equal(t, "ops_cli", records[0].Actor)
		assert.Equal(t, "incident 4711", records[0].Reason)
		assert.Equal(t, "dlq.replay", records[0].Operation)
		assert.Equal(t, []string{"acme"}, records[0].AffectedTenants)
		assert.Equal(t, now, records[0].OccurredAt)
	})

	t.Run("unauditable access is refused", func(t *testing.T) {
		guard := NewGuard(failingAuditStore{})

		ctx := WithSystemContext(context.Background(), "ops_cli", "incident 4711")
		err := guard.Authorize(ctx, "acme", "dlq.replay")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to audit")
	})
}

type failingAuditStore struct{}

func (failingAuditStore) RecordSystemAccess(context.Context, *store.SystemAccessRecord) error {
	return errors.New("audit store unavailable")
}

// TestGuardNoCrossTenantLeakage drives random authorization pairs through
// the guard and asserts the only pairs that ever pass are exact ownership
// matches.
func TestGuardNoCrossTenantLeakage(t *testing.T) {
	guard := NewGuard(memory.NewAuditStore())

	tenantIDs := make([]string, 20)
	for i := range tenantIDs {
		tenantIDs[i] = fmt.Sprintf("tenant-%02d", i)
	}

	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		bound := tenantIDs[rng.IntN(len(tenantIDs))]
		target := tenantIDs[rng.IntN(len(tenantIDs))]

		ctx, err := guard.Bind(context.Background(), activeTenant(bound))
		require.NoError(t, err)

		err = guard.Authorize(ctx, target, "task.get_status")
		if bound == target {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, ErrWrongTenant,
				"context %q must never reach %q", bound, target)
		}
	}
}
