package task

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/isolation"
	"github.com/guildly/taskcore/internal/store"
)

func newService(f *fixture) *Service {
	return NewService(f.envelopes, f.results, f.factory, nil, f.guard)
}

// enqueue persists one envelope for the tenant and returns its ID.
func enqueue(t *testing.T, f *fixture, tenantID, taskType string) uuid.UUID {
	t.Helper()
	id, err := f.factory.Enqueue(f.boundCtx(tenantID), EnqueueRequest{
		TenantID:   tenantID,
		TaskType:   taskType,
		Payload:    []byte(`{"month":"2026-08"}`),
		MaxRetries: 2,
	})
	require.NoError(t, err)
	return id
}

func TestServiceGetStatus(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "acme")
	f.seedTenant(t, "globex")
	require.NoError(t, f.registry.Register("report.generate", noopHandler()))
	svc := newService(f)

	id := enqueue(t, f, "acme", "report.generate")

	t.Run("live status before any result exists", func(t *testing.T) {
		result, err := svc.GetStatus(f.boundCtx("acme"), id)
		require.NoError(t, err)
		assert.Equal(t, id, result.TaskID)
		assert.Equal(t, domain.StatusPending, result.Status)
		assert.Empty(t, result.ResultPayload)
	})

	t.Run("stored result once written", func(t *testing.T) {
		require.NoError(t, f.results.SaveResult(context.Background(), &domain.TaskResult{
			TaskID:        id,
			TenantID:      "acme",
			Status:        domain.StatusCompleted,
			ResultPayload: []byte(`{"rows":42}`),
			CompletedAt:   time.Now().UTC(),
		}))

		result, err := svc.GetStatus(f.boundCtx("acme"), id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, result.Status)
		assert.Equal(t, []byte(`{"rows":42}`), result.ResultPayload)
	})

	t.Run("unknown task", func(t *testing.T) {
		_, err := svc.GetStatus(f.boundCtx("acme"), uuid.New())
		assert.ErrorIs(t, err, store.ErrEnvelopeNotFound)
	})

	t.Run("other tenants cannot see the task", func(t *testing.T) {
		_, err := svc.GetStatus(f.boundCtx("globex"), id)
		assert.ErrorIs(t, err, isolation.ErrWrongTenant)
	})

	t.Run("no bound context", func(t *testing.T) {
		_, err := svc.GetStatus(context.Background(), id)
		assert.ErrorIs(t, err, isolation.ErrNoContext)
	})
}

func TestServiceCancel(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "acme")
	f.seedTenant(t, "globex")
	require.NoError(t, f.registry.Register("report.generate", noopHandler()))
	svc := newService(f)

	t.Run("unclaimed envelope cancels immediately", func(t *testing.T) {
		id := enqueue(t, f, "acme", "report.generate")

		require.NoError(t, svc.Cancel(f.boundCtx("acme"), id))

		env, err := f.envelopes.GetEnvelope(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusDeadLettered, env.Status)
		assert.Equal(t, "cancelled by request", env.LastError)
	})

	t.Run("terminal envelope acknowledges without change", func(t *testing.T) {
		id := enqueue(t, f, "acme", "report.generate")
		_, err := f.envelopes.ClaimNext(context.Background(), []string{"default"}, time.Now().UTC())
		require.NoError(t, err)
		require.NoError(t, f.envelopes.CompleteEnvelope(context.Background(), id))

		require.NoError(t, svc.Cancel(f.boundCtx("acme"), id))

		env, err := f.envelopes.GetEnvelope(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, env.Status)
	})

	t.Run("other tenants cannot cancel", func(t *testing.T) {
		id := enqueue(t, f, "acme", "report.generate")
		err := svc.Cancel(f.boundCtx("globex"), id)
		assert.ErrorIs(t, err, isolation.ErrWrongTenant)
	})
}

func TestServiceListDeadLetters(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "acme")
	require.NoError(t, f.registry.Register("report.generate", noopHandler()))
	svc := newService(f)

	id := enqueue(t, f, "acme", "report.generate")
	require.NoError(t, f.envelopes.MarkDeadLettered(context.Background(), id, "boom"))

	t.Run("requires the system context", func(t *testing.T) {
		_, err := svc.ListDeadLetters(f.boundCtx("acme"), 10)
		assert.ErrorIs(t, err, isolation.ErrWrongTenant)
	})

	t.Run("system context lists and is audited", func(t *testing.T) {
		dead, err := svc.ListDeadLetters(f.systemCtx(), 10)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, id, dead[0].ID)
		assert.Equal(t, "boom", dead[0].LastError)

		records := f.audit.Records()
		require.NotEmpty(t, records)
		assert.Equal(t, "dlq.list", records[len(records)-1].Operation)
	})
}

func TestServiceReplayDeadLetter(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "acme")
	require.NoError(t, f.registry.Register("report.generate", noopHandler()))
	svc := newService(f)

	id := enqueue(t, f, "acme", "report.generate")

	t.Run("refuses a non-dead envelope", func(t *testing.T) {
		_, err := svc.ReplayDeadLetter(f.systemCtx(), id)
		assert.ErrorIs(t, err, store.ErrStaleTransition)
	})

	require.NoError(t, f.envelopes.MarkDeadLettered(context.Background(), id, "boom"))

	t.Run("replays as fresh work", func(t *testing.T) {
		newID, err := svc.ReplayDeadLetter(f.systemCtx(), id)
		require.NoError(t, err)
		require.NotEqual(t, id, newID)

		// The dead letter stays terminal; the replay carries the original
		// payload and routing inputs under a fresh idempotency key.
		dead, err := f.envelopes.GetEnvelope(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusDeadLettered, dead.Status)

		replay, err := f.envelopes.GetEnvelope(context.Background(), newID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, replay.Status)
		assert.Equal(t, dead.TenantID, replay.TenantID)
		assert.Equal(t, dead.TaskType, replay.TaskType)
		assert.Equal(t, dead.Payload, replay.Payload)
		assert.Equal(t, dead.MaxRetries, replay.MaxRetries)
		assert.NotEqual(t, dead.IdempotencyKey, replay.IdempotencyKey)
	})

	t.Run("unknown dead letter", func(t *testing.T) {
		_, err := svc.ReplayDeadLetter(f.systemCtx(), uuid.New())
		assert.ErrorIs(t, err, store.ErrEnvelopeNotFound)
	})
}
