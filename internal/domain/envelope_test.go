package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskEnvelope(t *testing.T) {
	t.Run("valid envelope starts pending", func(t *testing.T) {
		env, err := NewTaskEnvelope("acme", "report.generate", []byte(`{"month":"2026-08"}`), 3, 5)
		require.NoError(t, err)

		assert.NotEqual(t, env.ID.String(), "00000000-0000-0000-0000-000000000000")
		assert.Equal(t, StatusPending, env.Status)
		assert.Equal(t, 0, env.RetryCount)
		assert.Equal(t, 5, env.MaxRetries)
		assert.False(t, env.NotBefore.After(env.CreatedAt))
	})

	t.Run("empty task type", func(t *testing.T) {
		_, err := NewTaskEnvelope("acme", "", nil, 0, 0)
		assert.ErrorIs(t, err, ErrEmptyTaskType)
	})

	t.Run("missing tenant", func(t *testing.T) {
		_, err := NewTaskEnvelope("", "report.generate", nil, 0, 0)
		assert.ErrorIs(t, err, ErrEnvelopeTenantMissing)
	})

	t.Run("negative max retries", func(t *testing.T) {
		_, err := NewTaskEnvelope("acme", "report.generate", nil, 0, -1)
		assert.ErrorIs(t, err, ErrNegativeMaxRetries)
	})

	t.Run("system scoped envelope needs no tenant", func(t *testing.T) {
		env := &TaskEnvelope{TaskType: "maintenance.vacuum", SystemScoped: true}
		assert.NoError(t, env.Validate())
	})
}

func TestEnvelopeStateMachine(t *testing.T) {
	tests := []struct {
		from    EnvelopeStatus
		to      EnvelopeStatus
		allowed bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusDeadLettered, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusRetrying, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusRetrying, true},
		{StatusInProgress, StatusDeadLettered, true},
		{StatusInProgress, StatusPending, false},
		{StatusRetrying, StatusInProgress, true},
		{StatusRetrying, StatusDeadLettered, true},
		{StatusRetrying, StatusPending, false},
		{StatusRetrying, StatusCompleted, false},
		// Terminal states have no exits.
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCompleted, StatusDeadLettered, false},
		{StatusDeadLettered, StatusPending, false},
		{StatusDeadLettered, StatusInProgress, false},
		{StatusDeadLettered, StatusCompleted, false},
		{StatusFailed, StatusInProgress, false},
	}

	for _, tc := range tests {
		name := string(tc.from) + "->" + string(tc.to)
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to))

			env := &TaskEnvelope{TenantID: "acme", TaskType: "x", Status: tc.from}
			err := env.Transition(tc.to)
			if tc.allowed {
				assert.NoError(t, err)
				assert.Equal(t, tc.to, env.Status)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tc.from, env.Status)
			}
		})
	}
}

func TestEnvelopeStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusDeadLettered.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.False(t, StatusRetrying.Terminal())
}

func TestDeriveIdempotencyKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a := DeriveIdempotencyKey("acme", "report.generate", []byte("p"))
		b := DeriveIdempotencyKey("acme", "report.generate", []byte("p"))
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("sensitive to each input", func(t *testing.T) {
		base := DeriveIdempotencyKey("acme", "report.generate", []byte("p"))
		assert.NotEqual(t, base, DeriveIdempotencyKey("globex", "report.generate", []byte("p")))
		assert.NotEqual(t, base, DeriveIdempotencyKey("acme", "report.export", []byte("p")))
		assert.NotEqual(t, base, DeriveIdempotencyKey("acme", "report.generate", []byte("q")))
	})

	t.Run("field boundaries are unambiguous", func(t *testing.T) {
		// Concatenation without separators would make these collide.
		a := DeriveIdempotencyKey("ab", "c", nil)
		b := DeriveIdempotencyKey("a", "bc", nil)
		assert.NotEqual(t, a, b)
	})
}
