package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler() Handler {
	return HandlerFunc(func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, nil
	})
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("report.generate", noopHandler()))
	assert.True(t, r.Known("report.generate"))
	assert.False(t, r.Known("report.export"))

	h, err := r.Lookup("report.generate")
	require.NoError(t, err)
	assert.NotNil(t, h)

	_, err = r.Lookup("report.export")
	assert.ErrorIs(t, err, ErrUnknownTaskType)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("report.generate", noopHandler()))

	err := r.Register("report.generate", noopHandler())
	assert.ErrorIs(t, err, ErrDuplicateHandler)
}

func TestRegistrySealFreezesRegistration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("report.generate", noopHandler()))
	r.Seal()

	err := r.Register("report.export", noopHandler())
	assert.ErrorIs(t, err, ErrRegistrySealed)

	// Existing registrations still resolve after sealing.
	_, err = r.Lookup("report.generate")
	assert.NoError(t, err)
}

func TestRegistryRejectsInvalidRegistrations(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("", noopHandler()))
	assert.Error(t, r.Register("report.generate", nil))
}

func TestRegistryTaskTypesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("b.second", noopHandler()))
	require.NoError(t, r.Register("a.first", noopHandler()))
	require.NoError(t, r.Register("c.third", noopHandler()))

	assert.Equal(t, []string{"a.first", "b.second", "c.third"}, r.TaskTypes())
}
