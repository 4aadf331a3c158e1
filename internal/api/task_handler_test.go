package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/isolation"
	"github.com/guildly/taskcore/internal/platform/memory"
	"github.com/guildly/taskcore/internal/task"
	"github.com/guildly/taskcore/internal/tenant"
)

// apiFixture assembles the HTTP surface over in-memory stores.
type apiFixture struct {
	envelopes *memory.EnvelopeStore
	tenants   *memory.TenantStore
	results   *memory.ResultStore
	guard     *isolation.Guard
	service   *task.Service
	router    chi.Router
}

// bindTenant is a test middleware standing in for the resolver: it binds
// the given tenant context on every request.
func bindTenant(guard *isolation.Guard, tc domain.TenantContext) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := guard.BindResolved(r.Context(), tc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newAPIFixture(t *testing.T, boundTenant string) *apiFixture {
	t.Helper()

	f := &apiFixture{
		envelopes: memory.NewEnvelopeStore(),
		tenants:   memory.NewTenantStore(),
		results:   memory.NewResultStore(),
	}
	f.guard = isolation.NewGuard(memory.NewAuditStore())

	require.NoError(t, f.tenants.CreateTenant(context.Background(), &domain.Tenant{
		ID:     boundTenant,
		Name:   boundTenant,
		Tier:   domain.TierStandard,
		Status: domain.TenantStatusActive,
	}))
	cache := tenant.NewMetadataCache(f.tenants, time.Minute)

	registry := task.NewRegistry()
	require.NoError(t, registry.Register("report.generate", task.HandlerFunc(
		func(ctx context.Context, payload []byte) ([]byte, error) {
			return nil, nil
		})))
	registry.Seal()

	queueRouter, err := task.NewRouter(task.DefaultBindings())
	require.NoError(t, err)
	factory := task.NewFactory(f.envelopes, cache, registry, queueRouter, f.guard)
	f.service = task.NewService(f.envelopes, f.results, factory, nil, f.guard)

	handler := NewTaskHandler(factory, f.service)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(bindTenant(f.guard, domain.TenantContext{
			TenantID: boundTenant,
			Tier:     domain.TierStandard,
			Status:   domain.TenantStatusActive,
		}))
		r.Post("/tasks", handler.SubmitTask)
		r.Get("/tasks/{id}", handler.GetTask)
		r.Delete("/tasks/{id}", handler.CancelTask)
	})
	f.router = r
	return f
}

func (f *apiFixture) submit(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitTask(t *testing.T) {
	f := newAPIFixture(t, "acme")

	t.Run("accepts valid work", func(t *testing.T) {
		rec := f.submit(t, `{"task_type":"report.generate","payload":{"month":"2026-08"},"priority":3}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp SubmitTaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		id, err := uuid.Parse(resp.TaskID)
		require.NoError(t, err)

		env, err := f.envelopes.GetEnvelope(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "acme", env.TenantID)
		assert.Equal(t, 3, env.Priority)
		assert.Equal(t, defaultMaxRetries, env.MaxRetries)
	})

	t.Run("duplicate submission returns the original ID", func(t *testing.T) {
		body := `{"task_type":"report.generate","idempotency_key":"client-key-9"}`

		first := f.submit(t, body)
		require.Equal(t, http.StatusAccepted, first.Code)
		second := f.submit(t, body)
		require.Equal(t, http.StatusAccepted, second.Code)

		assert.JSONEq(t, first.Body.String(), second.Body.String())
	})

	t.Run("unknown task type", func(t *testing.T) {
		rec := f.submit(t, `{"task_type":"report.unknown"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing task type", func(t *testing.T) {
		rec := f.submit(t, `{"payload":{}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("priority out of range", func(t *testing.T) {
		rec := f.submit(t, `{"task_type":"report.generate","priority":99}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := f.submit(t, `{"task_type":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		rec := f.submit(t, `{"task_type":"report.generate","surprise":true}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetTask(t *testing.T) {
	f := newAPIFixture(t, "acme")

	rec := f.submit(t, `{"task_type":"report.generate"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted SubmitTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	taskID := uuid.MustParse(submitted.TaskID)

	t.Run("pending task reports live status", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tasks/"+submitted.TaskID, nil)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp TaskStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, string(domain.StatusPending), resp.Status)
		assert.Nil(t, resp.CompletedAt)
	})

	t.Run("finished task reports the stored result", func(t *testing.T) {
		completedAt := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, f.results.SaveResult(context.Background(), &domain.TaskResult{
			TaskID:        taskID,
			TenantID:      "acme",
			Status:        domain.StatusCompleted,
			ResultPayload: []byte(`{"rows":42}`),
			CompletedAt:   completedAt,
		}))

		req := httptest.NewRequest(http.MethodGet, "/tasks/"+submitted.TaskID, nil)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp TaskStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, string(domain.StatusCompleted), resp.Status)
		assert.JSONEq(t, `{"rows":42}`, string(resp.ResultPayload))
		require.NotNil(t, resp.CompletedAt)
		assert.True(t, resp.CompletedAt.Equal(completedAt))
	})

	t.Run("unknown task", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tasks/"+uuid.NewString(), nil)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed task ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tasks/not-a-uuid", nil)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetTaskIsolation(t *testing.T) {
	// Submit as acme, then query through a server bound to globex over the
	// same stores: the lookup must be refused, not just filtered.
	acme := newAPIFixture(t, "acme")
	rec := acme.submit(t, `{"task_type":"report.generate"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted SubmitTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	globexRouter := chi.NewRouter()
	handler := NewTaskHandler(nil, acme.service)
	globexRouter.Group(func(r chi.Router) {
		r.Use(bindTenant(acme.guard, domain.TenantContext{
			TenantID: "globex",
			Tier:     domain.TierStandard,
			Status:   domain.TenantStatusActive,
		}))
		r.Get("/tasks/{id}", handler.GetTask)
	})

	req := httptest.NewRequest(http.MethodGet, "/tasks/"+submitted.TaskID, nil)
	res := httptest.NewRecorder()
	globexRouter.ServeHTTP(res, req)
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestCancelTask(t *testing.T) {
	f := newAPIFixture(t, "acme")

	rec := f.submit(t, `{"task_type":"report.generate"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted SubmitTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	req := httptest.NewRequest(http.MethodDelete, "/tasks/"+submitted.TaskID, nil)
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	require.Equal(t, http.StatusAccepted, res.Code)

	env, err := f.envelopes.GetEnvelope(context.Background(), uuid.MustParse(submitted.TaskID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeadLettered, env.Status)
}
