package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/guildly/taskcore/internal/api"
	apiMiddleware "github.com/guildly/taskcore/internal/api/middleware"
)

// setupRouter configures the application router: standard chi middleware,
// trace IDs, tenant resolution on producer routes, and the audited system
// context on admin routes.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.Trace)

	taskHandler := api.NewTaskHandler(app.factory, app.taskService)
	adminHandler := api.NewAdminHandler(app.taskService)

	tenantMiddleware := apiMiddleware.NewTenantMiddleware(app.resolver, app.guard)
	systemMiddleware := apiMiddleware.NewSystemMiddleware(app.config.Auth.ServiceKeyHash)

	// Producer routes run under the resolved tenant's bound context.
	r.Group(func(r chi.Router) {
		r.Use(tenantMiddleware.Resolve)

		r.Post("/tasks", taskHandler.SubmitTask)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Delete("/tasks/{id}", taskHandler.CancelTask)
	})

	// Admin routes run under the audited system context.
	r.Route("/admin", func(r chi.Router) {
		r.Use(systemMiddleware.RequireSystem)

		r.Get("/dead-letters", adminHandler.ListDeadLetters)
		r.Post("/dead-letters/{id}/replay", adminHandler.ReplayDeadLetter)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
