package api

import (
	"errors"
	"net/http"

	"github.com/guildly/taskcore/internal/api/shared"
	"github.com/guildly/taskcore/internal/isolation"
	"github.com/guildly/taskcore/internal/store"
	"github.com/guildly/taskcore/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes. This
// keeps internal error types and messages out of client responses.
func MapErrorToStatusCode(err error) int {
	switch {
	// Isolation violations: the bound context does not own the target
	// rows, or no context is bound at all. Existence is not revealed.
	case errors.Is(err, isolation.ErrNoContext):
		return http.StatusUnauthorized
	case errors.Is(err, isolation.ErrTenantInactive):
		return http.StatusForbidden
	case isolation.IsViolation(err):
		return http.StatusForbidden

	// Not found errors
	case errors.Is(err, store.ErrEnvelopeNotFound),
		errors.Is(err, store.ErrResultNotFound),
		errors.Is(err, store.ErrTenantNotFound),
		errors.Is(err, store.ErrScheduleNotFound):
		return http.StatusNotFound

	// Conflicts: duplicate keys and transitions that lost a race.
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrStaleTransition):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, task.ErrUnknownTaskType),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, client-facing message for the
// error type, never the raw error string.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, isolation.ErrNoContext):
		return "Authentication required"
	case errors.Is(err, isolation.ErrTenantInactive):
		return "Tenant is not active"
	case isolation.IsViolation(err):
		return "Access denied"

	case errors.Is(err, store.ErrEnvelopeNotFound),
		errors.Is(err, store.ErrResultNotFound):
		return "Task not found"
	case errors.Is(err, store.ErrTenantNotFound):
		return "Tenant not found"
	case errors.Is(err, store.ErrScheduleNotFound):
		return "Schedule not found"

	case errors.Is(err, store.ErrDuplicate):
		return "Duplicate request"
	case errors.Is(err, store.ErrStaleTransition):
		return "Task is no longer in a state that allows this operation"

	case errors.Is(err, task.ErrUnknownTaskType):
		return "Unknown task type"
	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request data"

	default:
		return "An unexpected error occurred"
	}
}

// HandleServiceError writes the standard error response for a service
// call failure: mapped status code, safe message, redacted log entry.
func HandleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}
