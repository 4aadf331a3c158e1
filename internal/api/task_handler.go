package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/guildly/taskcore/internal/api/shared"
	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/isolation"
	"github.com/guildly/taskcore/internal/platform/logger"
	"github.com/guildly/taskcore/internal/task"
)

// defaultMaxRetries applies when a submit request omits max_retries.
const defaultMaxRetries = 3

// SubmitTaskRequest is the request body for submitting a task.
type SubmitTaskRequest struct {
	TaskType       string          `json:"task_type"        validate:"required,min=1"`
	Payload        json.RawMessage `json:"payload"`
	Priority       int             `json:"priority"         validate:"gte=0,lte=9"`
	MaxRetries     *int            `json:"max_retries"      validate:"omitempty,gte=0,lte=20"`
	IdempotencyKey string          `json:"idempotency_key"  validate:"omitempty,max=256"`
	NotBefore      *time.Time      `json:"not_before"`
}

// SubmitTaskResponse acknowledges an accepted task.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
}

// TaskStatusResponse reports the current state of a task, including the
// result payload once the task finished.
type TaskStatusResponse struct {
	TaskID        string          `json:"task_id"`
	Status        string          `json:"status"`
	ResultPayload json.RawMessage `json:"result_payload,omitempty"`
	ErrorDetail   string          `json:"error_detail,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// TaskHandler handles producer-facing task requests.
type TaskHandler struct {
	factory   *task.Factory
	service   *task.Service
	validator *validator.Validate
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(factory *task.Factory, service *task.Service) *TaskHandler {
	return &TaskHandler{
		factory:   factory,
		service:   service,
		validator: validator.New(),
	}
}

// SubmitTask handles POST /tasks. Work is accepted for asynchronous
// execution, so the success status is 202 Accepted. Duplicate submissions
// under the same idempotency key return the original task ID.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	tc, ok := isolation.FromContext(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Tenant context required")
		return
	}

	var req SubmitTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	maxRetries := defaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	enqueue := task.EnqueueRequest{
		TenantID:       tc.TenantID,
		TaskType:       req.TaskType,
		Payload:        req.Payload,
		Priority:       req.Priority,
		MaxRetries:     maxRetries,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.NotBefore != nil {
		enqueue.NotBefore = *req.NotBefore
	}

	taskID, err := h.factory.Enqueue(r.Context(), enqueue)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	log.Info("task submitted",
		"task_id", taskID,
		"task_type", req.TaskType)

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		TaskID: taskID.String(),
	})
}

// GetTask handles GET /tasks/{id}. Lookups for tasks the bound tenant
// does not own fail as isolation violations, mapped to Forbidden.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathTaskID(w, r)
	if !ok {
		return
	}

	result, err := h.service.GetStatus(r.Context(), taskID)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resultToResponse(result))
}

// CancelTask handles DELETE /tasks/{id}. Cancellation is advisory: the
// response acknowledges the request, not a guarantee the work stopped.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathTaskID(w, r)
	if !ok {
		return
	}

	if err := h.service.Cancel(r.Context(), taskID); err != nil {
		HandleServiceError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, map[string]string{
		"task_id": taskID.String(),
		"status":  "cancellation_requested",
	})
}

// pathTaskID extracts and parses the {id} path parameter, writing the
// error response itself on failure.
func pathTaskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return uuid.Nil, false
	}
	return id, true
}

// resultToResponse converts a domain.TaskResult to the API shape.
func resultToResponse(result *domain.TaskResult) TaskStatusResponse {
	resp := TaskStatusResponse{
		TaskID:      result.TaskID.String(),
		Status:      string(result.Status),
		ErrorDetail: result.ErrorDetail,
	}
	if len(result.ResultPayload) > 0 {
		resp.ResultPayload = result.ResultPayload
	}
	if !result.CompletedAt.IsZero() {
		completedAt := result.CompletedAt
		resp.CompletedAt = &completedAt
	}
	return resp
}
