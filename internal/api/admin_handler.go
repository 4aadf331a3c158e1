package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/guildly/taskcore/internal/api/shared"
	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/platform/logger"
	"github.com/guildly/taskcore/internal/task"
)

// DeadLetterResponse is one dead-lettered envelope as exposed to
// operators. The original payload is included for inspection.
type DeadLetterResponse struct {
	TaskID     string    `json:"task_id"`
	TenantID   string    `json:"tenant_id"`
	TaskType   string    `json:"task_type"`
	Payload    []byte    `json:"payload,omitempty"`
	Queue      string    `json:"queue"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	LastError  string    `json:"last_error"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ReplayResponse acknowledges a dead-letter replay with the fresh task ID.
type ReplayResponse struct {
	DeadTaskID string `json:"dead_task_id"`
	NewTaskID  string `json:"new_task_id"`
}

// AdminHandler handles operator-facing dead-letter routes. The system
// middleware has already verified the service key and bound an audited
// system context by the time these run.
type AdminHandler struct {
	service *task.Service
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service *task.Service) *AdminHandler {
	return &AdminHandler{service: service}
}

// ListDeadLetters handles GET /admin/dead-letters.
func (h *AdminHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	envelopes, err := h.service.ListDeadLetters(r.Context(), limit)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	responses := make([]DeadLetterResponse, 0, len(envelopes))
	for _, env := range envelopes {
		responses = append(responses, deadLetterToResponse(env))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// ReplayDeadLetter handles POST /admin/dead-letters/{id}/replay.
func (h *AdminHandler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	taskID, ok := pathTaskID(w, r)
	if !ok {
		return
	}

	newID, err := h.service.ReplayDeadLetter(r.Context(), taskID)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	log.Info("dead letter replay accepted",
		"dead_task_id", taskID,
		"new_task_id", newID)

	shared.RespondWithJSON(w, r, http.StatusAccepted, ReplayResponse{
		DeadTaskID: taskID.String(),
		NewTaskID:  newID.String(),
	})
}

// deadLetterToResponse converts a dead-lettered envelope to the API shape.
func deadLetterToResponse(env *domain.TaskEnvelope) DeadLetterResponse {
	return DeadLetterResponse{
		TaskID:     env.ID.String(),
		TenantID:   env.TenantID,
		TaskType:   env.TaskType,
		Payload:    env.Payload,
		Queue:      env.Queue,
		RetryCount: env.RetryCount,
		MaxRetries: env.MaxRetries,
		LastError:  env.LastError,
		UpdatedAt:  env.UpdatedAt,
	}
}
