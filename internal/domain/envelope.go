package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common envelope validation errors
var (
	ErrEmptyTaskType         = errors.New("task type cannot be empty")
	ErrEnvelopeTenantMissing = errors.New("envelope must carry a tenant ID unless system-scoped")
	ErrNegativeMaxRetries    = errors.New("max retries cannot be negative")
	ErrInvalidTransition     = errors.New("invalid envelope status transition")
)

// EnvelopeStatus represents the current state of a task envelope.
type EnvelopeStatus string

// Envelope status values. Terminal states are completed and dead_lettered;
// no envelope ever re-enters pending after leaving it.
const (
	StatusPending      EnvelopeStatus = "pending"
	StatusInProgress   EnvelopeStatus = "in_progress"
	StatusRetrying     EnvelopeStatus = "retrying"
	StatusCompleted    EnvelopeStatus = "completed"
	StatusFailed       EnvelopeStatus = "failed"
	StatusDeadLettered EnvelopeStatus = "dead_lettered"
)

// Terminal reports whether the status is a terminal state.
func (s EnvelopeStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDeadLettered
}

// validTransitions is the envelope state machine:
// pending -> in_progress -> {completed | retrying | dead_lettered}
// retrying -> in_progress (after not_before elapses)
// Both terminal states, and the legacy failed state, have no exits.
var validTransitions = map[EnvelopeStatus][]EnvelopeStatus{
	StatusPending:    {StatusInProgress, StatusDeadLettered},
	StatusInProgress: {StatusCompleted, StatusRetrying, StatusDeadLettered},
	StatusRetrying:   {StatusInProgress, StatusDeadLettered},
}

// CanTransition reports whether moving from to next is a legal step of the
// envelope state machine.
func CanTransition(from, next EnvelopeStatus) bool {
	for _, s := range validTransitions[from] {
		if s == next {
			return true
		}
	}
	return false
}

// TaskEnvelope is the durable record representing one unit of asynchronous
// work. It is persisted on enqueue and survives retries, crashes, and
// dead-lettering with its payload intact.
type TaskEnvelope struct {
	ID             uuid.UUID      `json:"id"`
	TenantID       string         `json:"tenant_id"`
	TaskType       string         `json:"task_type"`
	Payload        []byte         `json:"payload"`
	Priority       int            `json:"priority"`
	Queue          string         `json:"queue"`
	IdempotencyKey string         `json:"idempotency_key"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	NotBefore      time.Time      `json:"not_before"`
	Status         EnvelopeStatus `json:"status"`
	LastError      string         `json:"last_error,omitempty"`
	SystemScoped   bool           `json:"system_scoped,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewTaskEnvelope creates a pending envelope for the given tenant and task
// type. The idempotency key, queue, and scheduling fields are filled in by
// the envelope factory before persistence.
func NewTaskEnvelope(tenantID, taskType string, payload []byte, priority, maxRetries int) (*TaskEnvelope, error) {
	now := time.Now().UTC()
	env := &TaskEnvelope{
		ID:         uuid.New(),
		TenantID:   tenantID,
		TaskType:   taskType,
		Payload:    payload,
		Priority:   priority,
		MaxRetries: maxRetries,
		NotBefore:  now,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}

	return env, nil
}

// Validate checks if the TaskEnvelope has valid data.
// Returns an error if any field fails validation.
func (e *TaskEnvelope) Validate() error {
	if e.TaskType == "" {
		return ErrEmptyTaskType
	}

	if e.TenantID == "" && !e.SystemScoped {
		return ErrEnvelopeTenantMissing
	}

	if e.MaxRetries < 0 {
		return ErrNegativeMaxRetries
	}

	return nil
}

// Transition moves the envelope to the next status, enforcing the state
// machine. RetryCount monotonicity is the retry manager's responsibility;
// this only guards the status edges.
func (e *TaskEnvelope) Transition(next EnvelopeStatus) error {
	if !CanTransition(e.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
	}
	e.Status = next
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// DeriveIdempotencyKey computes the deterministic idempotency key used
// when the producer does not supply one: a hash over the tenant, task
// type, and payload, so structurally identical requests collapse to a
// single in-flight envelope.
func DeriveIdempotencyKey(tenantID, taskType string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(taskType))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
