// Package events defines the lifecycle events emitted on envelope state
// transitions and the emitter that fans them out to registered handlers.
// The external realtime-notification layer consumes these through a
// handler registration; delivery beyond the process is out of scope here.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types emitted on envelope state transitions.
const (
	TypeTaskCompleted    = "task.completed"
	TypeTaskFailed       = "task.failed"
	TypeTaskDeadLettered = "task.dead_lettered"
)

// TaskLifecycleEvent describes one envelope state transition.
type TaskLifecycleEvent struct {
	// ID is a unique identifier for this event.
	ID uuid.UUID `json:"id"`

	// Type is one of the Type* constants.
	Type string `json:"type"`

	// TaskID identifies the envelope that transitioned.
	TaskID uuid.UUID `json:"task_id"`

	// TenantID is the owning tenant; consumers must scope delivery by it.
	TenantID string `json:"tenant_id"`

	// TaskType is the envelope's task type.
	TaskType string `json:"task_type"`

	// Detail carries the last error for failure events.
	Detail string `json:"detail,omitempty"`

	// OccurredAt is the timestamp of the transition.
	OccurredAt time.Time `json:"occurred_at"`
}

// NewTaskLifecycleEvent creates an event for the given transition.
func NewTaskLifecycleEvent(eventType string, taskID uuid.UUID, tenantID, taskType, detail string) *TaskLifecycleEvent {
	return &TaskLifecycleEvent{
		ID:         uuid.New(),
		Type:       eventType,
		TaskID:     taskID,
		TenantID:   tenantID,
		TaskType:   taskType,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
}

// EventHandler consumes lifecycle events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *TaskLifecycleEvent) error
}

// EventEmitter publishes lifecycle events. The worker pool and retry
// manager emit through it without knowing what consumes the events.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *TaskLifecycleEvent) error
}
