package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskResult is the tenant-scoped record of a finished (or dead-lettered)
// envelope. Producers observe task outcomes only through this record;
// task-level failures are never propagated to them as errors.
type TaskResult struct {
	TaskID        uuid.UUID      `json:"task_id"`
	TenantID      string         `json:"tenant_id"`
	Status        EnvelopeStatus `json:"status"`
	ResultPayload []byte         `json:"result_payload,omitempty"`
	ErrorDetail   string         `json:"error_detail,omitempty"`
	CompletedAt   time.Time      `json:"completed_at"`
}
