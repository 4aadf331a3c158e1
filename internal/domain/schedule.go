package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common schedule validation errors
var (
	ErrEmptyCronExpr      = errors.New("cron expression cannot be empty")
	ErrEmptyScheduleName  = errors.New("schedule name cannot be empty")
	ErrInvalidTenantScope = errors.New("invalid tenant scope")
	ErrScopeTenantMissing = errors.New("tenant-scoped schedule must name a tenant")
)

// TenantScope determines which tenants a schedule entry fires for.
type TenantScope string

// Possible tenant scope values
const (
	// ScopeAllActiveTenants fans out one envelope per currently active
	// tenant on each firing.
	ScopeAllActiveTenants TenantScope = "all_active_tenants"

	// ScopeSpecificTenant fires a single envelope for TenantID.
	ScopeSpecificTenant TenantScope = "specific_tenant"
)

// ScheduleEntry describes a recurring task. LastFiredWatermark is the
// persisted marker of the last schedule tick that was successfully fanned
// out; it only moves forward, and a crash before it is persisted causes
// that tick to be re-evaluated (at-least-once firing).
type ScheduleEntry struct {
	ID                 uuid.UUID   `json:"id"`
	Name               string      `json:"name"`
	CronExpr           string      `json:"cron_expr"`
	TaskType           string      `json:"task_type"`
	TenantScope        TenantScope `json:"tenant_scope"`
	TenantID           string      `json:"tenant_id,omitempty"`
	PayloadTemplate    []byte      `json:"payload_template"`
	Priority           int         `json:"priority"`
	MaxRetries         int         `json:"max_retries"`
	LastFiredWatermark time.Time   `json:"last_fired_watermark"`
	Enabled            bool        `json:"enabled"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Validate checks if the ScheduleEntry has valid data.
// Returns an error if any field fails validation.
func (s *ScheduleEntry) Validate() error {
	if s.Name == "" {
		return ErrEmptyScheduleName
	}

	if s.CronExpr == "" {
		return ErrEmptyCronExpr
	}

	if s.TaskType == "" {
		return ErrEmptyTaskType
	}

	switch s.TenantScope {
	case ScopeAllActiveTenants:
	case ScopeSpecificTenant:
		if s.TenantID == "" {
			return ErrScopeTenantMissing
		}
	default:
		return ErrInvalidTenantScope
	}

	return nil
}
