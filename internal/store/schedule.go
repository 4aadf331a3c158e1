package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/guildly/taskcore/internal/domain"
)

// ScheduleStore defines the interface for persisting recurring schedule
// entries and their firing watermarks.
// Version: 1.0
type ScheduleStore interface {
	// CreateSchedule persists a new schedule entry.
	CreateSchedule(ctx context.Context, entry *domain.ScheduleEntry) error

	// ListSchedules returns all schedule entries.
	ListSchedules(ctx context.Context) ([]*domain.ScheduleEntry, error)

	// AdvanceWatermark persists a new firing watermark for the entry.
	// The watermark is monotonic: implementations must reject (as a
	// no-op) any value that does not move it forward, so replays after a
	// crash can never rewind it.
	AdvanceWatermark(ctx context.Context, id uuid.UUID, watermark time.Time) error

	// SetEnabled enables or disables a schedule entry.
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}
