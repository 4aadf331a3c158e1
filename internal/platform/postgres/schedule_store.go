package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guildly/taskcore/internal/domain"
	"github.com/guildly/taskcore/internal/store"
)

// ScheduleStore implements store.ScheduleStore using PostgreSQL.
type ScheduleStore struct {
	db store.DBTX
}

// NewScheduleStore creates a new ScheduleStore.
func NewScheduleStore(db store.DBTX) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// CreateSchedule persists a new schedule entry.
func (s *ScheduleStore) CreateSchedule(ctx context.Context, entry *domain.ScheduleEntry) error {
	if err := entry.Validate(); err != nil {
		return store.NewStoreError("schedule", "create", "validation failed", err)
	}

	query := `
		INSERT INTO schedule_entries (
			id, name, cron_expr, task_type, tenant_scope, tenant_id,
			payload_template, priority, max_retries, last_fired_watermark,
			enabled, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Name,
		entry.CronExpr,
		entry.TaskType,
		entry.TenantScope,
		entry.TenantID,
		entry.PayloadTemplate,
		entry.Priority,
		entry.MaxRetries,
		entry.LastFiredWatermark,
		entry.Enabled,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return MapError(err)
	}
	return nil
}

// ListSchedules returns all schedule entries.
func (s *ScheduleStore) ListSchedules(ctx context.Context) ([]*domain.ScheduleEntry, error) {
	query := `
		SELECT id, name, cron_expr, task_type, tenant_scope, tenant_id,
		       payload_template, priority, max_retries, last_fired_watermark,
		       enabled, created_at, updated_at
		FROM schedule_entries
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var entries []*domain.ScheduleEntry
	for rows.Next() {
		var e domain.ScheduleEntry
		err := rows.Scan(
			&e.ID, &e.Name, &e.CronExpr, &e.TaskType, &e.TenantScope, &e.TenantID,
			&e.PayloadTemplate, &e.Priority, &e.MaxRetries, &e.LastFiredWatermark,
			&e.Enabled, &e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule rows: %w", err)
	}

	return entries, nil
}

// AdvanceWatermark persists a new firing watermark. The WHERE clause
// keeps the column monotonic: a stale replay after a crash cannot
// rewind it, it simply affects zero rows.
func (s *ScheduleStore) AdvanceWatermark(ctx context.Context, id uuid.UUID, watermark time.Time) error {
	query := `
		UPDATE schedule_entries
		SET last_fired_watermark = $1, updated_at = now()
		WHERE id = $2 AND last_fired_watermark < $1
	`

	result, err := s.db.ExecContext(ctx, query, watermark, id)
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", MapError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Either the entry is gone or the watermark already moved past
		// this value; distinguish so missing entries surface.
		if _, err := s.getWatermark(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *ScheduleStore) getWatermark(ctx context.Context, id uuid.UUID) (time.Time, error) {
	var wm time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT last_fired_watermark FROM schedule_entries WHERE id = $1`, id,
	).Scan(&wm)
	if err != nil {
		if mapped := MapError(err); store.IsNotFoundError(mapped) {
			return time.Time{}, store.ErrScheduleNotFound
		}
		return time.Time{}, fmt.Errorf("failed to read watermark: %w", err)
	}
	return wm, nil
}

// SetEnabled enables or disables a schedule entry.
func (s *ScheduleStore) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	query := `
		UPDATE schedule_entries
		SET enabled = $1, updated_at = now()
		WHERE id = $2
	`

	result, err := s.db.ExecContext(ctx, query, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to set schedule enabled: %w", MapError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrScheduleNotFound
	}
	return nil
}
