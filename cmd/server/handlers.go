package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/guildly/taskcore/internal/task"
)

// registerHandlers registers the built-in diagnostic task types. Real
// workloads register their handlers here as well; registration is only
// possible before the registry is sealed at startup.
func registerHandlers(registry *task.Registry, logger *slog.Logger) error {
	// core.echo returns its payload unchanged. Used to smoke-test a
	// deployment end to end: enqueue, claim, execute, result.
	if err := registry.Register("core.echo", task.HandlerFunc(func(ctx context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	})); err != nil {
		return err
	}

	// core.sleep sleeps for the requested duration, honoring cooperative
	// cancellation. Used to exercise timeouts and advisory cancel.
	if err := registry.Register("core.sleep", task.HandlerFunc(func(ctx context.Context, payload []byte) ([]byte, error) {
		var req struct {
			DurationMS int `json:"duration_ms"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, task.Permanent(fmt.Errorf("invalid sleep payload: %w", err))
		}

		select {
		case <-time.After(time.Duration(req.DurationMS) * time.Millisecond):
			return []byte(`{"slept": true}`), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})); err != nil {
		return err
	}

	logger.Debug("built-in task handlers registered")
	return nil
}
