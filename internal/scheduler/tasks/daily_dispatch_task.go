package tasks

import (
	"context"
	"fmt"

	"github.com/edgard/relaybot/internal/dispatch"
	"github.com/edgard/relaybot/internal/logger"
)

// NewDailyDispatchTask fires the dispatch guard with the current time.
// Skips are not errors; a failed send is.
func NewDailyDispatchTask(deps TaskDeps) ScheduledTaskFunc {
	log := logger.OrDefault(deps.Logger).With("task", DailyDispatch)

	return func(ctx context.Context) error {
		now := deps.now()
		result := deps.Guard.Fire(ctx, now)
		log.InfoContext(ctx, "Daily dispatch fired", "result", result, "now", now)
		if result == dispatch.ResultFailed {
			return fmt.Errorf("daily dispatch failed")
		}
		return nil
	}
}
