package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/edgard/relaybot/internal/logger"
)

// newSQLMaintenanceTask prunes the delivery log past the retention window
// and then vacuums the database.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := logger.OrDefault(deps.Logger).With("task", SQLMaintenance)

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting scheduled SQL maintenance task")
		startTime := time.Now()

		if deps.Retention > 0 {
			cutoff := deps.now().Add(-deps.Retention)
			deleted, err := deps.Store.PruneDeliveries(ctx, cutoff)
			if err != nil {
				log.ErrorContext(ctx, "Delivery log pruning failed", "error", err)
				return fmt.Errorf("sql maintenance failed: %w", err)
			}
			log.InfoContext(ctx, "Delivery log pruned", "cutoff", cutoff, "deleted", deleted)
		}

		err := deps.Store.RunSQLMaintenance(ctx)
		duration := time.Since(startTime)
		if err != nil {
			log.ErrorContext(ctx, "SQL maintenance task failed", "error", err, "duration", duration)
			return fmt.Errorf("sql maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "Scheduled SQL maintenance task completed successfully", "duration", duration)
		return nil
	}
}
