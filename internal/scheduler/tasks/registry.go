package tasks

import "context"

// ScheduledTaskFunc defines the signature of every scheduled task.
// The context is cancelled when the scheduler shuts down.
type ScheduledTaskFunc func(ctx context.Context) error

// Task names used as keys in the scheduler.tasks configuration.
const (
	SQLMaintenance = "sql_maintenance"
	LimiterSweep   = "limiter_sweep"
	DailyDispatch  = "daily_dispatch"
)

// RegisterAllTasks returns the cron-configurable maintenance tasks keyed by
// name. The daily dispatch is scheduled separately from its own settings.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := make(map[string]ScheduledTaskFunc)

	if deps.Store != nil {
		tasks[SQLMaintenance] = newSQLMaintenanceTask(deps)
	}
	if deps.Limiter != nil {
		tasks[LimiterSweep] = newLimiterSweepTask(deps)
	}

	if deps.Logger != nil {
		deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	}
	return tasks
}
