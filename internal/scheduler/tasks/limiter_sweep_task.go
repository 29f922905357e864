package tasks

import (
	"context"

	"github.com/edgard/relaybot/internal/logger"
)

func newLimiterSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := logger.OrDefault(deps.Logger).With("task", LimiterSweep)

	return func(ctx context.Context) error {
		bans, sources := deps.Limiter.Sweep()
		log.DebugContext(ctx, "Rate limiter swept", "expired_bans", bans, "idle_sources", sources)
		return nil
	}
}
