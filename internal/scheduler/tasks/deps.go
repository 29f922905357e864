// Package tasks implements the scheduled tasks of relaybot and the registry
// that maps configured task names to them.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/relaybot/internal/database"
	"github.com/edgard/relaybot/internal/dispatch"
)

// Sweeper drops expired rate-limit state.
type Sweeper interface {
	Sweep() (bans, sources int)
}

// Firer is the scheduled dispatch guard.
type Firer interface {
	Fire(ctx context.Context, now time.Time) dispatch.Result
}

// TaskDeps contains the dependencies of the scheduled tasks. Store and
// Limiter may be nil, in which case their tasks are not registered.
type TaskDeps struct {
	Logger    *slog.Logger
	Store     database.Store
	Limiter   Sweeper
	Guard     Firer
	Clock     clockwork.Clock
	Retention time.Duration
}

func (d TaskDeps) now() time.Time {
	if d.Clock == nil {
		return time.Now()
	}
	return d.Clock.Now()
}
