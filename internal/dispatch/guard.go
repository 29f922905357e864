// Package dispatch guards the once-daily scheduled send so that it fires at
// most once per calendar day, however many times the timer triggers.
package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edgard/relaybot/internal/database"
	"github.com/edgard/relaybot/internal/logger"
	"github.com/edgard/relaybot/internal/metrics"
)

// DateLayout formats the calendar date stored as the last dispatch date.
const DateLayout = "2006-01-02"

// DefaultMinInterval is the minimum spacing between two dispatches.
const DefaultMinInterval = time.Minute

// FailurePolicy decides what a failed send does to the guard state.
type FailurePolicy string

const (
	// MarkAttempted records a failed send as today's dispatch.
	MarkAttempted FailurePolicy = "mark_attempted"
	// AllowRetry leaves the date unset so a later fire the same day can retry.
	AllowRetry FailurePolicy = "allow_retry"
)

// Result is the outcome of one Fire.
type Result string

const (
	ResultSent           Result = "sent"
	ResultFailed         Result = "failed"
	ResultSkippedSameDay Result = "skipped_same_day"
	ResultSkippedTooSoon Result = "skipped_too_soon"
	ResultSkippedClaimed Result = "skipped_claimed"
)

// Skipped reports whether the action was not run.
func (r Result) Skipped() bool {
	switch r {
	case ResultSkippedSameDay, ResultSkippedTooSoon, ResultSkippedClaimed:
		return true
	}
	return false
}

// Action performs the dispatch and reports whether delivery succeeded.
type Action func(ctx context.Context, now time.Time) bool

// StateStore persists the guard state across restarts.
type StateStore interface {
	LoadDispatchState(ctx context.Context) (*database.DispatchState, error)
	SaveDispatchState(ctx context.Context, state *database.DispatchState) error
}

// Claimer coordinates several processes sharing one chat. Claim returns
// false when another process already owns the date.
type Claimer interface {
	Claim(ctx context.Context, date string) (bool, error)
	Release(ctx context.Context, date string) error
}

// Options configures a Guard. Only Location is required.
type Options struct {
	Location      *time.Location
	MinInterval   time.Duration
	FailurePolicy FailurePolicy
	Store         StateStore
	Claimer       Claimer
	Metrics       *metrics.Metrics
}

// Guard serializes fires under its own lock. Its state only moves forward.
type Guard struct {
	action  Action
	loc     *time.Location
	minGap  time.Duration
	policy  FailurePolicy
	store   StateStore
	claimer Claimer
	metrics *metrics.Metrics
	log     *slog.Logger

	mu       sync.Mutex
	lastAt   time.Time
	lastDate string
}

// NewGuard creates a Guard with empty state. Call Hydrate to restore the
// persisted state before the first Fire.
func NewGuard(action Action, opts Options, log *slog.Logger) (*Guard, error) {
	if action == nil {
		return nil, fmt.Errorf("dispatch action cannot be nil")
	}
	if opts.Location == nil {
		return nil, fmt.Errorf("dispatch location cannot be nil")
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = DefaultMinInterval
	}
	switch opts.FailurePolicy {
	case "":
		opts.FailurePolicy = MarkAttempted
	case MarkAttempted, AllowRetry:
	default:
		return nil, fmt.Errorf("unknown dispatch failure policy %q", opts.FailurePolicy)
	}

	return &Guard{
		action:  action,
		loc:     opts.Location,
		minGap:  opts.MinInterval,
		policy:  opts.FailurePolicy,
		store:   opts.Store,
		claimer: opts.Claimer,
		metrics: opts.Metrics,
		log:     logger.OrDefault(log).With("component", "dispatch_guard"),
	}, nil
}

// Hydrate loads the persisted state. It never moves the state backwards.
func (g *Guard) Hydrate(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	state, err := g.store.LoadDispatchState(ctx)
	if err != nil {
		return fmt.Errorf("failed to hydrate dispatch guard: %w", err)
	}
	if state == nil {
		g.log.InfoContext(ctx, "No previous dispatch recorded")
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if state.LastDispatchAt.Valid && state.LastDispatchAt.Time.After(g.lastAt) {
		g.lastAt = state.LastDispatchAt.Time
	}
	if state.LastDispatchDate > g.lastDate {
		g.lastDate = state.LastDispatchDate
	}
	g.log.InfoContext(ctx, "Restored dispatch state", "last_dispatch_at", g.lastAt, "last_dispatch_date", g.lastDate)
	return nil
}

// State returns the last dispatch time and date. Both are zero before the
// first dispatch.
func (g *Guard) State() (time.Time, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastAt, g.lastDate
}

// Fire runs the action unless today's dispatch already happened or the
// previous one is closer than the minimum interval.
func (g *Guard) Fire(ctx context.Context, now time.Time) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	date := now.In(g.loc).Format(DateLayout)
	log := g.log.With("now", now, "date", date)

	if g.lastDate == date {
		log.InfoContext(ctx, "Scheduled dispatch skipped: already sent today", "last_dispatch_at", g.lastAt)
		return g.done(ResultSkippedSameDay)
	}
	if !g.lastAt.IsZero() && now.Sub(g.lastAt) < g.minGap {
		log.InfoContext(ctx, "Scheduled dispatch skipped: previous dispatch too recent",
			"last_dispatch_at", g.lastAt, "min_interval", g.minGap)
		return g.done(ResultSkippedTooSoon)
	}

	if g.claimer != nil {
		claimed, err := g.claimer.Claim(ctx, date)
		switch {
		case err != nil:
			log.WarnContext(ctx, "Dispatch claim unavailable, continuing with local guard only", "error", err)
		case !claimed:
			log.InfoContext(ctx, "Scheduled dispatch skipped: claimed by another instance")
			return g.done(ResultSkippedClaimed)
		}
	}

	return g.done(g.run(ctx, log, now, date))
}

// Force runs the action without the same-day and interval checks and
// records the result like Fire does.
func (g *Guard) Force(ctx context.Context, now time.Time) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	date := now.In(g.loc).Format(DateLayout)
	log := g.log.With("now", now, "date", date, "forced", true)
	return g.done(g.run(ctx, log, now, date))
}

// run must be called with g.mu held.
func (g *Guard) run(ctx context.Context, log *slog.Logger, now time.Time, date string) Result {
	log.InfoContext(ctx, "Running scheduled dispatch")
	ok := g.action(ctx, now)

	result := ResultSent
	if !ok {
		result = ResultFailed
	}

	g.lastAt = now
	if ok || g.policy == MarkAttempted {
		g.lastDate = date
	} else if g.claimer != nil {
		if err := g.claimer.Release(ctx, date); err != nil {
			log.WarnContext(ctx, "Failed to release dispatch claim", "error", err)
		}
	}
	g.persist(ctx, log)

	if ok {
		log.InfoContext(ctx, "Scheduled dispatch sent")
	} else {
		log.ErrorContext(ctx, "Scheduled dispatch failed", "failure_policy", g.policy, "marked_for_today", g.lastDate == date)
	}
	return result
}

func (g *Guard) persist(ctx context.Context, log *slog.Logger) {
	if g.store == nil {
		return
	}
	state := &database.DispatchState{
		LastDispatchAt:   sql.NullTime{Time: g.lastAt, Valid: !g.lastAt.IsZero()},
		LastDispatchDate: g.lastDate,
	}
	// The send already happened; an expiring request context must not lose it.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := g.store.SaveDispatchState(saveCtx, state); err != nil {
		log.ErrorContext(ctx, "Failed to persist dispatch state", "error", err)
	}
}

func (g *Guard) done(r Result) Result {
	g.metrics.IncDispatchFire(string(r))
	return r
}
