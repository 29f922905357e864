// Package app wires relaybot's components together and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/relaybot/internal/config"
	"github.com/edgard/relaybot/internal/database"
	"github.com/edgard/relaybot/internal/dispatch"
	"github.com/edgard/relaybot/internal/logger"
	"github.com/edgard/relaybot/internal/metrics"
	"github.com/edgard/relaybot/internal/ratelimit"
	"github.com/edgard/relaybot/internal/relay"
	"github.com/edgard/relaybot/internal/scheduler"
	"github.com/edgard/relaybot/internal/scheduler/tasks"
	"github.com/edgard/relaybot/internal/telegram"
	"github.com/edgard/relaybot/internal/web"
)

// App owns every long-lived component. Build it with New and release it
// with Close.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	clock   clockwork.Clock
	loc     *time.Location
	db      *sqlx.DB
	store   database.Store
	metrics *metrics.Metrics
	limiter *ratelimit.Limiter
	sender  *telegram.Sender
	relay   *relay.Service
	guard   *dispatch.Guard
	claimer *dispatch.RedisClaimer
	tokens  *web.Tokens
}

// Option customizes New.
type Option func(*options)

type options struct {
	clock       clockwork.Clock
	backoffBase time.Duration
}

// WithClock replaces the real clock.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithBackoffBase overrides the first retry delay of the sender.
func WithBackoffBase(d time.Duration) Option {
	return func(o *options) { o.backoffBase = d }
}

// New opens the database, restores dispatch state and builds the
// components. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (_ *App, err error) {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:     cfg,
		log:     logger.OrDefault(log).With("component", "app"),
		clock:   o.clock,
		metrics: metrics.New(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.loc, err = cfg.Dispatch.Location()
	if err != nil {
		return nil, err
	}

	a.db, err = database.NewDB(cfg.Database.Path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.store = database.NewStore(a.db, log)

	a.limiter = ratelimit.New(ratelimit.Config{
		Window:      cfg.RateLimit.Window,
		MaxRequests: cfg.RateLimit.MaxRequests,
		BanDuration: cfg.RateLimit.BanDuration,
	}, a.clock, log)

	a.sender, err = telegram.NewSender(telegram.Options{
		Token:       cfg.Telegram.Token,
		ChatID:      cfg.Telegram.ChatID,
		APIURL:      cfg.Telegram.APIURL,
		Timeout:     cfg.Telegram.Timeout,
		Retries:     cfg.Telegram.Retries,
		BackoffBase: o.backoffBase,
	}, log, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram sender: %w", err)
	}

	a.tokens, err = web.NewTokens(cfg.CSRF.Secret, cfg.CSRF.TTL, a.clock)
	if err != nil {
		return nil, err
	}
	if cfg.CSRF.Secret == "" {
		a.log.Warn("No csrf secret configured, using a random per-process secret")
	}

	a.relay, err = relay.New(relay.Deps{
		Verifier: a.tokens,
		Limiter:  a.limiter,
		Sender:   a.sender,
		Recorder: a.store,
		Digest:   digestFromConfig(cfg.Dispatch, a.loc),
		Metrics:  a.metrics,
		Clock:    a.clock,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Dispatch.RedisAddr != "" {
		a.claimer, err = dispatch.NewRedisClaimer(ctx, cfg.Dispatch.RedisAddr, cfg.Dispatch.RedisPassword,
			cfg.Dispatch.RedisDB, cfg.Dispatch.ClaimTTL, log)
		if err != nil {
			return nil, err
		}
	}

	guardOpts := dispatch.Options{
		Location:      a.loc,
		MinInterval:   cfg.Dispatch.MinInterval,
		FailurePolicy: dispatch.FailurePolicy(cfg.Dispatch.FailurePolicy),
		Store:         a.store,
		Metrics:       a.metrics,
	}
	if a.claimer != nil {
		guardOpts.Claimer = a.claimer
	}
	a.guard, err = dispatch.NewGuard(a.relay.DispatchDaily, guardOpts, log)
	if err != nil {
		return nil, err
	}
	if err := a.guard.Hydrate(ctx); err != nil {
		return nil, err
	}

	a.log.Info("Application initialized",
		"telegram_enabled", a.sender.Enabled(),
		"dispatch_enabled", cfg.Dispatch.Enabled,
		"timezone", a.loc.String(),
		"redis_claim", a.claimer != nil)
	return a, nil
}

func digestFromConfig(cfg config.DispatchConfig, loc *time.Location) relay.Digest {
	links := make([]relay.Link, 0, len(cfg.Links))
	for _, l := range cfg.Links {
		links = append(links, relay.Link{Name: l.Name, URL: l.URL})
	}
	return relay.Digest{
		Header:   cfg.Header,
		Title:    cfg.Title,
		Footer:   cfg.Footer,
		Links:    links,
		Location: loc,
	}
}

// Close releases the database and the redis client.
func (a *App) Close() {
	if a.claimer != nil {
		if err := a.claimer.Close(); err != nil {
			a.log.Warn("Error closing redis client", "error", err)
		}
	}
	database.CloseDB(a.db, a.log)
}

// Guard exposes the dispatch guard.
func (a *App) Guard() *dispatch.Guard {
	return a.guard
}

// newScheduler registers the maintenance tasks and the daily dispatch. In
// test mode the dispatch runs once after the test delay instead of daily.
func (a *App) newScheduler() (*scheduler.Scheduler, error) {
	sched, err := scheduler.NewScheduler(a.loc, a.clock, a.log)
	if err != nil {
		return nil, err
	}

	deps := tasks.TaskDeps{
		Logger:    a.log,
		Store:     a.store,
		Limiter:   a.limiter,
		Guard:     a.guard,
		Clock:     a.clock,
		Retention: a.cfg.Database.Retention,
	}
	sched.RegisterTasks(&a.cfg.Scheduler, tasks.RegisterAllTasks(deps))

	d := a.cfg.Dispatch
	switch {
	case !d.Enabled:
		a.log.Info("Scheduled dispatch disabled")
	case d.TestMode:
		at := a.clock.Now().Add(d.TestDelay)
		if err := sched.ScheduleOnce(tasks.DailyDispatch, at, tasks.NewDailyDispatchTask(deps)); err != nil {
			return nil, err
		}
	default:
		hour, minute, err := d.DailyAt()
		if err != nil {
			return nil, err
		}
		if err := sched.ScheduleDaily(tasks.DailyDispatch, hour, minute, tasks.NewDailyDispatchTask(deps)); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// Serve runs the HTTP server and the scheduler until ctx is cancelled or
// either fails.
func (a *App) Serve(ctx context.Context) error {
	srv, err := web.NewServer(web.Deps{
		Config:  a.cfg.Server,
		Relay:   a.relay,
		Tokens:  a.tokens,
		Store:   a.store,
		Metrics: a.metrics,
		Logger:  a.log,
	})
	if err != nil {
		return err
	}
	sched, err := a.newScheduler()
	if err != nil {
		return err
	}

	return a.run(ctx, srv.Run, func(ctx context.Context) error { return runScheduler(ctx, sched, a.log) })
}

// RunScheduler runs only the scheduler, for deployments that keep the
// web form and the daily dispatch in separate processes.
func (a *App) RunScheduler(ctx context.Context) error {
	sched, err := a.newScheduler()
	if err != nil {
		return err
	}
	return a.run(ctx, func(ctx context.Context) error { return runScheduler(ctx, sched, a.log) })
}

// DispatchNow sends the digest immediately through the guard. force
// bypasses the same-day and interval checks.
func (a *App) DispatchNow(ctx context.Context, force bool) dispatch.Result {
	now := a.clock.Now()
	if force {
		return a.guard.Force(ctx, now)
	}
	return a.guard.Fire(ctx, now)
}

// RecentDeliveries returns the newest delivery log rows.
func (a *App) RecentDeliveries(ctx context.Context, limit int) ([]database.Delivery, error) {
	return a.store.RecentDeliveries(ctx, limit)
}

func (a *App) run(ctx context.Context, components ...func(context.Context) error) error {
	a.log.Info("Starting components", "count", len(components))

	g, gCtx := errgroup.WithContext(ctx)
	for _, c := range components {
		g.Go(func() error { return c(gCtx) })
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error("Stopped due to error", "error", err)
		return err
	}
	a.log.Info("Stopped gracefully")
	return nil
}

func runScheduler(ctx context.Context, sched *scheduler.Scheduler, log *slog.Logger) error {
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	<-ctx.Done()
	log.Info("Shutdown signal received, stopping scheduler")
	if err := sched.Stop(); err != nil {
		log.Error("Error stopping scheduler", "error", err)
	}
	return nil
}
