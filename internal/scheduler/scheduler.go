// Package scheduler runs the daily dispatch and the maintenance tasks on a
// gocron scheduler pinned to the dispatch timezone.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/relaybot/internal/config"
	"github.com/edgard/relaybot/internal/logger"
	"github.com/edgard/relaybot/internal/scheduler/tasks"
)

// Scheduler wraps gocron. Every job runs in singleton mode: a trigger that
// fires while the previous run is still going is rescheduled, not stacked.
type Scheduler struct {
	scheduler gocron.Scheduler
	loc       *time.Location
	clock     clockwork.Clock
	logger    *slog.Logger
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a scheduler in loc. A nil clock means the real one;
// a fake clock is handed to gocron so jobs follow it. Extra options are appended.
func NewScheduler(loc *time.Location, clock clockwork.Clock, log *slog.Logger, opts ...gocron.SchedulerOption) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log = logger.OrDefault(log).With("component", "scheduler")

	options := []gocron.SchedulerOption{
		gocron.WithLocation(loc),
		gocron.WithLogger(logger.NewGocronLogger(log)),
		gocron.WithGlobalJobOptions(gocron.WithSingletonMode(gocron.LimitModeReschedule)),
	}
	if _, fake := clock.(*clockwork.FakeClock); fake {
		options = append(options, gocron.WithClock(clock))
	}
	options = append(options, opts...)

	s, err := gocron.NewScheduler(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{scheduler: s, loc: loc, clock: clock, logger: log}, nil
}

// RegisterTasks schedules every enabled task of cfg found in taskMap and
// returns how many were scheduled. Unknown or broken entries are logged and skipped.
func (s *Scheduler) RegisterTasks(cfg *config.SchedulerConfig, taskMap map[string]tasks.ScheduledTaskFunc) int {
	if cfg == nil || len(cfg.Tasks) == 0 {
		s.logger.Warn("No scheduler tasks configured")
		return 0
	}

	names := make([]string, 0, len(cfg.Tasks))
	for name := range cfg.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	scheduled := 0
	for _, name := range names {
		taskConfig := cfg.Tasks[name]
		if !taskConfig.Enabled {
			s.logger.Info("Skipping disabled task", "task_name", name)
			continue
		}

		taskFunc, exists := taskMap[name]
		if !exists {
			s.logger.Warn("Scheduled task configured but not found in registry, skipping", "task_name", name)
			continue
		}

		if taskConfig.Schedule == "" {
			s.logger.Warn("Scheduled task enabled but has empty schedule, skipping", "task_name", name)
			continue
		}

		if err := s.add(name, gocron.CronJob(taskConfig.Schedule, true), taskFunc); err != nil {
			s.logger.Error("Failed to schedule task", "task_name", name, "schedule", taskConfig.Schedule, "error", err)
			continue
		}

		s.logger.Info("Scheduled task", "task_name", name, "schedule", taskConfig.Schedule)
		scheduled++
	}
	return scheduled
}

// ScheduleDaily runs fn every day at hour:minute in the scheduler location.
func (s *Scheduler) ScheduleDaily(name string, hour, minute uint, fn tasks.ScheduledTaskFunc) error {
	def := gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0)))
	if err := s.add(name, def, fn); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.logger.Info("Scheduled daily task", "task_name", name, "at", fmt.Sprintf("%02d:%02d", hour, minute), "location", s.loc.String())
	return nil
}

// ScheduleOnce runs fn a single time at at, or immediately if at has passed.
func (s *Scheduler) ScheduleOnce(name string, at time.Time, fn tasks.ScheduledTaskFunc) error {
	start := gocron.OneTimeJobStartImmediately()
	if at.After(s.clock.Now()) {
		start = gocron.OneTimeJobStartDateTime(at)
	}
	if err := s.add(name, gocron.OneTimeJob(start), fn); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.logger.Info("Scheduled one-time task", "task_name", name, "at", at)
	return nil
}

func (s *Scheduler) add(name string, def gocron.JobDefinition, fn tasks.ScheduledTaskFunc) error {
	_, err := s.scheduler.NewJob(
		def,
		gocron.NewTask(s.wrap(name, fn)),
		gocron.WithName(name),
	)
	return err
}

// wrap adds logging around a task. gocron passes the job context, which is
// cancelled on shutdown.
func (s *Scheduler) wrap(name string, fn tasks.ScheduledTaskFunc) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		s.logger.InfoContext(ctx, "Running scheduled task", "task_name", name)
		startTime := s.clock.Now()
		err := fn(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Scheduled task failed", "task_name", name, "error", err)
		}
		s.logger.InfoContext(ctx, "Finished scheduled task", "task_name", name, "duration", s.clock.Since(startTime))
		return err
	}
}

// Jobs returns the names of the registered jobs, sorted.
func (s *Scheduler) Jobs() []string {
	jobs := s.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	sort.Strings(names)
	return names
}

// Start begins ticking.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started", "jobs", len(s.scheduler.Jobs()))
	return nil
}

// Stop shuts down gocron, waiting for running jobs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Info("Scheduler is not running, nothing to stop")
		return nil
	}

	s.logger.Debug("Stopping scheduler gracefully (waiting for jobs)")
	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped gracefully")
	}
	s.running = false
	return err
}
