package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"autopress/internal/core"
	"autopress/internal/logger"

	"github.com/robfig/cron/v3"
)

// Settings keys under which the schedule state is persisted.
const (
	keyEnabled  = "agent.enabled"
	keyInterval = "agent.intervalHours"
	keyLastRun  = "agent.lastRun"
	keyNextRun  = "agent.nextRun"
)

const defaultIntervalHours = 6

// Settings is the slice of the store the scheduler persists into.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Runner starts a pipeline run. The run itself owns its terminal
// bookkeeping and the follow-up reschedule; the scheduler only decides
// when to fire. Running reports whether a run is currently in flight.
type Runner interface {
	Run(ctx context.Context, trigger string) error
	Running() bool
}

// Scheduler decides when the agent runs. The durable queue is the
// authoritative trigger path whenever a queue worker is alive; the
// in-process cron tick is the fallback that keeps runs happening when
// no worker is around.
type Scheduler struct {
	settings Settings
	queue    TriggerQueue // nil when Redis is unavailable
	runner   Runner
	interval time.Duration
	cron     *cron.Cron
}

// New creates a scheduler. queue may be nil; the fallback path then
// carries all triggers.
func New(settings Settings, queue TriggerQueue, runner Runner, intervalHours int) *Scheduler {
	if intervalHours < 1 {
		intervalHours = defaultIntervalHours
	}
	return &Scheduler{
		settings: settings,
		queue:    queue,
		runner:   runner,
		interval: time.Duration(intervalHours) * time.Hour,
	}
}

// State reads the persisted schedule state, applying defaults for
// anything unset.
func (s *Scheduler) State(ctx context.Context) (core.ScheduleState, error) {
	state := core.ScheduleState{
		Enabled:       true,
		IntervalHours: int(s.interval / time.Hour),
	}

	if v, err := s.settings.GetSetting(ctx, keyEnabled); err != nil {
		return state, err
	} else if v != "" {
		state.Enabled = v == "true"
	}
	if v, err := s.settings.GetSetting(ctx, keyInterval); err != nil {
		return state, err
	} else if v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			state.IntervalHours = n
		}
	}
	if v, err := s.settings.GetSetting(ctx, keyLastRun); err != nil {
		return state, err
	} else if v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			state.LastRun = t
		}
	}
	if v, err := s.settings.GetSetting(ctx, keyNextRun); err != nil {
		return state, err
	} else if v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			state.NextRun = t
		}
	}
	return state, nil
}

// SetEnabled persists the enabled flag.
func (s *Scheduler) SetEnabled(ctx context.Context, enabled bool) error {
	return s.settings.SetSetting(ctx, keyEnabled, strconv.FormatBool(enabled))
}

// SetIntervalHours persists a new interval, effective from the next
// reschedule.
func (s *Scheduler) SetIntervalHours(ctx context.Context, hours int) error {
	if hours < 1 {
		return fmt.Errorf("interval must be at least 1 hour")
	}
	s.interval = time.Duration(hours) * time.Hour
	return s.settings.SetSetting(ctx, keyInterval, strconv.Itoa(hours))
}

// ScheduleNextRun computes the next due time and replaces any pending
// trigger with it: clear first, then write, so repeated calls leave
// exactly one pending trigger. Queue errors are logged and swallowed;
// the fallback tick compensates for a trigger the queue lost.
func (s *Scheduler) ScheduleNextRun(ctx context.Context) error {
	state, err := s.State(ctx)
	if err != nil {
		return fmt.Errorf("reading schedule state: %w", err)
	}
	interval := time.Duration(state.IntervalHours) * time.Hour
	next := time.Now().UTC().Add(interval)

	if s.queue != nil {
		if err := s.queue.Clear(ctx); err != nil {
			logger.Warn("trigger clear failed", "error", err.Error())
		} else if err := s.queue.EnqueueAt(ctx, next); err != nil {
			logger.Warn("trigger enqueue failed", "error", err.Error())
		}
	}

	if err := s.settings.SetSetting(ctx, keyNextRun, next.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("persisting next run: %w", err)
	}
	logger.Info("next run scheduled", "next_run", next.Format(time.RFC3339))
	return nil
}

// MarkRunStarted records the run start time.
func (s *Scheduler) MarkRunStarted(ctx context.Context) error {
	return s.settings.SetSetting(ctx, keyLastRun, time.Now().UTC().Format(time.RFC3339))
}

// CheckAndRun is the fallback trigger path, invoked every minute. It
// fires only when scheduling is enabled, a run is due, and no live
// queue worker owns the trigger.
func (s *Scheduler) CheckAndRun(ctx context.Context) {
	state, err := s.State(ctx)
	if err != nil {
		logger.Error("schedule check failed", err)
		return
	}
	if !state.Enabled {
		return
	}
	if state.NextRun.IsZero() {
		// First start: seed the schedule instead of firing immediately.
		if err := s.ScheduleNextRun(ctx); err != nil {
			logger.Error("initial schedule failed", err)
		}
		return
	}
	if time.Now().UTC().Before(state.NextRun) {
		return
	}
	if s.runner.Running() {
		logger.Debug("run due but one is already in flight, skipping tick")
		return
	}

	// Re-probe on every due tick: the worker may have died since the
	// last check, or come back.
	if s.queue != nil {
		alive, err := s.queue.WorkerAlive(ctx)
		if err != nil {
			logger.Warn("worker heartbeat probe failed, falling back", "error", err.Error())
		} else if alive {
			logger.Debug("run due but queue worker is alive, leaving trigger to the queue")
			return
		}
	}

	logger.Info("fallback trigger firing", "due", state.NextRun.Format(time.RFC3339))
	if err := s.MarkRunStarted(ctx); err != nil {
		logger.Error("marking run start failed", err)
	}
	if err := s.runner.Run(ctx, "schedule"); err != nil {
		logger.Error("scheduled run failed", err)
	}
}

// Start launches the fallback cron tick. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) error {
	if alive := s.probeWorker(ctx); alive {
		logger.Info("queue worker detected, durable queue is authoritative")
	} else {
		logger.Info("no queue worker detected, in-process fallback scheduler active")
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc("@every 1m", func() { s.CheckAndRun(ctx) }); err != nil {
		return fmt.Errorf("registering fallback tick: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the fallback tick, waiting for an in-flight check.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Scheduler) probeWorker(ctx context.Context) bool {
	if s.queue == nil {
		return false
	}
	alive, err := s.queue.WorkerAlive(ctx)
	if err != nil {
		logger.Warn("worker probe failed", "error", err.Error())
		return false
	}
	return alive
}
