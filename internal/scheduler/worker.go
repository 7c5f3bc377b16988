package scheduler

import (
	"context"
	"time"

	"autopress/internal/logger"
)

const defaultPollInterval = 5 * time.Second

// Worker is the durable trigger consumer. It keeps a heartbeat alive so
// schedulers leave triggers to it, polls for due triggers, and runs the
// agent when it claims one.
type Worker struct {
	queue    TriggerQueue
	runner   Runner
	settings Settings
	poll     time.Duration
}

// NewWorker creates a worker over the durable queue.
func NewWorker(queue TriggerQueue, runner Runner, settings Settings) *Worker {
	return &Worker{
		queue:    queue,
		runner:   runner,
		settings: settings,
		poll:     defaultPollInterval,
	}
}

// Run blocks, polling for due triggers until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info("queue worker started", "poll_interval", w.poll.String())

	if err := w.queue.Heartbeat(ctx); err != nil {
		logger.Warn("initial heartbeat failed", "error", err.Error())
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("queue worker stopping")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if err := w.queue.Heartbeat(ctx); err != nil {
		logger.Warn("heartbeat refresh failed", "error", err.Error())
	}

	claimed, err := w.queue.ClaimDue(ctx, time.Now().UTC())
	if err != nil {
		logger.Warn("trigger claim failed", "error", err.Error())
		return
	}
	if !claimed {
		return
	}

	logger.Info("trigger claimed, starting run")
	if err := w.settings.SetSetting(ctx, keyLastRun, time.Now().UTC().Format(time.RFC3339)); err != nil {
		logger.Error("marking run start failed", err)
	}
	if err := w.runner.Run(ctx, "queue"); err != nil {
		logger.Error("queued run failed", err)
	}
}
