package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"autopress/internal/scheduler"

	"github.com/spf13/cobra"
)

// NewWorkerCmd creates the worker command: the durable queue consumer.
func NewWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume the durable trigger queue",
		Long: `Run the queue worker. It keeps a heartbeat in Redis so schedulers
leave triggers to it, claims triggers when they come due, and runs the
pipeline for each claim. Requires Redis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if a.queue == nil {
				return fmt.Errorf("the worker requires Redis; check redis.addr")
			}

			w := scheduler.NewWorker(a.queue, a.agent, a.store)
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
