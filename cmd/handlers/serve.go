package handlers

import (
	"os"
	"os/signal"
	"syscall"

	"autopress/internal/config"
	"autopress/internal/logger"
	"autopress/internal/server"

	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command: the long-running process that
// hosts the fallback scheduler and the admin API.
func NewServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and admin API",
		Long: `Start the long-running process. It keeps the recurring schedule
alive (deferring to a queue worker when one is running) and serves the
admin API for manual runs, status, history, and cache control.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if config.GetScheduler().Enabled {
				if err := a.scheduler.Start(ctx); err != nil {
					return err
				}
				defer a.scheduler.Stop()
			} else {
				logger.Info("scheduling disabled by configuration")
			}

			if addr == "" {
				addr = config.GetServer().Addr
			}
			srv := server.New(addr, a.agent, a.scheduler, a.store, a.cache)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
