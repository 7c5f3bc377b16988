package handlers

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewStatusCmd creates the status command showing the schedule and
// recent executions.
func NewStatusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show schedule state and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			state, err := a.scheduler.State(ctx)
			if err != nil {
				return fmt.Errorf("reading schedule state: %w", err)
			}

			fmt.Println("Schedule")
			fmt.Printf("  Enabled:  %v\n", state.Enabled)
			fmt.Printf("  Interval: every %dh\n", state.IntervalHours)
			fmt.Printf("  Last run: %s\n", formatRunTime(state.LastRun))
			fmt.Printf("  Next run: %s\n", formatRunTime(state.NextRun))

			records, err := a.store.RecentExecutions(ctx, limit)
			if err != nil {
				return fmt.Errorf("reading executions: %w", err)
			}
			if len(records) == 0 {
				fmt.Println("\nNo executions yet.")
				return nil
			}

			fmt.Printf("\nRecent executions (%d)\n", len(records))
			for _, rec := range records {
				fmt.Printf("  %s  %-8s  scraped=%d published=%d errors=%d  %s\n",
					rec.StartedAt.Format("2006-01-02 15:04"),
					rec.Status, rec.Scraped, rec.Published, len(rec.Errors), rec.ID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of executions to show")
	return cmd
}

func formatRunTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
