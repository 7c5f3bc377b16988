package handlers

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autopress/internal/agent"
	"autopress/internal/core"

	"github.com/spf13/cobra"
)

// NewRunCmd creates the run command for a one-off pipeline pass
func NewRunCmd() *cobra.Command {
	var forceCategory string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one pipeline pass now",
		Long: `Run the full pipeline once: discover candidates, select the best
stories, rewrite and publish them, then print the execution summary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.agent.Execute(ctx, agent.Options{
				Trigger:       "manual",
				ForceCategory: forceCategory,
			})
			if err != nil && rec == nil {
				return err
			}

			printExecution(rec)
			if rec.Status == core.ExecutionFailed {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&forceCategory, "category", "", "force every selection into this category")
	return cmd
}

func printExecution(rec *core.ExecutionRecord) {
	fmt.Printf("Execution %s\n", rec.ID)
	fmt.Printf("  Status:    %s\n", rec.Status)
	fmt.Printf("  Scraped:   %d candidates\n", rec.Scraped)
	fmt.Printf("  Published: %d items\n", rec.Published)
	fmt.Printf("  Duration:  %s\n", rec.Duration.Round(10*time.Millisecond))
	if len(rec.Errors) > 0 {
		fmt.Println("  Errors:")
		for _, e := range rec.Errors {
			fmt.Printf("    - %s\n", e)
		}
	}
}
