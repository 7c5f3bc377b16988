package handlers

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCacheCmd creates the cache management command
func NewCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
		Long:  `Inspect and invalidate the two-tier response cache.`,
	}

	// Add subcommands
	cacheCmd.AddCommand(newCacheStatsCmd())
	cacheCmd.AddCommand(newCacheInvalidateCmd())
	cacheCmd.AddCommand(newCacheClearCmd())

	return cacheCmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache hit and miss counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			stats := a.cache.Stats()
			fmt.Println("Cache statistics")
			fmt.Printf("  Hits:           %d (memory %d, redis %d)\n", stats.Hits, stats.MemoryHits, stats.RedisHits)
			fmt.Printf("  Misses:         %d\n", stats.Misses)
			fmt.Printf("  Sets:           %d\n", stats.Sets)
			fmt.Printf("  Evictions:      %d\n", stats.Evictions)
			fmt.Printf("  Redis errors:   %d\n", stats.RedisErrors)
			fmt.Printf("  Memory entries: %d\n", stats.MemoryEntries)
			return nil
		},
	}
}

func newCacheInvalidateCmd() *cobra.Command {
	var tag, pattern string

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Invalidate cache entries by tag or key pattern",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tag == "" && pattern == "" {
				return fmt.Errorf("one of --tag or --pattern is required")
			}
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if tag != "" {
				a.cache.InvalidateByTag(cmd.Context(), tag)
				fmt.Printf("Invalidated entries tagged %q\n", tag)
			}
			if pattern != "" {
				a.cache.InvalidateByPattern(cmd.Context(), pattern)
				fmt.Printf("Invalidated entries matching %q\n", pattern)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "invalidate entries carrying this tag")
	cmd.Flags().StringVar(&pattern, "pattern", "", "invalidate keys matching this glob pattern")
	return cmd
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the entire cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			a.cache.ClearAll(cmd.Context())
			fmt.Println("Cache cleared")
			return nil
		},
	}
}
