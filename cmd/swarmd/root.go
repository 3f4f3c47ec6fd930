package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "swarmd",
	Short: "Autonomous task-orchestration engine",
	Long: `swarmd decomposes goals into dependency-ordered task graphs and
executes them on a bounded worker pool.

Core capabilities:
- Splits non-atomic tasks into subtask graphs via a classifier
- Schedules ready tasks by depth then complexity
- Enforces per-role tool policies on every execution
- Matches tasks to execution strategies by pattern
- Persists all work items in sqlite for restart recovery`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}
