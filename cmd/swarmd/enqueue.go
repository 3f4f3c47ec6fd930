package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hiveworks/swarmd/internal/config"
	"github.com/hiveworks/swarmd/internal/events"
	"github.com/hiveworks/swarmd/internal/logging"
	"github.com/hiveworks/swarmd/internal/orchestrator"
	"github.com/hiveworks/swarmd/internal/store"
	"github.com/hiveworks/swarmd/pkg/models"
)

var (
	enqueueID         string
	enqueueRole       string
	enqueueDeps       []string
	enqueueContext    []string
	enqueuePriority   int
	enqueueComplexity float64
	enqueueTimeout    time.Duration
	enqueueRetries    int
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <title>",
	Short: "Add a task to the work queue",
	Long: `Persist a new work item with status pending. A running serve
process picks it up on its next restore; the item survives restarts.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueID, "id", "", "Explicit task ID (generated when empty)")
	enqueueCmd.Flags().StringVar(&enqueueRole, "role", "coder", "Execution role (coder, tester, critic, researcher, admin)")
	enqueueCmd.Flags().StringSliceVar(&enqueueDeps, "depends-on", nil, "IDs of tasks that must complete first")
	enqueueCmd.Flags().StringSliceVar(&enqueueContext, "context", nil, "Context entries as key=value")
	enqueueCmd.Flags().IntVar(&enqueuePriority, "priority", models.DefaultPriority, "Priority (higher runs first)")
	enqueueCmd.Flags().Float64Var(&enqueueComplexity, "complexity", 5.0, "Estimated complexity (1-10)")
	enqueueCmd.Flags().DurationVar(&enqueueTimeout, "timeout", models.DefaultTimeout, "Per-attempt execution timeout")
	enqueueCmd.Flags().IntVar(&enqueueRetries, "max-retries", models.DefaultMaxRetries, "Retry budget")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	taskContext, err := parseContext(enqueueContext)
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	bus := events.NewBus()
	defer bus.Close()
	orch := orchestrator.New(db, bus, "swarmd", logging.Nop())
	defer orch.Close()

	id, err := orch.Enqueue(orchestrator.EnqueueRequest{
		ID:         enqueueID,
		Title:      strings.Join(args, " "),
		Role:       models.Role(enqueueRole),
		DependsOn:  enqueueDeps,
		Context:    taskContext,
		Priority:   enqueuePriority,
		Complexity: enqueueComplexity,
		Timeout:    enqueueTimeout,
		MaxRetries: enqueueRetries,
	})
	if err != nil {
		return err
	}

	color.Green("enqueued %s", id)
	return nil
}

func parseContext(entries []string) (map[string]any, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(entries))
	for _, entry := range entries {
		key, value, found := strings.Cut(entry, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid context entry %q, want key=value", entry)
		}
		out[key] = value
	}
	return out, nil
}

// openStore opens the configured sqlite store.
func openStore() (*store.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	path := cfg.Store.Path
	if path == "" {
		path = store.DefaultPath()
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}
