package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hiveworks/swarmd/internal/store"
	"github.com/hiveworks/swarmd/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the status of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	id := args[0]
	item, err := db.GetWorkItem(id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no task with id %q", id)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", item.ID, item.Title)
	fmt.Printf("  Status:   %s\n", colorStatus(item.Status))
	fmt.Printf("  Role:     %s\n", item.Role)
	fmt.Printf("  Priority: %d\n", item.Priority)
	if len(item.DependsOn) > 0 {
		fmt.Printf("  Depends:  %v\n", item.DependsOn)
	}
	if item.AssignedTo != "" {
		fmt.Printf("  Worker:   %s\n", item.AssignedTo)
	}
	if item.RetryCount > 0 {
		fmt.Printf("  Retries:  %d/%d\n", item.RetryCount, item.MaxRetries)
	}
	if item.ErrorMessage != "" {
		fmt.Printf("  Error:    %s\n", color.RedString(item.ErrorMessage))
	}
	if item.Result != nil {
		if output, ok := item.Result["output"].(string); ok && output != "" {
			fmt.Printf("  Output:   %s\n", output)
		}
	}
	return nil
}

// colorStatus renders a status with its conventional color.
func colorStatus(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusCompleted:
		return color.GreenString(string(status))
	case models.TaskStatusFailed:
		return color.RedString(string(status))
	case models.TaskStatusActive:
		return color.CyanString(string(status))
	case models.TaskStatusBlocked:
		return color.YellowString(string(status))
	default:
		return string(status)
	}
}
