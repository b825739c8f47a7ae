package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ldi/tasktree/internal/db"
	"github.com/ldi/tasktree/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a summary of the task graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		database, err := openDB(ctx)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		features, err := database.ListFeatures(ctx)
		if err != nil {
			return fmt.Errorf("failed to list features: %w", err)
		}

		counts := map[models.TaskStatus]int{}
		total := 0
		for _, status := range models.AllTaskStatuses {
			s := status
			tasks, err := database.ListTasks(ctx, db.TaskFilter{Status: &s})
			if err != nil {
				return fmt.Errorf("failed to list tasks: %w", err)
			}
			counts[status] = len(tasks)
			total += len(tasks)
		}

		available, err := database.CountAvailableTasks(ctx)
		if err != nil {
			return fmt.Errorf("failed to count available tasks: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Database: %s\n", dbPath())
		fmt.Fprintf(out, "Features: %d\n", len(features))
		fmt.Fprintf(out, "Tasks:    %d\n", total)
		for _, status := range models.AllTaskStatuses {
			fmt.Fprintf(out, "  %-12s %d\n", string(status), counts[status])
		}
		fmt.Fprintf(out, "Available: %d\n", available)
		return nil
	},
}
