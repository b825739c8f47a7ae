package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ldi/tasktree/internal/db"
	"github.com/ldi/tasktree/pkg/models"
)

var listTasksCmd = &cobra.Command{
	Use:   "list-tasks",
	Short: "List tasks, highest priority first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		database, err := openDB(ctx)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		var filter db.TaskFilter
		if s := viper.GetString("status"); s != "" {
			status, err := models.ParseTaskStatus(s)
			if err != nil {
				return err
			}
			filter.Status = &status
		}
		if cmd.Flags().Changed("priority-min") {
			min := viper.GetInt("priority-min")
			filter.PriorityMin = &min
		}
		if f := viper.GetString("feature"); f != "" {
			filter.FeatureName = &f
		}

		tasks, err := database.ListTasks(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tFEATURE\tSTATUS\tPRIORITY")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", t.Name, t.FeatureName, t.Status, t.Priority)
		}
		return w.Flush()
	},
}

var listFeaturesCmd = &cobra.Command{
	Use:   "list-features",
	Short: "List features by name",
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

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION")
		for _, f := range features {
			fmt.Fprintf(w, "%s\t%s\n", f.Name, f.Description)
		}
		return w.Flush()
	},
}

func init() {
	listTasksCmd.Flags().String("status", "", "Filter by status (pending|in_progress|blocked|completed)")
	listTasksCmd.Flags().Int("priority-min", 0, "Minimum priority filter (0-10)")
	listTasksCmd.Flags().String("feature", "", "Filter by feature name")
}
