package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export or import JSONL snapshots",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the graph to a JSONL snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		database, err := openDB(ctx)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		path := snapshotPath()
		if err := database.ExportSnapshot(ctx, path); err != nil {
			return fmt.Errorf("failed to export snapshot: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Snapshot exported to %s\n", path)
		return nil
	},
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a JSONL snapshot",
	Long: `Import a JSONL snapshot into the database.

By default records are merged into the existing store and name conflicts
fail the import. With --overwrite the store is replaced wholesale. Either
way the import is one transaction: on any error nothing changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		database, err := openDB(ctx)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		path := snapshotPath()
		if err := database.ImportSnapshot(ctx, path, viper.GetBool("overwrite")); err != nil {
			return fmt.Errorf("failed to import snapshot: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Snapshot imported from %s\n", path)
		return nil
	},
}

func init() {
	snapshotImportCmd.Flags().Bool("overwrite", false, "Replace existing contents instead of merging")
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)
}
