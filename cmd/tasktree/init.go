package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create and initialize the database",
	Long: `Create the SQLite database at the configured path, apply the schema,
and seed the reserved 'misc' feature. Safe to run on an existing database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer database.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "Initialized database at %s\n", dbPath())
		return nil
	},
}
