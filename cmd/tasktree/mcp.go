package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ldi/tasktree/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio",
	Long: `Run the MCP server over stdio, exposing the task graph as tools.

After every successful write the full graph is exported to the configured
snapshot path, unless --no-snapshot is set. Logs go to the log file or
stderr; stdout carries the MCP transport.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		database, err := openDB(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		if !viper.GetBool("no-snapshot") {
			database.EnableAutoSnapshot(snapshotPath(), func(err error) {
				logger.Error("snapshot export failed", "error", err, "path", snapshotPath())
			})
		}

		logger.Info("starting mcp server", "db", dbPath(), "snapshot", snapshotPath())

		s := mcp.NewServer(database, snapshotPath())
		if err := mcp.Serve(s); err != nil {
			return fmt.Errorf("mcp server exited: %w", err)
		}
		return nil
	},
}

func init() {
	mcpCmd.Flags().Bool("no-snapshot", false, "Disable automatic snapshot export on writes")
}
