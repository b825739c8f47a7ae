package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ldi/tasktree/internal/db"
)

var rootCmd = &cobra.Command{
	Use:   "tasktree",
	Short: "Task dependency graph engine",
	Long: `TaskTree tracks features, tasks, and the dependency edges between
tasks in a SQLite store. It validates the graph stays acyclic, computes
which tasks are available to work on, and round-trips the whole graph
through deterministic JSONL snapshots.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("db-path", "data/tasktree.db", "Path to the SQLite database")
	rootCmd.PersistentFlags().String("snapshot-path", "data/tasktree.snapshot.jsonl", "Path to the JSONL snapshot file")
	rootCmd.PersistentFlags().String("log-file", "", "Write JSON logs to this file (rotated) instead of stderr")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(webCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listTasksCmd)
	rootCmd.AddCommand(listFeaturesCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// initConfig wires flags through viper so every setting can also come from
// TASKTREE_* environment variables or an optional tasktree.yaml.
func initConfig(cmd *cobra.Command) error {
	viper.SetEnvPrefix("TASKTREE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := viper.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return err
	}

	viper.SetConfigName("tasktree")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home + "/.config/tasktree")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return nil
}

func dbPath() string       { return viper.GetString("db-path") }
func snapshotPath() string { return viper.GetString("snapshot-path") }

// openDB opens and initializes the store at the configured path.
func openDB(ctx context.Context) (*db.DB, error) {
	database, err := db.Open(dbPath())
	if err != nil {
		return nil, err
	}
	if err := database.Init(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// setupLogger builds the process logger. With a log file configured the
// output is rotated JSON; otherwise text goes to stderr. Stdout is never
// used, it belongs to the MCP transport.
func setupLogger() *slog.Logger {
	if file := viper.GetString("log-file"); file != "" {
		var w io.Writer = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		return slog.New(slog.NewJSONHandler(w, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}
