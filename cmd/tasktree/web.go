package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ldi/tasktree/internal/server"
)

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Run the graph visualizer web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		database, err := openDB(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		addr := fmt.Sprintf(":%d", viper.GetInt("port"))
		srv := server.NewServer(database)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(addr)
		}()

		logger.Info("web server listening", "addr", addr)
		fmt.Fprintf(cmd.OutOrStdout(), "TaskTree visualizer on http://localhost%s\n", addr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("web server exited: %w", err)
			}
		case <-sigCh:
			shutdownCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown failed: %w", err)
			}
		}
		return nil
	},
}

func init() {
	webCmd.Flags().Int("port", 8723, "Port to listen on")
}
