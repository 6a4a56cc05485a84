package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/statehub/internal/backend"
)

// mockserverCmd runs the fake places/users backend.
var mockserverCmd = &cobra.Command{
	Use:   "mockserver",
	Short: "Run a fake places and users backend",
	Long: `Run an in-memory JSON backend for trying statehub locally.

Routes:
  GET    /places                 {"places": [...]}
  GET    /user-places            {"places": [...]}
  PUT    /user-places            body {"placeId": "p1"}
  DELETE /user-places/{id}
  GET    /users[?name_like=term]
  GET    /users/{id}

Use --latency to slow every response down and --fail-mutations to make
every PUT and DELETE fail, which exercises optimistic rollback.

Example:
  statehub mockserver --addr :3000 --latency 500ms`,
	RunE: runMockserver,
}

func init() {
	rootCmd.AddCommand(mockserverCmd)

	mockserverCmd.Flags().String("addr", ":3000", "listen address")
	mockserverCmd.Flags().Duration("latency", 0, "delay added to every response")
	mockserverCmd.Flags().Bool("fail-mutations", false, "answer 500 to every PUT and DELETE")
}

func runMockserver(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	latency, _ := cmd.Flags().GetDuration("latency")
	fail, _ := cmd.Flags().GetBool("fail-mutations")

	var level slog.LevelVar
	logger := newLogger(os.Stderr, &level)

	opts := []backend.Option{backend.WithLogger(logger), backend.WithLatency(latency)}
	if fail {
		opts = append(opts, backend.WithFailingMutations())
	}
	b := backend.New(opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: addr, Handler: b.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("mock server shutdown error", "error", err)
		}
	}()

	logger.Info("mock server listening", "addr", addr, "latency", latency.String(), "fail_mutations", fail)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("mock server: %w", err)
	}
	return nil
}
