package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/statehub"
	"github.com/jpalmerr/statehub/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger whose level can change while running.
func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// serveCmd starts the mirror server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Mirror configured collections over HTTP",
	Long: `Start the statehub mirror server.

The server will:
  - Load configuration from the specified YAML file
  - Load every configured collection from its backend
  - Refresh collections periodically if refresh_interval is set
  - Serve snapshots, mutations, SSE and WebSocket streams on the configured port
  - Reapply log_level whenever the config file changes

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  statehub serve -c config.yaml
  statehub serve --config /etc/statehub/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	serveCmd.Flags().Bool("watch", true, "reload log_level when the config file changes")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	watch, _ := cmd.Flags().GetBool("watch")

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var level slog.LevelVar
	lvl, _ := config.ParseLevel(cfg.LogLevel) // validated by Load
	level.Set(lvl)
	logger := newLogger(os.Stderr, &level)

	logger.Info("config loaded", "collections", len(cfg.Collections))
	logger.Info("starting server",
		"port", cfg.Port,
		"refresh_interval", cfg.RefreshInterval.Duration().String(),
	)

	hub, err := statehub.New(config.BuildOptions(cfg, logger)...)
	if err != nil {
		return fmt.Errorf("failed to create hub: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if watch {
		go func() {
			err := config.Watch(ctx, configFile, logger, func(next *config.Config) {
				if l, err := config.ParseLevel(next.LogLevel); err == nil && l != level.Level() {
					level.Set(l)
					logger.Info("log level changed", "level", l.String())
				}
			})
			if err != nil {
				logger.Warn("config watch disabled", "error", err)
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- hub.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
