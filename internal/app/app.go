// Package app wires together the chainstrategy pipeline's components
// (Ingestor, Scheduler, Evaluator, Executor) and runs the goroutines for
// whichever mode the configuration selects.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/chainstrategy/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// the cleanup function returned by Wire.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, selects the operating mode, starts the
// corresponding goroutines, and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.cleanup = cleanup

	switch strings.ToLower(a.cfg.Mode) {
	case "ingest":
		return a.IngestMode(ctx, deps)
	case "schedule":
		return a.ScheduleMode(ctx, deps)
	case "evaluate":
		return a.EvaluateMode(ctx, deps)
	case "execute":
		return a.ExecuteMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close releases resources acquired during Wire. Safe to call multiple
// times; subsequent calls are no-ops.
func (a *App) Close() {
	if a.cleanup == nil {
		return
	}
	a.logger.Info("shutting down application")
	a.cleanup()
	a.cleanup = nil
}
