package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// IngestMode runs only the Ingestor (spec.md §4.1): periodic fan-out across
// configured feeds and chains, writing PriceSample rows.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")
	return deps.Ingestor.Run(ctx)
}

// ScheduleMode runs only the Scheduler (spec.md §4.2): enqueues one
// EvaluateStrategy job per active strategy at its cadence boundary.
func (a *App) ScheduleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting schedule mode")
	return deps.Scheduler.Run(ctx)
}

// EvaluateMode runs only the Evaluator (spec.md §4.3): consumes
// strategy-queue, tests triggers, and dispatches matches to the Executor.
func (a *App) EvaluateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting evaluate mode")
	return deps.Evaluator.Run(ctx)
}

// ExecuteMode runs the Executor's internal HTTP endpoint and its
// transaction-queue worker side by side (spec.md §4.4): the synchronous path
// the Evaluator calls directly, and the asynchronous queue-driven path.
func (a *App) ExecuteMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting execute mode")
	return a.runExecutor(ctx, deps)
}

// FullMode runs every component in a single process (Ingestor, Scheduler,
// Evaluator, Executor), coordinating only through the shared queue broker
// and distributed lock as spec.md §5 requires.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Ingestor.Run(ctx) })
	g.Go(func() error { return deps.Scheduler.Run(ctx) })
	g.Go(func() error { return deps.Evaluator.Run(ctx) })
	g.Go(func() error { return a.runExecutor(ctx, deps) })

	return g.Wait()
}

// runExecutor starts the Executor's HTTP endpoint (if enabled) and its
// transaction-queue worker, and stops both on ctx cancellation with a
// bounded drain deadline for in-flight HTTP requests (spec.md §5 graceful
// shutdown).
func (a *App) runExecutor(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	if deps.Worker != nil {
		g.Go(func() error { return deps.Worker.Run(ctx) })
	}

	if deps.Server != nil {
		g.Go(func() error {
			errCh := make(chan error, 1)
			go func() { errCh <- deps.Server.Start() }()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return deps.Server.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		})
	}

	return g.Wait()
}
