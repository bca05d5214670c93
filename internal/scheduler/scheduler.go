// Package scheduler implements the cadence ticker (spec.md §4.2): it enqueues
// an evaluation job for every active strategy at its cadence boundary and
// never reads prices or intents itself.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
	"github.com/alanyoungcy/chainstrategy/internal/telemetry"
)

// checkInterval is how often the Scheduler re-examines the active strategy
// set for due cadences. It is independent of any individual strategy's own
// cadence, which may be coarser.
const checkInterval = 5 * time.Second

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler enqueues EvaluateStrategyJob onto the strategy queue for every
// active strategy whose cadence has elapsed.
type Scheduler struct {
	strategies   domain.StrategyStore
	queue        domain.QueueClient
	logger       *slog.Logger
	tel          *telemetry.Telemetry
	pollInterval time.Duration

	mu       sync.Mutex
	nextFire map[int64]time.Time
	schedule map[int64]cron.Schedule
}

// New creates a Scheduler. pollInterval is the default cadence applied to a
// strategy whose Schedule field is empty (spec.md §4.2).
func New(strategies domain.StrategyStore, queue domain.QueueClient, tel *telemetry.Telemetry, logger *slog.Logger, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 60 * time.Second
	}
	return &Scheduler{
		strategies:   strategies,
		queue:        queue,
		logger:       logger,
		tel:          tel,
		pollInterval: pollInterval,
		nextFire:     make(map[int64]time.Time),
		schedule:     make(map[int64]cron.Schedule),
	}
}

// Run ticks the active strategy set every checkInterval, enqueuing a job for
// each strategy whose cadence boundary has passed, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler loop stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	strategies, err := s.strategies.ListActive(ctx, domain.ListOpts{})
	if err != nil {
		s.logger.Error("scheduler: listing active strategies failed", slog.String("error", err.Error()))
		return
	}

	now := time.Now()
	seen := make(map[int64]bool, len(strategies))

	for _, strat := range strategies {
		seen[strat.ID] = true
		if !s.due(strat, now) {
			continue
		}
		s.enqueue(ctx, strat)
	}

	s.forgetInactive(seen)
}

// due reports whether strat's cadence boundary has passed as of now,
// lazily resolving and caching its cron schedule on first sight.
func (s *Scheduler) due(strat domain.Strategy, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedule[strat.ID]
	if !ok {
		var err error
		sched, err = s.resolveSchedule(strat.Schedule)
		if err != nil {
			s.logger.Error("scheduler: invalid cadence, falling back to poll interval",
				slog.Int64("strategy_id", strat.ID), slog.String("schedule", strat.Schedule), slog.String("error", err.Error()))
			sched = cron.Every(s.pollInterval)
		}
		s.schedule[strat.ID] = sched
		s.nextFire[strat.ID] = sched.Next(strat.CreatedAt)
	}

	next, ok := s.nextFire[strat.ID]
	if !ok || now.Before(next) {
		return false
	}

	s.nextFire[strat.ID] = sched.Next(now)
	return true
}

func (s *Scheduler) resolveSchedule(raw string) (cron.Schedule, error) {
	if raw == "" {
		return cron.Every(s.pollInterval), nil
	}
	return scheduleParser.Parse(raw)
}

func (s *Scheduler) enqueue(ctx context.Context, strat domain.Strategy) {
	payload, err := json.Marshal(domain.EvaluateStrategyJob{StrategyID: strat.ID})
	if err != nil {
		s.logger.Error("scheduler: marshalling job payload failed", slog.Int64("strategy_id", strat.ID), slog.String("error", err.Error()))
		return
	}

	if _, err := s.queue.Enqueue(ctx, domain.QueueStrategy, payload); err != nil {
		s.logger.Error("scheduler: enqueue failed", slog.Int64("strategy_id", strat.ID), slog.String("error", err.Error()))
		return
	}

	if s.tel != nil {
		s.tel.JobEnqueued(ctx, domain.QueueStrategy, false)
	}
	s.logger.Info("enqueued strategy evaluation", slog.Int64("strategy_id", strat.ID))
}

// forgetInactive drops cached schedule state for strategies that were not
// seen in the latest active listing (deactivated or deleted), so a
// reactivated strategy starts its cadence fresh rather than replaying a
// stale nextFire from before deactivation.
func (s *Scheduler) forgetInactive(seen map[int64]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.nextFire {
		if !seen[id] {
			delete(s.nextFire, id)
			delete(s.schedule, id)
		}
	}
}
