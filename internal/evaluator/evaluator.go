// Package evaluator consumes strategy-queue and runs the trigger evaluation
// state machine (spec.md §4.3): guard against overlapping work for the same
// strategy, evaluate the trigger against the latest price data, and dispatch
// a matched strategy's intent to the Executor over HTTP.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
	"github.com/alanyoungcy/chainstrategy/internal/reqid"
	"github.com/alanyoungcy/chainstrategy/internal/telemetry"
)

const (
	defaultMaxAttempts  = 3
	defaultBaseBackoff  = 500 * time.Millisecond
	defaultDequeueWait  = 5 * time.Second
	defaultDispatchTO   = 12 * time.Second
	trendSampleMinFetch = 100
)

// Config controls retry policy and HTTP dispatch; all fields have defaults
// applied by New if left zero.
type Config struct {
	ExecutorURL  string
	ServiceToken string
	MaxAttempts  int
	BaseBackoff  time.Duration
	DequeueWait  time.Duration
	// TrendMaxAge, if nonzero, excludes samples older than this from trend
	// evaluation. The spec leaves the trend window unbounded by default
	// (zero value) since no staleness filter is observed in the original
	// behaviour; this exists only for deployments that want one.
	TrendMaxAge time.Duration
}

// Evaluator is a strategy-queue consumer.
type Evaluator struct {
	queue      domain.QueueClient
	strategies domain.StrategyStore
	samples    domain.PriceSampleStore
	httpClient *http.Client
	cfg        Config
	tel        *telemetry.Telemetry
	logger     *slog.Logger
}

// New creates an Evaluator. cfg zero values fall back to spec.md §4.3/§5
// defaults (3 attempts, 500ms base backoff, 5s dequeue wait, 12s dispatch
// timeout).
func New(queue domain.QueueClient, strategies domain.StrategyStore, samples domain.PriceSampleStore, cfg Config, tel *telemetry.Telemetry, logger *slog.Logger) *Evaluator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.DequeueWait <= 0 {
		cfg.DequeueWait = defaultDequeueWait
	}
	return &Evaluator{
		queue:      queue,
		strategies: strategies,
		samples:    samples,
		httpClient: &http.Client{Timeout: defaultDispatchTO},
		cfg:        cfg,
		tel:        tel,
		logger:     logger.With(slog.String("component", "evaluator")),
	}
}

// Run consumes strategy-queue until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context) error {
	e.logger.Info("evaluator started")
	defer e.logger.Info("evaluator stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		job, err := e.queue.Dequeue(ctx, domain.QueueStrategy, e.cfg.DequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Error("dequeue failed", slog.String("error", err.Error()))
			continue
		}
		if job == nil {
			continue
		}

		if e.tel != nil {
			e.tel.JobDequeued(ctx, domain.QueueStrategy)
		}

		if err := e.process(ctx, job); err != nil {
			e.logger.Error("job processing failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
			if failErr := e.queue.Fail(ctx, job, err, e.cfg.MaxAttempts, e.cfg.BaseBackoff); failErr != nil {
				e.logger.Error("marking job failed also failed", slog.String("error", failErr.Error()))
			}
			if e.tel != nil {
				e.tel.JobFailed(ctx, domain.QueueStrategy, job.Attempts < e.cfg.MaxAttempts)
			}
			continue
		}

		if err := e.queue.Ack(ctx, job); err != nil {
			e.logger.Error("ack failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
			continue
		}
		if e.tel != nil {
			e.tel.JobAcked(ctx, domain.QueueStrategy)
		}
	}
}

// process runs the 8-step evaluation state machine for a single job
// (spec.md §4.3). A returned error (an unreadable payload, a failed queue or
// strategy-store lookup, or a trigger evaluation error) sends the job
// through the queue's own retry/backoff; every
// business-logic no-op (dedup, inactive strategy, trigger false, missing
// session key, exhausted dispatch retries) is handled internally and the
// job is acked as done.
func (e *Evaluator) process(ctx context.Context, job *domain.Job) error {
	var payload domain.EvaluateStrategyJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("evaluator: unmarshalling job payload: %w", err)
	}

	log := e.logger.With(slog.Int64("strategy_id", payload.StrategyID), slog.String("job_id", job.ID))

	// 1. Active-duplicate guard.
	active, err := e.queue.ActiveJobsFor(ctx, domain.QueueStrategy, payload.StrategyID)
	if err != nil {
		return fmt.Errorf("evaluator: active job lookup: %w", err)
	}
	for _, id := range active {
		if id != job.ID {
			log.Debug("deduped away, another job for this strategy is active")
			return nil
		}
	}

	// 2. Load strategy.
	strat, err := e.strategies.GetByID(ctx, payload.StrategyID)
	if err != nil {
		if err == domain.ErrNotFound {
			log.Debug("strategy not found, skipping")
			return nil
		}
		return fmt.Errorf("evaluator: loading strategy: %w", err)
	}
	if !strat.IsActive {
		log.Debug("strategy inactive, skipping")
		return nil
	}
	if strat.Definition.IsLegacySkip() {
		log.Info("skipping legacy-form strategy")
		return nil
	}

	// 3-4. Evaluate trigger.
	fired, err := e.evaluateTrigger(ctx, strat.Definition.Trigger)
	if err != nil {
		return fmt.Errorf("evaluator: evaluating trigger: %w", err)
	}
	triggerType := string(strat.Definition.Trigger.Type)
	if e.tel != nil {
		e.tel.Evaluation(ctx, triggerType, fired)
	}
	if !fired {
		log.Debug("trigger not met")
		return nil
	}

	// 5. Preconditions for dispatch.
	if strat.Definition.SessionKeyID == nil {
		log.Warn("strategy triggered but has no sessionKeyId, skipping dispatch")
		return nil
	}

	// 6-7. Dispatch with retry.
	req := domain.ExecuteIntentRequest{
		UserID:         strat.UserID,
		Intent:         strat.Definition.Intent,
		SessionKeyID:   *strat.Definition.SessionKeyID,
		IdempotencyKey: fmt.Sprintf("strategy:%d:job:%s", strat.ID, job.ID),
	}
	dispatchErr := e.dispatchWithRetry(ctx, req, log)
	if dispatchErr != nil {
		log.Error("dispatch exhausted all retries", slog.String("error", dispatchErr.Error()))
		return nil
	}

	// 8. One-shot deactivation.
	if !strat.Definition.Repeat {
		if err := e.strategies.SetActive(ctx, strat.ID, false); err != nil {
			log.Error("one-shot deactivation failed", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (e *Evaluator) evaluateTrigger(ctx context.Context, trig domain.Trigger) (bool, error) {
	switch trig.Type {
	case domain.TriggerPrice:
		return e.evaluatePriceTrigger(ctx, trig.Price)
	case domain.TriggerTrend:
		return e.evaluateTrendTrigger(ctx, trig.Trend)
	default:
		return false, fmt.Errorf("evaluator: unknown trigger type %q", trig.Type)
	}
}

func (e *Evaluator) evaluatePriceTrigger(ctx context.Context, pt *domain.PriceTrigger) (bool, error) {
	if pt == nil {
		return false, fmt.Errorf("evaluator: price trigger missing")
	}
	sample, err := e.samples.Latest(ctx, pt.Chain, pt.TokenAddress)
	if err != nil {
		if err == domain.ErrNotFound {
			return false, nil
		}
		return false, err
	}

	comparator := pt.Comparator
	if comparator == "" {
		comparator = domain.ComparatorGTE
	}
	switch comparator {
	case domain.ComparatorLTE:
		return sample.PriceUsd <= pt.PriceTarget, nil
	default:
		return sample.PriceUsd >= pt.PriceTarget, nil
	}
}

func (e *Evaluator) evaluateTrendTrigger(ctx context.Context, tt *domain.TrendTrigger) (bool, error) {
	if tt == nil {
		return false, fmt.Errorf("evaluator: trend trigger missing")
	}
	top := tt.Top
	if top <= 0 {
		top = 1
	}
	fetchN := top * 10
	if fetchN < trendSampleMinFetch {
		fetchN = trendSampleMinFetch
	}

	recent, err := e.samples.RecentByChain(ctx, tt.Chain, fetchN)
	if err != nil {
		return false, err
	}

	var cutoff time.Time
	if e.cfg.TrendMaxAge > 0 {
		cutoff = time.Now().Add(-e.cfg.TrendMaxAge)
	}

	seen := make(map[string]bool, len(recent))
	distinct := make([]string, 0, top)
	for _, s := range recent {
		if !cutoff.IsZero() && s.Timestamp.Before(cutoff) {
			continue
		}
		if seen[s.Address] {
			continue
		}
		seen[s.Address] = true
		distinct = append(distinct, s.Address)
		if len(distinct) == top {
			break
		}
	}

	for _, addr := range distinct {
		if addr == tt.TokenAddress {
			return true, nil
		}
	}
	return false, nil
}

func (e *Evaluator) dispatchWithRetry(ctx context.Context, req domain.ExecuteIntentRequest, log *slog.Logger) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("evaluator: marshalling dispatch request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := e.cfg.BaseBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = e.dispatchOnce(ctx, body)
		if lastErr == nil {
			return nil
		}
		log.Warn("dispatch attempt failed", slog.Int("attempt", attempt+1), slog.String("error", lastErr.Error()))
	}
	return lastErr
}

func (e *Evaluator) dispatchOnce(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.ExecutorURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("evaluator: building dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-service-token", e.cfg.ServiceToken)
	httpReq.Header.Set("X-Request-Id", reqid.FromContextOrNew(ctx))

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("evaluator: dispatch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("evaluator: dispatch returned status %d", resp.StatusCode)
	}
	return nil
}
