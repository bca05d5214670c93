// Package telemetry wraps OpenTelemetry metric instruments for the pipeline's
// job queue, distributed lock, and dispatch outcomes. The teacher carries no
// metrics package; this is grounded on the pack's only OTel metrics user.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/alanyoungcy/chainstrategy"

// Telemetry holds the counters and histograms shared across the pipeline's
// components. A nil *Telemetry is not valid; use Noop() in tests that don't
// care about metrics.
type Telemetry struct {
	meter metric.Meter

	jobsEnqueued metric.Int64Counter
	jobsDequeued metric.Int64Counter
	jobsAcked    metric.Int64Counter
	jobsFailed   metric.Int64Counter

	lockAcquired  metric.Int64Counter
	lockContended metric.Int64Counter
	lockReleased  metric.Int64Counter

	dispatchOutcomes metric.Int64Counter
	dispatchDuration metric.Float64Histogram

	evaluations metric.Int64Counter
}

// New builds a Telemetry from the globally configured MeterProvider. Callers
// that set up an SDK MeterProvider (OTLP, Prometheus, etc.) should do so
// before calling New via otel.SetMeterProvider.
func New() (*Telemetry, error) {
	meter := otel.Meter(instrumentationName)
	return newFromMeter(meter)
}

func newFromMeter(meter metric.Meter) (*Telemetry, error) {
	t := &Telemetry{meter: meter}

	var err error

	t.jobsEnqueued, err = meter.Int64Counter("chainstrategy.queue.jobs_enqueued",
		metric.WithDescription("Jobs enqueued, including delayed jobs"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: jobs_enqueued counter: %w", err)
	}

	t.jobsDequeued, err = meter.Int64Counter("chainstrategy.queue.jobs_dequeued",
		metric.WithDescription("Jobs popped off the ready list for processing"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: jobs_dequeued counter: %w", err)
	}

	t.jobsAcked, err = meter.Int64Counter("chainstrategy.queue.jobs_acked",
		metric.WithDescription("Jobs acknowledged as complete"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: jobs_acked counter: %w", err)
	}

	t.jobsFailed, err = meter.Int64Counter("chainstrategy.queue.jobs_failed",
		metric.WithDescription("Job failures, retried or permanently given up"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: jobs_failed counter: %w", err)
	}

	t.lockAcquired, err = meter.Int64Counter("chainstrategy.lock.acquired",
		metric.WithDescription("Distributed lock acquisitions"),
		metric.WithUnit("{lock}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: lock_acquired counter: %w", err)
	}

	t.lockContended, err = meter.Int64Counter("chainstrategy.lock.contended",
		metric.WithDescription("Distributed lock acquisitions that lost to a holder"),
		metric.WithUnit("{lock}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: lock_contended counter: %w", err)
	}

	t.lockReleased, err = meter.Int64Counter("chainstrategy.lock.released",
		metric.WithDescription("Distributed lock releases"),
		metric.WithUnit("{lock}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: lock_released counter: %w", err)
	}

	t.dispatchOutcomes, err = meter.Int64Counter("chainstrategy.executor.dispatch_outcomes",
		metric.WithDescription("Executor dispatch outcomes by status"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: dispatch_outcomes counter: %w", err)
	}

	t.dispatchDuration, err = meter.Float64Histogram("chainstrategy.executor.dispatch_duration",
		metric.WithDescription("Time from dispatch request to signer response"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: dispatch_duration histogram: %w", err)
	}

	t.evaluations, err = meter.Int64Counter("chainstrategy.evaluator.evaluations",
		metric.WithDescription("Strategy evaluations by trigger outcome"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: evaluations counter: %w", err)
	}

	return t, nil
}

// Noop returns a Telemetry backed by the no-op MeterProvider, for tests and
// components that run without an SDK configured.
func Noop() *Telemetry {
	t, err := newFromMeter(noop.NewMeterProvider().Meter(instrumentationName))
	if err != nil {
		// the no-op meter never fails to create instruments.
		panic(err)
	}
	return t
}

// JobEnqueued records a job entering the queue, ready or delayed.
func (t *Telemetry) JobEnqueued(ctx context.Context, queue string, delayed bool) {
	t.jobsEnqueued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.Bool("delayed", delayed),
	))
}

// JobDequeued records a worker pulling a job off the ready list.
func (t *Telemetry) JobDequeued(ctx context.Context, queue string) {
	t.jobsDequeued.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

// JobAcked records a job completing successfully.
func (t *Telemetry) JobAcked(ctx context.Context, queue string) {
	t.jobsAcked.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

// JobFailed records a job failure. retrying distinguishes a scheduled retry
// from a permanent give-up.
func (t *Telemetry) JobFailed(ctx context.Context, queue string, retrying bool) {
	t.jobsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.Bool("retrying", retrying),
	))
}

// LockAcquired records a successful lock acquisition for key.
func (t *Telemetry) LockAcquired(ctx context.Context, key string) {
	t.lockAcquired.Add(ctx, 1, metric.WithAttributes(attribute.String("lock", key)))
}

// LockContended records a lock acquisition that lost to an existing holder.
func (t *Telemetry) LockContended(ctx context.Context, key string) {
	t.lockContended.Add(ctx, 1, metric.WithAttributes(attribute.String("lock", key)))
}

// LockReleased records a lock release, successful or not (held indicates
// whether this caller actually held the token).
func (t *Telemetry) LockReleased(ctx context.Context, key string, held bool) {
	t.lockReleased.Add(ctx, 1, metric.WithAttributes(
		attribute.String("lock", key),
		attribute.Bool("held", held),
	))
}

// Evaluation records a strategy evaluation and whether its trigger fired.
func (t *Telemetry) Evaluation(ctx context.Context, triggerType string, fired bool) {
	t.evaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger_type", triggerType),
		attribute.Bool("fired", fired),
	))
}

// Dispatch records the outcome and duration of an Executor dispatch attempt.
func (t *Telemetry) Dispatch(ctx context.Context, outcome string, seconds float64) {
	t.dispatchOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	t.dispatchDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("outcome", outcome)))
}
