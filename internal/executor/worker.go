package executor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
	"github.com/alanyoungcy/chainstrategy/internal/telemetry"
)

const defaultWorkerDequeueWait = 5 * time.Second

// Worker consumes transaction-queue (spec.md §4.4, §6), the asynchronous
// counterpart to Handler's synchronous internal endpoint.
type Worker struct {
	engine      *Engine
	queue       domain.QueueClient
	maxAttempts int
	baseBackoff time.Duration
	dequeueWait time.Duration
	tel         *telemetry.Telemetry
	logger      *slog.Logger
}

// NewWorker creates a Worker. maxAttempts/baseBackoff govern the queue
// broker's own retry of a failed job, independent of Engine's internal
// retry-free, idempotent-by-construction execution.
func NewWorker(engine *Engine, queue domain.QueueClient, maxAttempts int, baseBackoff time.Duration, tel *telemetry.Telemetry, logger *slog.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseBackoff <= 0 {
		baseBackoff = 500 * time.Millisecond
	}
	return &Worker{
		engine:      engine,
		queue:       queue,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		dequeueWait: defaultWorkerDequeueWait,
		tel:         tel,
		logger:      logger.With(slog.String("component", "executor_worker")),
	}
}

// Run consumes transaction-queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("executor worker started")
	defer w.logger.Info("executor worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		job, err := w.queue.Dequeue(ctx, domain.QueueTransaction, w.dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("dequeue failed", slog.String("error", err.Error()))
			continue
		}
		if job == nil {
			continue
		}
		if w.tel != nil {
			w.tel.JobDequeued(ctx, domain.QueueTransaction)
		}

		if err := w.process(ctx, job); err != nil {
			w.logger.Error("job processing failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
			if failErr := w.queue.Fail(ctx, job, err, w.maxAttempts, w.baseBackoff); failErr != nil {
				w.logger.Error("marking job failed also failed", slog.String("error", failErr.Error()))
			}
			if w.tel != nil {
				w.tel.JobFailed(ctx, domain.QueueTransaction, job.Attempts < w.maxAttempts)
			}
			continue
		}

		if err := w.queue.Ack(ctx, job); err != nil {
			w.logger.Error("ack failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
			continue
		}
		if w.tel != nil {
			w.tel.JobAcked(ctx, domain.QueueTransaction)
		}
	}
}

// process runs one ExecuteIntentRequest. Any error Execute returns (lock
// contention, infra failure during a step before signer invocation) is
// retryable at the queue level; a business rejection is not an error — it
// is a successfully persisted "failed" TransactionLog, acked like any other
// completed job.
func (w *Worker) process(ctx context.Context, job *domain.Job) error {
	var req domain.ExecuteIntentRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return err
	}

	_, err := w.engine.Execute(ctx, req)
	return err
}
