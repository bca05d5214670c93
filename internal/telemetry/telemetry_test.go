package telemetry

import (
	"context"
	"testing"
)

func TestNoopRecordsWithoutPanicking(t *testing.T) {
	tel := Noop()
	ctx := context.Background()

	tel.JobEnqueued(ctx, "strategy-queue", false)
	tel.JobDequeued(ctx, "strategy-queue")
	tel.JobAcked(ctx, "strategy-queue")
	tel.JobFailed(ctx, "strategy-queue", true)
	tel.LockAcquired(ctx, "strategy-execute:1")
	tel.LockContended(ctx, "strategy-execute:1")
	tel.LockReleased(ctx, "strategy-execute:1", true)
	tel.Evaluation(ctx, "price", true)
	tel.Dispatch(ctx, "success", 0.42)
}

func TestNewUsesGlobalMeterProvider(t *testing.T) {
	if _, err := New(); err != nil {
		t.Fatalf("New: %v", err)
	}
}
