package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
)

func TestQueueEnqueueDequeueAck(t *testing.T) {
	c, _ := newTestClient(t)
	q := NewQueue(c)
	ctx := context.Background()

	payload, _ := json.Marshal(domain.EvaluateStrategyJob{StrategyID: 7})
	jobID, err := q.Enqueue(ctx, domain.QueueStrategy, payload)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if jobID == "" {
		t.Fatalf("expected non-empty job id")
	}

	job, err := q.Dequeue(ctx, domain.QueueStrategy, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if job == nil {
		t.Fatalf("expected a job, got nil")
	}
	if job.ID != jobID || job.State != domain.JobActive || job.Attempts != 1 {
		t.Fatalf("unexpected job: %+v", job)
	}

	if err := q.Ack(ctx, job); err != nil {
		t.Fatalf("ack: %v", err)
	}

	empty, err := q.Dequeue(ctx, domain.QueueStrategy, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue after ack: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected no job after ack, got %+v", empty)
	}
}

func TestQueueDequeueEmptyReturnsNil(t *testing.T) {
	c, _ := newTestClient(t)
	q := NewQueue(c)
	ctx := context.Background()

	job, err := q.Dequeue(ctx, domain.QueueStrategy, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job on empty queue, got %+v", job)
	}
}

func TestQueueFailRetriesThenGivesUp(t *testing.T) {
	c, _ := newTestClient(t)
	q := NewQueue(c)
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, domain.QueueTransaction, []byte(`{}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := q.Dequeue(ctx, domain.QueueTransaction, 50*time.Millisecond)
	if err != nil || job == nil {
		t.Fatalf("dequeue: job=%+v err=%v", job, err)
	}
	if job.ID != jobID {
		t.Fatalf("unexpected job id")
	}

	cause := errors.New("signer unavailable")
	if err := q.Fail(ctx, job, cause, 2, 10*time.Millisecond); err != nil {
		t.Fatalf("fail: %v", err)
	}

	// Attempts (1) < maxAttempts (2): job should be rescheduled with backoff,
	// not immediately ready.
	immediate, err := q.Dequeue(ctx, domain.QueueTransaction, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if immediate != nil {
		t.Fatalf("expected job to be delayed, not immediately ready")
	}

	retried, err := q.Dequeue(ctx, domain.QueueTransaction, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue after backoff: %v", err)
	}
	if retried == nil || retried.ID != jobID || retried.Attempts != 2 {
		t.Fatalf("expected retried job with attempts=2, got %+v", retried)
	}

	// Now attempts (2) == maxAttempts (2): Fail should give up permanently.
	if err := q.Fail(ctx, retried, cause, 2, 10*time.Millisecond); err != nil {
		t.Fatalf("fail: %v", err)
	}
	final, err := q.Dequeue(ctx, domain.QueueTransaction, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if final != nil {
		t.Fatalf("expected job to be abandoned after exhausting attempts, got %+v", final)
	}
}

func TestActiveJobsFor(t *testing.T) {
	c, _ := newTestClient(t)
	q := NewQueue(c)
	ctx := context.Background()

	p1, _ := json.Marshal(domain.EvaluateStrategyJob{StrategyID: 42})
	p2, _ := json.Marshal(domain.EvaluateStrategyJob{StrategyID: 99})

	if _, err := q.Enqueue(ctx, domain.QueueStrategy, p1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, domain.QueueStrategy, p2); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	j1, err := q.Dequeue(ctx, domain.QueueStrategy, 50*time.Millisecond)
	if err != nil || j1 == nil {
		t.Fatalf("dequeue j1: %+v %v", j1, err)
	}
	j2, err := q.Dequeue(ctx, domain.QueueStrategy, 50*time.Millisecond)
	if err != nil || j2 == nil {
		t.Fatalf("dequeue j2: %+v %v", j2, err)
	}

	matches, err := q.ActiveJobsFor(ctx, domain.QueueStrategy, 42)
	if err != nil {
		t.Fatalf("active jobs for: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one active job for strategy 42, got %v", matches)
	}

	none, err := q.ActiveJobsFor(ctx, domain.QueueStrategy, 1234)
	if err != nil {
		t.Fatalf("active jobs for: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no active jobs for unrelated strategy, got %v", none)
	}
}
