package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
	"github.com/alanyoungcy/chainstrategy/internal/telemetry"
)

type fakeStrategyStore struct {
	mu         sync.Mutex
	strategies []domain.Strategy
}

func (f *fakeStrategyStore) Create(ctx context.Context, s domain.Strategy) (domain.Strategy, error) {
	return domain.Strategy{}, nil
}
func (f *fakeStrategyStore) GetByID(ctx context.Context, id int64) (domain.Strategy, error) {
	return domain.Strategy{}, domain.ErrNotFound
}
func (f *fakeStrategyStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Strategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Strategy, len(f.strategies))
	copy(out, f.strategies)
	return out, nil
}
func (f *fakeStrategyStore) SetActive(ctx context.Context, id int64, active bool) error { return nil }
func (f *fakeStrategyStore) Deactivate(ctx context.Context, id int64) error             { return nil }

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
}

func (q *fakeQueue) Enqueue(ctx context.Context, queue string, payload []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var job domain.EvaluateStrategyJob
	_ = json.Unmarshal(payload, &job)
	q.enqueued = append(q.enqueued, queue)
	return "job-1", nil
}
func (q *fakeQueue) EnqueueDelayed(ctx context.Context, queue string, payload []byte, delay time.Duration) (string, error) {
	return "job-1", nil
}
func (q *fakeQueue) Dequeue(ctx context.Context, queue string, wait time.Duration) (*domain.Job, error) {
	return nil, nil
}
func (q *fakeQueue) Ack(ctx context.Context, job *domain.Job) error { return nil }
func (q *fakeQueue) Fail(ctx context.Context, job *domain.Job, cause error, maxAttempts int, baseBackoff time.Duration) error {
	return nil
}
func (q *fakeQueue) ActiveJobsFor(ctx context.Context, queue string, strategyID int64) ([]string, error) {
	return nil, nil
}
func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.enqueued)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerEnqueuesDueStrategy(t *testing.T) {
	store := &fakeStrategyStore{strategies: []domain.Strategy{
		{ID: 1, IsActive: true, CreatedAt: time.Now().Add(-time.Hour)},
	}}
	queue := &fakeQueue{}
	s := New(store, queue, telemetry.Noop(), testLogger(), time.Millisecond)

	s.tick(context.Background())

	if queue.count() != 1 {
		t.Fatalf("expected 1 job enqueued, got %d", queue.count())
	}
}

func TestSchedulerSkipsNotYetDue(t *testing.T) {
	store := &fakeStrategyStore{strategies: []domain.Strategy{
		{ID: 2, IsActive: true, CreatedAt: time.Now()},
	}}
	queue := &fakeQueue{}
	s := New(store, queue, telemetry.Noop(), testLogger(), time.Hour)

	s.tick(context.Background())
	s.tick(context.Background())

	if queue.count() != 0 {
		t.Fatalf("expected 0 jobs enqueued before cadence elapses, got %d", queue.count())
	}
}

func TestSchedulerForgetsDeactivatedStrategy(t *testing.T) {
	store := &fakeStrategyStore{strategies: []domain.Strategy{
		{ID: 3, IsActive: true, CreatedAt: time.Now().Add(-time.Hour)},
	}}
	queue := &fakeQueue{}
	s := New(store, queue, telemetry.Noop(), testLogger(), time.Millisecond)

	s.tick(context.Background())
	if queue.count() != 1 {
		t.Fatalf("expected first tick to enqueue, got %d", queue.count())
	}

	store.mu.Lock()
	store.strategies = nil
	store.mu.Unlock()
	s.tick(context.Background())

	if len(s.nextFire) != 0 {
		t.Fatalf("expected cached schedule state to be forgotten after deactivation")
	}
}
