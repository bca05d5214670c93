package evaluator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
	"github.com/alanyoungcy/chainstrategy/internal/telemetry"
)

type fakeQueue struct {
	mu        sync.Mutex
	active    map[int64][]string
	acked     []string
	failed    []string
	dequeueFn func() *domain.Job
}

func (q *fakeQueue) Enqueue(ctx context.Context, queue string, payload []byte) (string, error) {
	return "", nil
}
func (q *fakeQueue) EnqueueDelayed(ctx context.Context, queue string, payload []byte, delay time.Duration) (string, error) {
	return "", nil
}
func (q *fakeQueue) Dequeue(ctx context.Context, queue string, wait time.Duration) (*domain.Job, error) {
	if q.dequeueFn != nil {
		return q.dequeueFn(), nil
	}
	return nil, nil
}
func (q *fakeQueue) Ack(ctx context.Context, job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, job.ID)
	return nil
}
func (q *fakeQueue) Fail(ctx context.Context, job *domain.Job, cause error, maxAttempts int, baseBackoff time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, job.ID)
	return nil
}
func (q *fakeQueue) ActiveJobsFor(ctx context.Context, queue string, strategyID int64) ([]string, error) {
	return q.active[strategyID], nil
}

type fakeStrategyStore struct {
	mu         sync.Mutex
	strategies map[int64]domain.Strategy
	setActive  []bool
}

func (f *fakeStrategyStore) Create(ctx context.Context, s domain.Strategy) (domain.Strategy, error) {
	return domain.Strategy{}, nil
}
func (f *fakeStrategyStore) GetByID(ctx context.Context, id int64) (domain.Strategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.strategies[id]
	if !ok {
		return domain.Strategy{}, domain.ErrNotFound
	}
	return s, nil
}
func (f *fakeStrategyStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Strategy, error) {
	return nil, nil
}
func (f *fakeStrategyStore) SetActive(ctx context.Context, id int64, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setActive = append(f.setActive, active)
	s := f.strategies[id]
	s.IsActive = active
	f.strategies[id] = s
	return nil
}
func (f *fakeStrategyStore) Deactivate(ctx context.Context, id int64) error {
	return f.SetActive(ctx, id, false)
}

type fakeSampleStore struct {
	latest map[string]domain.PriceSample
	recent []domain.PriceSample
}

func sampleKey(chain, address string) string { return chain + "/" + address }

func (f *fakeSampleStore) Insert(ctx context.Context, s domain.PriceSample) error { return nil }
func (f *fakeSampleStore) Latest(ctx context.Context, chain, address string) (domain.PriceSample, error) {
	s, ok := f.latest[sampleKey(chain, address)]
	if !ok {
		return domain.PriceSample{}, domain.ErrNotFound
	}
	return s, nil
}
func (f *fakeSampleStore) RecentByChain(ctx context.Context, chain string, limit int) ([]domain.PriceSample, error) {
	return f.recent, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sessionKeyPtr(id int64) *int64 { return &id }

func TestProcessSkipsOnActiveDuplicate(t *testing.T) {
	queue := &fakeQueue{active: map[int64][]string{1: {"other-job"}}}
	strategies := &fakeStrategyStore{strategies: map[int64]domain.Strategy{}}
	samples := &fakeSampleStore{}
	e := New(queue, strategies, samples, Config{}, telemetry.Noop(), testLogger())

	job := &domain.Job{ID: "job-1", Payload: mustJSON(t, domain.EvaluateStrategyJob{StrategyID: 1})}
	if err := e.process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}
}

func TestProcessSkipsInactiveStrategy(t *testing.T) {
	queue := &fakeQueue{}
	strategies := &fakeStrategyStore{strategies: map[int64]domain.Strategy{
		1: {ID: 1, IsActive: false},
	}}
	samples := &fakeSampleStore{}
	e := New(queue, strategies, samples, Config{}, telemetry.Noop(), testLogger())

	job := &domain.Job{ID: "job-1", Payload: mustJSON(t, domain.EvaluateStrategyJob{StrategyID: 1})}
	if err := e.process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}
}

func TestProcessDispatchesOnPriceTriggerMet(t *testing.T) {
	var gotIdempotencyKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.ExecuteIntentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotIdempotencyKey = req.IdempotencyKey
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	queue := &fakeQueue{}
	strategies := &fakeStrategyStore{strategies: map[int64]domain.Strategy{
		1: {
			ID: 1, IsActive: true,
			Definition: domain.Definition{
				Trigger: domain.Trigger{Type: domain.TriggerPrice, Price: &domain.PriceTrigger{
					Chain: "ethereum", TokenAddress: "0xabc", PriceTarget: 10, Comparator: domain.ComparatorGTE,
				}},
				Intent:       domain.Intent{Type: domain.IntentSwap, Transfer: &domain.TransferIntent{}},
				SessionKeyID: sessionKeyPtr(7),
				Repeat:       true,
			},
		},
	}}
	samples := &fakeSampleStore{latest: map[string]domain.PriceSample{
		sampleKey("ethereum", "0xabc"): {PriceUsd: 15},
	}}
	e := New(queue, strategies, samples, Config{ExecutorURL: srv.URL}, telemetry.Noop(), testLogger())

	job := &domain.Job{ID: "job-42", Payload: mustJSON(t, domain.EvaluateStrategyJob{StrategyID: 1})}
	if err := e.process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}
	if gotIdempotencyKey != "strategy:1:job:job-42" {
		t.Fatalf("unexpected idempotency key: %q", gotIdempotencyKey)
	}
	strategies.mu.Lock()
	stillActive := strategies.strategies[1].IsActive
	strategies.mu.Unlock()
	if !stillActive {
		t.Fatalf("expected repeat=true strategy to remain active")
	}
}

func TestProcessDeactivatesOneShotAfterDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	queue := &fakeQueue{}
	strategies := &fakeStrategyStore{strategies: map[int64]domain.Strategy{
		1: {
			ID: 1, IsActive: true,
			Definition: domain.Definition{
				Trigger: domain.Trigger{Type: domain.TriggerPrice, Price: &domain.PriceTrigger{
					Chain: "ethereum", TokenAddress: "0xabc", PriceTarget: 10, Comparator: domain.ComparatorGTE,
				}},
				Intent:       domain.Intent{Type: domain.IntentSwap, Transfer: &domain.TransferIntent{}},
				SessionKeyID: sessionKeyPtr(7),
				Repeat:       false,
			},
		},
	}}
	samples := &fakeSampleStore{latest: map[string]domain.PriceSample{
		sampleKey("ethereum", "0xabc"): {PriceUsd: 15},
	}}
	e := New(queue, strategies, samples, Config{ExecutorURL: srv.URL}, telemetry.Noop(), testLogger())

	job := &domain.Job{ID: "job-1", Payload: mustJSON(t, domain.EvaluateStrategyJob{StrategyID: 1})}
	if err := e.process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	strategies.mu.Lock()
	stillActive := strategies.strategies[1].IsActive
	strategies.mu.Unlock()
	if stillActive {
		t.Fatalf("expected one-shot strategy to be deactivated after dispatch")
	}
}

func TestProcessSkipsLegacyStrategy(t *testing.T) {
	queue := &fakeQueue{}
	strategies := &fakeStrategyStore{strategies: map[int64]domain.Strategy{
		1: {
			ID: 1, IsActive: true,
			Definition: domain.Definition{
				Intent: domain.Intent{Type: domain.IntentCustom, Custom: &domain.CustomIntent{Name: domain.LegacyDefinitionName}},
			},
		},
	}}
	samples := &fakeSampleStore{}
	e := New(queue, strategies, samples, Config{}, telemetry.Noop(), testLogger())

	job := &domain.Job{ID: "job-1", Payload: mustJSON(t, domain.EvaluateStrategyJob{StrategyID: 1})}
	if err := e.process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}
}

func TestEvaluateTrendTriggerMembership(t *testing.T) {
	samples := &fakeSampleStore{recent: []domain.PriceSample{
		{Address: "0x1"}, {Address: "0x2"}, {Address: "0x1"}, {Address: "0x3"},
	}}
	e := New(&fakeQueue{}, &fakeStrategyStore{strategies: map[int64]domain.Strategy{}}, samples, Config{}, telemetry.Noop(), testLogger())

	fired, err := e.evaluateTrendTrigger(context.Background(), &domain.TrendTrigger{Chain: "ethereum", TokenAddress: "0x2", Top: 2})
	if err != nil {
		t.Fatalf("evaluateTrendTrigger: %v", err)
	}
	if !fired {
		t.Fatalf("expected 0x2 to be within top 2 distinct addresses")
	}

	fired, err = e.evaluateTrendTrigger(context.Background(), &domain.TrendTrigger{Chain: "ethereum", TokenAddress: "0x3", Top: 2})
	if err != nil {
		t.Fatalf("evaluateTrendTrigger: %v", err)
	}
	if fired {
		t.Fatalf("expected 0x3 to be outside top 2 distinct addresses")
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
