package ingestor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
)

type fakeFeed struct {
	name   string
	quotes map[string][]Quote
	err    error
}

func (f *fakeFeed) Name() string { return f.name }

func (f *fakeFeed) FetchQuotes(ctx context.Context, chain string) ([]Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes[chain], nil
}

type fakeStore struct {
	mu      sync.Mutex
	samples []domain.PriceSample
}

func (f *fakeStore) Insert(ctx context.Context, s domain.PriceSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, s)
	return nil
}

func (f *fakeStore) Latest(ctx context.Context, chain, address string) (domain.PriceSample, error) {
	return domain.PriceSample{}, domain.ErrNotFound
}

func (f *fakeStore) RecentByChain(ctx context.Context, chain string, limit int) ([]domain.PriceSample, error) {
	return nil, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIngestorInsertsValidQuotes(t *testing.T) {
	feed := &fakeFeed{
		name: "test-feed",
		quotes: map[string][]Quote{
			"ethereum": {
				{Chain: "ethereum", Address: "0xabc", Symbol: "TOK", PriceUsd: 1.5},
				{Chain: "ethereum", Address: "", Symbol: "BAD", PriceUsd: 2.0}, // invalid: no address
				{Chain: "ethereum", Address: "0xdef", Symbol: "NEG", PriceUsd: -1},
			},
		},
	}
	store := &fakeStore{}
	in := New([]FeedConfig{{Feed: feed, SourceName: "dexAggregator", Interval: time.Hour}}, []string{"ethereum"}, store, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = in.Run(ctx)

	if store.count() != 1 {
		t.Fatalf("expected exactly 1 valid sample inserted, got %d", store.count())
	}
}

func TestIngestorSurvivesFeedErrorsOnAllChains(t *testing.T) {
	feed := &fakeFeed{
		name: "test-feed",
		err:  errors.New("upstream down"),
	}
	store := &fakeStore{}
	in := New([]FeedConfig{{Feed: feed, SourceName: "dexAggregator", Interval: time.Hour}}, []string{"ethereum", "base"}, store, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = in.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("ingestor did not shut down after context cancellation")
	}

	if store.count() != 0 {
		t.Fatalf("expected no samples inserted when feed errors, got %d", store.count())
	}
}
