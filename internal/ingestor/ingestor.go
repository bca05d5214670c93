package ingestor

import (
	"context"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
)

// Ingestor fans out one ticker loop per configured feed, pulling quotes for
// every configured chain and appending PriceSample rows. Per-tick, per-chain
// failures are logged and never abort sibling chains or future ticks
// (spec.md §4.1).
type Ingestor struct {
	feeds  []FeedConfig
	chains []string
	store  domain.PriceSampleStore
	logger *slog.Logger
}

// New creates an Ingestor over the given feeds and chains.
func New(feeds []FeedConfig, chains []string, store domain.PriceSampleStore, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		feeds:  feeds,
		chains: chains,
		store:  store,
		logger: logger.With(slog.String("component", "ingestor")),
	}
}

// Run starts one errgroup goroutine per configured feed, each on its own
// ticker, until ctx is cancelled.
func (in *Ingestor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, fc := range in.feeds {
		fc := fc
		g.Go(func() error {
			return in.runFeedLoop(ctx, fc)
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}

func (in *Ingestor) runFeedLoop(ctx context.Context, fc FeedConfig) error {
	logger := in.logger.With(slog.String("feed", fc.Feed.Name()))
	logger.InfoContext(ctx, "ingestor feed loop starting", slog.Duration("interval", fc.Interval))

	in.tick(ctx, fc, logger)

	ticker := time.NewTicker(fc.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "ingestor feed loop stopped")
			return nil
		case <-ticker.C:
			in.tick(ctx, fc, logger)
		}
	}
}

// tick runs one fetch-and-insert pass across all configured chains for one
// feed. It never returns an error: every chain failure is isolated and
// logged (spec.md §4.1 rule 4).
func (in *Ingestor) tick(ctx context.Context, fc FeedConfig, logger *slog.Logger) {
	for _, chain := range in.chains {
		quotes, err := fc.Feed.FetchQuotes(ctx, chain)
		if err != nil {
			logger.WarnContext(ctx, "feed fetch failed", slog.String("chain", chain), slog.Any("error", err))
			continue
		}

		inserted := 0
		for _, q := range quotes {
			if !validQuote(q) {
				continue
			}
			sample := domain.PriceSample{
				Chain:     q.Chain,
				Address:   q.Address,
				Symbol:    q.Symbol,
				PriceUsd:  q.PriceUsd,
				Source:    domain.Source(fc.SourceName),
				Timestamp: time.Now(),
			}
			if err := in.store.Insert(ctx, sample); err != nil {
				logger.WarnContext(ctx, "price sample insert failed",
					slog.String("chain", chain), slog.String("address", q.Address), slog.Any("error", err))
				continue
			}
			inserted++
		}

		if inserted > 0 {
			logger.DebugContext(ctx, "ingested price samples", slog.String("chain", chain), slog.Int("count", inserted))
		}
	}
}

func validQuote(q Quote) bool {
	if q.Address == "" || q.Symbol == "" {
		return false
	}
	return !math.IsNaN(q.PriceUsd) && !math.IsInf(q.PriceUsd, 0) && q.PriceUsd > 0
}
