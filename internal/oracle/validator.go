// Package oracle implements the multi-source price consensus gate (spec.md
// §4.5, P5): require at least two live sources, compute their median, and
// reject if any source deviates from the median by more than 20%.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
)

const (
	minSources         = 2
	maxDeviationPct    = 20
	localSampleMaxAge  = 5 * time.Minute
	perSourceTimeout   = 5 * time.Second
	localSampleSource  = "local"
)

// Validator gates price-sensitive dispatch with a median + deviation check
// across configured external sources plus the most recent local
// PriceSample, if fresh enough.
type Validator struct {
	sources     []domain.PriceSource
	sampleStore domain.PriceSampleStore
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Validator over the given price sources and local sample
// store.
func New(sources []domain.PriceSource, sampleStore domain.PriceSampleStore, logger *slog.Logger) *Validator {
	return &Validator{
		sources:     sources,
		sampleStore: sampleStore,
		logger:      logger.With(slog.String("component", "oracle")),
		now:         time.Now,
	}
}

// Validate contacts each configured source (5s timeout each) plus the
// freshest local sample, computes the median, and flags deviation outliers
// (spec.md §4.5).
func (v *Validator) Validate(ctx context.Context, chain, tokenAddress string) (domain.OracleResult, error) {
	sources := make(map[string]*float64, len(v.sources)+1)

	for _, src := range v.sources {
		price, err := v.fetchOne(ctx, src, chain, tokenAddress)
		if err != nil {
			v.logger.WarnContext(ctx, "price source failed",
				slog.String("source", src.Name()), slog.String("chain", chain),
				slog.String("token", tokenAddress), slog.Any("error", err))
		}
		sources[src.Name()] = price
	}

	if local := v.fetchLocal(ctx, chain, tokenAddress); local != nil {
		sources[localSampleSource] = local
	}

	var nonNil []float64
	for _, p := range sources {
		if p != nil {
			nonNil = append(nonNil, *p)
		}
	}

	if len(nonNil) < minSources {
		return domain.OracleResult{OK: false, Reason: "insufficient sources", Sources: sources}, nil
	}

	median := medianOf(nonNil)
	for name, p := range sources {
		if p == nil {
			continue
		}
		if deviationPct(*p, median) > maxDeviationPct {
			return domain.OracleResult{
				OK:      false,
				Reason:  fmt.Sprintf("source %q deviates %.1f%% from median", name, deviationPct(*p, median)),
				Price:   median,
				Sources: sources,
			}, nil
		}
	}

	return domain.OracleResult{OK: true, Price: median, Sources: sources}, nil
}

func (v *Validator) fetchOne(ctx context.Context, src domain.PriceSource, chain, tokenAddress string) (*float64, error) {
	sctx, cancel := context.WithTimeout(ctx, perSourceTimeout)
	defer cancel()
	return src.FetchPrice(sctx, chain, tokenAddress)
}

func (v *Validator) fetchLocal(ctx context.Context, chain, tokenAddress string) *float64 {
	sample, err := v.sampleStore.Latest(ctx, chain, tokenAddress)
	if err != nil {
		return nil
	}
	if v.now().Sub(sample.Timestamp) > localSampleMaxAge {
		return nil
	}
	price := sample.PriceUsd
	return &price
}

// medianOf returns the median of a non-empty slice using decimal arithmetic
// for deterministic rounding.
func medianOf(prices []float64) float64 {
	ds := make([]decimal.Decimal, len(prices))
	for i, p := range prices {
		ds[i] = decimal.NewFromFloat(p)
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].LessThan(ds[j]) })

	n := len(ds)
	if n%2 == 1 {
		v, _ := ds[n/2].Float64()
		return v
	}
	mid := ds[n/2-1].Add(ds[n/2]).Div(decimal.NewFromInt(2))
	v, _ := mid.Float64()
	return v
}

// deviationPct returns |price-median|/median as a percentage.
func deviationPct(price, median float64) float64 {
	if median == 0 {
		if price == 0 {
			return 0
		}
		return 100
	}
	p := decimal.NewFromFloat(price)
	m := decimal.NewFromFloat(median)
	diff := p.Sub(m).Abs()
	pct := diff.Div(m).Mul(decimal.NewFromInt(100))
	v, _ := pct.Float64()
	return v
}

// Compile-time interface check.
var _ domain.OracleValidator = (*Validator)(nil)
