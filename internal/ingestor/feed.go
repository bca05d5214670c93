// Package ingestor periodically pulls market mids from configured feed
// adapters and appends immutable PriceSample rows (spec.md §4.1).
package ingestor

import (
	"context"
	"time"
)

// Quote is a single (chain, token) mid-price observation returned by a Feed.
type Quote struct {
	Chain    string
	Address  string
	Symbol   string
	PriceUsd float64
}

// Feed fetches quotes for a chain from one external market data source.
// A nil error with an empty slice means "no data this tick", not a failure.
type Feed interface {
	Name() string
	FetchQuotes(ctx context.Context, chain string) ([]Quote, error)
}

// FeedConfig ties a Feed to the PriceSample.Source tag it produces and the
// tick interval it runs on.
type FeedConfig struct {
	Feed       Feed
	SourceName string
	Interval   time.Duration
}
