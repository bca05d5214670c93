package domain

import "time"

// Source identifies which feed adapter produced a PriceSample.
type Source string

const (
	SourceDexAggregator Source = "dexAggregator"
	SourcePerpVenue     Source = "perpVenue"
	SourceSentiment     Source = "sentiment"
)

// PriceSample is an append-only price observation (spec.md §3). Address
// holds the token contract address for DEX pairs, or the market symbol for
// perps.
type PriceSample struct {
	ID        int64
	Chain     string
	Address   string
	Symbol    string
	PriceUsd  float64
	Source    Source
	Timestamp time.Time
}
