package domain

import "context"

// PriceSource is one external price feed contacted by the Oracle Validator
// (spec.md §4.5). It returns a nil price to indicate "no data."
type PriceSource interface {
	Name() string
	FetchPrice(ctx context.Context, chain, tokenAddress string) (*float64, error)
}

// OracleResult is the consensus outcome for one (chain, tokenAddress) pair.
type OracleResult struct {
	OK      bool
	Reason  string
	Price   float64
	Sources map[string]*float64
}

// OracleValidator gates price-sensitive dispatch (spec.md §4.5, P5).
type OracleValidator interface {
	Validate(ctx context.Context, chain, tokenAddress string) (OracleResult, error)
}
