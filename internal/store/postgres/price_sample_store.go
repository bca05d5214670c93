package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
)

// PriceSampleStore implements domain.PriceSampleStore using PostgreSQL. Rows
// are append-only, indexed (chain, address, timestamp DESC) per spec.md §3.
type PriceSampleStore struct {
	pool *pgxpool.Pool
}

// NewPriceSampleStore creates a new PriceSampleStore backed by the given pool.
func NewPriceSampleStore(pool *pgxpool.Pool) *PriceSampleStore {
	return &PriceSampleStore{pool: pool}
}

const priceSampleSelectCols = `id, chain, address, symbol, price_usd, source, timestamp`

func scanPriceSample(scanner interface{ Scan(dest ...any) error }) (domain.PriceSample, error) {
	var p domain.PriceSample
	var source string
	err := scanner.Scan(&p.ID, &p.Chain, &p.Address, &p.Symbol, &p.PriceUsd, &source, &p.Timestamp)
	if err != nil {
		return domain.PriceSample{}, err
	}
	p.Source = domain.Source(source)
	return p, nil
}

// Insert appends a new price sample. The Ingestor is the only writer
// (spec.md §4.1).
func (s *PriceSampleStore) Insert(ctx context.Context, p domain.PriceSample) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_samples (chain, address, symbol, price_usd, source, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.Chain, p.Address, p.Symbol, p.PriceUsd, string(p.Source), p.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: insert price sample %s/%s: %w", p.Chain, p.Address, err)
	}
	return nil
}

// Latest returns the most recent sample for (chain, address), used by the
// Evaluator's price trigger comparison (spec.md §4.3 step 4, P6).
func (s *PriceSampleStore) Latest(ctx context.Context, chain, address string) (domain.PriceSample, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+priceSampleSelectCols+` FROM price_samples
		 WHERE chain = $1 AND address = $2
		 ORDER BY timestamp DESC LIMIT 1`, chain, address)
	out, err := scanPriceSample(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PriceSample{}, domain.ErrNotFound
		}
		return domain.PriceSample{}, fmt.Errorf("postgres: latest price sample %s/%s: %w", chain, address, err)
	}
	return out, nil
}

// RecentByChain returns the most recent limit samples across all addresses
// on a chain, used by the trend trigger to rank distinct tokens (spec.md
// §4.3 step 4).
func (s *PriceSampleStore) RecentByChain(ctx context.Context, chain string, limit int) ([]domain.PriceSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+priceSampleSelectCols+` FROM price_samples
		 WHERE chain = $1
		 ORDER BY timestamp DESC LIMIT $2`, chain, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent price samples for %s: %w", chain, err)
	}
	defer rows.Close()

	var samples []domain.PriceSample
	for rows.Next() {
		p, err := scanPriceSample(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan price sample: %w", err)
		}
		samples = append(samples, p)
	}
	return samples, rows.Err()
}

// Compile-time interface check.
var _ domain.PriceSampleStore = (*PriceSampleStore)(nil)
