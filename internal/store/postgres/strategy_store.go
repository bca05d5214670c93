package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a new StrategyStore backed by the given pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

const strategySelectCols = `id, user_id, name, definition, schedule, is_active, created_at`

func scanStrategy(scanner interface{ Scan(dest ...any) error }) (domain.Strategy, error) {
	var st domain.Strategy
	var defRaw []byte

	err := scanner.Scan(&st.ID, &st.UserID, &st.Name, &defRaw, &st.Schedule, &st.IsActive, &st.CreatedAt)
	if err != nil {
		return domain.Strategy{}, err
	}

	if err := json.Unmarshal(defRaw, &st.Definition); err != nil {
		return domain.Strategy{}, fmt.Errorf("unmarshal definition: %w", err)
	}
	return st, nil
}

// Create inserts a new strategy. The caller is responsible for passing an
// already-canonicalised Definition (see internal/strategydef, P1); this
// store persists it verbatim.
func (s *StrategyStore) Create(ctx context.Context, st domain.Strategy) (domain.Strategy, error) {
	defRaw, err := json.Marshal(st.Definition)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("marshal definition: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO strategies (user_id, name, definition, schedule, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+strategySelectCols,
		st.UserID, st.Name, defRaw, st.Schedule, st.IsActive)

	out, err := scanStrategy(row)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("postgres: create strategy: %w", err)
	}
	return out, nil
}

// GetByID retrieves a strategy by ID.
func (s *StrategyStore) GetByID(ctx context.Context, id int64) (domain.Strategy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+strategySelectCols+` FROM strategies WHERE id = $1`, id)
	out, err := scanStrategy(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Strategy{}, domain.ErrNotFound
		}
		return domain.Strategy{}, fmt.Errorf("postgres: get strategy %d: %w", id, err)
	}
	return out, nil
}

// ListActive returns active strategies, used by the Scheduler to build its
// per-cycle work list (spec.md §4.2).
func (s *StrategyStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Strategy, error) {
	query := `SELECT ` + strategySelectCols + ` FROM strategies WHERE is_active = true`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += " ORDER BY id"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active strategies: %w", err)
	}
	defer rows.Close()

	var strategies []domain.Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan strategy: %w", err)
		}
		strategies = append(strategies, st)
	}
	return strategies, rows.Err()
}

// SetActive flips a strategy's active flag.
func (s *StrategyStore) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE strategies SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("postgres: set strategy %d active=%v: %w", id, active, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Deactivate is a convenience wrapper for SetActive(id, false). The
// Evaluator's one-shot (repeat=false) deactivation (spec.md §4.3 step 8, P7)
// calls SetActive directly.
func (s *StrategyStore) Deactivate(ctx context.Context, id int64) error {
	return s.SetActive(ctx, id, false)
}

// Compile-time interface check.
var _ domain.StrategyStore = (*StrategyStore)(nil)
