package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
)

// TransactionLogStore implements domain.TransactionLogStore using
// PostgreSQL. Details is persisted as jsonb and doubles as the idempotency
// key index (spec.md §9).
type TransactionLogStore struct {
	pool *pgxpool.Pool
}

// NewTransactionLogStore creates a new TransactionLogStore backed by the
// given pool.
func NewTransactionLogStore(pool *pgxpool.Pool) *TransactionLogStore {
	return &TransactionLogStore{pool: pool}
}

const txLogSelectCols = `id, user_id, strategy_id, description, tx_hash, chain, status, details, created_at`

func scanTxLog(scanner interface{ Scan(dest ...any) error }) (domain.TransactionLog, error) {
	var t domain.TransactionLog
	var status string
	var detailsRaw []byte

	err := scanner.Scan(&t.ID, &t.UserID, &t.StrategyID, &t.Description, &t.TxHash, &t.Chain, &status, &detailsRaw, &t.CreatedAt)
	if err != nil {
		return domain.TransactionLog{}, err
	}
	t.Status = domain.TxStatus(status)

	if len(detailsRaw) > 0 {
		if err := json.Unmarshal(detailsRaw, &t.Details); err != nil {
			return domain.TransactionLog{}, fmt.Errorf("unmarshal details: %w", err)
		}
	}
	return t, nil
}

// Create inserts a new transaction log row.
func (s *TransactionLogStore) Create(ctx context.Context, t domain.TransactionLog) (domain.TransactionLog, error) {
	detailsRaw, err := json.Marshal(t.Details)
	if err != nil {
		return domain.TransactionLog{}, fmt.Errorf("marshal details: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO transaction_logs (user_id, strategy_id, description, tx_hash, chain, status, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+txLogSelectCols,
		t.UserID, t.StrategyID, t.Description, t.TxHash, t.Chain, string(t.Status), detailsRaw)

	out, err := scanTxLog(row)
	if err != nil {
		return domain.TransactionLog{}, fmt.Errorf("postgres: create transaction log: %w", err)
	}
	return out, nil
}

// GetByIdempotencyKey looks up a transaction log by its details->>idempotencyKey
// value, used by the Executor's idempotency check (spec.md §4.4 step 1, P4).
func (s *TransactionLogStore) GetByIdempotencyKey(ctx context.Context, key string) (domain.TransactionLog, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txLogSelectCols+` FROM transaction_logs
		 WHERE details->>'idempotencyKey' = $1
		 LIMIT 1`, key)
	out, err := scanTxLog(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.TransactionLog{}, domain.ErrNotFound
		}
		return domain.TransactionLog{}, fmt.Errorf("postgres: get transaction log by idempotency key: %w", err)
	}
	return out, nil
}

// ListByStrategy returns transaction logs associated with a strategy.
func (s *TransactionLogStore) ListByStrategy(ctx context.Context, strategyID int64, opts domain.ListOpts) ([]domain.TransactionLog, error) {
	query := `SELECT ` + txLogSelectCols + ` FROM transaction_logs WHERE strategy_id = $1`
	args := []any{strategyID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryLogs(ctx, query, args...)
}

// ListByUser returns transaction logs for a user.
func (s *TransactionLogStore) ListByUser(ctx context.Context, userID int64, opts domain.ListOpts) ([]domain.TransactionLog, error) {
	query := `SELECT ` + txLogSelectCols + ` FROM transaction_logs WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryLogs(ctx, query, args...)
}

func (s *TransactionLogStore) queryLogs(ctx context.Context, query string, args ...any) ([]domain.TransactionLog, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query transaction logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.TransactionLog
	for rows.Next() {
		t, err := scanTxLog(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction log: %w", err)
		}
		logs = append(logs, t)
	}
	return logs, rows.Err()
}

// Compile-time interface check.
var _ domain.TransactionLogStore = (*TransactionLogStore)(nil)
