package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a new WalletStore backed by the given connection pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

const walletSelectCols = `id, user_id, chain, owner_address, smart_account_address, created_at`

func scanWallet(scanner interface{ Scan(dest ...any) error }) (domain.Wallet, error) {
	var w domain.Wallet
	err := scanner.Scan(&w.ID, &w.UserID, &w.Chain, &w.OwnerAddress, &w.SmartAccountAddress, &w.CreatedAt)
	if err != nil {
		return domain.Wallet{}, err
	}
	return w, nil
}

// Upsert inserts or updates the wallet for (userId, chain), which is unique
// per spec.md §3.
func (s *WalletStore) Upsert(ctx context.Context, w domain.Wallet) (domain.Wallet, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO wallets (user_id, chain, owner_address, smart_account_address)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, chain) DO UPDATE SET
			owner_address = EXCLUDED.owner_address,
			smart_account_address = EXCLUDED.smart_account_address
		 RETURNING `+walletSelectCols,
		w.UserID, w.Chain, w.OwnerAddress, w.SmartAccountAddress)

	out, err := scanWallet(row)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("postgres: upsert wallet: %w", err)
	}
	return out, nil
}

// GetByUserAndChain retrieves the wallet for a user on a specific chain.
func (s *WalletStore) GetByUserAndChain(ctx context.Context, userID int64, chain string) (domain.Wallet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+walletSelectCols+` FROM wallets WHERE user_id = $1 AND chain = $2`,
		userID, chain)
	out, err := scanWallet(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Wallet{}, domain.ErrNotFound
		}
		return domain.Wallet{}, fmt.Errorf("postgres: get wallet %d/%s: %w", userID, chain, err)
	}
	return out, nil
}

// ListByUser returns all wallets for a user across chains.
func (s *WalletStore) ListByUser(ctx context.Context, userID int64) ([]domain.Wallet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+walletSelectCols+` FROM wallets WHERE user_id = $1 ORDER BY chain`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wallets for user %d: %w", userID, err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// Compile-time interface check.
var _ domain.WalletStore = (*WalletStore)(nil)
