package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// UserStore persists users.
type UserStore interface {
	Create(ctx context.Context, u User) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)
	GetByExternalIdentityID(ctx context.Context, externalID string) (User, error)
}

// WalletStore persists wallets. Unique per (userId, chain), per spec.md §3.
type WalletStore interface {
	Upsert(ctx context.Context, w Wallet) (Wallet, error)
	GetByUserAndChain(ctx context.Context, userID int64, chain string) (Wallet, error)
	ListByUser(ctx context.Context, userID int64) ([]Wallet, error)
}

// SessionKeyStore persists session keys.
type SessionKeyStore interface {
	Create(ctx context.Context, sk SessionKey) (SessionKey, error)
	GetByID(ctx context.Context, id int64) (SessionKey, error)
	Invalidate(ctx context.Context, id int64) error
	ListActiveByUser(ctx context.Context, userID int64) ([]SessionKey, error)
}

// StrategyStore persists strategies.
type StrategyStore interface {
	Create(ctx context.Context, s Strategy) (Strategy, error)
	GetByID(ctx context.Context, id int64) (Strategy, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Strategy, error)
	SetActive(ctx context.Context, id int64, active bool) error
	Deactivate(ctx context.Context, id int64) error
}

// PriceSampleStore persists append-only price samples, indexed by
// (chain, address, timestamp DESC) per spec.md §3.
type PriceSampleStore interface {
	Insert(ctx context.Context, s PriceSample) error
	Latest(ctx context.Context, chain, address string) (PriceSample, error)
	RecentByChain(ctx context.Context, chain string, limit int) ([]PriceSample, error)
}

// TransactionLogStore persists transaction log rows and supports the
// idempotency lookup used by the Executor (spec.md §4.4 step 1).
type TransactionLogStore interface {
	Create(ctx context.Context, t TransactionLog) (TransactionLog, error)
	GetByIdempotencyKey(ctx context.Context, key string) (TransactionLog, error)
	ListByStrategy(ctx context.Context, strategyID int64, opts ListOpts) ([]TransactionLog, error)
	ListByUser(ctx context.Context, userID int64, opts ListOpts) ([]TransactionLog, error)
}
