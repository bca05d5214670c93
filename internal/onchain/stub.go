// Package onchain provides in-memory stand-ins for the read-only on-chain
// queries the Executor needs (wallet balance, ERC-20 allowance). Like
// internal/signer and internal/vault, the real implementations are external
// collaborators (spec.md §1); these exist for tests and local development.
package onchain

import (
	"context"
	"sync"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
)

type balanceKey struct {
	userID int64
	chain  string
	token  string
}

type allowanceKey struct {
	chain, token, owner, spender string
}

// InMemory is a process-local fake satisfying both domain.BalanceReader and
// domain.AllowanceReader.
type InMemory struct {
	mu         sync.RWMutex
	balances   map[balanceKey]float64
	allowances map[allowanceKey]float64
}

// NewInMemory creates an empty InMemory reader; unset lookups default to
// zero rather than an error, since a zero balance/allowance is a valid,
// common on-chain state.
func NewInMemory() *InMemory {
	return &InMemory{
		balances:   make(map[balanceKey]float64),
		allowances: make(map[allowanceKey]float64),
	}
}

// SetBalance seeds the wallet balance returned for (userID, chain, token).
func (m *InMemory) SetBalance(userID int64, chain, token string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey{userID, chain, token}] = amount
}

// SetAllowance seeds the allowance returned for (chain, token, owner, spender).
func (m *InMemory) SetAllowance(chain, token, owner, spender string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[allowanceKey{chain, token, owner, spender}] = amount
}

// Balance implements domain.BalanceReader.
func (m *InMemory) Balance(ctx context.Context, userID int64, chain, token string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[balanceKey{userID, chain, token}], nil
}

// Allowance implements domain.AllowanceReader.
func (m *InMemory) Allowance(ctx context.Context, chain, token, owner, spender string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allowances[allowanceKey{chain, token, owner, spender}], nil
}

var (
	_ domain.BalanceReader   = (*InMemory)(nil)
	_ domain.AllowanceReader = (*InMemory)(nil)
)
