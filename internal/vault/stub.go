// Package vault defines the key-store contract for the external credential
// vault (spec.md §1). The DB never stores private key material; this
// package's in-memory implementation is a placeholder for tests and local
// development, not a production credential store.
package vault

import (
	"context"
	"sync"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
)

// InMemory is a process-local, non-persistent Vault implementation.
type InMemory struct {
	mu      sync.RWMutex
	secrets map[int64][]byte
}

// NewInMemory creates an empty InMemory vault.
func NewInMemory() *InMemory {
	return &InMemory{secrets: make(map[int64][]byte)}
}

// Get implements domain.Vault.
func (v *InMemory) Get(ctx context.Context, sessionKeyID int64) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	secret, ok := v.secrets[sessionKeyID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return secret, nil
}

// Put implements domain.Vault.
func (v *InMemory) Put(ctx context.Context, sessionKeyID int64, secret []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.secrets[sessionKeyID] = secret
	return nil
}

// Delete implements domain.Vault.
func (v *InMemory) Delete(ctx context.Context, sessionKeyID int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.secrets, sessionKeyID)
	return nil
}

// Compile-time interface check.
var _ domain.Vault = (*InMemory)(nil)
