// Package signer defines the abstract contract for the concrete
// signer/bundler collaborator (EVM, Solana, Hyperliquid, bridges) — treated
// as an external service per spec.md §1. This package's in-memory
// implementation exists only to exercise the Executor in tests and to serve
// as a drop-in placeholder before a real signer integration is wired up.
package signer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
)

// InMemory is a fake Signer. It always accepts a signed request and returns
// a synthetic success receipt with a random tx hash, unless configured to
// fail.
type InMemory struct {
	FailWith error
}

// NewInMemory creates an InMemory signer that always succeeds.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// SubmitSigned implements domain.Signer.
func (s *InMemory) SubmitSigned(ctx context.Context, intent domain.Intent, sessionKey domain.SessionKey) (domain.TxReceipt, error) {
	if s.FailWith != nil {
		return domain.TxReceipt{}, s.FailWith
	}

	return domain.TxReceipt{
		Status:      domain.ReceiptSuccess,
		TxHash:      fmt.Sprintf("0x%s", uuid.New().String()),
		Description: fmt.Sprintf("submitted %s intent for session key %d", intent.Type, sessionKey.ID),
	}, nil
}

// Compile-time interface check.
var _ domain.Signer = (*InMemory)(nil)
