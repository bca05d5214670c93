package domain

import "context"

// TxReceiptStatus mirrors the abstract signer's result status (spec.md §4.4
// step 8).
type TxReceiptStatus string

const (
	ReceiptPending TxReceiptStatus = "pending"
	ReceiptSuccess TxReceiptStatus = "success"
	ReceiptFailed  TxReceiptStatus = "failed"
)

// TxReceipt is returned by the abstract signer/bundler collaborator.
type TxReceipt struct {
	Status      TxReceiptStatus
	TxHash      string
	Description string
}

// Signer is the abstract contract for the concrete signer/bundler
// collaborator (EVM, Solana, Hyperliquid, bridges) — out of scope per
// spec.md §1, modelled here only as the interface the Executor calls.
type Signer interface {
	SubmitSigned(ctx context.Context, intent Intent, sessionKey SessionKey) (TxReceipt, error)
}

// AllowanceReader reads an ERC-20 allowance for the preflight check in
// spec.md §4.4 step 7.
type AllowanceReader interface {
	Allowance(ctx context.Context, chain, token, owner, spender string) (float64, error)
}

// BalanceReader reads a wallet's balance of a token for percentage-amount
// normalisation (spec.md §4.4 step 6).
type BalanceReader interface {
	Balance(ctx context.Context, userID int64, chain, token string) (float64, error)
}

// Vault is the external credential store collaborator (spec.md §1),
// accessed as a key/value store by session key ID. The DB never stores
// private material.
type Vault interface {
	Get(ctx context.Context, sessionKeyID int64) ([]byte, error)
	Put(ctx context.Context, sessionKeyID int64, secret []byte) error
	Delete(ctx context.Context, sessionKeyID int64) error
}

// RiskChecker and ComplianceScreener are optional external gating hooks
// (spec.md §4.4 step 4). Either may veto a dispatch.
type RiskChecker interface {
	Check(ctx context.Context, userID int64, intent Intent) (ok bool, reason string, err error)
}

type ComplianceScreener interface {
	Screen(ctx context.Context, userID int64, intent Intent) (ok bool, reason string, err error)
}
