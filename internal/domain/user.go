package domain

import "time"

// User owns wallets, strategies, and session keys. Private credential
// material never lives here; it is held by the external vault collaborator.
type User struct {
	ID                 int64
	ExternalIdentityID string
	Email              string
	CreatedAt          time.Time
}

// Wallet is a user's on-chain address on a given chain. SmartAccountAddress
// may be unset (counterfactual) until first on-chain deployment.
type Wallet struct {
	ID                  int64
	UserID              int64
	Chain               string
	OwnerAddress        string
	SmartAccountAddress string
	CreatedAt           time.Time
}
