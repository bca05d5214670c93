package domain

import "time"

// Action is a chain operation a session key may be scoped to perform.
type Action string

const (
	ActionSwap          Action = "swap"
	ActionBridge        Action = "bridge"
	ActionCustom        Action = "custom"
	ActionTransfer      Action = "transfer"
	ActionOpenPosition  Action = "open_position"
	ActionClosePosition Action = "close_position"
)

// SpendLimit caps the amount a session key may move for a given token.
type SpendLimit struct {
	Chain       string  `json:"chain"`
	Token       string  `json:"token"`
	MaxPerTxUSD float64 `json:"maxPerTxUsd"`
	MaxDailyUSD float64 `json:"maxDailyUsd"`
}

// Permissions scopes what a session key is allowed to do. Any nil/empty
// slice means "unrestricted" for that dimension, per spec.md §3 and §4.4.
type Permissions struct {
	Actions          []Action     `json:"actions,omitempty"`
	Chains           []string     `json:"chains,omitempty"`
	AllowedContracts []string     `json:"allowedContracts,omitempty"`
	SpendLimits      []SpendLimit `json:"spendLimits,omitempty"`
}

// AllowsAction reports whether the permission set allows the given action.
// An empty Actions list means unrestricted.
func (p Permissions) AllowsAction(a Action) bool {
	if len(p.Actions) == 0 {
		return true
	}
	for _, allowed := range p.Actions {
		if allowed == a {
			return true
		}
	}
	return false
}

// AllowsChain reports whether the permission set allows the given chain. An
// empty Chains list means unrestricted.
func (p Permissions) AllowsChain(chain string) bool {
	if len(p.Chains) == 0 {
		return true
	}
	for _, c := range p.Chains {
		if c == chain {
			return true
		}
	}
	return false
}

// SessionKey is a scoped signing credential. Private key material lives only
// in the external vault; the DB never stores it (spec.md §3).
type SessionKey struct {
	ID          int64
	UserID      int64
	PublicKey   string
	Permissions Permissions
	ExpiresAt   *time.Time
	IsActive    bool
	CreatedAt   time.Time
}

// Expired reports whether the session key has passed its expiry, if any.
func (sk SessionKey) Expired(now time.Time) bool {
	return sk.ExpiresAt != nil && now.After(*sk.ExpiresAt)
}
