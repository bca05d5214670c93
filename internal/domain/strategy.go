package domain

import "time"

// Comparator is the relational operator used by a price trigger.
type Comparator string

const (
	ComparatorGTE Comparator = "gte"
	ComparatorLTE Comparator = "lte"
)

// TriggerType tags which variant of Trigger is populated.
type TriggerType string

const (
	TriggerPrice TriggerType = "price"
	TriggerTrend TriggerType = "trend"
)

// PriceTrigger fires when the latest sample for (chain, tokenAddress)
// compares to priceTarget per comparator (default gte).
type PriceTrigger struct {
	Chain        string     `json:"chain"`
	TokenAddress string     `json:"tokenAddress"`
	PriceTarget  float64    `json:"priceTarget"`
	Comparator   Comparator `json:"comparator"`
}

// TrendTrigger fires when the token appears among the most recent Top
// distinct (chain,address) samples for the chain. Top is clamped to [1,50].
type TrendTrigger struct {
	Chain        string `json:"chain"`
	TokenAddress string `json:"tokenAddress"`
	Top          int    `json:"top"`
}

// Trigger is a tagged variant over PriceTrigger/TrendTrigger (spec.md §3.1).
type Trigger struct {
	Type  TriggerType   `json:"type"`
	Price *PriceTrigger `json:"price,omitempty"`
	Trend *TrendTrigger `json:"trend,omitempty"`
}

// IntentType tags which variant of Intent is populated.
type IntentType string

const (
	IntentSwap          IntentType = "swap"
	IntentBridge        IntentType = "bridge"
	IntentOpenPosition  IntentType = "open_position"
	IntentClosePosition IntentType = "close_position"
	IntentCustom        IntentType = "custom"
)

// TransferIntent describes a swap or bridge action (the two share a shape;
// only the presence of a cross-chain toChain distinguishes them, per
// spec.md §3.1).
type TransferIntent struct {
	FromChain            string `json:"fromChain"`
	ToChain              string `json:"toChain"`
	FromToken            string `json:"fromToken"`
	ToToken              string `json:"toToken"`
	FromAmount           string `json:"fromAmount"`
	UserAddress          string `json:"userAddress"`
	AmountInIsPercentage bool   `json:"amountInIsPercentage,omitempty"`
	SlippageBps          int    `json:"slippageBps,omitempty"`
	DestinationAddress   string `json:"destinationAddress,omitempty"`
}

// Side is the direction of a perp position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// OpenPositionIntent opens a perp position on a Hyperliquid-style venue.
type OpenPositionIntent struct {
	Chain    string  `json:"chain"`
	Market   string  `json:"market"`
	Side     Side    `json:"side"`
	Size     float64 `json:"size"`
	Leverage float64 `json:"leverage"`
	Slippage float64 `json:"slippage,omitempty"`
}

// ClosePositionIntent closes an existing perp position.
type ClosePositionIntent struct {
	Chain  string `json:"chain"`
	Market string `json:"market"`
}

// CustomIntent is an opaque, named action with free-form parameters. The
// legacy-flat strategy form normalises into name="legacy-definition"
// (spec.md §3.1).
type CustomIntent struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// LegacyDefinitionName is the CustomIntent.Name assigned to strategies
// parsed from the legacy flat form.
const LegacyDefinitionName = "legacy-definition"

// Intent is a tagged variant over the five intent kinds (spec.md §3.1).
type Intent struct {
	Type          IntentType           `json:"type"`
	Transfer      *TransferIntent      `json:"transfer,omitempty"`
	OpenPosition  *OpenPositionIntent  `json:"openPosition,omitempty"`
	ClosePosition *ClosePositionIntent `json:"closePosition,omitempty"`
	Custom        *CustomIntent        `json:"custom,omitempty"`
}

// Definition is the canonical internal representation of a strategy's
// automation rule (spec.md §3.1).
type Definition struct {
	Trigger      Trigger `json:"trigger"`
	Intent       Intent  `json:"intent"`
	Repeat       bool    `json:"repeat,omitempty"`
	SessionKeyID *int64  `json:"sessionKeyId,omitempty"`
}

// IsLegacySkip reports whether this definition was normalised from the
// legacy flat form and must be skipped (not dispatched) by the Evaluator.
func (d Definition) IsLegacySkip() bool {
	return d.Intent.Type == IntentCustom && d.Intent.Custom != nil &&
		d.Intent.Custom.Name == LegacyDefinitionName
}

// Strategy is a user-declared conditional automation record (spec.md §3).
type Strategy struct {
	ID         int64
	UserID     int64
	Name       string
	Definition Definition
	Schedule   string // cron-like cadence string; empty = default poll interval
	IsActive   bool
	CreatedAt  time.Time
}
