// Package strategydef canonicalises user-supplied strategy definitions
// (including the legacy flat form) into domain.Definition, the single
// internal representation the rest of the platform operates on (spec.md
// §3.1, §9, P1).
package strategydef

import (
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
)

// rawDefinition mirrors the input JSON before its trigger and intent are
// resolved into domain.Trigger/domain.Intent. Using json.RawMessage lets us
// defer decoding until we know which variant is present.
type rawDefinition struct {
	Trigger      *json.RawMessage `json:"trigger"`
	Intent       *json.RawMessage `json:"intent"`
	Repeat       bool             `json:"repeat"`
	SessionKeyID *int64           `json:"sessionKeyId"`

	// Legacy flat fields (spec.md §3.1): present only when Trigger/Intent
	// are both absent.
	Type         string   `json:"type"`
	Chain        string   `json:"chain"`
	TokenAddress string   `json:"tokenAddress"`
	PriceTarget  *float64 `json:"priceTarget"`
	Comparator   string   `json:"comparator"`
}

type taggedShape struct {
	Type string `json:"type"`
}

// Parse canonicalises raw JSON strategy input into a domain.Definition. It
// accepts both the canonical nested form and the legacy flat form; legacy
// input always parses successfully (never returns an error for that reason
// alone) per spec.md §3.1.
func Parse(raw []byte) (domain.Definition, error) {
	var rd rawDefinition
	if err := json.Unmarshal(raw, &rd); err != nil {
		return domain.Definition{}, fmt.Errorf("%w: invalid json: %v", domain.ErrValidation, err)
	}

	if rd.Trigger == nil && rd.Intent == nil {
		return parseLegacy(rd)
	}

	if rd.Trigger == nil || rd.Intent == nil {
		return domain.Definition{}, fmt.Errorf("%w: both trigger and intent are required", domain.ErrValidation)
	}

	trigger, err := parseTrigger(*rd.Trigger)
	if err != nil {
		return domain.Definition{}, err
	}
	intent, err := parseIntent(*rd.Intent)
	if err != nil {
		return domain.Definition{}, err
	}

	return domain.Definition{
		Trigger:      trigger,
		Intent:       intent,
		Repeat:       rd.Repeat,
		SessionKeyID: rd.SessionKeyID,
	}, nil
}

// parseLegacy normalises the legacy flat form ({type:"price", chain,
// tokenAddress, priceTarget, comparator}, no nested trigger/intent) into the
// canonical shape, with intent = {custom, name: "legacy-definition"}
// (spec.md §3.1).
func parseLegacy(rd rawDefinition) (domain.Definition, error) {
	if rd.Type != "price" {
		return domain.Definition{}, fmt.Errorf("%w: legacy definition must have type=\"price\"", domain.ErrValidation)
	}
	if rd.TokenAddress == "" || rd.Chain == "" {
		return domain.Definition{}, fmt.Errorf("%w: legacy definition requires chain and tokenAddress", domain.ErrValidation)
	}

	comparator := domain.ComparatorGTE
	if rd.Comparator == string(domain.ComparatorLTE) {
		comparator = domain.ComparatorLTE
	}

	target := 0.0
	if rd.PriceTarget != nil {
		target = *rd.PriceTarget
	}

	return domain.Definition{
		Trigger: domain.Trigger{
			Type: domain.TriggerPrice,
			Price: &domain.PriceTrigger{
				Chain:        rd.Chain,
				TokenAddress: rd.TokenAddress,
				PriceTarget:  target,
				Comparator:   comparator,
			},
		},
		Intent: domain.Intent{
			Type: domain.IntentCustom,
			Custom: &domain.CustomIntent{
				Name: domain.LegacyDefinitionName,
				Parameters: map[string]any{
					"note": "normalised from legacy flat strategy definition",
				},
			},
		},
	}, nil
}

// nestedOrSelf decodes target from sub[key] when present (the canonical
// re-serialised shape produced by domain.Trigger/domain.Intent's own JSON
// tags), falling back to decoding raw itself (the flat external-input
// shape). Trying both keeps Parse(Canonicalize(x)) == Canonicalize(x), i.e.
// P1 idempotency, regardless of which shape the caller handed in.
func nestedOrSelf(raw json.RawMessage, key string, target any) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err == nil {
		if sub, ok := probe[key]; ok {
			return json.Unmarshal(sub, target)
		}
	}
	return json.Unmarshal(raw, target)
}

func parseTrigger(raw json.RawMessage) (domain.Trigger, error) {
	var shape taggedShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return domain.Trigger{}, fmt.Errorf("%w: invalid trigger: %v", domain.ErrValidation, err)
	}

	switch domain.TriggerType(shape.Type) {
	case domain.TriggerPrice:
		var pt domain.PriceTrigger
		if err := nestedOrSelf(raw, "price", &pt); err != nil {
			return domain.Trigger{}, fmt.Errorf("%w: invalid price trigger: %v", domain.ErrValidation, err)
		}
		if pt.Comparator == "" {
			pt.Comparator = domain.ComparatorGTE
		}
		if pt.Chain == "" || pt.TokenAddress == "" {
			return domain.Trigger{}, fmt.Errorf("%w: price trigger requires chain and tokenAddress", domain.ErrValidation)
		}
		return domain.Trigger{Type: domain.TriggerPrice, Price: &pt}, nil

	case domain.TriggerTrend:
		var tt domain.TrendTrigger
		if err := nestedOrSelf(raw, "trend", &tt); err != nil {
			return domain.Trigger{}, fmt.Errorf("%w: invalid trend trigger: %v", domain.ErrValidation, err)
		}
		if tt.Top < 1 {
			tt.Top = 1
		}
		if tt.Top > 50 {
			tt.Top = 50
		}
		if tt.Chain == "" || tt.TokenAddress == "" {
			return domain.Trigger{}, fmt.Errorf("%w: trend trigger requires chain and tokenAddress", domain.ErrValidation)
		}
		return domain.Trigger{Type: domain.TriggerTrend, Trend: &tt}, nil

	default:
		return domain.Trigger{}, fmt.Errorf("%w: unknown trigger type %q", domain.ErrValidation, shape.Type)
	}
}

func parseIntent(raw json.RawMessage) (domain.Intent, error) {
	var shape taggedShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return domain.Intent{}, fmt.Errorf("%w: invalid intent: %v", domain.ErrValidation, err)
	}

	switch domain.IntentType(shape.Type) {
	case domain.IntentSwap, domain.IntentBridge:
		var ti domain.TransferIntent
		if err := nestedOrSelf(raw, "transfer", &ti); err != nil {
			return domain.Intent{}, fmt.Errorf("%w: invalid transfer intent: %v", domain.ErrValidation, err)
		}
		if ti.FromChain == "" || ti.ToChain == "" || ti.FromToken == "" || ti.ToToken == "" || ti.UserAddress == "" {
			return domain.Intent{}, fmt.Errorf("%w: transfer intent missing required fields", domain.ErrValidation)
		}
		return domain.Intent{Type: domain.IntentType(shape.Type), Transfer: &ti}, nil

	case domain.IntentOpenPosition:
		var op domain.OpenPositionIntent
		if err := nestedOrSelf(raw, "openPosition", &op); err != nil {
			return domain.Intent{}, fmt.Errorf("%w: invalid open_position intent: %v", domain.ErrValidation, err)
		}
		if op.Chain == "" {
			op.Chain = "hyperliquid"
		}
		if op.Market == "" || (op.Side != domain.SideLong && op.Side != domain.SideShort) {
			return domain.Intent{}, fmt.Errorf("%w: open_position intent requires market and side", domain.ErrValidation)
		}
		return domain.Intent{Type: domain.IntentOpenPosition, OpenPosition: &op}, nil

	case domain.IntentClosePosition:
		var cp domain.ClosePositionIntent
		if err := nestedOrSelf(raw, "closePosition", &cp); err != nil {
			return domain.Intent{}, fmt.Errorf("%w: invalid close_position intent: %v", domain.ErrValidation, err)
		}
		if cp.Chain == "" {
			cp.Chain = "hyperliquid"
		}
		if cp.Market == "" {
			return domain.Intent{}, fmt.Errorf("%w: close_position intent requires market", domain.ErrValidation)
		}
		return domain.Intent{Type: domain.IntentClosePosition, ClosePosition: &cp}, nil

	case domain.IntentCustom:
		var ci domain.CustomIntent
		if err := nestedOrSelf(raw, "custom", &ci); err != nil {
			return domain.Intent{}, fmt.Errorf("%w: invalid custom intent: %v", domain.ErrValidation, err)
		}
		if ci.Name == "" {
			return domain.Intent{}, fmt.Errorf("%w: custom intent requires name", domain.ErrValidation)
		}
		return domain.Intent{Type: domain.IntentCustom, Custom: &ci}, nil

	default:
		return domain.Intent{}, fmt.Errorf("%w: unknown intent type %q", domain.ErrValidation, shape.Type)
	}
}

// Canonicalize re-serialises a domain.Definition to JSON and re-parses it.
// The parser tests use it to check P1 (parse(parse(x)) == parse(x)); the
// strategy store does not call it and persists a Definition as given.
func Canonicalize(d domain.Definition) (domain.Definition, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return domain.Definition{}, fmt.Errorf("%w: marshal definition: %v", domain.ErrInternal, err)
	}
	return Parse(raw)
}
