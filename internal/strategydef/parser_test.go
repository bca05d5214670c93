package strategydef

import (
	"encoding/json"
	"testing"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
)

func TestParseLegacyFlat(t *testing.T) {
	raw := []byte(`{
		"type": "price",
		"chain": "ethereum",
		"tokenAddress": "0xabc",
		"priceTarget": 3500.5,
		"comparator": "gte"
	}`)

	def, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse legacy: %v", err)
	}
	if def.Trigger.Type != domain.TriggerPrice || def.Trigger.Price == nil {
		t.Fatalf("expected price trigger, got %+v", def.Trigger)
	}
	if def.Trigger.Price.TokenAddress != "0xabc" {
		t.Fatalf("unexpected token address: %q", def.Trigger.Price.TokenAddress)
	}
	if def.Intent.Type != domain.IntentCustom || def.Intent.Custom == nil {
		t.Fatalf("expected custom intent, got %+v", def.Intent)
	}
	if def.Intent.Custom.Name != domain.LegacyDefinitionName {
		t.Fatalf("expected legacy-definition name, got %q", def.Intent.Custom.Name)
	}
	if !def.IsLegacySkip() {
		t.Fatalf("expected IsLegacySkip true")
	}
}

func TestParseLegacyRejectsNonPriceType(t *testing.T) {
	raw := []byte(`{"type": "trend", "chain": "ethereum", "tokenAddress": "0xabc"}`)
	if _, err := Parse(raw); err == nil {
		t.Fatalf("expected error for legacy non-price type")
	}
}

func TestParseCanonicalPriceSwap(t *testing.T) {
	raw := []byte(`{
		"trigger": {"type": "price", "chain": "base", "tokenAddress": "0xdef", "priceTarget": 1.5, "comparator": "lte"},
		"intent": {
			"type": "swap",
			"fromChain": "base",
			"toChain": "base",
			"fromToken": "0xdef",
			"toToken": "0xusdc",
			"fromAmount": "100",
			"userAddress": "0xuser"
		},
		"repeat": true
	}`)

	def, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse canonical: %v", err)
	}
	if def.Trigger.Price.Comparator != domain.ComparatorLTE {
		t.Fatalf("expected lte comparator, got %q", def.Trigger.Price.Comparator)
	}
	if def.Intent.Type != domain.IntentSwap || def.Intent.Transfer == nil {
		t.Fatalf("expected swap intent, got %+v", def.Intent)
	}
	if def.Intent.Transfer.UserAddress != "0xuser" {
		t.Fatalf("unexpected user address: %q", def.Intent.Transfer.UserAddress)
	}
	if !def.Repeat {
		t.Fatalf("expected repeat true")
	}
}

func TestParseTrendClampsTop(t *testing.T) {
	raw := []byte(`{
		"trigger": {"type": "trend", "chain": "solana", "tokenAddress": "mint123", "top": 9999},
		"intent": {"type": "custom", "name": "notify-only"}
	}`)
	def, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if def.Trigger.Trend.Top != 50 {
		t.Fatalf("expected top clamped to 50, got %d", def.Trigger.Trend.Top)
	}
}

func TestParseIdempotent(t *testing.T) {
	inputs := [][]byte{
		[]byte(`{"type":"price","chain":"ethereum","tokenAddress":"0xabc","priceTarget":42,"comparator":"gte"}`),
		[]byte(`{"trigger":{"type":"price","chain":"base","tokenAddress":"0xdef","priceTarget":1.5,"comparator":"lte"},"intent":{"type":"swap","fromChain":"base","toChain":"base","fromToken":"0xdef","toToken":"0xusdc","fromAmount":"100","userAddress":"0xuser"}}`),
		[]byte(`{"trigger":{"type":"trend","chain":"solana","tokenAddress":"mint123","top":5},"intent":{"type":"open_position","chain":"hyperliquid","market":"BTC-PERP","side":"long","size":1.0,"leverage":2}}`),
	}

	for _, raw := range inputs {
		once, err := Parse(raw)
		if err != nil {
			t.Fatalf("first parse: %v", err)
		}

		reparsed, err := Canonicalize(once)
		if err != nil {
			t.Fatalf("canonicalize: %v", err)
		}

		a, _ := json.Marshal(once)
		b, _ := json.Marshal(reparsed)
		if string(a) != string(b) {
			t.Fatalf("P1 violated: parse(parse(x)) != parse(x)\n  first:  %s\n  second: %s", a, b)
		}
	}
}

func TestParseOpenPositionDefaultsChain(t *testing.T) {
	raw := []byte(`{
		"trigger": {"type": "price", "chain": "hyperliquid", "tokenAddress": "BTC", "priceTarget": 50000},
		"intent": {"type": "open_position", "market": "BTC-PERP", "side": "short", "size": 2, "leverage": 3}
	}`)
	def, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if def.Intent.OpenPosition.Chain != "hyperliquid" {
		t.Fatalf("expected default chain hyperliquid, got %q", def.Intent.OpenPosition.Chain)
	}
}

func TestParseRejectsUnknownTriggerType(t *testing.T) {
	raw := []byte(`{"trigger":{"type":"bogus"},"intent":{"type":"custom","name":"x"}}`)
	if _, err := Parse(raw); err == nil {
		t.Fatalf("expected error for unknown trigger type")
	}
}

func TestParseRejectsMismatchedTriggerIntentPresence(t *testing.T) {
	raw := []byte(`{"trigger":{"type":"price","chain":"ethereum","tokenAddress":"0xabc","priceTarget":1}}`)
	if _, err := Parse(raw); err == nil {
		t.Fatalf("expected error when intent is missing but trigger present")
	}
}
