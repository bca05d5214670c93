// Package chainutil validates and normalises chain addresses referenced by
// wallets and intents. The concrete signer/RPC machinery is an external
// collaborator (spec.md §1); this package only covers the validation surface
// the Executor and strategy parser need.
package chainutil

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeEVMAddress validates addr as a hex EVM address and returns its
// EIP-55 checksummed form. Non-EVM chains (e.g. "solana", "hyperliquid")
// pass their address through unchanged since they are not hex-encoded.
func NormalizeEVMAddress(chain, addr string) (string, error) {
	if !IsEVMChain(chain) {
		return addr, nil
	}
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("chainutil: invalid address %q for chain %q", addr, chain)
	}
	return common.HexToAddress(addr).Hex(), nil
}

// evmChains lists the chains this module treats as EVM-compatible for
// address validation purposes.
var evmChains = map[string]bool{
	"ethereum":  true,
	"base":      true,
	"arbitrum":  true,
	"optimism":  true,
	"polygon":   true,
	"avalanche": true,
}

// IsEVMChain reports whether chain is a recognised EVM-compatible chain.
func IsEVMChain(chain string) bool {
	return evmChains[chain]
}
