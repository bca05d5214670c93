package chainutil

import "testing"

func TestNormalizeEVMAddressChecksums(t *testing.T) {
	addr, err := NormalizeEVMAddress("ethereum", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	if err != nil {
		t.Fatalf("NormalizeEVMAddress: %v", err)
	}
	if addr != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
		t.Fatalf("unexpected checksum: %s", addr)
	}
}

func TestNormalizeEVMAddressRejectsInvalid(t *testing.T) {
	if _, err := NormalizeEVMAddress("ethereum", "not-an-address"); err == nil {
		t.Fatalf("expected error for invalid EVM address")
	}
}

func TestNormalizeEVMAddressPassesThroughNonEVM(t *testing.T) {
	addr, err := NormalizeEVMAddress("solana", "4Nd1mC...someBase58...")
	if err != nil {
		t.Fatalf("NormalizeEVMAddress: %v", err)
	}
	if addr != "4Nd1mC...someBase58..." {
		t.Fatalf("expected passthrough, got %s", addr)
	}
}
