package crypto

import (
	"bytes"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	acct := NewAddress("juno", bytes.Repeat([]byte{0xab}, 20))
	decoded, err := DecodeAddress(acct.String())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Prefix() != "juno" || !bytes.Equal(decoded.Bytes(), acct.Bytes()) {
		t.Fatalf("round trip mismatch: %s vs %s", decoded, acct)
	}
}

func TestContractAddressDeterministic(t *testing.T) {
	a := ContractAddress("juno", 7, 1)
	b := ContractAddress("juno", 7, 1)
	c := ContractAddress("juno", 7, 2)
	if !a.Equal(b) {
		t.Fatalf("expected identical derivation, got %s and %s", a, b)
	}
	if a.Equal(c) {
		t.Fatal("expected distinct instances to derive distinct addresses")
	}
	if len(a.Bytes()) != 32 {
		t.Fatalf("expected 32 byte contract address, got %d", len(a.Bytes()))
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("juno1notanaddress"); err == nil {
		t.Fatal("expected decode failure")
	}
}
