package crypto

import (
	"strings"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	sealer, err := NewSealer("unit-test-passphrase")
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	sealed, err := sealer.Seal("vcenter-secret")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if strings.Contains(sealed, "vcenter-secret") {
		t.Fatal("sealed credential leaks plaintext")
	}

	opened, err := sealer.Open(sealed)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if opened != "vcenter-secret" {
		t.Fatalf("round trip mismatch: %q", opened)
	}
}

func TestSealProducesFreshCiphertexts(t *testing.T) {
	sealer, _ := NewSealer("unit-test-passphrase")

	first, err := sealer.Seal("same-secret")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	second, err := sealer.Seal("same-secret")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct ciphertexts for repeated seals")
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	sealer, _ := NewSealer("unit-test-passphrase")

	sealed, err := sealer.Seal("vcenter-secret")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	tampered := []byte(sealed)
	tampered[len(tampered)-5] ^= 'x'
	if _, err := sealer.Open(string(tampered)); err == nil {
		t.Fatal("expected tampered ciphertext to be rejected")
	}

	if _, err := sealer.Open("not-base64!!"); err == nil {
		t.Fatal("expected malformed ciphertext to be rejected")
	}
}

func TestNewSealerRequiresPassphrase(t *testing.T) {
	if _, err := NewSealer(""); err == nil {
		t.Fatal("expected empty passphrase to be rejected")
	}
}
