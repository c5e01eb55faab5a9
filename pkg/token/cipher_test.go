package token

import (
	"encoding/base64"
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestCipherRoundTrip(t *testing.T) {
	cipher, err := NewCipher(testKey)
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}

	payload := "10.1.0.1|0|PIPE-1|1700000000"
	tok, err := cipher.Issue(payload)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if tok == "" || strings.Contains(tok, payload) {
		t.Errorf("token should be opaque, got %q", tok)
	}

	opened, err := cipher.Open(tok)
	if err != nil {
		t.Fatalf("failed to open token: %v", err)
	}
	if opened != payload {
		t.Errorf("expected payload %q, got %q", payload, opened)
	}
}

func TestCipherDeterministicNonce(t *testing.T) {
	newFixed := func() *Cipher {
		cipher, err := NewCipher(testKey)
		if err != nil {
			t.Fatalf("failed to create cipher: %v", err)
		}
		return cipher.WithNonceSource(func(b []byte) error {
			for i := range b {
				b[i] = byte(i)
			}
			return nil
		})
	}

	first, err := newFixed().Issue("payload")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	second, err := newFixed().Issue("payload")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if first != second {
		t.Errorf("fixed nonce should produce identical tokens: %q != %q", first, second)
	}
}

func TestNewCipherRejectsBadKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"not hex", "zz"},
		{"too short", "00010203"},
		{"too long", testKey + "00"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCipher(tt.key); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestOpenRejectsBadTokens(t *testing.T) {
	cipher, err := NewCipher(testKey)
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}

	if _, err := cipher.Open("not-base64!"); err == nil {
		t.Error("expected an error for malformed base64")
	}
	if _, err := cipher.Open(base64.URLEncoding.EncodeToString([]byte("ab"))); err == nil {
		t.Error("expected an error for a truncated token")
	}

	// Flipping one ciphertext byte must fail authentication
	tok, err := cipher.Issue("payload")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	raw, err := base64.URLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("failed to decode token: %v", err)
	}
	raw[len(raw)-1] ^= 0x01
	if _, err := cipher.Open(base64.URLEncoding.EncodeToString(raw)); err == nil {
		t.Error("expected an error for a tampered token")
	}

	// A token issued under a different key must not open
	otherKey := strings.Repeat("ff", 32)
	other, err := NewCipher(otherKey)
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}
	if _, err := other.Open(tok); err == nil {
		t.Error("expected an error for a foreign key")
	}
}
