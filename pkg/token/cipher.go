// Package token issues the opaque session tokens embedded in install
// commands. A token seals the host's identifying payload with AES-256-GCM;
// the installer hands it back to the callback endpoint, which verifies it
// against the same key.
package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Cipher implements planner.TokenIssuer with AES-256-GCM.
type Cipher struct {
	aead cipher.AEAD

	// nonce fills the nonce buffer. Injectable so tests produce
	// reproducible tokens; defaults to crypto/rand.
	nonce func([]byte) error
}

// NewCipher creates a token cipher from a hex-encoded 32-byte key.
func NewCipher(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("token key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("token key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{
		aead: aead,
		nonce: func(b []byte) error {
			_, err := rand.Read(b)
			return err
		},
	}, nil
}

// WithNonceSource overrides the nonce source.
func (c *Cipher) WithNonceSource(fn func([]byte) error) *Cipher {
	c.nonce = fn
	return c
}

// Issue seals the payload and returns the token as URL-safe base64 of
// nonce followed by ciphertext.
func (c *Cipher) Issue(payload string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if err := c.nonce(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(payload), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token back into its payload.
func (c *Cipher) Open(tok string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(tok)
	if err != nil {
		return "", fmt.Errorf("token is not valid base64: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("token is too short")
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	payload, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open token: %w", err)
	}

	return string(payload), nil
}
