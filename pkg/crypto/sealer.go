// Package crypto seals raw gateway payloads for storage next to their transaction.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix versions the stored format.
const sealedPrefix = "gcm1:"

// ErrNotSealed is returned by Open for a value that was never sealed.
var ErrNotSealed = errors.New("payload is not sealed")

// PayloadSealer encrypts gateway payloads with AES-256-GCM. Each payload is bound to
// its transaction key as additional data, so a sealed value only opens for the
// transaction it was written with.
type PayloadSealer struct {
	gcm cipher.AEAD
}

// NewPayloadSealer creates a sealer from a 32-byte key.
func NewPayloadSealer(key string) (*PayloadSealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &PayloadSealer{gcm: gcm}, nil
}

// Seal encrypts payload for the transaction identified by txnKey.
func (s *PayloadSealer) Seal(txnKey string, payload []byte) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, payload, []byte(txnKey))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal for the same txnKey.
func (s *PayloadSealer) Open(txnKey, stored string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(stored, sealedPrefix)
	if !ok {
		return nil, ErrNotSealed
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed payload: %w", err)
	}
	n := s.gcm.NonceSize()
	if len(raw) < n+s.gcm.Overhead() {
		return nil, errors.New("sealed payload too short")
	}
	plain, err := s.gcm.Open(nil, raw[:n], raw[n:], []byte(txnKey))
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed payload: %w", err)
	}
	return plain, nil
}
