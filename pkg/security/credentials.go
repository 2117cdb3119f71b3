package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mercatto/commerce-core/pkg/config"
)

// CredentialSealer encrypts gateway credential blobs at rest with
// XChaCha20-Poly1305. The nonce is prepended to the ciphertext.
type CredentialSealer struct {
	key []byte
}

// NewCredentialSealer decodes the base64 master key from config.
func NewCredentialSealer(cfg config.SecurityConfig) (*CredentialSealer, error) {
	if cfg.CredentialKey == "" {
		return nil, fmt.Errorf("credential key is required")
	}
	key, err := base64.StdEncoding.DecodeString(cfg.CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("decode credential key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("credential key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &CredentialSealer{key: key}, nil
}

// Seal encrypts the plaintext blob.
func (s *CredentialSealer) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal.
func (s *CredentialSealer) Open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed blob too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed blob: %w", err)
	}
	return plaintext, nil
}
