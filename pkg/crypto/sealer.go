// Package crypto seals brokerage credentials before they touch the database.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	nonceSize = 12
	prefix    = "SEALED:"
)

var (
	ErrInvalidCiphertext = errors.New("crypto: invalid sealed value")
	ErrOpenFailed        = errors.New("crypto: open failed")
)

// Sealer encrypts and decrypts short secrets with AES-256-GCM. The key is
// derived from a passphrase so deployments only configure one string.
type Sealer struct {
	key [32]byte
}

// NewSealer derives a sealer from the configured passphrase.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: empty passphrase")
	}
	return &Sealer{key: sha256.Sum256([]byte(passphrase))}, nil
}

// Seal encrypts plaintext and returns "SEALED:" + base64(nonce||ciphertext).
func (s *Sealer) Seal(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, prefix) {
		return "", ErrInvalidCiphertext
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plaintext), nil
}
