// Package crypto encrypts OAuth credentials before they are written to storage.
//
// Tokens are sealed with AES-256-GCM using a key derived from ENCRYPTION_KEY via
// PBKDF2. Every call to Encrypt uses a fresh random nonce, so encrypting the same
// token twice yields different ciphertexts.
//
//	enc, err := crypto.NewTokenEncryptor(os.Getenv("ENCRYPTION_KEY"))
//	sealed, err := enc.Encrypt(accessToken)
//	plain, err := enc.Decrypt(sealed)
//
// A nil *TokenEncryptor is valid and passes values through unchanged, which is
// how deployments without an encryption key run.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"melody-map/internal/common/errors"
)

const (
	keySalt       = "melody-map-token-salt"
	keyIterations = 10000
	sealedPrefix  = "enc:v1:"
)

// TokenEncryptor seals and opens token strings. Safe for concurrent use.
type TokenEncryptor struct {
	aead cipher.AEAD
}

// NewTokenEncryptor derives a 32-byte AES key from key. The key must not be empty.
func NewTokenEncryptor(key string) (*TokenEncryptor, error) {
	if key == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	derived := pbkdf2.Key([]byte(key), []byte(keySalt), keyIterations, 32, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}

	return &TokenEncryptor{aead: aead}, nil
}

// Encrypt returns a prefixed base64 ciphertext. Empty input stays empty.
func (e *TokenEncryptor) Encrypt(plaintext string) (string, error) {
	if e == nil || plaintext == "" {
		return plaintext, nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Values without the ciphertext prefix were stored
// before encryption was enabled and are returned as-is.
func (e *TokenEncryptor) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if e == nil {
		return "", errors.ConfigError("encrypted token found but no encryption key is configured")
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", errors.InternalError("failed to decode ciphertext", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("ciphertext too short")
	}

	plaintext, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}
	return string(plaintext), nil
}
