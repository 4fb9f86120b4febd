// Package crypto provides AES-256-GCM encryption and decryption for
// credentials at rest, primarily the OAuth token pair held by a linked
// mail account.
//
// Each encryption uses a fresh random 96-bit nonce, so encrypting the same
// plaintext twice produces different ciphertexts. The nonce is prepended to
// the ciphertext and the combined blob is base64-encoded; that blob is the
// unit persisted to storage. Decryption authenticates the blob, so tampered
// or truncated values fail instead of yielding garbage.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"crm-mailer/internal/common/errors"
)

// vaultSalt is static so the derived key is stable across restarts.
var vaultSalt = []byte("crm-mailer-vault-salt")

// Vault handles encryption and decryption of secrets using AES-256-GCM.
// The key material is process-wide configuration loaded once at startup.
//
// Vault is safe for concurrent use by multiple goroutines.
type Vault struct {
	key []byte // 32-byte AES-256 key derived from the configured key material
}

// NewVault creates a Vault from the configured key material.
//
// The key is run through PBKDF2 so any non-empty input yields a
// cryptographically strong 32-byte AES-256 key. An empty key is a
// configuration error: the vault refuses to operate rather than fall back
// to a default key.
func NewVault(key string) (*Vault, error) {
	if key == "" {
		return nil, errors.ConfigError("vault encryption key is required")
	}

	derivedKey := pbkdf2.Key([]byte(key), vaultSalt, 10000, 32, sha256.New)

	return &Vault{key: derivedKey}, nil
}

// Encrypt encrypts a plaintext string and returns the nonce-prefixed,
// base64-encoded blob suitable for storage. Each call generates a fresh
// random nonce, so repeated calls with the same plaintext differ.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a blob produced by Encrypt and returns the original
// plaintext. Malformed, truncated, or tampered blobs surface a
// DECRYPTION_FAILED error.
func (v *Vault) Decrypt(blob string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", errors.DecryptionFailed(err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.DecryptionFailed(nil).WithContext("reason", "ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.DecryptionFailed(err)
	}

	return string(plaintext), nil
}
