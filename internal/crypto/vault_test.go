package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"crm-mailer/internal/common/errors"
)

func TestNewVault(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		wantError bool
	}{
		{
			name: "valid key",
			key:  "test-encryption-key-32-bytes!!",
		},
		{
			name: "short key is derived to 32 bytes",
			key:  "short",
		},
		{
			name: "long key is derived to 32 bytes",
			key:  strings.Repeat("a", 64),
		},
		{
			name:      "empty key",
			key:       "",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vault, err := NewVault(tt.key)

			if tt.wantError {
				if err == nil {
					t.Fatalf("NewVault() expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("NewVault() unexpected error = %v", err)
			}

			if len(vault.key) != 32 {
				t.Errorf("NewVault() key length = %d, want 32", len(vault.key))
			}
		})
	}
}

func TestVault_RoundTrip(t *testing.T) {
	vault, err := NewVault("test-encryption-key-32-bytes!!")
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}

	plaintexts := []string{
		"ya29.a0AfH6SMB-access-token",
		"1//0grefresh-token-material",
		"",
		"こんにちは世界",
		`{"key": "value", "number": 123}`,
		strings.Repeat("abcdefgh", 1000),
		"!@#$%^&*()_+-=[]{}|;':\",./<>?",
	}

	for _, plaintext := range plaintexts {
		blob, err := vault.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) unexpected error = %v", plaintext, err)
		}

		if _, err := base64.StdEncoding.DecodeString(blob); err != nil {
			t.Errorf("Encrypt(%q) result is not valid base64: %v", plaintext, err)
		}

		got, err := vault.Decrypt(blob)
		if err != nil {
			t.Fatalf("Decrypt() unexpected error = %v", err)
		}

		if got != plaintext {
			t.Errorf("Decrypt(Encrypt(%q)) = %q, want original", plaintext, got)
		}
	}
}

func TestVault_NonceUniqueness(t *testing.T) {
	vault, err := NewVault("test-encryption-key-32-bytes!!")
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}

	first, err := vault.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt() unexpected error = %v", err)
	}

	second, err := vault.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt() unexpected error = %v", err)
	}

	if first == second {
		t.Errorf("Encrypt() produced identical ciphertexts for the same plaintext")
	}
}

func TestVault_Decrypt_Rejections(t *testing.T) {
	vault, err := NewVault("test-encryption-key-32-bytes!!")
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}

	blob, err := vault.Encrypt("secret refresh token")
	if err != nil {
		t.Fatalf("Encrypt() unexpected error = %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(blob)

	tampered := make([]byte, len(raw))
	copy(tampered, raw)
	tampered[len(tampered)-1] ^= 0xFF

	tests := []struct {
		name string
		blob string
	}{
		{"not base64", "not-valid-base64!!!"},
		{"truncated below nonce size", base64.StdEncoding.EncodeToString(raw[:4])},
		{"tampered ciphertext", base64.StdEncoding.EncodeToString(tampered)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := vault.Decrypt(tt.blob)
			if err == nil {
				t.Fatalf("Decrypt() expected error but got none")
			}
			if !errors.IsKind(err, errors.KindDecryptionFailed) {
				t.Errorf("Decrypt() error kind = %v, want DECRYPTION_FAILED", errors.KindOf(err))
			}
		})
	}
}

func TestVault_Decrypt_WrongKey(t *testing.T) {
	vault1, _ := NewVault("first-encryption-key")
	vault2, _ := NewVault("second-encryption-key")

	blob, err := vault1.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt() unexpected error = %v", err)
	}

	if _, err := vault2.Decrypt(blob); !errors.IsKind(err, errors.KindDecryptionFailed) {
		t.Errorf("Decrypt() with wrong key: error kind = %v, want DECRYPTION_FAILED", errors.KindOf(err))
	}
}
