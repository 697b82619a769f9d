package library

import (
	"fmt"

	"github.com/questlog/questlog/pkg/crypto"
)

// CredentialSealer encrypts long-lived platform credentials (currently the
// PSN NPSSO token) before they touch the database.
type CredentialSealer struct {
	key []byte
}

// NewCredentialSealer validates the AES key length and returns a sealer.
func NewCredentialSealer(key []byte) (*CredentialSealer, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("library: credential key must be 16, 24 or 32 bytes, got %d", len(key))
	}

	return &CredentialSealer{key: key}, nil
}

// Seal encrypts a credential for storage.
func (s *CredentialSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("library: cannot seal empty credential")
	}
	return crypto.Encrypt([]byte(plaintext), s.key)
}

// Open decrypts a stored credential.
func (s *CredentialSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", fmt.Errorf("library: cannot open empty credential")
	}

	plaintext, err := crypto.Decrypt(sealed, s.key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
