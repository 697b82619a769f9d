package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/questlog/questlog/pkg/crypto"
)

// encryptionKeySalt is fixed so stretched keys stay stable across restarts;
// sealed credentials must remain readable after a reboot.
var encryptionKeySalt = []byte("questlog.auth.encryption_key.v1")

// minPassphraseBytes is the shortest secret accepted for stretching.
const minPassphraseBytes = 12

// DecodeKey decodes a key from hex or base64 encoding to raw bytes.
// It tries hex first (since runtime defaults use hex), then base64 variants.
// If all decoding attempts fail, it treats the input as raw bytes.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}

	// Try hex first (runtime defaults emit hex keys)
	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded, nil
		}
	}

	// Support both standard and raw base64 encodings
	if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}

	// Fallback to treating as raw bytes
	return []byte(v), nil
}

// ResolveEncryptionKey returns the AES key material for the configured
// encryption secret. Secrets that decode to 16, 24, or 32 bytes are used
// directly; anything else is treated as a passphrase and stretched to a
// 32 byte key with Argon2id.
func ResolveEncryptionKey(value string) ([]byte, error) {
	decoded, err := DecodeKey(value)
	if err != nil {
		return nil, err
	}

	switch len(decoded) {
	case 16, 24, 32:
		return decoded, nil
	}

	if len(decoded) < minPassphraseBytes {
		return nil, fmt.Errorf("encryption key must decode to 16, 24, or 32 bytes, or be a passphrase of at least %d bytes (got %d)", minPassphraseBytes, len(decoded))
	}

	return crypto.DeriveKeyArgon2id(decoded, encryptionKeySalt, crypto.DefaultArgon2Params())
}
