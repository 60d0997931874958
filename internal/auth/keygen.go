// Package auth provides API key generation, hashing and request auth context.
package auth

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// Keys are 32 characters from a 64-symbol URL-safe alphabet.
// The first KeyPrefixLen characters are stored in clear for lookup.
const (
	KeyLength    = 32
	KeyPrefixLen = 8
	KeyAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
)

var keyFormatRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{32}$`)

// GeneratedKey contains the parts of a newly generated API key.
type GeneratedKey struct {
	Plaintext string // Full key (show once only)
	Hash      string // Argon2id hash for storage
	Prefix    string // Lookup prefix
}

// GenerateSecret returns a random KeyLength-character secret drawn from crypto/rand.
func GenerateSecret() (string, error) {
	buf := make([]byte, KeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}

	// len(KeyAlphabet) is 64, so masking keeps the distribution uniform.
	out := make([]byte, KeyLength)
	for i, b := range buf {
		out[i] = KeyAlphabet[b&63]
	}
	return string(out), nil
}

// GenerateAPIKey creates a new API key and its storage hash.
func GenerateAPIKey() (*GeneratedKey, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	hash, err := HashKey(secret)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	return &GeneratedKey{
		Plaintext: secret,
		Hash:      hash,
		Prefix:    secret[:KeyPrefixLen],
	}, nil
}

// KeyPrefix returns the lookup prefix of a well-formed key, or "" otherwise.
func KeyPrefix(key string) string {
	if !ValidateKeyFormat(key) {
		return ""
	}
	return key[:KeyPrefixLen]
}

// ValidateKeyFormat checks if the key matches the expected format.
func ValidateKeyFormat(key string) bool {
	return keyFormatRegex.MatchString(key)
}
