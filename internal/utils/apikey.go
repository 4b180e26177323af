package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	// APIKeyPrefix marks live plugin keys.
	APIKeyPrefix = "mb_live_"

	apiKeyRandomBytes = 24
	apiKeyDisplayLen  = 14
)

// GeneratedAPIKey is a freshly minted key. RawKey is handed to the caller
// once; only KeyHash is used for lookups.
type GeneratedAPIKey struct {
	RawKey    string `json:"rawKey"`
	KeyPrefix string `json:"keyPrefix"`
	KeyHash   string `json:"keyHash"`
}

// GenerateAPIKey returns a random key with its display prefix and lookup hash.
func GenerateAPIKey() (*GeneratedAPIKey, error) {
	buf := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}

	raw := APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return &GeneratedAPIKey{
		RawKey:    raw,
		KeyPrefix: raw[:apiKeyDisplayLen],
		KeyHash:   HashAPIKey(raw),
	}, nil
}

// HashAPIKey is the hex SHA-256 of the raw key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
