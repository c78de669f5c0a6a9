package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	keyPrefix  = "cs"
	keyVersion = "v1"

	// randomBytes is the entropy carried by every key (256 bits).
	randomBytes = 32
)

// ParseAPIKey extracts secret_id and random_data from API key format.
// Format: cs-v1-<secret_id>-<random_data> (103 chars total).
// Returns ErrInvalidKeyFormat if format doesn't match.
func ParseAPIKey(key string) (secretID, randomData string, err error) {
	parts := strings.Split(key, "-")
	if len(parts) != 4 || parts[0] != keyPrefix || parts[1] != keyVersion {
		return "", "", ErrInvalidKeyFormat
	}

	secretID = parts[2]
	randomData = parts[3]

	// secret_id is a UUID without hyphens, random_data is 256 bits hex
	if len(secretID) != 32 || len(randomData) != 2*randomBytes {
		return "", "", ErrInvalidKeyFormat
	}
	if !isLowerHex(secretID) || !isLowerHex(randomData) {
		return "", "", ErrInvalidKeyFormat
	}

	return secretID, randomData, nil
}

// FormatAPIKey constructs API key from components.
func FormatAPIKey(secretID, randomData string) string {
	return fmt.Sprintf("%s-%s-%s-%s", keyPrefix, keyVersion, secretID, randomData)
}

// GenerateAPIKey creates a new key bound to secretID and returns the key
// together with the hash to store. The key is shown once and never persisted.
func GenerateAPIKey(secretID string, secret []byte) (key, keyHash string, err error) {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate key material: %w", err)
	}
	key = FormatAPIKey(secretID, hex.EncodeToString(buf))
	if _, _, err := ParseAPIKey(key); err != nil {
		return "", "", err
	}
	return key, HashKey(secret, key), nil
}

// ComputeHMAC computes HMAC-SHA256 signature of API key using secret.
func ComputeHMAC(secret []byte, apiKey string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(apiKey))
	return h.Sum(nil)
}

// HashKey returns the hex HMAC stored in api_keys.key_hash.
func HashKey(secret []byte, apiKey string) string {
	return hex.EncodeToString(ComputeHMAC(secret, apiKey))
}

func isLowerHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
