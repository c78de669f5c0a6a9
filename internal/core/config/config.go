// Package config provides configuration management for cascade services.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/solatis/cascade/internal/types"
)

// EnvPrefix prefixes every environment variable read by cascade.
const EnvPrefix = "CASCADE"

// Config holds configuration for the cascade service and CLI.
type Config struct {
	Server   ServerConfig
	Metrics  MetricsConfig
	Engine   EngineConfig
	Database DatabaseConfig
	Log      LogConfig
}

// ServerConfig holds configuration for the gRPC service.
type ServerConfig struct {
	Host            string
	Port            int
	RequestTimeout  time.Duration
	MaxRouteTargets int
}

// MetricsConfig holds configuration for the metrics/health HTTP listener.
// An empty Addr disables the listener.
type MetricsConfig struct {
	Addr string
}

// EngineConfig holds rule engine limits.
type EngineConfig struct {
	PassBudget int
	MaxRules   int
}

// DatabaseConfig holds the database URL (sqlite:// or postgres://).
type DatabaseConfig struct {
	URL string
}

// LogConfig selects zap level and encoding.
type LogConfig struct {
	Level  string
	Format string
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            50061,
			RequestTimeout:  10 * time.Second,
			MaxRouteTargets: 256,
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		Engine: EngineConfig{
			PassBudget: types.DefaultPassBudget,
			MaxRules:   types.MaxRulesPerSet,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports CASCADE_HMAC_SECRET (single) and CASCADE_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)
	single := EnvPrefix + "_HMAC_SECRET"

	add := func(key, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' found in environment variables (check %s and %s_* for conflicts)", secretID, single, single)
		}
		secrets[secretID] = decoded
		return nil
	}

	// Format: <secret_id>:<base64_secret>
	if val := os.Getenv(single); val != "" {
		if err := add(single, val); err != nil {
			return nil, err
		}
	}

	// Numbered secrets keep old and new keys valid during rotation
	for i := 1; ; i++ {
		key := fmt.Sprintf("%s_%d", single, i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		if err := add(key, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// ParseHMACSecret decodes a base64-encoded HMAC secret.
func ParseHMACSecret(envValue string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envValue))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 lowercase hex chars (UUIDv7 without hyphens).
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if !IsSecretID(secretID) {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars (UUIDv7 without hyphens)")
	}

	secret, err = ParseHMACSecret(parts[1])
	if err != nil {
		return "", nil, err
	}
	return secretID, secret, nil
}

// IsSecretID reports whether s is 32 lowercase hex chars.
func IsSecretID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
