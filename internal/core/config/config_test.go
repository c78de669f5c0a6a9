package config

import (
	"os"
	"testing"
	"time"
)

const (
	testSecretID  = "0123456789abcdef0123456789abcdef"
	testSecretID2 = "fedcba9876543210fedcba9876543210"
	testSecretB64 = "dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"
	testSecret2   = "YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"
)

func TestHMACSecrets(t *testing.T) {
	t.Run("single secret", func(t *testing.T) {
		t.Setenv("CASCADE_HMAC_SECRET", testSecretID+":"+testSecretB64)

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 1 {
			t.Errorf("expected 1 secret, got %d", len(secrets))
		}
		if _, ok := secrets[testSecretID]; !ok {
			t.Errorf("secret_id not found in map")
		}
	})

	t.Run("multiple numbered secrets", func(t *testing.T) {
		t.Setenv("CASCADE_HMAC_SECRET_1", testSecretID+":"+testSecretB64)
		t.Setenv("CASCADE_HMAC_SECRET_2", testSecretID2+":"+testSecret2)

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 2 {
			t.Errorf("expected 2 secrets, got %d", len(secrets))
		}
	})

	t.Run("numbering stops at first gap", func(t *testing.T) {
		t.Setenv("CASCADE_HMAC_SECRET_1", testSecretID+":"+testSecretB64)
		t.Setenv("CASCADE_HMAC_SECRET_3", testSecretID2+":"+testSecret2)

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 1 {
			t.Errorf("expected 1 secret, got %d", len(secrets))
		}
	})

	t.Run("invalid format", func(t *testing.T) {
		t.Setenv("CASCADE_HMAC_SECRET", "invalid_format")

		if _, err := HMACSecrets(); err == nil {
			t.Error("expected error for invalid format")
		}
	})

	t.Run("non-hex secret_id", func(t *testing.T) {
		t.Setenv("CASCADE_HMAC_SECRET", "0123456789abcdefGHIJKLMNOPQRSTUV:"+testSecretB64)

		if _, err := HMACSecrets(); err == nil {
			t.Error("expected error for non-hex secret_id")
		}
	})

	t.Run("duplicate secret_id between single and numbered", func(t *testing.T) {
		t.Setenv("CASCADE_HMAC_SECRET", testSecretID+":"+testSecretB64)
		t.Setenv("CASCADE_HMAC_SECRET_1", testSecretID+":"+testSecret2)

		if _, err := HMACSecrets(); err == nil {
			t.Error("expected error for duplicate secret_id")
		}
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Host != "0.0.0.0" {
			t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
		}
		if cfg.Server.Port != 50061 {
			t.Errorf("expected port 50061, got %d", cfg.Server.Port)
		}
		if cfg.Server.RequestTimeout != 10*time.Second {
			t.Errorf("expected timeout 10s, got %v", cfg.Server.RequestTimeout)
		}
		if cfg.Metrics.Addr != ":9090" {
			t.Errorf("expected metrics addr :9090, got %s", cfg.Metrics.Addr)
		}
		if cfg.Engine.PassBudget != 10 {
			t.Errorf("expected pass_budget 10, got %d", cfg.Engine.PassBudget)
		}
		if cfg.Engine.MaxRules != 500 {
			t.Errorf("expected max_rules 500, got %d", cfg.Engine.MaxRules)
		}
		if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
			t.Errorf("expected info/json logging, got %s/%s", cfg.Log.Level, cfg.Log.Format)
		}
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv("CASCADE_SERVER_PORT", "9999")
		t.Setenv("CASCADE_SERVER_HOST", "127.0.0.1")
		t.Setenv("CASCADE_ENGINE_PASS_BUDGET", "25")
		t.Setenv("CASCADE_DATABASE_URL", "sqlite://cascade.db")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 9999 {
			t.Errorf("expected port 9999, got %d", cfg.Server.Port)
		}
		if cfg.Server.Host != "127.0.0.1" {
			t.Errorf("expected host 127.0.0.1, got %s", cfg.Server.Host)
		}
		if cfg.Engine.PassBudget != 25 {
			t.Errorf("expected pass_budget 25, got %d", cfg.Engine.PassBudget)
		}
		if cfg.Database.URL != "sqlite://cascade.db" {
			t.Errorf("expected database url from env, got %q", cfg.Database.URL)
		}
	})

	t.Run("secret in environment is allowed", func(t *testing.T) {
		t.Setenv("CASCADE_HMAC_SECRET", testSecretID+":"+testSecretB64)

		if _, err := LoadConfig(""); err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
	})

	t.Run("invalid port range", func(t *testing.T) {
		t.Setenv("CASCADE_SERVER_PORT", "70000")

		if _, err := LoadConfig(""); err == nil {
			t.Error("expected error for port > 65535")
		}
	})

	t.Run("pass budget out of range", func(t *testing.T) {
		t.Setenv("CASCADE_ENGINE_PASS_BUDGET", "0")

		if _, err := LoadConfig(""); err == nil {
			t.Error("expected error for pass_budget 0")
		}
	})

	t.Run("invalid log format", func(t *testing.T) {
		t.Setenv("CASCADE_LOG_FORMAT", "xml")

		if _, err := LoadConfig(""); err == nil {
			t.Error("expected error for log format xml")
		}
	})
}

func TestLoadConfig_File(t *testing.T) {
	t.Run("file values", func(t *testing.T) {
		path := writeConfig(t, `server:
  port: 7000
engine:
  pass_budget: 4
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 7000 || cfg.Engine.PassBudget != 4 {
			t.Errorf("file values not applied: port %d, pass_budget %d", cfg.Server.Port, cfg.Engine.PassBudget)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("CASCADE_SERVER_PORT", "8080")
		path := writeConfig(t, "server:\n  port: 9090\n")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 8080 {
			t.Errorf("expected env port 8080 to win over file, got %d", cfg.Server.Port)
		}
	})

	t.Run("secret in file rejected", func(t *testing.T) {
		path := writeConfig(t, "server:\n  host: localhost\n  hmac_secret: should_be_rejected\n")

		_, err := LoadConfig(path)
		if err == nil {
			t.Fatal("expected error for secret in config file")
		}
		if err.Error() != "HMAC secrets not allowed in config files (use CASCADE_HMAC_SECRET environment variable)" {
			t.Fatalf("wrong error message: %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfig(t.TempDir() + "/missing.yaml"); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestParseHMACSecret(t *testing.T) {
	if secret, err := ParseHMACSecret(testSecretB64); err != nil || len(secret) < 32 {
		t.Fatalf("ParseHMACSecret failed: %v (%d bytes)", err, len(secret))
	}
	if _, err := ParseHMACSecret("not-valid-base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := ParseHMACSecret("c2hvcnQ="); err == nil {
		t.Error("expected error for secret < 32 bytes")
	}
}

func TestParseHMACSecretWithID(t *testing.T) {
	secretID, secret, err := ParseHMACSecretWithID(testSecretID + ":" + testSecretB64)
	if err != nil {
		t.Fatalf("ParseHMACSecretWithID failed: %v", err)
	}
	if secretID != testSecretID || len(secret) == 0 {
		t.Errorf("unexpected result: %s, %d bytes", secretID, len(secret))
	}

	for _, bad := range []string{
		testSecretID,
		"tooshort:" + testSecretB64,
		"0123456789ABCDEF0123456789ABCDEF:" + testSecretB64,
	} {
		if _, _, err := ParseHMACSecretWithID(bad); err == nil {
			t.Errorf("ParseHMACSecretWithID(%q) expected error", bad)
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}
