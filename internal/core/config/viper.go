package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/solatis/cascade/internal/types"
)

// secretKeys may never appear in a config file.
var secretKeys = []string{"hmac_secret", "server.hmac_secret", "auth.hmac_secret"}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
// Flags are applied by the caller after loading.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.request_timeout", def.Server.RequestTimeout.String())
	v.SetDefault("server.max_route_targets", def.Server.MaxRouteTargets)
	v.SetDefault("metrics.addr", def.Metrics.Addr)
	v.SetDefault("engine.pass_budget", def.Engine.PassBudget)
	v.SetDefault("engine.max_rules", def.Engine.MaxRules)
	v.SetDefault("database.url", "")
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)

	// CASCADE_SERVER_PORT -> server.port
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets are environment-only
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			RequestTimeout:  v.GetDuration("server.request_timeout"),
			MaxRouteTargets: v.GetInt("server.max_route_targets"),
		},
		Metrics: MetricsConfig{Addr: v.GetString("metrics.addr")},
		Engine: EngineConfig{
			PassBudget: v.GetInt("engine.pass_budget"),
			MaxRules:   v.GetInt("engine.max_rules"),
		},
		Database: DatabaseConfig{URL: v.GetString("database.url")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks ranges. Callers re-run it after applying flag overrides.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.MaxRouteTargets <= 0 {
		return fmt.Errorf("max_route_targets must be positive, got %d", cfg.Server.MaxRouteTargets)
	}
	if cfg.Engine.PassBudget < 1 || cfg.Engine.PassBudget > types.MaxPassBudget {
		return fmt.Errorf("pass_budget must be between 1 and %d, got %d", types.MaxPassBudget, cfg.Engine.PassBudget)
	}
	if cfg.Engine.MaxRules < 1 || cfg.Engine.MaxRules > types.MaxRulesPerSet {
		return fmt.Errorf("max_rules must be between 1 and %d, got %d", types.MaxRulesPerSet, cfg.Engine.MaxRules)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text", "console":
	default:
		return fmt.Errorf("log format must be json or text, got %q", cfg.Log.Format)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	for _, key := range secretKeys {
		if v.InConfig(key) {
			return fmt.Errorf("HMAC secrets not allowed in config files (use %s_HMAC_SECRET environment variable)", EnvPrefix)
		}
	}
	return nil
}
