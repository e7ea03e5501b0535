// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like AUTH_PROVIDER_CLIENT_SECRET
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay (config.development, config.production, ...)
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig() // ignore error if not found

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from multiple possible locations so the agent can be
// started from the repo root, cmd/trust-agent, or a test directory.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders left in YAML values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// overrideEmptyConfig falls back to well-known environment variables for
// secrets that are commonly injected outside the YAML files.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Auth.Provider.ClientSecret == "" {
		if val := os.Getenv("AUTH_PROVIDER_CLIENT_SECRET"); val != "" {
			cfg.Auth.Provider.ClientSecret = val
		}
	}
	if cfg.Auth.Provider.ClientID == "" {
		if val := os.Getenv("AUTH_PROVIDER_CLIENT_ID"); val != "" {
			cfg.Auth.Provider.ClientID = val
		}
	}

	if cfg.APIs.GeoIP.APIKey == "" {
		if val := os.Getenv("GEOIP_API_KEY"); val != "" {
			cfg.APIs.GeoIP.APIKey = val
		}
	}

	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
	if cfg.Database.Redis.Password == "" {
		if val := os.Getenv("REDIS_PASSWORD"); val != "" {
			cfg.Database.Redis.Password = val
		}
	}
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields.
// The trust thresholds mirror the reference behavior: 24h absolute session
// age, 2h idle timeout, 5 minute re-check interval, 10 requests per 15
// minutes for the general limiter and 5 attempts per 60 minutes for the
// brute-force guard.
func applyDefaults(cfg *Config) {
	if cfg.Trust.MaxSessionAgeMinutes == 0 {
		cfg.Trust.MaxSessionAgeMinutes = 1440
	}
	if cfg.Trust.IdleTimeoutMinutes == 0 {
		cfg.Trust.IdleTimeoutMinutes = 120
	}
	if cfg.Trust.RecheckIntervalMinutes == 0 {
		cfg.Trust.RecheckIntervalMinutes = 5
	}
	if !viper.IsSet("trust.enable_fingerprinting") {
		cfg.Trust.EnableFingerprinting = true
	}
	if !viper.IsSet("trust.enable_location_checks") {
		cfg.Trust.EnableLocationChecks = true
	}
	if !viper.IsSet("trust.enable_enhanced_rate_limit") {
		cfg.Trust.EnableEnhancedRateLimit = true
	}
	if cfg.Trust.RateLimit.Threshold == 0 {
		cfg.Trust.RateLimit.Threshold = 10
	}
	if cfg.Trust.RateLimit.WindowMinutes == 0 {
		cfg.Trust.RateLimit.WindowMinutes = 15
	}
	if cfg.Trust.BruteForce.Threshold == 0 {
		cfg.Trust.BruteForce.Threshold = 5
	}
	if cfg.Trust.BruteForce.WindowMinutes == 0 {
		cfg.Trust.BruteForce.WindowMinutes = 60
	}

	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Database.Elasticsearch.AuditIndex == "" {
		cfg.Database.Elasticsearch.AuditIndex = "security-audit-log"
	}

	// App defaults
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = ":2112"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	// API timeout defaults
	if cfg.APIs.GeoIP.Timeout == 0 {
		cfg.APIs.GeoIP.Timeout = 10000
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses is required")
	}

	if cfg.Auth.Provider.URL == "" {
		return fmt.Errorf("auth.provider.url is required")
	}

	if cfg.Trust.MaxSessionAgeMinutes < 0 || cfg.Trust.IdleTimeoutMinutes < 0 {
		return fmt.Errorf("trust timeouts must not be negative")
	}

	return nil
}
