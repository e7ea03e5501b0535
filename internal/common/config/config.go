// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig         `mapstructure:"app"`
	Database     DatabaseConfig    `mapstructure:"database"`
	Trust        TrustConfig       `mapstructure:"trust"`
	Auth         AuthConfig        `mapstructure:"auth"`
	Integrations IntegrationConfig `mapstructure:"integrations"`
	APIs         APIsConfig        `mapstructure:"apis"`
	Logging      LoggingConfig     `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	AuditIndex string   `mapstructure:"audit_index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Trust Engine Configuration ---

// TrustConfig holds every threshold the orchestrator and its checks use.
// It is passed in as one explicit struct so tests can override each value
// independently instead of relying on scattered defaults.
type TrustConfig struct {
	MaxSessionAgeMinutes    int  `mapstructure:"max_session_age_minutes"`
	IdleTimeoutMinutes      int  `mapstructure:"idle_timeout_minutes"`
	RecheckIntervalMinutes  int  `mapstructure:"recheck_interval_minutes"`
	EnableFingerprinting    bool `mapstructure:"enable_fingerprinting"`
	EnableLocationChecks    bool `mapstructure:"enable_location_checks"`
	EnableEnhancedRateLimit bool `mapstructure:"enable_enhanced_rate_limit"`

	RateLimit  RateWindowConfig `mapstructure:"rate_limit"`
	BruteForce RateWindowConfig `mapstructure:"brute_force"`
}

// RateWindowConfig describes one sliding-window limit.
type RateWindowConfig struct {
	Threshold     int `mapstructure:"threshold"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

func (r RateWindowConfig) Window() time.Duration {
	return time.Duration(r.WindowMinutes) * time.Minute
}

func (t TrustConfig) MaxSessionAge() time.Duration {
	return time.Duration(t.MaxSessionAgeMinutes) * time.Minute
}

func (t TrustConfig) IdleTimeout() time.Duration {
	return time.Duration(t.IdleTimeoutMinutes) * time.Minute
}

func (t TrustConfig) RecheckInterval() time.Duration {
	return time.Duration(t.RecheckIntervalMinutes) * time.Minute
}

// --- Auth Provider Configuration ---

// AuthConfig holds settings for the external authentication provider.
// The engine never issues tokens itself; it only introspects, refreshes
// and revokes sessions through the provider.
type AuthConfig struct {
	Provider struct {
		URL          string `mapstructure:"url"`
		Realm        string `mapstructure:"realm"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
	} `mapstructure:"provider"`
}

// IntegrationConfig holds settings for alert delivery.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled    bool   `mapstructure:"enabled"`
			FromEmail  string `mapstructure:"from_email"`
			AlertEmail string `mapstructure:"alert_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled            bool   `mapstructure:"enabled"`
			DefaultSMSSenderID string `mapstructure:"default_sms_sender_id"`
			AlertPhone         string `mapstructure:"alert_phone"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

// APIsConfig holds settings for external API integrations.
type APIsConfig struct {
	GeoIP struct {
		BaseURL string `mapstructure:"base_url"`
		APIKey  string `mapstructure:"api_key"`
		Timeout int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"geoip"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
