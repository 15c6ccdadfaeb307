// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinJWTSecretLength is the minimum accepted length of JWT_SECRET (HS256 key).
const MinJWTSecretLength = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the health gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects the in-memory stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL enables the blacklist cache and Redis pub/sub notifications (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`
	// KafkaBrokers is a comma-separated list of Kafka brokers; when set, notifications go to Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`

	// JWTSecret is the HS256 signing key for access tokens and the HMAC key for signed payloads.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim set on and required of access tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// AccessTokenTTLMinutes is the access token lifetime in minutes.
	AccessTokenTTLMinutes int `mapstructure:"ACCESS_TOKEN_TTL_MINUTES"`
	// RefreshTokenTTLDays is the refresh token lifetime without remember-me.
	RefreshTokenTTLDays int `mapstructure:"REFRESH_TOKEN_TTL_DAYS"`
	// RefreshTokenRememberTTLDays is the refresh token lifetime with remember-me.
	RefreshTokenRememberTTLDays int `mapstructure:"REFRESH_TOKEN_REMEMBER_TTL_DAYS"`
	// MaxConcurrentSessions is the default per-account session cap.
	MaxConcurrentSessions int `mapstructure:"MAX_CONCURRENT_SESSIONS"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// CleanupInterval is how often the token cleanup job runs (e.g. "6h").
	CleanupInterval string `mapstructure:"CLEANUP_INTERVAL"`
	// SuspiciousScanInterval is how often the suspicious-activity monitor runs (e.g. "1h").
	SuspiciousScanInterval string `mapstructure:"SUSPICIOUS_SCAN_INTERVAL"`
	// InactivityDays is the idle period after which tokens and sessions are retired.
	InactivityDays int `mapstructure:"INACTIVITY_DAYS"`
	// AuditRetentionDays is how long security events are kept.
	AuditRetentionDays int `mapstructure:"AUDIT_RETENTION_DAYS"`
	// SuspiciousActivityThreshold is the failed-login count per IP per scan window that raises a flag.
	SuspiciousActivityThreshold int `mapstructure:"SUSPICIOUS_ACTIVITY_THRESHOLD"`
	// SuspiciousPolicyFile optionally replaces the built-in Rego policy for the monitor.
	SuspiciousPolicyFile string `mapstructure:"SUSPICIOUS_POLICY_FILE"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext connection to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "auth-session-core")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 15)
	v.SetDefault("REFRESH_TOKEN_TTL_DAYS", 7)
	v.SetDefault("REFRESH_TOKEN_REMEMBER_TTL_DAYS", 30)
	v.SetDefault("MAX_CONCURRENT_SESSIONS", 5)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("CLEANUP_INTERVAL", "6h")
	v.SetDefault("SUSPICIOUS_SCAN_INTERVAL", "1h")
	v.SetDefault("INACTIVITY_DAYS", 30)
	v.SetDefault("AUDIT_RETENTION_DAYS", 90)
	v.SetDefault("SUSPICIOUS_ACTIVITY_THRESHOLD", 5)
	v.SetDefault("SUSPICIOUS_POLICY_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if len(cfg.JWTSecret) < MinJWTSecretLength {
		return nil, errors.New("config: JWT_SECRET must be at least 32 characters")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.MaxConcurrentSessions < 1 {
		return nil, errors.New("config: MAX_CONCURRENT_SESSIONS must be at least 1")
	}
	if cfg.SuspiciousActivityThreshold < 1 {
		return nil, errors.New("config: SUSPICIOUS_ACTIVITY_THRESHOLD must be at least 1")
	}

	return &cfg, nil
}

// AccessTTL returns the access token lifetime. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	if c.AccessTokenTTLMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// RefreshTTL returns the refresh token lifetime without remember-me. Returns 7d if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return days(c.RefreshTokenTTLDays, 7)
}

// RememberMeTTL returns the refresh token lifetime with remember-me. Returns 30d if unset or invalid.
func (c *Config) RememberMeTTL() time.Duration {
	return days(c.RefreshTokenRememberTTLDays, 30)
}

// InactivityPeriod returns the idle cutoff used by cleanup. Returns 30d if unset or invalid.
func (c *Config) InactivityPeriod() time.Duration {
	return days(c.InactivityDays, 30)
}

// AuditRetention returns how long security events are kept. Returns 90d if unset or invalid.
func (c *Config) AuditRetention() time.Duration {
	return days(c.AuditRetentionDays, 90)
}

// CleanupEvery parses CleanupInterval. Returns 6h if unset or invalid.
func (c *Config) CleanupEvery() time.Duration {
	return parseDuration(c.CleanupInterval, 6*time.Hour)
}

// SuspiciousScanEvery parses SuspiciousScanInterval. Returns 1h if unset or invalid.
func (c *Config) SuspiciousScanEvery() time.Duration {
	return parseDuration(c.SuspiciousScanInterval, time.Hour)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func days(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * 24 * time.Hour
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
