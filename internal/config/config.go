// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
// Session and token lifetimes are deliberately absent: they are contracts
// with deployed clients and live as constants in the session domain.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for the user store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis host:port holding session state (e.g. localhost:6379).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional Redis AUTH password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the Redis logical database number.
	RedisDB int `mapstructure:"REDIS_DB"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "medilink-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "medilink-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// BcryptCost is the bcrypt cost factor (4-31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// SecureCookies forces the Secure attribute on auth cookies. Always on
	// when Env is production.
	SecureCookies bool `mapstructure:"SECURE_COOKIES"`

	// Audit pipeline (optional). When Kafka brokers are set, the server emits
	// audit events to Kafka and the worker ships them to Loki/OTLP.
	// AuditKafkaBrokers is a comma-separated list of broker addresses.
	AuditKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the Kafka topic for audit events (default medilink-audit).
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the audit worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is the Loki base URL the audit worker pushes logs to (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// OTLPEndpoint is the OTLP gRPC endpoint for audit log export; empty disables it.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS for the OTLP exporter (standard OTEL_EXPORTER_OTLP_INSECURE behavior).
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored (e.g. in CI). Env vars
// override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "medilink-auth")
	v.SetDefault("JWT_AUDIENCE", "medilink-api")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("SECURE_COOKIES", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "medilink-audit")
	v.SetDefault("KAFKA_GROUP_ID", "medilink-audit-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.RedisAddr == "" {
		return nil, errors.New("config: REDIS_ADDR must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.Env == "production" {
		cfg.SecureCookies = true
	}

	return &cfg, nil
}

// AuditKafkaBrokersList returns Kafka broker addresses from the
// comma-separated config. A non-empty list means auditing is enabled.
func (c *Config) AuditKafkaBrokersList() []string {
	if c == nil || c.AuditKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.AuditKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
