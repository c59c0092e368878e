// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Environment settings.
	Env         string // development, staging, or production
	CORSOrigins []string

	// HTTP server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Rate limiting.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// Storage settings.
	DatabasePath string // SQLite file path, or ":memory:"
	PostgresURL  string // Optional Postgres DSN; when set the ledger uses Postgres.

	// Signing settings.
	SigningPrivateKeyPath string // Path to Ed25519 private key PEM file.
	SigningPublicKeyPath  string // Path to Ed25519 public key PEM file.
	TokenTTL              time.Duration

	// Policy settings.
	PolicyPath string // JSON policy document loaded at startup.

	// Escalation settings.
	EscalationRecipients []string
	SLASweepInterval     time.Duration
	SLAWarningWindow     time.Duration

	// Override authorization.
	AuthorizedRoles []string
	ExecutiveRoles  []string

	// Ledger settings.
	IntegrityProofInterval time.Duration

	// OTEL settings.
	OTELEndpoint      string
	OTELInsecure      bool
	ServiceName       string
	TraceSamplingRate float64

	// Operational settings.
	LogLevel           string
	NotificationBuffer int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Env:                    envStr("KESSAI_ENV", "development"),
		CORSOrigins:            envList("KESSAI_CORS_ORIGINS", nil),
		Port:                   envInt("KESSAI_PORT", 8420),
		ReadTimeout:            envDuration("KESSAI_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:           envDuration("KESSAI_WRITE_TIMEOUT", 30*time.Second),
		RateLimitEnabled:       envBool("KESSAI_RATE_LIMIT_ENABLED", true),
		RateLimitRPS:           envFloat("KESSAI_RATE_LIMIT_RPS", 50),
		RateLimitBurst:         envInt("KESSAI_RATE_LIMIT_BURST", 100),
		DatabasePath:           envStr("KESSAI_DB_PATH", "kessai.db"),
		PostgresURL:            envStr("KESSAI_POSTGRES_URL", ""),
		SigningPrivateKeyPath:  envStr("KESSAI_SIGNING_PRIVATE_KEY", ""),
		SigningPublicKeyPath:   envStr("KESSAI_SIGNING_PUBLIC_KEY", ""),
		TokenTTL:               envDuration("KESSAI_TOKEN_TTL", 15*time.Minute),
		PolicyPath:             envStr("KESSAI_POLICY_PATH", ""),
		EscalationRecipients:   envList("KESSAI_ESCALATION_RECIPIENTS", nil),
		SLASweepInterval:       envDuration("KESSAI_SLA_SWEEP_INTERVAL", time.Minute),
		SLAWarningWindow:       envDuration("KESSAI_SLA_WARNING_WINDOW", time.Hour),
		AuthorizedRoles:        envList("KESSAI_AUTHORIZED_ROLES", []string{"compliance_officer", "security_lead"}),
		ExecutiveRoles:         envList("KESSAI_EXECUTIVE_ROLES", []string{"executive"}),
		IntegrityProofInterval: envDuration("KESSAI_PROOF_INTERVAL", time.Hour),
		OTELEndpoint:           envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:           envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:            envStr("OTEL_SERVICE_NAME", "kessai"),
		TraceSamplingRate:      envFloat("KESSAI_TRACE_SAMPLING_RATE", 1.0),
		LogLevel:               envStr("KESSAI_LOG_LEVEL", "info"),
		NotificationBuffer:     envInt("KESSAI_NOTIFICATION_BUFFER", 256),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	switch c.Env {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("config: KESSAI_ENV must be development, staging, or production")
	}
	if c.Env == "production" {
		for _, o := range c.CORSOrigins {
			if o == "*" {
				return fmt.Errorf("config: wildcard CORS origin forbidden in production")
			}
		}
	}
	if c.DatabasePath == "" && c.PostgresURL == "" {
		return fmt.Errorf("config: KESSAI_DB_PATH or KESSAI_POSTGRES_URL is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: KESSAI_PORT must be in (0, 65535]")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("config: rate limit rps and burst must be positive when enabled")
	}
	if c.TokenTTL <= 0 || c.TokenTTL > time.Hour {
		return fmt.Errorf("config: KESSAI_TOKEN_TTL must be in (0, 1h]")
	}
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("config: KESSAI_TRACE_SAMPLING_RATE must be in [0,1]")
	}
	if c.NotificationBuffer <= 0 {
		return fmt.Errorf("config: KESSAI_NOTIFICATION_BUFFER must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
