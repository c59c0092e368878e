package kessai

import (
	"log/slog"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port           int
	databasePath   string
	postgresURL    string
	logger         *slog.Logger
	version        string
	policyJSON     []byte
	tokenTTL       time.Duration
	signingKeyPath string
	publicKeyPath  string
	sinks          []NotificationSink
}

// WithPort overrides the TCP port from config (KESSAI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabasePath overrides the SQLite path from config (KESSAI_DB_PATH env var).
// Use ":memory:" for tests.
func WithDatabasePath(path string) Option {
	return func(o *resolvedOptions) { o.databasePath = path }
}

// WithPostgresURL moves the ledger to Postgres (KESSAI_POSTGRES_URL env var).
// The low-volume oversight tables stay on SQLite either way.
func WithPostgresURL(url string) Option {
	return func(o *resolvedOptions) { o.postgresURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithPolicyJSON loads the given policy document during New, replacing the
// file configured via KESSAI_POLICY_PATH.
func WithPolicyJSON(raw []byte) Option {
	return func(o *resolvedOptions) { o.policyJSON = raw }
}

// WithTokenTTL overrides the capability token lifetime (max 1h).
func WithTokenTTL(ttl time.Duration) Option {
	return func(o *resolvedOptions) { o.tokenTTL = ttl }
}

// WithSigningKeys sets the Ed25519 key pair used for decision and ledger
// signatures. Without this option (or the corresponding env vars) an
// ephemeral key is generated per process.
func WithSigningKeys(privateKeyPath, publicKeyPath string) Option {
	return func(o *resolvedOptions) {
		o.signingKeyPath = privateKeyPath
		o.publicKeyPath = publicKeyPath
	}
}

// WithNotificationSink registers a sink for escalation notifications.
// Multiple sinks may be registered; all receive every notification.
func WithNotificationSink(sink NotificationSink) Option {
	return func(o *resolvedOptions) { o.sinks = append(o.sinks, sink) }
}
