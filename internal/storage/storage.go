// Package storage provides the durable persistence layer for kessai.
//
// Two backends are supported: SQLite (modernc.org/sqlite, the default — a
// single-file, in-process store) and PostgreSQL (pgx) for deployments that
// already run Postgres. The SQLite backend persists the three durable tables
// the gateway requires: ledger_entries, interventions, and
// responsibility_records. Store interfaces are defined by the consuming
// packages; this package implements them.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    seq            INTEGER PRIMARY KEY AUTOINCREMENT,
    entry_id       TEXT NOT NULL UNIQUE,
    event_type     TEXT NOT NULL,
    timestamp      TEXT NOT NULL,
    ts_ns          INTEGER NOT NULL,
    data           TEXT NOT NULL,
    previous_hash  TEXT NOT NULL,
    entry_hash     TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_ledger_event_type ON ledger_entries(event_type);
CREATE INDEX IF NOT EXISTS idx_ledger_ts_ns ON ledger_entries(ts_ns);

CREATE TABLE IF NOT EXISTS interventions (
    intervention_id   TEXT PRIMARY KEY,
    timestamp         TEXT NOT NULL,
    ts_ns             INTEGER NOT NULL,
    intervention_type TEXT NOT NULL,
    ai_recommendation TEXT NOT NULL,
    ai_confidence     REAL NOT NULL,
    human_decision    TEXT NOT NULL,
    human_role        TEXT NOT NULL,
    reason            TEXT NOT NULL,
    request_context   TEXT,
    signature         TEXT,
    response_time_ms  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_interventions_ts ON interventions(ts_ns);
CREATE INDEX IF NOT EXISTS idx_interventions_type ON interventions(intervention_type);
CREATE INDEX IF NOT EXISTS idx_interventions_role ON interventions(human_role);

CREATE TABLE IF NOT EXISTS responsibility_records (
    record_id            TEXT PRIMARY KEY,
    decision_id          TEXT NOT NULL,
    decision_maker       TEXT NOT NULL,
    responsible_party    TEXT NOT NULL,
    role                 TEXT NOT NULL,
    reasoning            TEXT,
    confidence           REAL NOT NULL,
    responsibility_level TEXT NOT NULL,
    override_ai          INTEGER NOT NULL DEFAULT 0,
    ai_recommendation    TEXT,
    review_required      INTEGER NOT NULL DEFAULT 0,
    reviewed_by          TEXT,
    reviewed_at          TEXT,
    liability_accepted   INTEGER NOT NULL DEFAULT 0,
    liability_signature  TEXT,
    created_at           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responsibility_decision ON responsibility_records(decision_id);
CREATE INDEX IF NOT EXISTS idx_responsibility_party ON responsibility_records(responsible_party);
CREATE INDEX IF NOT EXISTS idx_responsibility_maker ON responsibility_records(decision_maker);
CREATE INDEX IF NOT EXISTS idx_responsibility_review ON responsibility_records(review_required);
`

// DB is the SQLite-backed durable store.
type DB struct {
	sql    *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the SQLite database at path and bootstraps
// the schema. Use ":memory:" for an ephemeral database in tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	dsn := path
	if dsn != ":memory:" {
		// WAL keeps readers unblocked during the ledger's synchronous appends.
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent statements.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: bootstrap schema: %w", err)
	}
	return &DB{sql: db, logger: logger}, nil
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.sql.PingContext(ctx)
}

// Close shuts down the database handle.
func (db *DB) Close() error {
	return db.sql.Close()
}
