package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    seq            BIGSERIAL PRIMARY KEY,
    entry_id       TEXT NOT NULL UNIQUE,
    event_type     TEXT NOT NULL,
    timestamp      TEXT NOT NULL,
    ts             TIMESTAMPTZ NOT NULL,
    data           JSONB NOT NULL,
    previous_hash  TEXT NOT NULL,
    entry_hash     TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_ledger_event_type ON ledger_entries(event_type);
CREATE INDEX IF NOT EXISTS idx_ledger_ts ON ledger_entries(ts);
`

// PG is the PostgreSQL-backed durable store for deployments that already run
// Postgres. Only the ledger lives here; the low-volume oversight tables stay
// on SQLite.
type PG struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects a pool, pings it, and bootstraps the ledger schema.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PG, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse postgres DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: bootstrap postgres schema: %w", err)
	}
	return &PG{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool.
func (pg *PG) Pool() *pgxpool.Pool { return pg.pool }

// Close shuts down the connection pool.
func (pg *PG) Close() { pg.pool.Close() }

// LedgerStore returns a ledger.Store backed by Postgres.
func (pg *PG) LedgerStore() ledger.Store {
	return &pgLedger{pool: pg.pool}
}

type pgLedger struct {
	pool *pgxpool.Pool
}

func (s *pgLedger) Insert(ctx context.Context, e ledger.Entry) error {
	dataJSON, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("storage: marshal ledger data: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return fmt.Errorf("storage: parse ledger timestamp: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (entry_id, event_type, timestamp, ts, data, previous_hash, entry_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.EntryID, e.EventType, e.Timestamp, t, dataJSON, e.PreviousHash, e.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("storage: insert ledger entry: %w", err)
	}
	return nil
}

func (s *pgLedger) scanRows(rows pgx.Rows) ([]ledger.Entry, error) {
	defer rows.Close()
	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var dataJSON []byte
		if err := rows.Scan(&e.EntryID, &e.EventType, &e.Timestamp, &dataJSON, &e.PreviousHash, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("storage: scan ledger entry: %w", err)
		}
		if err := json.Unmarshal(dataJSON, &e.Data); err != nil {
			return nil, fmt.Errorf("storage: unmarshal ledger data: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *pgLedger) scanRow(row pgx.Row) (*ledger.Entry, error) {
	var e ledger.Entry
	var dataJSON []byte
	err := row.Scan(&e.EntryID, &e.EventType, &e.Timestamp, &dataJSON, &e.PreviousHash, &e.EntryHash)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(dataJSON, &e.Data); err != nil {
		return nil, fmt.Errorf("storage: unmarshal ledger data: %w", err)
	}
	return &e, nil
}

func (s *pgLedger) Tail(ctx context.Context) (*ledger.Entry, error) {
	e, err := s.scanRow(s.pool.QueryRow(ctx,
		`SELECT entry_id, event_type, timestamp, data, previous_hash, entry_hash
		 FROM ledger_entries ORDER BY seq DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: ledger tail: %w", err)
	}
	return e, nil
}

func (s *pgLedger) List(ctx context.Context, limit, offset int) ([]ledger.Entry, error) {
	q := `SELECT entry_id, event_type, timestamp, data, previous_hash, entry_hash
	      FROM ledger_entries ORDER BY seq ASC OFFSET $1`
	args := []any{offset}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list ledger entries: %w", err)
	}
	return s.scanRows(rows)
}

func (s *pgLedger) ByHash(ctx context.Context, entryHash string) (*ledger.Entry, error) {
	e, err := s.scanRow(s.pool.QueryRow(ctx,
		`SELECT entry_id, event_type, timestamp, data, previous_hash, entry_hash
		 FROM ledger_entries WHERE entry_hash = $1`, entryHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.WrapError(model.KindNotFound, ErrNotFound, "storage: ledger entry %s", entryHash)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: ledger entry by hash: %w", err)
	}
	return e, nil
}

func (s *pgLedger) ByType(ctx context.Context, eventType string) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entry_id, event_type, timestamp, data, previous_hash, entry_hash
		 FROM ledger_entries WHERE event_type = $1 ORDER BY seq ASC`, eventType)
	if err != nil {
		return nil, fmt.Errorf("storage: ledger entries by type: %w", err)
	}
	return s.scanRows(rows)
}

func (s *pgLedger) ByTimeRange(ctx context.Context, from, to time.Time) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entry_id, event_type, timestamp, data, previous_hash, entry_hash
		 FROM ledger_entries WHERE ts >= $1 AND ts <= $2 ORDER BY seq ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("storage: ledger entries by time range: %w", err)
	}
	return s.scanRows(rows)
}

func (s *pgLedger) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count ledger entries: %w", err)
	}
	return n, nil
}
