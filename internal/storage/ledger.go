package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/model"
)

// LedgerStore returns a ledger.Store backed by this SQLite database.
func (db *DB) LedgerStore() ledger.Store {
	return &sqliteLedger{db: db.sql}
}

type sqliteLedger struct {
	db *sql.DB
}

func (s *sqliteLedger) Insert(ctx context.Context, e ledger.Entry) error {
	dataJSON, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("storage: marshal ledger data: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return fmt.Errorf("storage: parse ledger timestamp: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (entry_id, event_type, timestamp, ts_ns, data, previous_hash, entry_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.EntryID, e.EventType, e.Timestamp, t.UnixNano(), string(dataJSON), e.PreviousHash, e.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("storage: insert ledger entry: %w", err)
	}
	return nil
}

func scanLedgerRows(rows *sql.Rows) ([]ledger.Entry, error) {
	defer rows.Close()
	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var dataJSON string
		if err := rows.Scan(&e.EntryID, &e.EventType, &e.Timestamp, &dataJSON, &e.PreviousHash, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("storage: scan ledger entry: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
			return nil, fmt.Errorf("storage: unmarshal ledger data: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const ledgerColumns = `entry_id, event_type, timestamp, data, previous_hash, entry_hash`

func (s *sqliteLedger) Tail(ctx context.Context) (*ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries ORDER BY seq DESC LIMIT 1`)
	var e ledger.Entry
	var dataJSON string
	err := row.Scan(&e.EntryID, &e.EventType, &e.Timestamp, &dataJSON, &e.PreviousHash, &e.EntryHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: ledger tail: %w", err)
	}
	if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
		return nil, fmt.Errorf("storage: unmarshal ledger data: %w", err)
	}
	return &e, nil
}

func (s *sqliteLedger) List(ctx context.Context, limit, offset int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries ORDER BY seq ASC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list ledger entries: %w", err)
	}
	return scanLedgerRows(rows)
}

func (s *sqliteLedger) ByHash(ctx context.Context, entryHash string) (*ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE entry_hash = ?`, entryHash)
	var e ledger.Entry
	var dataJSON string
	err := row.Scan(&e.EntryID, &e.EventType, &e.Timestamp, &dataJSON, &e.PreviousHash, &e.EntryHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.WrapError(model.KindNotFound, ErrNotFound, "storage: ledger entry %s", entryHash)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: ledger entry by hash: %w", err)
	}
	if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
		return nil, fmt.Errorf("storage: unmarshal ledger data: %w", err)
	}
	return &e, nil
}

func (s *sqliteLedger) ByType(ctx context.Context, eventType string) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE event_type = ? ORDER BY seq ASC`,
		eventType)
	if err != nil {
		return nil, fmt.Errorf("storage: ledger entries by type: %w", err)
	}
	return scanLedgerRows(rows)
}

func (s *sqliteLedger) ByTimeRange(ctx context.Context, from, to time.Time) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE ts_ns >= ? AND ts_ns <= ? ORDER BY seq ASC`,
		from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("storage: ledger entries by time range: %w", err)
	}
	return scanLedgerRows(rows)
}

func (s *sqliteLedger) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count ledger entries: %w", err)
	}
	return n, nil
}
