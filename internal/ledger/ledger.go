// Package ledger implements the hash-chained, append-only audit ledger.
//
// Appends are serialized under a single writer mutex and persisted
// synchronously before returning, so the chain is globally totally ordered
// and crash recovery only needs to reload the tail. The ledger never
// deduplicates: idempotency is the caller's concern.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kessai/internal/canonical"
	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/telemetry"
)

// Store is the persistence contract for ledger entries. Implementations must
// preserve insertion order and persist synchronously on Insert.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	// Tail returns the most recently inserted entry, or nil when empty.
	Tail(ctx context.Context) (*Entry, error)
	// List returns entries in insertion order. limit <= 0 means no limit.
	List(ctx context.Context, limit, offset int) ([]Entry, error)
	ByHash(ctx context.Context, entryHash string) (*Entry, error)
	ByType(ctx context.Context, eventType string) ([]Entry, error)
	ByTimeRange(ctx context.Context, from, to time.Time) ([]Entry, error)
	Count(ctx context.Context) (int64, error)
}

// Ledger is the hash-chain service over a Store.
type Ledger struct {
	mu     sync.Mutex // serializes appends and guards tail fields
	store  Store
	logger *slog.Logger

	tailHash      string
	lastProofHash string // entry hash covered by the latest integrity proof

	appendDuration metric.Float64Histogram
	appendCount    metric.Int64Counter
}

// Open creates a Ledger over store, reloading the chain tail. If the store is
// empty, a genesis entry is written so every later entry has a parent.
func Open(ctx context.Context, store Store, logger *slog.Logger) (*Ledger, error) {
	meter := telemetry.Meter("kessai/ledger")
	appendDur, _ := meter.Float64Histogram("kessai.ledger.append.duration",
		metric.WithDescription("Time to append and persist a ledger entry (ms)"),
		metric.WithUnit("ms"),
	)
	appendCnt, _ := meter.Int64Counter("kessai.ledger.append.count",
		metric.WithDescription("Ledger entries appended"),
	)

	l := &Ledger{
		store:          store,
		logger:         logger,
		appendDuration: appendDur,
		appendCount:    appendCnt,
	}

	tail, err := store.Tail(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load tail: %w", err)
	}
	if tail == nil {
		genesis, err := l.buildEntry(EventTypeGenesis, map[string]any{"note": "chain start"}, GenesisPreviousHash)
		if err != nil {
			return nil, err
		}
		if err := store.Insert(ctx, genesis); err != nil {
			return nil, model.WrapError(model.KindPersistence, err, "ledger: persist genesis")
		}
		l.tailHash = genesis.EntryHash
		logger.Info("ledger: genesis written", "entry_hash", genesis.EntryHash)
	} else {
		l.tailHash = tail.EntryHash
	}
	return l, nil
}

func (l *Ledger) buildEntry(eventType string, data map[string]any, previousHash string) (Entry, error) {
	if data == nil {
		data = map[string]any{}
	}
	e := Entry{
		EntryID:      uuid.NewString(),
		EventType:    eventType,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Data:         data,
		PreviousHash: previousHash,
	}
	hash, err := ComputeEntryHash(e)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: hash entry: %w", err)
	}
	e.EntryHash = hash
	return e, nil
}

// Append atomically adds an entry to the chain. The entry is persisted before
// the tail advances; a store failure leaves the chain unchanged.
func (l *Ledger) Append(ctx context.Context, eventType string, data map[string]any) (Entry, error) {
	if eventType == "" {
		return Entry{}, model.NewError(model.KindValidation, "ledger: event type is required")
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, fmt.Errorf("ledger: append canceled: %w", err)
	}

	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.buildEntry(eventType, data, l.tailHash)
	if err != nil {
		return Entry{}, err
	}
	if err := l.store.Insert(ctx, e); err != nil {
		return Entry{}, model.WrapError(model.KindPersistence, err, "ledger: persist entry")
	}
	l.tailHash = e.EntryHash

	l.appendDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	l.appendCount.Add(ctx, 1)
	return e, nil
}

// TailHash returns the hash of the most recent entry.
func (l *Ledger) TailHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tailHash
}

// GetEntry returns the entry with the given hash.
func (l *Ledger) GetEntry(ctx context.Context, entryHash string) (*Entry, error) {
	return l.store.ByHash(ctx, entryHash)
}

// EntriesByType returns all entries of one event type in insertion order.
func (l *Ledger) EntriesByType(ctx context.Context, eventType string) ([]Entry, error) {
	return l.store.ByType(ctx, eventType)
}

// EntriesByTimeRange returns entries whose timestamps fall in [from, to].
func (l *Ledger) EntriesByTimeRange(ctx context.Context, from, to time.Time) ([]Entry, error) {
	return l.store.ByTimeRange(ctx, from, to)
}

// Entries returns a paginated snapshot in insertion order.
func (l *Ledger) Entries(ctx context.Context, limit, offset int) ([]Entry, error) {
	return l.store.List(ctx, limit, offset)
}

// Count returns the number of entries including genesis.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	return l.store.Count(ctx)
}

// AppendIntegrityProof appends an integrity_proof entry whose data carries a
// Merkle root over every entry hash since the previous proof. Roots chain via
// previous_root, mirroring the entry chain one level up.
func (l *Ledger) AppendIntegrityProof(ctx context.Context) (Entry, error) {
	entries, err := l.store.List(ctx, 0, 0)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: list for proof: %w", err)
	}

	l.mu.Lock()
	lastCovered := l.lastProofHash
	l.mu.Unlock()

	var leaves []string
	var previousRoot string
	covering := lastCovered == "" // no proof yet: cover from genesis
	for _, e := range entries {
		if e.EventType == "integrity_proof" {
			if root, ok := e.Data["root_hash"].(string); ok {
				previousRoot = root
			}
			continue
		}
		if covering {
			leaves = append(leaves, e.EntryHash)
		}
		if e.EntryHash == lastCovered {
			covering = true
		}
	}
	if len(leaves) == 0 {
		return Entry{}, model.NewError(model.KindNotFound, "ledger: no new entries to prove")
	}

	data := map[string]any{
		"root_hash":     canonical.MerkleRoot(leaves),
		"leaf_count":    len(leaves),
		"last_leaf":     leaves[len(leaves)-1],
		"previous_root": previousRoot,
	}
	proof, err := l.Append(ctx, "integrity_proof", data)
	if err != nil {
		return Entry{}, err
	}

	l.mu.Lock()
	l.lastProofHash = leaves[len(leaves)-1]
	l.mu.Unlock()

	l.logger.Info("ledger: integrity proof appended",
		"leaves", len(leaves), "root_hash", data["root_hash"])
	return proof, nil
}
