package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/ashita-ai/kessai/internal/model"
)

// MemoryStore is an in-process Store for development and tests. Entries are
// held in insertion order with a hash index for lookups.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	byHash  map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: map[string]int{}}
}

// Insert appends an entry.
func (s *MemoryStore) Insert(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byHash[e.EntryHash]; exists {
		return model.NewError(model.KindConflict, "ledger: duplicate entry hash %s", e.EntryHash)
	}
	s.byHash[e.EntryHash] = len(s.entries)
	s.entries = append(s.entries, e)
	return nil
}

// Tail returns the last inserted entry, or nil when empty.
func (s *MemoryStore) Tail(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	e := s.entries[len(s.entries)-1]
	return &e, nil
}

// List returns entries in insertion order. limit <= 0 means no limit.
func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.entries) {
		return []Entry{}, nil
	}
	end := len(s.entries)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]Entry, end-offset)
	copy(out, s.entries[offset:end])
	return out, nil
}

// ByHash returns the entry with the given hash.
func (s *MemoryStore) ByHash(_ context.Context, entryHash string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byHash[entryHash]
	if !ok {
		return nil, model.NewError(model.KindNotFound, "ledger: entry %s not found", entryHash)
	}
	e := s.entries[i]
	return &e, nil
}

// ByType returns entries of one event type in insertion order.
func (s *MemoryStore) ByType(_ context.Context, eventType string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}

// ByTimeRange returns entries with from <= timestamp <= to.
func (s *MemoryStore) ByTimeRange(_ context.Context, from, to time.Time) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		t := e.Time()
		if t.IsZero() {
			continue
		}
		if !t.Before(from) && !t.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Count returns the number of entries.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// Tamper overwrites the data of the entry at index i without rehashing.
// Test hook for integrity verification; never used by production code.
func (s *MemoryStore) Tamper(i int, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= 0 && i < len(s.entries) {
		s.entries[i].Data = data
	}
}
