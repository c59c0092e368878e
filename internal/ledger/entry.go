package ledger

import (
	"time"

	"github.com/ashita-ai/kessai/internal/canonical"
)

// GenesisPreviousHash anchors the chain: the first entry links to 64 zeros.
const GenesisPreviousHash = "0000000000000000000000000000000000000000000000000000000000000000"

// EventTypeGenesis is the event type of the chain's first entry.
const EventTypeGenesis = "genesis"

// Entry is one immutable record in the hash-chained ledger.
//
// EntryHash = SHA256(canonical({entry_id, event_type, timestamp, data,
// previous_hash})); Timestamp is RFC 3339 (nanoseconds, UTC) so the hash
// pre-image is byte-stable across load/store cycles.
type Entry struct {
	EntryID      string         `json:"entry_id"`
	EventType    string         `json:"event_type"`
	Timestamp    string         `json:"timestamp"`
	Data         map[string]any `json:"data"`
	PreviousHash string         `json:"previous_hash"`
	EntryHash    string         `json:"entry_hash"`
}

// Time parses the entry timestamp. Returns the zero time on malformed input.
func (e Entry) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ComputeEntryHash recomputes the hash of an entry's content, excluding the
// stored EntryHash itself.
func ComputeEntryHash(e Entry) (string, error) {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	return canonical.Hash(map[string]any{
		"entry_id":      e.EntryID,
		"event_type":    e.EventType,
		"timestamp":     e.Timestamp,
		"data":          data,
		"previous_hash": e.PreviousHash,
	})
}
