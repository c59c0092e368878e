// Package retention classifies ledger entries into retention classes,
// manages legal holds, and produces anonymized views of expired entries.
//
// The ledger itself is append-only and hash-chained, so anonymization never
// rewrites stored entries; it produces redacted copies for export and
// disclosure paths while the chain stays verifiable.
package retention

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/model"
)

// Class is a retention classification.
type Class string

const (
	// ClassHighRisk keeps entries 10 years, auto-anonymizes on expiry, and
	// admits no data-subject rights exception.
	ClassHighRisk Class = "high_risk"
	// ClassGDPRIntersect keeps entries 90 days by default with data-subject
	// rights applying.
	ClassGDPRIntersect Class = "gdpr_intersect"
	// ClassStandard keeps entries 180 days.
	ClassStandard Class = "standard"
)

// Policy describes the handling a class mandates.
type Policy struct {
	Class             Class         `json:"class"`
	RetainFor         time.Duration `json:"retain_for"`
	AutoAnonymize     bool          `json:"auto_anonymize"`
	DataSubjectRights bool          `json:"data_subject_rights"`
}

// PolicyFor returns the handling policy for a class.
func PolicyFor(c Class) Policy {
	switch c {
	case ClassHighRisk:
		return Policy{Class: c, RetainFor: 10 * 365 * 24 * time.Hour, AutoAnonymize: true, DataSubjectRights: false}
	case ClassGDPRIntersect:
		return Policy{Class: c, RetainFor: 90 * 24 * time.Hour, AutoAnonymize: false, DataSubjectRights: true}
	default:
		return Policy{Class: ClassStandard, RetainFor: 180 * 24 * time.Hour, AutoAnonymize: false, DataSubjectRights: false}
	}
}

// redactedKeys are always anonymized regardless of entry type.
var redactedKeys = map[string]bool{
	"actor":       true,
	"user_intent": true,
	"request_id":  true,
}

// piiKeySubstrings flag obvious personal-data keys.
var piiKeySubstrings = []string{
	"email", "name", "phone", "address", "ip_address", "user_id", "ssn", "dob",
}

func isPIIKey(key string) bool {
	if redactedKeys[key] {
		return true
	}
	lower := strings.ToLower(key)
	for _, sub := range piiKeySubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// LegalHold freezes entries from deletion and anonymization.
type LegalHold struct {
	HoldID    string     `json:"hold_id"`
	Reason    string     `json:"reason"`
	Requester string     `json:"requester"`
	// EntryIDs of frozen entries; empty means the entire ledger.
	EntryIDs   []string   `json:"entry_ids,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// Active reports whether the hold is still in force.
func (h LegalHold) Active() bool { return h.ReleasedAt == nil }

// Service classifies entries and manages holds.
type Service struct {
	ledger *ledger.Ledger
	logger *slog.Logger

	mu    sync.RWMutex
	holds map[string]LegalHold
}

// NewService creates a retention service over the ledger.
func NewService(lg *ledger.Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: lg, logger: logger, holds: map[string]LegalHold{}}
}

func hasPII(data map[string]any) bool {
	for k := range data {
		if isPIIKey(k) {
			return true
		}
	}
	return false
}

// Classify assigns an entry to a retention class. Decisions over personal
// data stay in the long audit class; the short GDPR window applies only to
// non-decision entries that carry personal data.
func Classify(e ledger.Entry) Class {
	switch e.EventType {
	case "policy_load", "intervention":
		return ClassHighRisk
	case "decision":
		if risk, ok := e.Data["risk_level"].(float64); ok && risk >= 4 {
			return ClassHighRisk
		}
		if d, ok := e.Data["decision"].(string); ok && d == string(model.RulingDeny) {
			return ClassHighRisk
		}
		if hasPII(e.Data) {
			return ClassHighRisk
		}
		return ClassStandard
	}
	if hasPII(e.Data) {
		return ClassGDPRIntersect
	}
	return ClassStandard
}

// ApplyLegalHold freezes the named entries (or all, when entryIDs is empty)
// from deletion and anonymization.
func (s *Service) ApplyLegalHold(ctx context.Context, reason string, entryIDs []string, requester string) (LegalHold, error) {
	if reason == "" || requester == "" {
		return LegalHold{}, model.NewError(model.KindValidation, "retention: reason and requester are required")
	}
	for _, id := range entryIDs {
		if e, err := s.ledger.GetEntry(ctx, id); err != nil || e == nil {
			return LegalHold{}, model.NewError(model.KindNotFound, "retention: entry %s not found", id)
		}
	}
	h := LegalHold{
		HoldID:    "hold_" + uuid.NewString(),
		Reason:    reason,
		Requester: requester,
		EntryIDs:  entryIDs,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.holds[h.HoldID] = h
	s.mu.Unlock()

	s.logger.Info("legal hold applied",
		"hold_id", h.HoldID, "requester", requester, "entries", len(entryIDs))
	return h, nil
}

// ReleaseLegalHold lifts a hold.
func (s *Service) ReleaseLegalHold(holdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return model.NewError(model.KindNotFound, "retention: hold %s not found", holdID)
	}
	if !h.Active() {
		return model.NewError(model.KindConflict, "retention: hold %s already released", holdID)
	}
	now := time.Now().UTC()
	h.ReleasedAt = &now
	s.holds[holdID] = h
	return nil
}

// IsHeld reports whether any active hold covers the entry hash.
func (s *Service) IsHeld(entryHash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.holds {
		if !h.Active() {
			continue
		}
		if len(h.EntryIDs) == 0 {
			return true
		}
		for _, id := range h.EntryIDs {
			if id == entryHash {
				return true
			}
		}
	}
	return false
}

// Holds returns every hold, active and released.
func (s *Service) Holds() []LegalHold {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LegalHold, 0, len(s.holds))
	for _, h := range s.holds {
		out = append(out, h)
	}
	return out
}

// Anonymize returns a redacted copy of the entry's data. Entries under an
// active legal hold refuse anonymization.
func (s *Service) Anonymize(e ledger.Entry) (map[string]any, error) {
	if s.IsHeld(e.EntryHash) {
		return nil, model.NewError(model.KindConflict, "retention: entry %s is under legal hold", e.EntryHash)
	}
	out := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		if isPIIKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out, nil
}

// Report summarizes the ledger's retention posture.
type Report struct {
	GeneratedAt    time.Time     `json:"generated_at"`
	TotalEntries   int           `json:"total_entries"`
	ByClass        map[Class]int `json:"by_class"`
	ExpiredByClass map[Class]int `json:"expired_by_class"`
	ActiveHolds    int           `json:"active_holds"`
}

// GenerateReport classifies every entry and counts expiries as of now.
func (s *Service) GenerateReport(ctx context.Context, now time.Time) (Report, error) {
	entries, err := s.ledger.Entries(ctx, 0, 0)
	if err != nil {
		return Report{}, err
	}
	rep := Report{
		GeneratedAt:    now.UTC(),
		TotalEntries:   len(entries),
		ByClass:        map[Class]int{},
		ExpiredByClass: map[Class]int{},
	}
	for _, e := range entries {
		c := Classify(e)
		rep.ByClass[c]++
		t := e.Time()
		if !t.IsZero() && now.Sub(t) > PolicyFor(c).RetainFor && !s.IsHeld(e.EntryHash) {
			rep.ExpiredByClass[c]++
		}
	}
	s.mu.RLock()
	for _, h := range s.holds {
		if h.Active() {
			rep.ActiveHolds++
		}
	}
	s.mu.RUnlock()
	return rep, nil
}

// ExpiredEntries returns entries past their class retention that no active
// hold covers.
func (s *Service) ExpiredEntries(ctx context.Context, now time.Time) ([]ledger.Entry, error) {
	entries, err := s.ledger.Entries(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	var out []ledger.Entry
	for _, e := range entries {
		t := e.Time()
		if t.IsZero() {
			continue
		}
		if now.Sub(t) > PolicyFor(Classify(e)).RetainFor && !s.IsHeld(e.EntryHash) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ClassifiedEntry pairs a ledger entry with its retention disposition.
type ClassifiedEntry struct {
	Entry     ledger.Entry `json:"entry"`
	Class     Class        `json:"class"`
	ExpiresAt time.Time    `json:"expires_at"`
	Held      bool         `json:"held"`
}

// RegulatorPackage is a disclosure bundle for a regulator inquiry: every
// entry in the window with its class and expiry, the policies those classes
// mandate, and the holds in force.
type RegulatorPackage struct {
	GeneratedAt time.Time         `json:"generated_at"`
	From        time.Time         `json:"from"`
	To          time.Time         `json:"to"`
	Entries     []ClassifiedEntry `json:"entries"`
	Policies    map[Class]Policy  `json:"policies"`
	ActiveHolds []LegalHold       `json:"active_holds"`
}

// GenerateRegulatorPackage assembles the disclosure bundle for entries in
// [from, to].
func (s *Service) GenerateRegulatorPackage(ctx context.Context, from, to time.Time) (RegulatorPackage, error) {
	if !to.After(from) {
		return RegulatorPackage{}, model.NewError(model.KindValidation, "retention: package window must end after it starts")
	}
	entries, err := s.ledger.EntriesByTimeRange(ctx, from, to)
	if err != nil {
		return RegulatorPackage{}, err
	}
	pkg := RegulatorPackage{
		GeneratedAt: time.Now().UTC(),
		From:        from.UTC(),
		To:          to.UTC(),
		Entries:     make([]ClassifiedEntry, 0, len(entries)),
		Policies: map[Class]Policy{
			ClassHighRisk:      PolicyFor(ClassHighRisk),
			ClassGDPRIntersect: PolicyFor(ClassGDPRIntersect),
			ClassStandard:      PolicyFor(ClassStandard),
		},
	}
	for _, e := range entries {
		c := Classify(e)
		pkg.Entries = append(pkg.Entries, ClassifiedEntry{
			Entry:     e,
			Class:     c,
			ExpiresAt: e.Time().Add(PolicyFor(c).RetainFor),
			Held:      s.IsHeld(e.EntryHash),
		})
	}
	for _, h := range s.Holds() {
		if h.Active() {
			pkg.ActiveHolds = append(pkg.ActiveHolds, h)
		}
	}
	s.logger.Info("regulator package generated",
		"entries", len(pkg.Entries), "active_holds", len(pkg.ActiveHolds))
	return pkg, nil
}
