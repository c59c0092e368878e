package escalation

import (
	"context"
	"sync"

	"github.com/ashita-ai/kessai/internal/model"
)

// Store persists escalations. Update is compare-and-swap on Version: the
// stored record must carry the same version as the one being written, and a
// successful update bumps it.
type Store interface {
	Insert(ctx context.Context, e model.Escalation) error
	Get(ctx context.Context, escalationID string) (model.Escalation, error)
	Update(ctx context.Context, e model.Escalation) (model.Escalation, error)
	ByDecision(ctx context.Context, decisionID string) ([]model.Escalation, error)
	Open(ctx context.Context) ([]model.Escalation, error)
	List(ctx context.Context) ([]model.Escalation, error)
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]model.Escalation
	order []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]model.Escalation{}}
}

func (s *MemoryStore) Insert(_ context.Context, e model.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[e.EscalationID]; exists {
		return model.NewError(model.KindConflict, "escalation: %s already exists", e.EscalationID)
	}
	s.byID[e.EscalationID] = e
	s.order = append(s.order, e.EscalationID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, escalationID string) (model.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[escalationID]
	if !ok {
		return model.Escalation{}, model.NewError(model.KindNotFound, "escalation: %s not found", escalationID)
	}
	return e, nil
}

func (s *MemoryStore) Update(_ context.Context, e model.Escalation) (model.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[e.EscalationID]
	if !ok {
		return model.Escalation{}, model.NewError(model.KindNotFound, "escalation: %s not found", e.EscalationID)
	}
	if cur.Version != e.Version {
		return model.Escalation{}, model.NewError(model.KindConflict,
			"escalation: %s version %d is stale (current %d)", e.EscalationID, e.Version, cur.Version)
	}
	e.Version++
	s.byID[e.EscalationID] = e
	return e, nil
}

func (s *MemoryStore) ByDecision(_ context.Context, decisionID string) ([]model.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Escalation
	for _, id := range s.order {
		if e := s.byID[id]; e.DecisionID == decisionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) Open(_ context.Context) ([]model.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Escalation
	for _, id := range s.order {
		if e := s.byID[id]; !e.Status.Terminal() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Escalation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out, nil
}
