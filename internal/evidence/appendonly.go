package evidence

import (
	"sync"

	"github.com/ashita-ai/kessai/internal/model"
)

// appendOnlyStore maps artifact IDs to artifacts and refuses reassignment or
// deletion. Signing goes through setSignature because a signature is a
// schema-level addendum, not a content mutation.
type appendOnlyStore struct {
	mu    sync.RWMutex
	items map[string]*model.EvidenceArtifact
	order []string
}

func newAppendOnlyStore() *appendOnlyStore {
	return &appendOnlyStore{items: map[string]*model.EvidenceArtifact{}}
}

func (s *appendOnlyStore) put(a model.EvidenceArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[a.ArtifactID]; exists {
		return model.NewError(model.KindConflict, "evidence: artifact %s already stored", a.ArtifactID)
	}
	cp := a
	s.items[a.ArtifactID] = &cp
	s.order = append(s.order, a.ArtifactID)
	return nil
}

func (s *appendOnlyStore) get(id string) (model.EvidenceArtifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[id]
	if !ok {
		return model.EvidenceArtifact{}, false
	}
	return *a, true
}

func (s *appendOnlyStore) setSignature(id string, sig model.DigitalSignature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return model.NewError(model.KindNotFound, "evidence: artifact %s not found", id)
	}
	if a.DigitalSignature != nil {
		return model.NewError(model.KindConflict, "evidence: artifact %s already signed", id)
	}
	a.DigitalSignature = &sig
	return nil
}

func (s *appendOnlyStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// all returns copies in insertion order.
func (s *appendOnlyStore) all() []model.EvidenceArtifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.EvidenceArtifact, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.items[id])
	}
	return out
}
