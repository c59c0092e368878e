// Package evidence stores content-addressed, immutable compliance artifacts
// indexed by decision, control, and type.
package evidence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashita-ai/kessai/internal/canonical"
	"github.com/ashita-ai/kessai/internal/model"
)

// MaxContentSize caps artifact content at 100 MB.
const MaxContentSize = 100 << 20

// retentionYears maps artifact types to their default retention period.
var retentionYears = map[model.ArtifactType]int{
	model.ArtifactDecisionLog:    7,
	model.ArtifactPolicySnapshot: 7,
	model.ArtifactAttestation:    7,
	model.ArtifactAuditTrail:     7,
	model.ArtifactExternalReport: 7,
	model.ArtifactSignature:      10,
	model.ArtifactScreenshot:     1,
	model.ArtifactContextCapture: 1,
}

// Service is the evidence artifact store.
type Service struct {
	store  *appendOnlyStore
	logger *slog.Logger

	mu         sync.RWMutex
	byDecision map[string][]string
	byControl  map[string][]string
	byType     map[model.ArtifactType][]string
}

// NewService creates an empty evidence store.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      newAppendOnlyStore(),
		logger:     logger,
		byDecision: map[string][]string{},
		byControl:  map[string][]string{},
		byType:     map[model.ArtifactType][]string{},
	}
}

// StoreInput describes one artifact to store.
type StoreInput struct {
	Type               model.ArtifactType
	Content            []byte
	Source             string
	ContentType        string
	RelatedDecisionIDs []string
	RelatedControlIDs  []string
	// RetentionUntil overrides the type default when set.
	RetentionUntil *time.Time
	Metadata       map[string]any
}

// StoreArtifact hashes content, assigns retention, and files the artifact
// under every related decision and control.
func (s *Service) StoreArtifact(ctx context.Context, in StoreInput) (model.EvidenceArtifact, error) {
	if err := ctx.Err(); err != nil {
		return model.EvidenceArtifact{}, err
	}
	years, known := retentionYears[in.Type]
	if !known {
		return model.EvidenceArtifact{}, model.NewError(model.KindValidation, "evidence: unknown artifact type %q", in.Type)
	}
	if in.Source == "" {
		return model.EvidenceArtifact{}, model.NewError(model.KindValidation, "evidence: source is required")
	}
	if len(in.Content) > MaxContentSize {
		return model.EvidenceArtifact{}, model.NewError(model.KindValidation,
			"evidence: content %d bytes exceeds maximum %d", len(in.Content), MaxContentSize)
	}
	for _, id := range in.RelatedDecisionIDs {
		if err := model.ValidateDecisionID(id); err != nil {
			return model.EvidenceArtifact{}, err
		}
	}
	for _, id := range in.RelatedControlIDs {
		if err := model.ValidateControlID(id); err != nil {
			return model.EvidenceArtifact{}, err
		}
	}

	now := time.Now().UTC()
	retention := in.RetentionUntil
	if retention == nil {
		r := now.AddDate(years, 0, 0)
		retention = &r
	}
	a := model.EvidenceArtifact{
		ArtifactID:         model.NewEvidenceID(string(in.Type)),
		ArtifactType:       in.Type,
		SHA256Hash:         canonical.HashBytes(in.Content),
		SizeBytes:          int64(len(in.Content)),
		Source:             in.Source,
		ContentType:        in.ContentType,
		RelatedDecisionIDs: in.RelatedDecisionIDs,
		RelatedControlIDs:  in.RelatedControlIDs,
		RetentionUntil:     retention,
		IsImmutable:        true,
		CreatedAt:          now,
		Metadata:           in.Metadata,
	}
	if err := s.store.put(a); err != nil {
		return model.EvidenceArtifact{}, err
	}

	s.mu.Lock()
	for _, id := range in.RelatedDecisionIDs {
		s.byDecision[id] = append(s.byDecision[id], a.ArtifactID)
	}
	for _, id := range in.RelatedControlIDs {
		s.byControl[id] = append(s.byControl[id], a.ArtifactID)
	}
	s.byType[in.Type] = append(s.byType[in.Type], a.ArtifactID)
	s.mu.Unlock()

	s.logger.Debug("evidence artifact stored",
		"artifact_id", a.ArtifactID,
		"artifact_type", a.ArtifactType,
		"size_bytes", a.SizeBytes,
		"sha256", a.SHA256Hash)
	return a, nil
}

// GetArtifact returns a copy of the artifact.
func (s *Service) GetArtifact(id string) (model.EvidenceArtifact, error) {
	a, ok := s.store.get(id)
	if !ok {
		return model.EvidenceArtifact{}, model.NewError(model.KindNotFound, "evidence: artifact %s not found", id)
	}
	return a, nil
}

// VerifyArtifactIntegrity recomputes the content hash and compares it with
// the stored one.
func (s *Service) VerifyArtifactIntegrity(id string, content []byte) (bool, error) {
	a, ok := s.store.get(id)
	if !ok {
		return false, model.NewError(model.KindNotFound, "evidence: artifact %s not found", id)
	}
	return canonical.HashBytes(content) == a.SHA256Hash, nil
}

// SignArtifact attaches a signature addendum. Permitted exactly once.
func (s *Service) SignArtifact(id, signerID, signature, algorithm string) error {
	if signerID == "" || signature == "" || algorithm == "" {
		return model.NewError(model.KindValidation, "evidence: signer, signature, and algorithm are required")
	}
	return s.store.setSignature(id, model.DigitalSignature{
		SignerID:  signerID,
		Signature: signature,
		Algorithm: algorithm,
		SignedAt:  time.Now().UTC(),
	})
}

func (s *Service) collect(ids []string) []model.EvidenceArtifact {
	out := make([]model.EvidenceArtifact, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.store.get(id); ok {
			out = append(out, a)
		}
	}
	return out
}

// ArtifactsByDecision returns every artifact linked to a decision.
func (s *Service) ArtifactsByDecision(decisionID string) []model.EvidenceArtifact {
	s.mu.RLock()
	ids := append([]string(nil), s.byDecision[decisionID]...)
	s.mu.RUnlock()
	return s.collect(ids)
}

// ArtifactsByControl returns every artifact linked to a compliance control.
func (s *Service) ArtifactsByControl(controlID string) []model.EvidenceArtifact {
	s.mu.RLock()
	ids := append([]string(nil), s.byControl[controlID]...)
	s.mu.RUnlock()
	return s.collect(ids)
}

// ArtifactsByType returns every artifact of one type.
func (s *Service) ArtifactsByType(t model.ArtifactType) []model.EvidenceArtifact {
	s.mu.RLock()
	ids := append([]string(nil), s.byType[t]...)
	s.mu.RUnlock()
	return s.collect(ids)
}

// Count returns the number of stored artifacts.
func (s *Service) Count() int { return s.store.len() }

// LineageEntry is one row of a decision's evidence lineage.
type LineageEntry struct {
	ArtifactID   string             `json:"artifact_id"`
	ArtifactType model.ArtifactType `json:"artifact_type"`
	SHA256Hash   string             `json:"sha256_hash"`
	CreatedAt    time.Time          `json:"created_at"`
	Signed       bool               `json:"signed"`
}

// ExportArtifactLineage returns the decision's artifacts oldest-first.
func (s *Service) ExportArtifactLineage(decisionID string) []LineageEntry {
	arts := s.ArtifactsByDecision(decisionID)
	sort.Slice(arts, func(i, j int) bool { return arts[i].CreatedAt.Before(arts[j].CreatedAt) })
	out := make([]LineageEntry, 0, len(arts))
	for _, a := range arts {
		out = append(out, LineageEntry{
			ArtifactID:   a.ArtifactID,
			ArtifactType: a.ArtifactType,
			SHA256Hash:   a.SHA256Hash,
			CreatedAt:    a.CreatedAt,
			Signed:       a.DigitalSignature != nil,
		})
	}
	return out
}

// AllArtifacts returns every stored artifact in insertion order.
func (s *Service) AllArtifacts() []model.EvidenceArtifact {
	return s.store.all()
}
