// Package risk scores decisions across six weighted dimensions and files a
// decision-log evidence artifact for every assessment.
package risk

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ashita-ai/kessai/internal/canonical"
	"github.com/ashita-ai/kessai/internal/evidence"
	"github.com/ashita-ai/kessai/internal/model"
)

// Weights assigns a relative weight to each risk dimension. The weights must
// sum to 1.0 within a 0.01 tolerance.
type Weights struct {
	Security     float64
	Privacy      float64
	Compliance   float64
	Operational  float64
	Reputational float64
	Financial    float64
}

// DefaultWeights is the standard dimensional weighting.
var DefaultWeights = Weights{
	Security:     0.25,
	Privacy:      0.20,
	Compliance:   0.20,
	Operational:  0.15,
	Reputational: 0.10,
	Financial:    0.10,
}

func (w Weights) sum() float64 {
	return w.Security + w.Privacy + w.Compliance + w.Operational + w.Reputational + w.Financial
}

// Validate checks the unit-sum constraint.
func (w Weights) Validate() error {
	if math.Abs(w.sum()-1.0) > 0.01 {
		return model.NewError(model.KindValidation, "risk: weights sum to %.3f, want 1.0 ±0.01", w.sum())
	}
	return nil
}

// Service assesses risk. One assessment per decision; a second attempt for
// the same decision conflicts.
type Service struct {
	weights  Weights
	evidence *evidence.Service
	logger   *slog.Logger

	mu         sync.RWMutex
	byDecision map[string]model.Risk
}

// NewService creates a risk service. A zero Weights selects DefaultWeights.
func NewService(weights Weights, ev *evidence.Service, logger *slog.Logger) (*Service, error) {
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		weights:    weights,
		evidence:   ev,
		logger:     logger,
		byDecision: map[string]model.Risk{},
	}, nil
}

// AssessInput describes one assessment request. At least one dimension must
// be populated.
type AssessInput struct {
	DecisionID         string
	Dimensions         model.RiskDimensions
	Likelihood         *float64
	Impact             *int
	Factors            []string
	MitigationsApplied []string
	Metadata           map[string]any
}

func validDimension(name string, v *int) error {
	if v != nil && (*v < 0 || *v > 100) {
		return model.NewError(model.KindValidation, "risk: dimension %s=%d outside [0,100]", name, *v)
	}
	return nil
}

// AssessRisk computes the weighted overall score, persists the assessment,
// and emits a decision_log evidence artifact linked to the decision.
func (s *Service) AssessRisk(ctx context.Context, in AssessInput) (model.Risk, error) {
	if err := model.ValidateDecisionID(in.DecisionID); err != nil {
		return model.Risk{}, err
	}
	dims := []struct {
		name   string
		value  *int
		weight float64
	}{
		{"security", in.Dimensions.Security, s.weights.Security},
		{"privacy", in.Dimensions.Privacy, s.weights.Privacy},
		{"compliance", in.Dimensions.Compliance, s.weights.Compliance},
		{"operational", in.Dimensions.Operational, s.weights.Operational},
		{"reputational", in.Dimensions.Reputational, s.weights.Reputational},
		{"financial", in.Dimensions.Financial, s.weights.Financial},
	}
	var weightedSum, weightTotal float64
	populated := 0
	for _, d := range dims {
		if err := validDimension(d.name, d.value); err != nil {
			return model.Risk{}, err
		}
		if d.value == nil {
			continue
		}
		populated++
		weightedSum += float64(*d.value) * d.weight
		weightTotal += d.weight
	}
	if populated == 0 {
		return model.Risk{}, model.NewError(model.KindValidation, "risk: at least one dimension is required")
	}
	if in.Likelihood != nil && (*in.Likelihood < 0 || *in.Likelihood > 1) {
		return model.Risk{}, model.NewError(model.KindValidation, "risk: likelihood %.3f outside [0,1]", *in.Likelihood)
	}
	if in.Impact != nil && (*in.Impact < 1 || *in.Impact > 5) {
		return model.Risk{}, model.NewError(model.KindValidation, "risk: impact %d outside [1,5]", *in.Impact)
	}

	overall := int(math.Round(weightedSum / weightTotal))
	r := model.Risk{
		RiskID:             model.RiskIDFor(in.DecisionID),
		DecisionID:         in.DecisionID,
		OverallScore:       overall,
		RiskLevel:          model.LevelForScore(overall),
		Dimensions:         in.Dimensions,
		Likelihood:         in.Likelihood,
		Impact:             in.Impact,
		Factors:            in.Factors,
		MitigationsApplied: in.MitigationsApplied,
		Timestamp:          time.Now().UTC(),
		Metadata:           in.Metadata,
	}

	s.mu.Lock()
	if _, exists := s.byDecision[in.DecisionID]; exists {
		s.mu.Unlock()
		return model.Risk{}, model.NewError(model.KindConflict, "risk: decision %s already assessed", in.DecisionID)
	}
	s.byDecision[in.DecisionID] = r
	s.mu.Unlock()

	if s.evidence != nil {
		content, err := canonical.Marshal(r)
		if err != nil {
			return model.Risk{}, model.WrapError(model.KindPersistence, err, "risk: encode assessment")
		}
		if _, err := s.evidence.StoreArtifact(ctx, evidence.StoreInput{
			Type:               model.ArtifactDecisionLog,
			Content:            content,
			Source:             "risk_service",
			ContentType:        "application/json",
			RelatedDecisionIDs: []string{in.DecisionID},
			Metadata:           map[string]any{"risk_id": r.RiskID, "risk_level": string(r.RiskLevel)},
		}); err != nil {
			s.logger.Warn("risk evidence write failed", "decision_id", in.DecisionID, "error", err)
		}
	}

	s.logger.Info("risk assessed",
		"risk_id", r.RiskID,
		"decision_id", in.DecisionID,
		"overall_score", overall,
		"risk_level", r.RiskLevel)
	return r, nil
}

// GetRisk returns the assessment for a decision.
func (s *Service) GetRisk(decisionID string) (model.Risk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byDecision[decisionID]
	if !ok {
		return model.Risk{}, model.NewError(model.KindNotFound, "risk: no assessment for decision %s", decisionID)
	}
	return r, nil
}

// AllRisks returns every assessment, unordered.
func (s *Service) AllRisks() []model.Risk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Risk, 0, len(s.byDecision))
	for _, r := range s.byDecision {
		out = append(out, r)
	}
	return out
}
