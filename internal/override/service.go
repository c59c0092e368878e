// Package override records authorized, justified changes to decision
// outcomes. Storage is append-only; the original decision is never mutated.
package override

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashita-ai/kessai/internal/canonical"
	"github.com/ashita-ai/kessai/internal/evidence"
	"github.com/ashita-ai/kessai/internal/model"
)

const (
	// DefaultTimeLimit applies to time_limited_exception when no expiry is given.
	DefaultTimeLimit = 24 * time.Hour
	// MaxTimeLimit caps any expiry at 90 days out.
	MaxTimeLimit = 90 * 24 * time.Hour
	// ReviewWindow sets review_required_by relative to creation.
	ReviewWindow = 30 * 24 * time.Hour
)

// Config names who may authorize overrides.
type Config struct {
	// AuthorizedRoles may create any non-executive override type.
	AuthorizedRoles []string
	// ExecutiveRoles may additionally create emergency_bypass and
	// executive_override.
	ExecutiveRoles []string
}

// Service is the append-only override store.
type Service struct {
	cfg       Config
	validator *Validator
	evidence  *evidence.Service
	logger    *slog.Logger

	mu         sync.RWMutex
	byID       map[string]model.Override
	byDecision map[string][]string
	order      []string
}

// NewService creates an override service.
func NewService(cfg Config, ev *evidence.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:        cfg,
		validator:  NewValidator(),
		evidence:   ev,
		logger:     logger,
		byID:       map[string]model.Override{},
		byDecision: map[string][]string{},
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// CreateInput describes one override request.
type CreateInput struct {
	DecisionID      string
	OverrideType    model.OverrideType
	AuthorizedBy    string
	Justification   string
	OriginalOutcome string
	NewOutcome      string
	Scope           model.OverrideScope
	ExpiresAt       *time.Time
	Metadata        map[string]any
}

// CreateOverride authorizes, validates, and appends an override, then emits
// an attestation evidence artifact whose ID lands in evidence_ids.
func (s *Service) CreateOverride(ctx context.Context, in CreateInput) (model.Override, error) {
	if err := model.ValidateDecisionID(in.DecisionID); err != nil {
		return model.Override{}, err
	}
	switch in.OverrideType {
	case model.OverrideEmergencyBypass, model.OverrideExecutive,
		model.OverrideTimeLimitedException, model.OverrideRiskAccepted:
	default:
		return model.Override{}, model.NewError(model.KindValidation, "override: unknown type %q", in.OverrideType)
	}

	authorized := contains(s.cfg.AuthorizedRoles, in.AuthorizedBy) || contains(s.cfg.ExecutiveRoles, in.AuthorizedBy)
	if !authorized {
		return model.Override{}, model.NewError(model.KindAuthorization,
			"override: %s is not an authorized role", in.AuthorizedBy)
	}
	if in.OverrideType.ExecutiveOnly() && !contains(s.cfg.ExecutiveRoles, in.AuthorizedBy) {
		return model.Override{}, model.NewError(model.KindAuthorization,
			"override: type %s requires an executive authorizer", in.OverrideType)
	}
	if err := s.validator.ValidateJustification(in.Justification); err != nil {
		return model.Override{}, err
	}
	if in.NewOutcome == "" || in.OriginalOutcome == "" {
		return model.Override{}, model.NewError(model.KindValidation,
			"override: original and new outcomes are required")
	}

	scope := in.Scope
	if in.OverrideType == model.OverrideEmergencyBypass {
		// Emergency bypasses apply to exactly one execution.
		scope.IsOneTime = true
	}

	now := time.Now().UTC()
	expires := in.ExpiresAt
	if in.OverrideType == model.OverrideTimeLimitedException && expires == nil {
		e := now.Add(DefaultTimeLimit)
		expires = &e
	}
	if expires != nil {
		if !expires.After(now) {
			return model.Override{}, model.NewError(model.KindValidation, "override: expires_at must be in the future")
		}
		if expires.After(now.Add(MaxTimeLimit)) {
			return model.Override{}, model.NewError(model.KindValidation, "override: expires_at exceeds the 90-day maximum")
		}
	}

	o := model.Override{
		OverrideID:       model.NewOverrideID(in.DecisionID),
		DecisionID:       in.DecisionID,
		OverrideType:     in.OverrideType,
		AuthorizedBy:     in.AuthorizedBy,
		Justification:    in.Justification,
		OriginalOutcome:  in.OriginalOutcome,
		NewOutcome:       in.NewOutcome,
		Scope:            scope,
		ExpiresAt:        expires,
		ReviewRequiredBy: now.Add(ReviewWindow),
		CreatedAt:        now,
		Metadata:         in.Metadata,
	}

	if s.evidence != nil {
		content, err := canonical.Marshal(o)
		if err != nil {
			return model.Override{}, model.WrapError(model.KindPersistence, err, "override: encode attestation")
		}
		art, err := s.evidence.StoreArtifact(ctx, evidence.StoreInput{
			Type:               model.ArtifactAttestation,
			Content:            content,
			Source:             "override_service",
			ContentType:        "application/json",
			RelatedDecisionIDs: []string{in.DecisionID},
			Metadata:           map[string]any{"override_id": o.OverrideID, "override_type": string(o.OverrideType)},
		})
		if err != nil {
			s.logger.Warn("override evidence write failed", "override_id", o.OverrideID, "error", err)
		} else {
			o.EvidenceIDs = append(o.EvidenceIDs, art.ArtifactID)
		}
	}

	s.mu.Lock()
	s.byID[o.OverrideID] = o
	s.byDecision[o.DecisionID] = append(s.byDecision[o.DecisionID], o.OverrideID)
	s.order = append(s.order, o.OverrideID)
	s.mu.Unlock()

	s.logger.Info("override created",
		"override_id", o.OverrideID,
		"decision_id", o.DecisionID,
		"override_type", o.OverrideType,
		"authorized_by", o.AuthorizedBy)
	return o, nil
}

// GetOverride returns one override.
func (s *Service) GetOverride(overrideID string) (model.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[overrideID]
	if !ok {
		return model.Override{}, model.NewError(model.KindNotFound, "override: %s not found", overrideID)
	}
	return o, nil
}

// OverridesByDecision returns every override for a decision, oldest first.
func (s *Service) OverridesByDecision(decisionID string) []model.Override {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byDecision[decisionID]
	out := make([]model.Override, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	return out
}

// GetActiveOverride returns the most recent override for the decision that
// is still operative, or nil.
func (s *Service) GetActiveOverride(decisionID string) *model.Override {
	now := time.Now().UTC()
	overrides := s.OverridesByDecision(decisionID)
	for i := len(overrides) - 1; i >= 0; i-- {
		if overrides[i].Active(now) {
			o := overrides[i]
			return &o
		}
	}
	return nil
}

// DecisionWithOverrideStatus returns a copy of original enriched with the
// active override, if any. The original is never mutated.
func (s *Service) DecisionWithOverrideStatus(decisionID string, original model.DecisionResponse) model.OverriddenDecision {
	out := model.OverriddenDecision{DecisionResponse: original}
	if active := s.GetActiveOverride(decisionID); active != nil {
		out.OverrideStatus = model.OverrideStatus{
			IsOverridden: true,
			OverrideID:   active.OverrideID,
			OverrideType: string(active.OverrideType),
			NewOutcome:   active.NewOutcome,
			AuthorizedBy: active.AuthorizedBy,
			ExpiresAt:    active.ExpiresAt,
		}
	}
	return out
}

// AllOverrides returns every override in insertion order.
func (s *Service) AllOverrides() []model.Override {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Override, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}
