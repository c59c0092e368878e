// Package oversight keeps the signed human-intervention log and answers
// effectiveness and escalation-path questions about it.
package oversight

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kessai/internal/identity"
	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/model"
)

// Filter narrows intervention queries. Zero fields match everything.
type Filter struct {
	Type      model.InterventionType
	HumanRole string
	From      time.Time
	To        time.Time
	Limit     int
}

// Store persists interventions.
type Store interface {
	Insert(ctx context.Context, iv model.HumanIntervention) error
	List(ctx context.Context, f Filter) ([]model.HumanIntervention, error)
	Count(ctx context.Context) (int64, error)
}

// Service is the oversight evidence log. Every record is canonicalized and
// signed at write time.
type Service struct {
	store  Store
	signer *identity.Signer
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewService creates an oversight service. The ledger is optional; when
// present every intervention lands as an "intervention" ledger event.
func NewService(store Store, signer *identity.Signer, lg *ledger.Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, signer: signer, ledger: lg, logger: logger}
}

// RecordInput describes one human intervention.
type RecordInput struct {
	InterventionType model.InterventionType
	AIRecommendation map[string]any
	AIConfidence     float64
	HumanDecision    map[string]any
	HumanRole        string
	Reason           string
	RequestContext   map[string]any
	ResponseTimeMS   *int64
}

// signingView strips the signature so signing and verification share one
// pre-image.
func signingView(iv model.HumanIntervention) model.HumanIntervention {
	iv.Signature = ""
	return iv
}

// RecordIntervention signs and persists an intervention.
func (s *Service) RecordIntervention(ctx context.Context, in RecordInput) (model.HumanIntervention, error) {
	switch in.InterventionType {
	case model.InterventionApproval, model.InterventionOverride,
		model.InterventionEscalation, model.InterventionVeto:
	default:
		return model.HumanIntervention{}, model.NewError(model.KindValidation,
			"oversight: unknown intervention type %q", in.InterventionType)
	}
	if in.HumanRole == "" || in.Reason == "" {
		return model.HumanIntervention{}, model.NewError(model.KindValidation,
			"oversight: human_role and reason are required")
	}
	if in.AIConfidence < 0 || in.AIConfidence > 1 {
		return model.HumanIntervention{}, model.NewError(model.KindValidation,
			"oversight: ai_confidence %.3f outside [0,1]", in.AIConfidence)
	}

	iv := model.HumanIntervention{
		InterventionID:   "int_" + uuid.NewString(),
		Timestamp:        time.Now().UTC(),
		InterventionType: in.InterventionType,
		AIRecommendation: in.AIRecommendation,
		AIConfidence:     in.AIConfidence,
		HumanDecision:    in.HumanDecision,
		HumanRole:        in.HumanRole,
		Reason:           in.Reason,
		RequestContext:   in.RequestContext,
		ResponseTimeMS:   in.ResponseTimeMS,
	}
	sig, err := s.signer.Sign(signingView(iv))
	if err != nil {
		return model.HumanIntervention{}, model.WrapError(model.KindSigning, err, "oversight: sign intervention")
	}
	iv.Signature = sig

	if err := s.store.Insert(ctx, iv); err != nil {
		return model.HumanIntervention{}, err
	}
	if s.ledger != nil {
		if _, err := s.ledger.Append(ctx, "intervention", map[string]any{
			"intervention_id":   iv.InterventionID,
			"intervention_type": string(iv.InterventionType),
			"human_role":        iv.HumanRole,
		}); err != nil {
			s.logger.Warn("intervention ledger append failed", "intervention_id", iv.InterventionID, "error", err)
		}
	}

	s.logger.Info("intervention recorded",
		"intervention_id", iv.InterventionID,
		"intervention_type", iv.InterventionType,
		"human_role", iv.HumanRole)
	return iv, nil
}

// VerifyIntervention recomputes the canonical pre-image and checks the
// signature under the service's public key.
func (s *Service) VerifyIntervention(iv model.HumanIntervention) (bool, error) {
	if iv.Signature == "" {
		return false, nil
	}
	return identity.Verify(signingView(iv), iv.Signature, s.signer.PublicKey())
}

// ListInterventions returns interventions matching the filter.
func (s *Service) ListInterventions(ctx context.Context, f Filter) ([]model.HumanIntervention, error) {
	return s.store.List(ctx, f)
}

// EffectivenessReport summarizes human oversight over a window.
type EffectivenessReport struct {
	From               time.Time `json:"from"`
	To                 time.Time `json:"to"`
	TotalInterventions int       `json:"total_interventions"`
	Approvals          int       `json:"approvals"`
	Overrides          int       `json:"overrides"`
	Vetoes             int       `json:"vetoes"`
	EscalationReviews  int       `json:"escalation_reviews"`
	OverrideRate       float64   `json:"override_rate"`
	Interpretation     string    `json:"interpretation"`
	MeanResponseMS     float64   `json:"mean_response_ms"`
	MinResponseMS      int64     `json:"min_response_ms"`
	MaxResponseMS      int64     `json:"max_response_ms"`
	VerificationRate   float64   `json:"verification_rate"`
}

// interpretOverrideRate bands the override rate for the report.
func interpretOverrideRate(rate float64) string {
	switch {
	case rate > 0.5:
		return "very high override rate; AI recommendations rarely stand"
	case rate > 0.25:
		return "high override rate; review policy-model alignment"
	case rate > 0.05:
		return "moderate override rate; humans engaged and selective"
	default:
		return "low override rate; AI recommendations mostly upheld"
	}
}

// GenerateEffectivenessReport computes oversight statistics over [from, to].
func (s *Service) GenerateEffectivenessReport(ctx context.Context, from, to time.Time) (EffectivenessReport, error) {
	ivs, err := s.store.List(ctx, Filter{From: from, To: to})
	if err != nil {
		return EffectivenessReport{}, err
	}
	rep := EffectivenessReport{From: from, To: to, TotalInterventions: len(ivs)}

	var responseSum int64
	responses := 0
	verified := 0
	for _, iv := range ivs {
		switch iv.InterventionType {
		case model.InterventionApproval:
			rep.Approvals++
		case model.InterventionOverride:
			rep.Overrides++
		case model.InterventionVeto:
			rep.Vetoes++
		case model.InterventionEscalation:
			rep.EscalationReviews++
		}
		if iv.ResponseTimeMS != nil {
			ms := *iv.ResponseTimeMS
			responseSum += ms
			if responses == 0 || ms < rep.MinResponseMS {
				rep.MinResponseMS = ms
			}
			if ms > rep.MaxResponseMS {
				rep.MaxResponseMS = ms
			}
			responses++
		}
		if ok, err := s.VerifyIntervention(iv); err == nil && ok {
			verified++
		}
	}
	if rep.TotalInterventions > 0 {
		rep.OverrideRate = float64(rep.Overrides+rep.Vetoes) / float64(rep.TotalInterventions)
		rep.VerificationRate = float64(verified) / float64(rep.TotalInterventions)
	}
	rep.Interpretation = interpretOverrideRate(rep.OverrideRate)
	if responses > 0 {
		rep.MeanResponseMS = float64(responseSum) / float64(responses)
	}
	return rep, nil
}

// EscalationPath is a simulated approval chain for a decision class.
type EscalationPath struct {
	DecisionClass      string   `json:"decision_class"`
	RoleChain          []string `json:"role_chain"`
	CurrentRole        string   `json:"current_role"`
	IsRequiredApprover bool     `json:"is_required_approver"`
	MaxResponseHours   int      `json:"max_response_hours"`
}

// roleChains maps decision classes to their approval chains and maximum
// response time in hours.
var roleChains = map[string]struct {
	chain []string
	hours int
}{
	"routine":      {[]string{"operator"}, 24},
	"sensitive":    {[]string{"operator", "compliance_officer"}, 8},
	"high_risk":    {[]string{"operator", "compliance_officer", "security_lead"}, 4},
	"critical":     {[]string{"compliance_officer", "security_lead", "executive"}, 2},
	"data_subject": {[]string{"privacy_officer", "compliance_officer"}, 8},
}

// SimulateEscalationPath returns the role chain a decision class requires
// and whether currentRole is the final required approver.
func (s *Service) SimulateEscalationPath(decisionClass, currentRole string) (EscalationPath, error) {
	rc, ok := roleChains[decisionClass]
	if !ok {
		return EscalationPath{}, model.NewError(model.KindValidation,
			"oversight: unknown decision class %q", decisionClass)
	}
	path := EscalationPath{
		DecisionClass:    decisionClass,
		RoleChain:        rc.chain,
		CurrentRole:      currentRole,
		MaxResponseHours: rc.hours,
	}
	path.IsRequiredApprover = rc.chain[len(rc.chain)-1] == currentRole
	return path, nil
}
