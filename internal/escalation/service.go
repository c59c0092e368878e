// Package escalation routes high-risk decisions to humans under SLA
// deadlines and tracks their lifecycle through an explicit state machine.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashita-ai/kessai/internal/canonical"
	"github.com/ashita-ai/kessai/internal/evidence"
	"github.com/ashita-ai/kessai/internal/model"
)

// AutoEscalateScore is the overall-score threshold that forces escalation.
const AutoEscalateScore = 80

// DefaultWarningWindow is how long before the SLA deadline a warning fires.
const DefaultWarningWindow = time.Hour

// casRetries bounds optimistic-update retries against concurrent transitions.
const casRetries = 3

// Config tunes the escalation service.
type Config struct {
	// WarningWindow before the SLA deadline within which sla_warning fires.
	// Zero selects DefaultWarningWindow.
	WarningWindow time.Duration
	// DefaultRecipients receive auto-escalations triggered by risk.
	DefaultRecipients []string
}

// Service owns the escalation state machine.
type Service struct {
	store    Store
	bus      *Bus
	evidence *evidence.Service
	logger   *slog.Logger
	cfg      Config

	mu          sync.Mutex
	lastWarning map[string]time.Time
}

// NewService creates an escalation service.
func NewService(store Store, bus *Bus, ev *evidence.Service, cfg Config, logger *slog.Logger) *Service {
	if cfg.WarningWindow <= 0 {
		cfg.WarningWindow = DefaultWarningWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		bus:         bus,
		evidence:    ev,
		logger:      logger,
		cfg:         cfg,
		lastWarning: map[string]time.Time{},
	}
}

// CreateInput describes a new escalation.
type CreateInput struct {
	DecisionID  string
	Trigger     model.EscalationTrigger
	Priority    model.EscalationPriority // inferred from Trigger when empty
	EscalatedTo []string
	Context     map[string]any
	Metadata    map[string]any
}

// CreateEscalation opens a pending escalation with an SLA deadline derived
// from its priority. Re-escalating a decision yields a fresh ID.
func (s *Service) CreateEscalation(ctx context.Context, in CreateInput) (model.Escalation, error) {
	if err := model.ValidateDecisionID(in.DecisionID); err != nil {
		return model.Escalation{}, err
	}
	if len(in.EscalatedTo) == 0 {
		return model.Escalation{}, model.NewError(model.KindValidation, "escalation: escalated_to must be non-empty")
	}
	switch in.Trigger {
	case model.TriggerRiskThreshold, model.TriggerPolicyConflict, model.TriggerAnomalyDetected,
		model.TriggerExplicitRule, model.TriggerActorRequest:
	default:
		return model.Escalation{}, model.NewError(model.KindValidation, "escalation: unknown trigger %q", in.Trigger)
	}
	priority := in.Priority
	if priority == "" {
		priority = model.InferPriority(in.Trigger)
	}

	now := time.Now().UTC()
	e := model.Escalation{
		EscalationID: model.NewEscalationID(in.DecisionID),
		DecisionID:   in.DecisionID,
		Trigger:      in.Trigger,
		Priority:     priority,
		Status:       model.EscalationPending,
		EscalatedTo:  in.EscalatedTo,
		SLADeadline:  now.Add(time.Duration(priority.SLAHours()) * time.Hour),
		CreatedAt:    now,
		Context:      in.Context,
		Metadata:     in.Metadata,
	}
	if err := s.store.Insert(ctx, e); err != nil {
		return model.Escalation{}, err
	}

	s.recordTransition(ctx, e, "created")
	s.notify("escalation_created", e,
		fmt.Sprintf("decision %s escalated (%s, %s priority)", e.DecisionID, e.Trigger, e.Priority))

	s.logger.Info("escalation created",
		"escalation_id", e.EscalationID,
		"decision_id", e.DecisionID,
		"trigger", e.Trigger,
		"priority", e.Priority,
		"sla_deadline", e.SLADeadline)
	return e, nil
}

// AutoEscalateForRisk escalates when the assessment crosses the automatic
// threshold: overall score >= 80 or level critical. Returns (nil, nil) when
// the risk does not trigger. Requires configured default recipients.
func (s *Service) AutoEscalateForRisk(ctx context.Context, r model.Risk) (*model.Escalation, error) {
	if r.OverallScore < AutoEscalateScore && r.RiskLevel != model.RiskCritical {
		return nil, nil
	}
	if len(s.cfg.DefaultRecipients) == 0 {
		return nil, model.NewError(model.KindConfiguration,
			"escalation: auto-escalation triggered for decision %s but no default recipients configured", r.DecisionID)
	}
	e, err := s.CreateEscalation(ctx, CreateInput{
		DecisionID:  r.DecisionID,
		Trigger:     model.TriggerRiskThreshold,
		EscalatedTo: s.cfg.DefaultRecipients,
		Context: map[string]any{
			"risk_id":       r.RiskID,
			"overall_score": r.OverallScore,
			"risk_level":    string(r.RiskLevel),
		},
		Metadata: map[string]any{"auto_escalated": true},
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// transition applies mutate under optimistic concurrency, retrying a bounded
// number of times when a concurrent update wins the swap.
func (s *Service) transition(ctx context.Context, escalationID string, mutate func(*model.Escalation) error) (model.Escalation, error) {
	var lastErr error
	for range casRetries {
		e, err := s.store.Get(ctx, escalationID)
		if err != nil {
			return model.Escalation{}, err
		}
		if err := mutate(&e); err != nil {
			return model.Escalation{}, err
		}
		updated, err := s.store.Update(ctx, e)
		if err == nil {
			return updated, nil
		}
		if !model.IsKind(err, model.KindConflict) {
			return model.Escalation{}, err
		}
		lastErr = err
	}
	return model.Escalation{}, lastErr
}

// AcknowledgeEscalation moves pending -> acknowledged. Only a declared
// recipient may acknowledge.
func (s *Service) AcknowledgeEscalation(ctx context.Context, escalationID, actor string) (model.Escalation, error) {
	e, err := s.transition(ctx, escalationID, func(e *model.Escalation) error {
		if e.Status != model.EscalationPending {
			return model.NewError(model.KindConflict, "escalation: cannot acknowledge from status %q", e.Status)
		}
		if !e.Recipient(actor) {
			return model.NewError(model.KindAuthorization, "escalation: %s is not a recipient of %s", actor, e.EscalationID)
		}
		now := time.Now().UTC()
		e.Status = model.EscalationAcknowledged
		e.AcknowledgedBy = actor
		e.AcknowledgedAt = &now
		return nil
	})
	if err != nil {
		return model.Escalation{}, err
	}
	s.recordTransition(ctx, e, "acknowledged")
	s.notify("escalation_acknowledged", e, fmt.Sprintf("%s acknowledged by %s", e.EscalationID, actor))
	return e, nil
}

// ResolveEscalation terminates pending or acknowledged escalations. The
// resolver must be a declared recipient or the acknowledger.
func (s *Service) ResolveEscalation(ctx context.Context, escalationID, actor string, outcome model.ResolutionOutcome, notes string) (model.Escalation, error) {
	switch outcome {
	case model.OutcomeApproved, model.OutcomeDenied, model.OutcomeDeferred:
	default:
		return model.Escalation{}, model.NewError(model.KindValidation, "escalation: unknown outcome %q", outcome)
	}
	e, err := s.transition(ctx, escalationID, func(e *model.Escalation) error {
		if e.Status.Terminal() {
			return model.NewError(model.KindConflict, "escalation: cannot resolve from status %q", e.Status)
		}
		if !e.Recipient(actor) && actor != e.AcknowledgedBy {
			return model.NewError(model.KindAuthorization,
				"escalation: %s may not resolve %s", actor, e.EscalationID)
		}
		e.Status = model.EscalationResolved
		e.Resolution = &model.Resolution{
			Outcome:    outcome,
			ResolvedBy: actor,
			Notes:      notes,
			ResolvedAt: time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return model.Escalation{}, err
	}
	s.recordTransition(ctx, e, "resolved")
	s.notify("escalation_resolved", e,
		fmt.Sprintf("%s resolved %s by %s", e.EscalationID, outcome, actor))
	s.logger.Info("escalation resolved",
		"escalation_id", e.EscalationID, "outcome", outcome, "resolved_by", actor)
	return e, nil
}

// GetEscalation returns one escalation.
func (s *Service) GetEscalation(ctx context.Context, escalationID string) (model.Escalation, error) {
	return s.store.Get(ctx, escalationID)
}

// EscalationsByDecision returns every escalation raised for a decision.
func (s *Service) EscalationsByDecision(ctx context.Context, decisionID string) ([]model.Escalation, error) {
	return s.store.ByDecision(ctx, decisionID)
}

// SLAStatus summarizes one sweep of the open escalations.
type SLAStatus struct {
	Open     int `json:"open"`
	Warnings int `json:"warnings"`
	Expired  int `json:"expired"`
}

// CheckSLAStatus scans non-terminal escalations: within the warning window
// of the deadline it emits sla_warning (at most one per hour per
// escalation); past the deadline it expires the escalation and emits
// sla_exceeded.
func (s *Service) CheckSLAStatus(ctx context.Context, now time.Time) (SLAStatus, error) {
	open, err := s.store.Open(ctx)
	if err != nil {
		return SLAStatus{}, err
	}
	st := SLAStatus{Open: len(open)}
	for _, e := range open {
		switch {
		case now.After(e.SLADeadline):
			expired, err := s.transition(ctx, e.EscalationID, func(e *model.Escalation) error {
				if e.Status.Terminal() {
					return model.NewError(model.KindConflict, "escalation: already terminal")
				}
				e.Status = model.EscalationExpired
				return nil
			})
			if err != nil {
				// Lost the race to a resolve; nothing to expire.
				if model.IsKind(err, model.KindConflict) {
					continue
				}
				return st, err
			}
			st.Expired++
			s.recordTransition(ctx, expired, "expired")
			s.notify("sla_exceeded", expired,
				fmt.Sprintf("%s passed its SLA deadline %s", expired.EscalationID, expired.SLADeadline.Format(time.RFC3339)))

		case now.After(e.SLADeadline.Add(-s.cfg.WarningWindow)):
			if !s.shouldWarn(e.EscalationID, now) {
				continue
			}
			st.Warnings++
			s.notify("sla_warning", e,
				fmt.Sprintf("%s is within %s of its SLA deadline", e.EscalationID, s.cfg.WarningWindow))
		}
	}
	return st, nil
}

// shouldWarn dedups warnings to at most one per hour per escalation.
func (s *Service) shouldWarn(escalationID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastWarning[escalationID]; ok && now.Sub(last) < time.Hour {
		return false
	}
	s.lastWarning[escalationID] = now
	return true
}

// RunSweeper ticks CheckSLAStatus until ctx is canceled. Errors are logged
// and retried on the next tick.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := s.CheckSLAStatus(ctx, now.UTC()); err != nil {
				s.logger.Error("sla sweep failed", "error", err)
			}
		}
	}
}

// recordTransition files an audit_trail evidence artifact for a state change.
func (s *Service) recordTransition(ctx context.Context, e model.Escalation, event string) {
	if s.evidence == nil {
		return
	}
	content, err := canonical.Marshal(map[string]any{
		"event":         event,
		"escalation_id": e.EscalationID,
		"decision_id":   e.DecisionID,
		"status":        string(e.Status),
		"priority":      string(e.Priority),
		"sla_deadline":  e.SLADeadline.Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.Warn("escalation evidence encode failed", "escalation_id", e.EscalationID, "error", err)
		return
	}
	if _, err := s.evidence.StoreArtifact(ctx, evidence.StoreInput{
		Type:               model.ArtifactAuditTrail,
		Content:            content,
		Source:             "escalation_service",
		ContentType:        "application/json",
		RelatedDecisionIDs: []string{e.DecisionID},
		Metadata:           map[string]any{"escalation_id": e.EscalationID, "event": event},
	}); err != nil {
		s.logger.Warn("escalation evidence write failed", "escalation_id", e.EscalationID, "error", err)
	}
}

func (s *Service) notify(kind string, e model.Escalation, msg string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(model.Notification{
		Type:      kind,
		Subject:   e.EscalationID,
		Message:   msg,
		Priority:  e.Priority,
		Timestamp: time.Now().UTC(),
		Metadata: map[string]any{
			"decision_id": e.DecisionID,
			"status":      string(e.Status),
		},
	})
}
