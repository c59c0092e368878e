// Package responsibility tracks who decided, who reviewed, and who accepted
// liability for every decision the gateway rules on.
package responsibility

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/model"
)

// Store persists responsibility records. MarkReviewed is the sole permitted
// mutation; everything else is insert and query.
type Store interface {
	Insert(ctx context.Context, r model.ResponsibilityRecord) error
	MarkReviewed(ctx context.Context, recordID, reviewer string, at time.Time) error
	Get(ctx context.Context, recordID string) (*model.ResponsibilityRecord, error)
	ByDecision(ctx context.Context, decisionID string) ([]model.ResponsibilityRecord, error)
	ByParty(ctx context.Context, party string) ([]model.ResponsibilityRecord, error)
	PendingReview(ctx context.Context) ([]model.ResponsibilityRecord, error)
	List(ctx context.Context) ([]model.ResponsibilityRecord, error)
}

// Tracker is the responsibility service. Writes are mirrored into the audit
// ledger so the chain covers accountability mutations.
type Tracker struct {
	store  Store
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewTracker creates a Tracker. The ledger is optional; when present every
// record and review lands as a "responsibility" ledger event.
func NewTracker(store Store, lg *ledger.Ledger, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, ledger: lg, logger: logger}
}

// RecordInput describes one responsibility assignment.
type RecordInput struct {
	DecisionID          string
	DecisionMaker       string // AI_SYSTEM or HUMAN
	ResponsibleParty    string
	Role                string
	Reasoning           string
	Confidence          float64
	ResponsibilityLevel model.ResponsibilityLevel
	OverrideAI          bool
	AIRecommendation    string
	ReviewRequired      bool
	LiabilityAccepted   bool
	LiabilitySignature  string
}

// Record validates and persists a responsibility record.
func (t *Tracker) Record(ctx context.Context, in RecordInput) (model.ResponsibilityRecord, error) {
	if err := model.ValidateDecisionID(in.DecisionID); err != nil {
		return model.ResponsibilityRecord{}, err
	}
	if in.DecisionMaker != model.MakerAISystem && in.DecisionMaker != model.MakerHuman {
		return model.ResponsibilityRecord{}, model.NewError(model.KindValidation,
			"responsibility: decision_maker must be %s or %s", model.MakerAISystem, model.MakerHuman)
	}
	if in.ResponsibleParty == "" || in.Role == "" {
		return model.ResponsibilityRecord{}, model.NewError(model.KindValidation,
			"responsibility: responsible_party and role are required")
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return model.ResponsibilityRecord{}, model.NewError(model.KindValidation,
			"responsibility: confidence %.3f outside [0,1]", in.Confidence)
	}
	switch in.ResponsibilityLevel {
	case model.ResponsibilityAutomated, model.ResponsibilitySupervised,
		model.ResponsibilityDelegated, model.ResponsibilityAssumed:
	default:
		return model.ResponsibilityRecord{}, model.NewError(model.KindValidation,
			"responsibility: unknown level %q", in.ResponsibilityLevel)
	}

	r := model.ResponsibilityRecord{
		RecordID:            "rsp_" + uuid.NewString(),
		DecisionID:          in.DecisionID,
		DecisionMaker:       in.DecisionMaker,
		ResponsibleParty:    in.ResponsibleParty,
		Role:                in.Role,
		Reasoning:           in.Reasoning,
		Confidence:          in.Confidence,
		ResponsibilityLevel: in.ResponsibilityLevel,
		OverrideAI:          in.OverrideAI,
		AIRecommendation:    in.AIRecommendation,
		ReviewRequired:      in.ReviewRequired,
		LiabilityAccepted:   in.LiabilityAccepted,
		LiabilitySignature:  in.LiabilitySignature,
		CreatedAt:           time.Now().UTC(),
	}
	if err := t.store.Insert(ctx, r); err != nil {
		return model.ResponsibilityRecord{}, err
	}
	t.appendLedger(ctx, "recorded", r.RecordID, map[string]any{
		"decision_id":          r.DecisionID,
		"decision_maker":       r.DecisionMaker,
		"responsible_party":    r.ResponsibleParty,
		"responsibility_level": string(r.ResponsibilityLevel),
	})
	return r, nil
}

// MarkReviewed stamps reviewed_by/reviewed_at on an unreviewed record.
func (t *Tracker) MarkReviewed(ctx context.Context, recordID, reviewer string) error {
	if reviewer == "" {
		return model.NewError(model.KindValidation, "responsibility: reviewer is required")
	}
	now := time.Now().UTC()
	if err := t.store.MarkReviewed(ctx, recordID, reviewer, now); err != nil {
		return err
	}
	t.appendLedger(ctx, "reviewed", recordID, map[string]any{"reviewed_by": reviewer})
	return nil
}

// Get returns one record.
func (t *Tracker) Get(ctx context.Context, recordID string) (*model.ResponsibilityRecord, error) {
	return t.store.Get(ctx, recordID)
}

// ChainByDecision returns every record for a decision, oldest first.
func (t *Tracker) ChainByDecision(ctx context.Context, decisionID string) ([]model.ResponsibilityRecord, error) {
	return t.store.ByDecision(ctx, decisionID)
}

// ByParty returns every record naming a responsible party.
func (t *Tracker) ByParty(ctx context.Context, party string) ([]model.ResponsibilityRecord, error) {
	return t.store.ByParty(ctx, party)
}

// AIOverrides returns records where a human overrode an AI recommendation.
func (t *Tracker) AIOverrides(ctx context.Context) ([]model.ResponsibilityRecord, error) {
	all, err := t.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.ResponsibilityRecord
	for _, r := range all {
		if r.OverrideAI {
			out = append(out, r)
		}
	}
	return out, nil
}

// PendingReviews returns records awaiting review.
func (t *Tracker) PendingReviews(ctx context.Context) ([]model.ResponsibilityRecord, error) {
	return t.store.PendingReview(ctx)
}

// All returns every record, oldest first.
func (t *Tracker) All(ctx context.Context) ([]model.ResponsibilityRecord, error) {
	return t.store.List(ctx)
}

// LegalExport bundles everything known about a decision's accountability.
type LegalExport struct {
	DecisionID  string                       `json:"decision_id"`
	GeneratedAt time.Time                    `json:"generated_at"`
	Records     []model.ResponsibilityRecord `json:"records"`
}

// ExportForLegal returns every record for a decision in one package.
func (t *Tracker) ExportForLegal(ctx context.Context, decisionID string) (LegalExport, error) {
	records, err := t.store.ByDecision(ctx, decisionID)
	if err != nil {
		return LegalExport{}, err
	}
	return LegalExport{
		DecisionID:  decisionID,
		GeneratedAt: time.Now().UTC(),
		Records:     records,
	}, nil
}

func (t *Tracker) appendLedger(ctx context.Context, event, recordID string, data map[string]any) {
	if t.ledger == nil {
		return
	}
	payload := map[string]any{"event": event, "record_id": recordID}
	for k, v := range data {
		payload[k] = v
	}
	if _, err := t.ledger.Append(ctx, "responsibility", payload); err != nil {
		t.logger.Warn("responsibility ledger append failed", "record_id", recordID, "error", err)
	}
}
