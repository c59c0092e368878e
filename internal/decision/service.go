// Package decision orchestrates the governance pipeline: validation, policy
// evaluation, capability token minting, ledger append, and signing.
package decision

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kessai/internal/canonical"
	"github.com/ashita-ai/kessai/internal/evidence"
	"github.com/ashita-ai/kessai/internal/identity"
	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/policy"
	"github.com/ashita-ai/kessai/internal/responsibility"
)

// EventTypeDecision is the ledger event type for decisions.
const EventTypeDecision = "decision"

// Service runs decision requests through the full pipeline.
type Service struct {
	engine  *policy.Engine
	ledger  *ledger.Ledger
	signer  *identity.Signer
	minter  *TokenMinter
	tracker *responsibility.Tracker
	ev      *evidence.Service
	logger  *slog.Logger
}

// NewService wires the pipeline. Tracker and evidence are optional; their
// failures degrade to warnings, never to lost decisions.
func NewService(engine *policy.Engine, lg *ledger.Ledger, signer *identity.Signer,
	minter *TokenMinter, tracker *responsibility.Tracker, ev *evidence.Service,
	logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:  engine,
		ledger:  lg,
		signer:  signer,
		minter:  minter,
		tracker: tracker,
		ev:      ev,
		logger:  logger,
	}
}

// DecisionHash computes the signing input for a response:
// SHA256(request_id || decision || policy_version_hash || timestamp).
func DecisionHash(requestID string, ruling model.Ruling, policyHash string, ts time.Time) string {
	return canonical.HashString(requestID + string(ruling) + policyHash + ts.UTC().Format(time.RFC3339Nano))
}

// EvaluateRequest rules on one request. A ledger-append failure is fatal: no
// decision is returned and no token survives. A signing failure downgrades
// the response to unsigned with Signed=false.
func (s *Service) EvaluateRequest(ctx context.Context, req model.DecisionRequest) (model.DecisionResponse, error) {
	if err := req.Validate(); err != nil {
		return model.DecisionResponse{}, err
	}
	if req.RequestID == "" {
		req.RequestID = "req_" + uuid.NewString()
	}

	now := time.Now().UTC()
	resp := model.DecisionResponse{
		RequestID:  req.RequestID,
		DecisionID: model.NewDecisionID(now),
		Timestamp:  now,
	}

	verdict, err := s.engine.Evaluate(ctx, policy.EvalInput{
		Actor:       req.Actor,
		Action:      req.Action,
		Tool:        req.Tool,
		Resource:    req.Resource,
		DataClasses: req.DataClasses,
		RiskLevel:   req.RiskLevel,
	})
	if err != nil {
		// Engine exceptions deny; the message surfaces in reasoning.
		verdict = policy.Verdict{
			Allowed:    false,
			Reason:     err.Error(),
			PolicyHash: s.engine.PolicyHash(),
			Confidence: 0,
		}
	}
	resp.PolicyVersionHash = verdict.PolicyHash
	resp.Reasoning = verdict.Reason
	if verdict.Allowed {
		resp.Decision = model.RulingPermit
	} else {
		resp.Decision = model.RulingDeny
	}

	if resp.Permitted() {
		token, err := s.minter.Mint(req, now)
		if err != nil {
			return model.DecisionResponse{}, model.WrapError(model.KindSigning, err, "decision: mint token")
		}
		resp.CapabilityToken = &token
	}

	entry, err := s.ledger.Append(ctx, EventTypeDecision, map[string]any{
		"request_id":          req.RequestID,
		"decision_id":         resp.DecisionID,
		"decision":            string(resp.Decision),
		"actor":               req.Actor,
		"action":              req.Action,
		"policy_version_hash": resp.PolicyVersionHash,
		"risk_level":          req.RiskLevel,
	})
	if err != nil {
		return model.DecisionResponse{}, model.WrapError(model.KindPersistence, err, "decision: ledger append")
	}
	resp.LedgerEntryHash = entry.EntryHash

	decisionHash := DecisionHash(resp.RequestID, resp.Decision, resp.PolicyVersionHash, resp.Timestamp)
	if s.signer != nil {
		resp.Signature = s.signer.SignBytes([]byte(decisionHash))
		resp.Signed = true
	} else {
		s.logger.Warn("decision returned unsigned", "decision_id", resp.DecisionID)
	}

	s.recordResponsibility(ctx, req, resp, verdict.Confidence)
	s.storeEvidence(ctx, resp)

	s.logger.Info("decision evaluated",
		"decision_id", resp.DecisionID,
		"request_id", resp.RequestID,
		"decision", resp.Decision,
		"actor", req.Actor,
		"action", req.Action,
		"signed", resp.Signed)
	return resp, nil
}

func (s *Service) recordResponsibility(ctx context.Context, req model.DecisionRequest, resp model.DecisionResponse, confidence float64) {
	if s.tracker == nil {
		return
	}
	if _, err := s.tracker.Record(ctx, responsibility.RecordInput{
		DecisionID:          resp.DecisionID,
		DecisionMaker:       model.MakerAISystem,
		ResponsibleParty:    req.Actor,
		Role:                "governance_gateway",
		Reasoning:           resp.Reasoning,
		Confidence:          confidence,
		ResponsibilityLevel: model.ResponsibilityAutomated,
		ReviewRequired:      req.RiskLevel >= 4,
	}); err != nil {
		s.logger.Warn("responsibility record failed", "decision_id", resp.DecisionID, "error", err)
	}
}

func (s *Service) storeEvidence(ctx context.Context, resp model.DecisionResponse) {
	if s.ev == nil {
		return
	}
	content, err := canonical.Marshal(resp)
	if err != nil {
		s.logger.Warn("decision evidence encode failed", "decision_id", resp.DecisionID, "error", err)
		return
	}
	if _, err := s.ev.StoreArtifact(ctx, evidence.StoreInput{
		Type:               model.ArtifactDecisionLog,
		Content:            content,
		Source:             "decision_service",
		ContentType:        "application/json",
		RelatedDecisionIDs: []string{resp.DecisionID},
		Metadata:           map[string]any{"decision": string(resp.Decision)},
	}); err != nil {
		s.logger.Warn("decision evidence write failed", "decision_id", resp.DecisionID, "error", err)
	}
}

// VerifyOutcome reports what held up under re-verification of a response.
type VerifyOutcome struct {
	Verified        bool   `json:"verified"`
	LedgerEntryOK   bool   `json:"ledger_entry_ok"`
	SignatureOK     bool   `json:"signature_ok"`
	Reason          string `json:"reason,omitempty"`
	LedgerEntryHash string `json:"ledger_entry_hash,omitempty"`
}

// VerifyDecision checks a response against the ledger and the signing key:
// the referenced entry must exist with matching fields, and the signature
// must verify over the recomputed decision hash.
func (s *Service) VerifyDecision(ctx context.Context, resp model.DecisionResponse) (VerifyOutcome, error) {
	out := VerifyOutcome{LedgerEntryHash: resp.LedgerEntryHash}
	if resp.LedgerEntryHash == "" {
		out.Reason = "response carries no ledger entry hash"
		return out, nil
	}
	entry, err := s.ledger.GetEntry(ctx, resp.LedgerEntryHash)
	if err != nil {
		if model.IsKind(err, model.KindNotFound) {
			out.Reason = "ledger entry not found"
			return out, nil
		}
		return out, err
	}
	if entry.Data["request_id"] != resp.RequestID || entry.Data["decision"] != string(resp.Decision) {
		out.Reason = "ledger entry does not match response"
		return out, nil
	}
	out.LedgerEntryOK = true

	if !resp.Signed || resp.Signature == "" {
		out.Reason = "response is unsigned"
		return out, nil
	}
	decisionHash := DecisionHash(resp.RequestID, resp.Decision, resp.PolicyVersionHash, resp.Timestamp)
	ok, err := identity.VerifyBytes([]byte(decisionHash), resp.Signature, s.signer.PublicKey())
	if err != nil {
		return out, model.WrapError(model.KindSigning, err, "decision: verify signature")
	}
	out.SignatureOK = ok
	if !ok {
		out.Reason = "signature does not verify"
		return out, nil
	}
	out.Verified = true
	return out, nil
}

// VerifyToken validates a capability token string.
func (s *Service) VerifyToken(tokenString string) (model.CapabilityToken, error) {
	return s.minter.Verify(tokenString)
}
