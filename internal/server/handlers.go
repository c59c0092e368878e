package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/kessai/internal/decision"
	"github.com/ashita-ai/kessai/internal/escalation"
	"github.com/ashita-ai/kessai/internal/export"
	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/oversight"
	"github.com/ashita-ai/kessai/internal/override"
	"github.com/ashita-ai/kessai/internal/policy"
	"github.com/ashita-ai/kessai/internal/retention"
	"github.com/ashita-ai/kessai/internal/risk"
)

// maxPolicyBytes bounds uploaded policy documents.
const maxPolicyBytes = 4 << 20

type handlers struct {
	decisions   *decision.Service
	ledger      *ledger.Ledger
	engine      *policy.Engine
	risks       *risk.Service
	escalations *escalation.Service
	overrides   *override.Service
	exports     *export.Service
	oversight   *oversight.Service
	retention   *retention.Service
	logger      *slog.Logger
	version     string
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
	})
}

// --- Decisions ---

func (h *handlers) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req model.DecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	resp, err := h.decisions.EvaluateRequest(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *handlers) handleVerifyDecision(w http.ResponseWriter, r *http.Request) {
	var resp model.DecisionResponse
	if err := decodeJSON(r, &resp); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	outcome, err := h.decisions.VerifyDecision(r.Context(), resp)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, outcome)
}

// --- Ledger ---

func (h *handlers) handleLedgerVerify(w http.ResponseWriter, r *http.Request) {
	result, err := h.ledger.VerifyIntegrity(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (h *handlers) handleLedgerEntries(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50)
	offset := intQuery(r, "offset", 0)
	entries, err := h.ledger.Entries(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}

func (h *handlers) handleAuditReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.GenerateAuditReport(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// --- Policy ---

func (h *handlers) handleLoadPolicy(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPolicyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", "read body failed")
		return
	}
	result, err := h.engine.LoadJSON(raw)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	// The load itself is an auditable event.
	if _, err := h.ledger.Append(r.Context(), "policy_load", map[string]any{
		"policy_hash": result.PolicyHash,
		"terms":       result.TermsLoaded,
		"relations":   result.RelationsLoaded,
	}); err != nil {
		h.logger.Warn("policy load ledger append failed", "error", err)
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (h *handlers) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	doc := h.engine.ActiveDocument()
	if doc == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "no policy loaded")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"policy":      doc,
		"policy_hash": h.engine.PolicyHash(),
	})
}

// --- Risk ---

type assessRiskRequest struct {
	DecisionID string               `json:"decision_id"`
	Dimensions model.RiskDimensions `json:"dimensions"`
	Likelihood *float64             `json:"likelihood,omitempty"`
	Impact     *int                 `json:"impact,omitempty"`
}

func (h *handlers) handleAssessRisk(w http.ResponseWriter, r *http.Request) {
	var req assessRiskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	assessed, err := h.risks.AssessRisk(r.Context(), risk.AssessInput{
		DecisionID: req.DecisionID,
		Dimensions: req.Dimensions,
		Likelihood: req.Likelihood,
		Impact:     req.Impact,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	// Critical outcomes open an escalation immediately.
	esc, err := h.escalations.AutoEscalateForRisk(r.Context(), assessed)
	if err != nil {
		h.logger.Warn("auto-escalation failed", "decision_id", req.DecisionID, "error", err)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"risk":       assessed,
		"escalation": esc,
	})
}

func (h *handlers) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	assessed, err := h.risks.GetRisk(r.PathValue("decision_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, assessed)
}

// --- Escalations ---

type createEscalationRequest struct {
	DecisionID  string         `json:"decision_id"`
	Trigger     string         `json:"trigger"`
	Priority    string         `json:"priority,omitempty"`
	EscalatedTo []string       `json:"escalated_to"`
	Context     map[string]any `json:"context,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (h *handlers) handleCreateEscalation(w http.ResponseWriter, r *http.Request) {
	var req createEscalationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	esc, err := h.escalations.CreateEscalation(r.Context(), escalation.CreateInput{
		DecisionID:  req.DecisionID,
		Trigger:     model.EscalationTrigger(req.Trigger),
		Priority:    model.EscalationPriority(req.Priority),
		EscalatedTo: req.EscalatedTo,
		Context:     req.Context,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, esc)
}

type escalationActionRequest struct {
	Actor   string `json:"actor"`
	Outcome string `json:"outcome,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

func (h *handlers) handleAcknowledgeEscalation(w http.ResponseWriter, r *http.Request) {
	var req escalationActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	esc, err := h.escalations.AcknowledgeEscalation(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, esc)
}

func (h *handlers) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	var req escalationActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	esc, err := h.escalations.ResolveEscalation(r.Context(), r.PathValue("id"),
		req.Actor, model.ResolutionOutcome(req.Outcome), req.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, esc)
}

func (h *handlers) handleSLAStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.escalations.CheckSLAStatus(r.Context(), time.Now().UTC())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// --- Overrides ---

type createOverrideRequest struct {
	DecisionID      string              `json:"decision_id"`
	OverrideType    string              `json:"override_type"`
	AuthorizedBy    string              `json:"authorized_by"`
	Justification   string              `json:"justification"`
	OriginalOutcome string              `json:"original_outcome"`
	NewOutcome      string              `json:"new_outcome"`
	Scope           model.OverrideScope `json:"scope,omitempty"`
	ExpiresAt       *time.Time          `json:"expires_at,omitempty"`
	Metadata        map[string]any      `json:"metadata,omitempty"`
}

func (h *handlers) handleCreateOverride(w http.ResponseWriter, r *http.Request) {
	var req createOverrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	ov, err := h.overrides.CreateOverride(r.Context(), override.CreateInput{
		DecisionID:      req.DecisionID,
		OverrideType:    model.OverrideType(req.OverrideType),
		AuthorizedBy:    req.AuthorizedBy,
		Justification:   req.Justification,
		OriginalOutcome: req.OriginalOutcome,
		NewOutcome:      req.NewOutcome,
		Scope:           req.Scope,
		ExpiresAt:       req.ExpiresAt,
		Metadata:        req.Metadata,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, ov)
}

func (h *handlers) handleOverridesByDecision(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.overrides.OverridesByDecision(r.PathValue("id")))
}

// --- Oversight ---

type recordInterventionRequest struct {
	InterventionType string         `json:"intervention_type"`
	AIRecommendation map[string]any `json:"ai_recommendation"`
	AIConfidence     float64        `json:"ai_confidence"`
	HumanDecision    map[string]any `json:"human_decision"`
	HumanRole        string         `json:"human_role"`
	Reason           string         `json:"reason"`
	RequestContext   map[string]any `json:"request_context,omitempty"`
	ResponseTimeMS   *int64         `json:"response_time_ms,omitempty"`
}

func (h *handlers) handleRecordIntervention(w http.ResponseWriter, r *http.Request) {
	if h.oversight == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "oversight disabled")
		return
	}
	var req recordInterventionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	iv, err := h.oversight.RecordIntervention(r.Context(), oversight.RecordInput{
		InterventionType: model.InterventionType(req.InterventionType),
		AIRecommendation: req.AIRecommendation,
		AIConfidence:     req.AIConfidence,
		HumanDecision:    req.HumanDecision,
		HumanRole:        req.HumanRole,
		Reason:           req.Reason,
		RequestContext:   req.RequestContext,
		ResponseTimeMS:   req.ResponseTimeMS,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, iv)
}

func (h *handlers) handleEffectiveness(w http.ResponseWriter, r *http.Request) {
	if h.oversight == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "oversight disabled")
		return
	}
	to := time.Now().UTC()
	from := to.AddDate(0, -1, 0)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "validation", "from must be RFC3339")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "validation", "to must be RFC3339")
			return
		}
		to = t
	}
	report, err := h.oversight.GenerateEffectivenessReport(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// --- Retention ---

func (h *handlers) handleRetentionReport(w http.ResponseWriter, r *http.Request) {
	if h.retention == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "retention disabled")
		return
	}
	report, err := h.retention.GenerateReport(r.Context(), time.Now().UTC())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

func (h *handlers) handleRegulatorPackage(w http.ResponseWriter, r *http.Request) {
	if h.retention == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "retention disabled")
		return
	}
	to := time.Now().UTC()
	from := to.AddDate(0, -3, 0)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "validation", "from must be RFC3339")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "validation", "to must be RFC3339")
			return
		}
		to = t
	}
	pkg, err := h.retention.GenerateRegulatorPackage(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, pkg)
}

type applyHoldRequest struct {
	Reason    string   `json:"reason"`
	EntryIDs  []string `json:"entry_ids"`
	Requester string   `json:"requester"`
}

func (h *handlers) handleApplyHold(w http.ResponseWriter, r *http.Request) {
	if h.retention == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "retention disabled")
		return
	}
	var req applyHoldRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	hold, err := h.retention.ApplyLegalHold(r.Context(), req.Reason, req.EntryIDs, req.Requester)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, hold)
}

func (h *handlers) handleReleaseHold(w http.ResponseWriter, r *http.Request) {
	if h.retention == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "retention disabled")
		return
	}
	if err := h.retention.ReleaseLegalHold(r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"released": true})
}

// --- Export ---

func (h *handlers) handleExport(w http.ResponseWriter, r *http.Request) {
	format := export.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = export.FormatJSON
	}
	pkg, err := h.exports.GenerateExport(r.Context(), export.Request{
		Format: format,
		Sign:   r.URL.Query().Get("sign") == "true",
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	contentType := map[export.Format]string{
		export.FormatJSON:     "application/json",
		export.FormatCSV:      "text/csv",
		export.FormatMarkdown: "text/markdown",
		export.FormatHTML:     "text/html",
	}[format]
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Export-ID", pkg.ExportID)
	w.Header().Set("X-Export-Checksum", pkg.Checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pkg.Content)
}

func (h *handlers) handleExportBundle(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.exports.GenerateBundle(r.Context(), export.Request{Sign: true})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", bundle.BundleID+".zip"))
	w.Header().Set("X-Bundle-Hash", bundle.Manifest.BundleHash)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(bundle.Content)
}

func intQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n < 0 {
		return fallback
	}
	return n
}
