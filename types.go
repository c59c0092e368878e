package kessai

import (
	"github.com/ashita-ai/kessai/internal/decision"
	"github.com/ashita-ai/kessai/internal/escalation"
	"github.com/ashita-ai/kessai/internal/export"
	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/oversight"
	"github.com/ashita-ai/kessai/internal/override"
	"github.com/ashita-ai/kessai/internal/policy"
	"github.com/ashita-ai/kessai/internal/risk"
)

// The facade re-exports the internal types its operations accept and return.
// Aliases keep one definition per type; consumers never import internal/*.
type (
	// DecisionRequest is an adapter's intent to perform a tool call.
	DecisionRequest = model.DecisionRequest
	// DecisionResponse is the gateway's ruling on a request.
	DecisionResponse = model.DecisionResponse
	// CapabilityToken is the scoped permission minted on permit.
	CapabilityToken = model.CapabilityToken
	// VerifyOutcome reports whether a decision's ledger entry and
	// signature check out.
	VerifyOutcome = decision.VerifyOutcome

	// PolicyDocument is a governance policy in its parsed form.
	PolicyDocument = policy.Document
	// PolicyLoadResult summarizes a successful policy load.
	PolicyLoadResult = policy.LoadResult

	// Risk is the dimensional risk assessment for a decision.
	Risk = model.Risk
	// RiskInput carries the dimensions of one assessment.
	RiskInput = risk.AssessInput

	// Escalation is a pending or handled human review request.
	Escalation = model.Escalation
	// EscalationInput opens an escalation.
	EscalationInput = escalation.CreateInput
	// SLAStatus summarizes one sweep over open escalations.
	SLAStatus = escalation.SLAStatus
	// Notification is an escalation lifecycle event.
	Notification = model.Notification

	// Override is an authorized human reversal of a gateway ruling.
	Override = model.Override
	// OverrideInput creates an override.
	OverrideInput = override.CreateInput

	// HumanIntervention is a signed record of a human acting on an AI
	// recommendation.
	HumanIntervention = oversight.RecordInput
	// Intervention is the persisted, signed intervention record.
	Intervention = model.HumanIntervention
	// EffectivenessReport aggregates oversight activity over a window.
	EffectivenessReport = oversight.EffectivenessReport

	// LedgerEntry is one hash-chained audit record.
	LedgerEntry = ledger.Entry
	// LedgerVerification is the result of a full-chain integrity check.
	LedgerVerification = ledger.VerifyResult
	// AuditReport summarizes ledger health for compliance review.
	AuditReport = ledger.AuditReport

	// ExportRequest selects scopes, format, and date range for an export.
	ExportRequest = export.Request
	// ExportPackage is a rendered audit export.
	ExportPackage = export.Package
	// ExportBundle is the zipped evidence bundle for external audit.
	ExportBundle = export.Bundle
)

// Export formats accepted by ExportRequest.
const (
	FormatJSON     = export.FormatJSON
	FormatCSV      = export.FormatCSV
	FormatMarkdown = export.FormatMarkdown
	FormatHTML     = export.FormatHTML
)
