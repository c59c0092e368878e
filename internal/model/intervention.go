package model

import "time"

// InterventionType enumerates how a human intervened in an AI ruling.
type InterventionType string

const (
	InterventionApproval   InterventionType = "approval"
	InterventionOverride   InterventionType = "override"
	InterventionEscalation InterventionType = "escalation_review"
	InterventionVeto       InterventionType = "veto"
)

// HumanIntervention is a signed oversight-log record pairing an AI
// recommendation with the human verdict that followed it.
type HumanIntervention struct {
	InterventionID   string           `json:"intervention_id"`
	Timestamp        time.Time        `json:"timestamp"`
	InterventionType InterventionType `json:"intervention_type"`
	AIRecommendation map[string]any   `json:"ai_recommendation"`
	AIConfidence     float64          `json:"ai_confidence"`
	HumanDecision    map[string]any   `json:"human_decision"`
	HumanRole        string           `json:"human_role"`
	Reason           string           `json:"reason"`
	RequestContext   map[string]any   `json:"request_context,omitempty"`
	Signature        string           `json:"signature,omitempty"`
	ResponseTimeMS   *int64           `json:"response_time_ms,omitempty"`
}
