package model

import "time"

// OverrideType enumerates the authorized ways to change a decision's
// operative outcome.
type OverrideType string

const (
	OverrideEmergencyBypass      OverrideType = "emergency_bypass"
	OverrideExecutive            OverrideType = "executive_override"
	OverrideTimeLimitedException OverrideType = "time_limited_exception"
	OverrideRiskAccepted         OverrideType = "risk_accepted"
)

// ExecutiveOnly reports whether the type requires an executive authorizer.
func (t OverrideType) ExecutiveOnly() bool {
	return t == OverrideEmergencyBypass || t == OverrideExecutive
}

// MinJustificationLen is the schema-level floor for override justifications.
const MinJustificationLen = 20

// OverrideScope bounds what an override applies to.
type OverrideScope struct {
	IsOneTime bool     `json:"is_one_time"`
	Actions   []string `json:"actions,omitempty"`
	Resources []string `json:"resources,omitempty"`
}

// Override is an authorized, justified, append-only record that changes a
// decision's operative outcome. The original decision is never mutated.
type Override struct {
	OverrideID       string         `json:"override_id"`
	DecisionID       string         `json:"decision_id"`
	OverrideType     OverrideType   `json:"override_type"`
	AuthorizedBy     string         `json:"authorized_by"`
	Justification    string         `json:"justification"`
	OriginalOutcome  string         `json:"original_outcome"`
	NewOutcome       string         `json:"new_outcome"`
	Scope            OverrideScope  `json:"scope"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	ReviewRequiredBy time.Time      `json:"review_required_by"`
	EvidenceIDs      []string       `json:"evidence_ids,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Active reports whether the override is operative at t: an override with no
// expiry never lapses, one with an expiry lapses once t passes it.
func (o Override) Active(t time.Time) bool {
	return o.ExpiresAt == nil || o.ExpiresAt.After(t)
}

// OverrideStatus is the enrichment block attached to a decision copy by
// DecisionWithOverrideStatus. The top-level decision field is untouched.
type OverrideStatus struct {
	IsOverridden bool       `json:"is_overridden"`
	OverrideID   string     `json:"override_id,omitempty"`
	OverrideType string     `json:"override_type,omitempty"`
	NewOutcome   string     `json:"new_outcome,omitempty"`
	AuthorizedBy string     `json:"authorized_by,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// OverriddenDecision is a copy of the original response enriched with
// override status.
type OverriddenDecision struct {
	DecisionResponse
	OverrideStatus OverrideStatus `json:"override_status"`
}
