package model

import "time"

// DecisionMaker identifies what kind of party made a decision.
const (
	MakerAISystem = "AI_SYSTEM"
	MakerHuman    = "HUMAN"
)

// ResponsibilityLevel grades accountability for a decision.
type ResponsibilityLevel string

const (
	ResponsibilityAutomated  ResponsibilityLevel = "automated"
	ResponsibilitySupervised ResponsibilityLevel = "supervised"
	ResponsibilityDelegated  ResponsibilityLevel = "delegated"
	ResponsibilityAssumed    ResponsibilityLevel = "assumed"
)

// ResponsibilityRecord says who decided, who reviewed, and who accepted
// liability for a decision. MarkReviewed is the sole permitted mutation.
type ResponsibilityRecord struct {
	RecordID            string              `json:"record_id"`
	DecisionID          string              `json:"decision_id"`
	DecisionMaker       string              `json:"decision_maker"`
	ResponsibleParty    string              `json:"responsible_party"`
	Role                string              `json:"role"`
	Reasoning           string              `json:"reasoning,omitempty"`
	Confidence          float64             `json:"confidence"`
	ResponsibilityLevel ResponsibilityLevel `json:"responsibility_level"`
	OverrideAI          bool                `json:"override_ai"`
	AIRecommendation    string              `json:"ai_recommendation,omitempty"`
	ReviewRequired      bool                `json:"review_required"`
	ReviewedBy          string              `json:"reviewed_by,omitempty"`
	ReviewedAt          *time.Time          `json:"reviewed_at,omitempty"`
	LiabilityAccepted   bool                `json:"liability_accepted"`
	LiabilitySignature  string              `json:"liability_signature,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
}
