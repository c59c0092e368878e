package model

import "time"

// RiskLevel buckets an overall risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// LevelForScore maps an overall score [1,100] to a level:
// [0,29] low, [30,59] medium, [60,79] high, [80,100] critical.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskDimensions holds the six orthogonal 0-100 axes. Nil means the
// dimension was not assessed and is excluded from the weighted mean.
type RiskDimensions struct {
	Security     *int `json:"security,omitempty"`
	Privacy      *int `json:"privacy,omitempty"`
	Compliance   *int `json:"compliance,omitempty"`
	Operational  *int `json:"operational,omitempty"`
	Reputational *int `json:"reputational,omitempty"`
	Financial    *int `json:"financial,omitempty"`
}

// Risk is the one-to-one risk assessment for a decision.
type Risk struct {
	RiskID             string         `json:"risk_id"`
	DecisionID         string         `json:"decision_id"`
	OverallScore       int            `json:"overall_score"` // [1,100]
	RiskLevel          RiskLevel      `json:"risk_level"`
	Dimensions         RiskDimensions `json:"dimensions"`
	Likelihood         *float64       `json:"likelihood,omitempty"` // [0,1]
	Impact             *int           `json:"impact,omitempty"`     // [1,5]
	Factors            []string       `json:"factors,omitempty"`
	MitigationsApplied []string       `json:"mitigations_applied,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}
