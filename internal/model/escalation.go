package model

import "time"

// EscalationStatus is the lifecycle state of an escalation.
type EscalationStatus string

const (
	EscalationPending      EscalationStatus = "pending"
	EscalationAcknowledged EscalationStatus = "acknowledged"
	EscalationResolved     EscalationStatus = "resolved"
	EscalationExpired      EscalationStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s EscalationStatus) Terminal() bool {
	return s == EscalationResolved || s == EscalationExpired
}

// EscalationTrigger names why a decision was escalated.
type EscalationTrigger string

const (
	TriggerRiskThreshold   EscalationTrigger = "risk_threshold"
	TriggerPolicyConflict  EscalationTrigger = "policy_conflict"
	TriggerAnomalyDetected EscalationTrigger = "anomaly_detected"
	TriggerExplicitRule    EscalationTrigger = "explicit_rule"
	TriggerActorRequest    EscalationTrigger = "actor_request"
)

// EscalationPriority orders escalations and selects the SLA deadline.
type EscalationPriority string

const (
	PriorityCritical EscalationPriority = "critical"
	PriorityHigh     EscalationPriority = "high"
	PriorityMedium   EscalationPriority = "medium"
	PriorityLow      EscalationPriority = "low"
)

// SLAHours returns the hours-to-deadline for a priority.
func (p EscalationPriority) SLAHours() int {
	switch p {
	case PriorityCritical:
		return 2
	case PriorityHigh:
		return 8
	case PriorityMedium:
		return 24
	default:
		return 72
	}
}

// InferPriority maps a trigger to a priority when the caller omits one.
func InferPriority(trigger EscalationTrigger) EscalationPriority {
	switch trigger {
	case TriggerRiskThreshold:
		return PriorityCritical
	case TriggerPolicyConflict, TriggerAnomalyDetected:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// ResolutionOutcome is the terminal human verdict on an escalation.
type ResolutionOutcome string

const (
	OutcomeApproved ResolutionOutcome = "approved"
	OutcomeDenied   ResolutionOutcome = "denied"
	OutcomeDeferred ResolutionOutcome = "deferred"
)

// Resolution records how an escalation terminated.
type Resolution struct {
	Outcome    ResolutionOutcome `json:"outcome"`
	ResolvedBy string            `json:"resolved_by"`
	Notes      string            `json:"notes,omitempty"`
	ResolvedAt time.Time         `json:"resolved_at"`
}

// Escalation routes a high-risk decision to humans under an SLA deadline.
type Escalation struct {
	EscalationID   string             `json:"escalation_id"`
	DecisionID     string             `json:"decision_id"`
	Trigger        EscalationTrigger  `json:"trigger"`
	Priority       EscalationPriority `json:"priority"`
	Status         EscalationStatus   `json:"status"`
	EscalatedTo    []string           `json:"escalated_to"`
	SLADeadline    time.Time          `json:"sla_deadline"`
	CreatedAt      time.Time          `json:"created_at"`
	AcknowledgedBy string             `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time         `json:"acknowledged_at,omitempty"`
	Resolution     *Resolution        `json:"resolution,omitempty"`
	Context        map[string]any     `json:"context,omitempty"`
	Metadata       map[string]any     `json:"metadata,omitempty"`

	// Version is the optimistic-concurrency counter bumped on every
	// transition. A stale version loses the compare-and-swap.
	Version int64 `json:"-"`
}

// Recipient reports whether actor is one of the declared recipients.
func (e Escalation) Recipient(actor string) bool {
	for _, r := range e.EscalatedTo {
		if r == actor {
			return true
		}
	}
	return false
}

// Notification is an in-process event emitted on escalation activity.
// The core never delivers notifications; external transports subscribe.
type Notification struct {
	Type      string             `json:"type"` // escalation_created, sla_warning, sla_exceeded, ...
	Subject   string             `json:"subject"`
	Message   string             `json:"message"`
	Priority  EscalationPriority `json:"priority"`
	Timestamp time.Time          `json:"timestamp"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
}
