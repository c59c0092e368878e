package model

import (
	"time"
)

// Ruling is the outcome of a policy evaluation.
type Ruling string

const (
	RulingPermit Ruling = "permit"
	RulingDeny   Ruling = "deny"
)

// DataClasses is the controlled vocabulary for request data classifications.
var DataClasses = map[string]bool{
	"public":       true,
	"internal":     true,
	"confidential": true,
	"restricted":   true,
	"critical":     true,
	"pii":          true,
	"phi":          true,
	"financial":    true,
	"credentials":  true,
}

// MaxContextEntries bounds the free-form request context.
const MaxContextEntries = 64

// DecisionRequest is an adapter's intent to perform a tool call.
type DecisionRequest struct {
	RequestID   string         `json:"request_id,omitempty"` // assigned if empty
	Actor       string         `json:"actor"`
	Action      string         `json:"action"`
	Tool        string         `json:"tool"`
	UserIntent  string         `json:"user_intent"`
	RiskLevel   int            `json:"risk_level"` // 1..5
	DataClasses []string       `json:"data_classes,omitempty"`
	Resource    string         `json:"resource,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// Validate checks the request against the ingress contract: ID grammar,
// risk_level bounds, data-class vocabulary, bounded context.
func (r DecisionRequest) Validate() error {
	if r.Actor == "" {
		return NewError(KindValidation, "model: request actor is required")
	}
	if err := ValidateActorID(r.Actor); err != nil {
		return err
	}
	if r.Action == "" {
		return NewError(KindValidation, "model: request action is required")
	}
	if err := ValidateActionID(r.Action); err != nil {
		return err
	}
	if r.Tool == "" {
		return NewError(KindValidation, "model: request tool is required")
	}
	if r.UserIntent == "" {
		return NewError(KindValidation, "model: request user_intent is required")
	}
	if r.RiskLevel < 1 || r.RiskLevel > 5 {
		return NewError(KindValidation, "model: risk_level %d outside [1,5]", r.RiskLevel)
	}
	for _, dc := range r.DataClasses {
		if !DataClasses[dc] {
			return NewError(KindValidation, "model: unknown data class %q", dc)
		}
	}
	if r.Resource != "" {
		if err := ValidateResourceID(r.Resource); err != nil {
			return err
		}
	}
	if len(r.Context) > MaxContextEntries {
		return NewError(KindValidation, "model: context has %d entries, max %d", len(r.Context), MaxContextEntries)
	}
	return nil
}

// TokenScope freezes the request attributes a capability token covers.
// The token never grants privileges beyond the original request.
type TokenScope struct {
	Actor       string   `json:"actor"`
	Action      string   `json:"action"`
	Tool        string   `json:"tool"`
	DataClasses []string `json:"data_classes,omitempty"`
}

// CapabilityToken is the scoped, time-bounded permission minted on permit.
// Token is the EdDSA-signed JWT encoding of the same scope.
type CapabilityToken struct {
	TokenID   string     `json:"token_id"`
	Scope     TokenScope `json:"scope"`
	GrantedAt time.Time  `json:"granted_at"`
	Expiry    time.Time  `json:"expiry"`
	Token     string     `json:"token,omitempty"`
}

// DecisionResponse is the gateway's ruling on a request.
type DecisionResponse struct {
	RequestID         string           `json:"request_id"`
	DecisionID        string           `json:"decision_id"`
	Decision          Ruling           `json:"decision"`
	Reasoning         string           `json:"reasoning"`
	PolicyVersionHash string           `json:"policy_version_hash"`
	CapabilityToken   *CapabilityToken `json:"capability_token,omitempty"`
	LedgerEntryHash   string           `json:"ledger_entry_hash,omitempty"`
	Signature         string           `json:"signature,omitempty"`
	Signed            bool             `json:"signed"`
	Timestamp         time.Time        `json:"timestamp"`
}

// Permitted reports whether the ruling is a permit.
func (d DecisionResponse) Permitted() bool { return d.Decision == RulingPermit }
