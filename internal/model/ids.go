// Package model defines the entity types, identifier grammar, and controlled
// vocabularies shared by every kessai service. Cross-service links are always
// by string ID, never by pointer.
package model

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identifier patterns, anchored. Validated on every ingress path.
var (
	actorIDPattern      = regexp.MustCompile(`^act_(ai_agent|human_user|system_service|organizational_role|external_party):[a-zA-Z0-9_.-]+$`)
	actionIDPattern     = regexp.MustCompile(`^axn_(read|write|execute|transmit|delete|approve|escalate):[a-zA-Z0-9_.-]+$`)
	resourceIDPattern   = regexp.MustCompile(`^res_(public|internal|confidential|restricted|critical):[a-zA-Z0-9_.-]+$`)
	policyIDPattern     = regexp.MustCompile(`^pol_[a-z0-9_]+_v[0-9]+$`)
	decisionIDPattern   = regexp.MustCompile(`^dec_[0-9A-Z]{26}$`)
	riskIDPattern       = regexp.MustCompile(`^rsk_dec_[0-9A-Z]{26}$`)
	escalationIDPattern = regexp.MustCompile(`^esc_dec_[0-9A-Z]{26}_[0-9a-f]{8}$`)
	overrideIDPattern   = regexp.MustCompile(`^ovr_dec_[0-9A-Z]{26}_[0-9a-f]{8}$`)
	evidenceIDPattern   = regexp.MustCompile(`^evd_[a-z0-9_]+_[0-9a-f]{8}$`)
	controlIDPattern    = regexp.MustCompile(`^ctl_[a-z0-9]+_[a-zA-Z0-9_.-]+$`)
)

// ValidateActorID checks the act_<type>:<local> grammar.
func ValidateActorID(id string) error {
	if !actorIDPattern.MatchString(id) {
		return NewError(KindValidation, "model: invalid actor id %q", id)
	}
	return nil
}

// ValidateActionID checks the axn_<family>:<op> grammar.
func ValidateActionID(id string) error {
	if !actionIDPattern.MatchString(id) {
		return NewError(KindValidation, "model: invalid action id %q", id)
	}
	return nil
}

// ValidateResourceID checks the res_<type>:<local> grammar.
func ValidateResourceID(id string) error {
	if !resourceIDPattern.MatchString(id) {
		return NewError(KindValidation, "model: invalid resource id %q", id)
	}
	return nil
}

// ValidatePolicyID checks the pol_<slug>_v<N> grammar.
func ValidatePolicyID(id string) error {
	if !policyIDPattern.MatchString(id) {
		return NewError(KindValidation, "model: invalid policy id %q", id)
	}
	return nil
}

// ValidateDecisionID checks the dec_<26 uppercase alnum> grammar.
func ValidateDecisionID(id string) error {
	if !decisionIDPattern.MatchString(id) {
		return NewError(KindValidation, "model: invalid decision id %q", id)
	}
	return nil
}

// ValidateRiskID checks the rsk_dec_<local> grammar.
func ValidateRiskID(id string) error {
	if !riskIDPattern.MatchString(id) {
		return NewError(KindValidation, "model: invalid risk id %q", id)
	}
	return nil
}

// ValidateEscalationID checks the esc_dec_<local>_<8hex> grammar.
func ValidateEscalationID(id string) error {
	if !escalationIDPattern.MatchString(id) {
		return NewError(KindValidation, "model: invalid escalation id %q", id)
	}
	return nil
}

// ValidateOverrideID checks the ovr_dec_<local>_<8hex> grammar.
func ValidateOverrideID(id string) error {
	if !overrideIDPattern.MatchString(id) {
		return NewError(KindValidation, "model: invalid override id %q", id)
	}
	return nil
}

// ValidateEvidenceID checks the evd_<type>_<8hex> grammar.
func ValidateEvidenceID(id string) error {
	if !evidenceIDPattern.MatchString(id) {
		return NewError(KindValidation, "model: invalid evidence id %q", id)
	}
	return nil
}

// ValidateControlID checks the ctl_<framework>_<local> grammar.
func ValidateControlID(id string) error {
	if !controlIDPattern.MatchString(id) {
		return NewError(KindValidation, "model: invalid control id %q", id)
	}
	return nil
}

// crockford is the ULID alphabet (Crockford base32, uppercase, no I/L/O/U).
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewDecisionID generates a dec_-prefixed ULID: 48 bits of millisecond
// timestamp followed by 80 bits of randomness, encoded as 26 Crockford
// base32 characters. Lexicographic order follows creation time.
func NewDecisionID(now time.Time) string {
	var b [16]byte
	ms := uint64(now.UnixMilli()) //nolint:gosec // wall clock is positive until year 10889
	b[0] = byte(ms >> 40)
	b[1] = byte(ms >> 32)
	binary.BigEndian.PutUint32(b[2:6], uint32(ms))
	if _, err := rand.Read(b[6:]); err != nil {
		// crypto/rand failure means the platform entropy source is broken;
		// fall back to uuid which panics in the same situation.
		u := uuid.New()
		copy(b[6:], u[:])
	}

	// Encode 128 bits as 26 base32 chars (130 bits of capacity, top 2 unused).
	var out [26]byte
	var acc uint64
	bits := 0
	pos := 25
	for i := 15; i >= 0; i-- {
		acc |= uint64(b[i]) << bits
		bits += 8
		for bits >= 5 && pos >= 0 {
			out[pos] = crockford[acc&31]
			acc >>= 5
			bits -= 5
			pos--
		}
	}
	for pos >= 0 {
		out[pos] = crockford[acc&31]
		acc >>= 5
		pos--
	}
	return "dec_" + string(out[:])
}

// DecisionLocal strips the dec_ prefix from a decision ID.
func DecisionLocal(decisionID string) string {
	return strings.TrimPrefix(decisionID, "dec_")
}

// RiskIDFor derives the unique risk ID for a decision.
// Exactly one risk exists per decision, so the ID carries no random suffix.
func RiskIDFor(decisionID string) string {
	return "rsk_dec_" + DecisionLocal(decisionID)
}

// randSuffix returns 8 lowercase hex characters from a fresh UUID.
func randSuffix() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:4])
}

// NewEscalationID generates esc_dec_<local>_<8hex>. Re-escalation of the same
// decision yields a distinct suffix.
func NewEscalationID(decisionID string) string {
	return "esc_dec_" + DecisionLocal(decisionID) + "_" + randSuffix()
}

// NewOverrideID generates ovr_dec_<local>_<8hex>.
func NewOverrideID(decisionID string) string {
	return "ovr_dec_" + DecisionLocal(decisionID) + "_" + randSuffix()
}

// artifactTypeSlug lowercases an artifact type and strips everything outside
// [a-z0-9_] so it can be embedded in an evidence ID.
func artifactTypeSlug(artifactType string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(artifactType) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return "artifact"
	}
	return sb.String()
}

// NewEvidenceID generates evd_<type>_<8hex>.
func NewEvidenceID(artifactType string) string {
	return "evd_" + artifactTypeSlug(artifactType) + "_" + randSuffix()
}
