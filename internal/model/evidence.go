package model

import "time"

// ArtifactType enumerates evidence artifact categories. Retention defaults
// key off the type.
type ArtifactType string

const (
	ArtifactDecisionLog    ArtifactType = "decision_log"
	ArtifactPolicySnapshot ArtifactType = "policy_snapshot"
	ArtifactAttestation    ArtifactType = "attestation"
	ArtifactAuditTrail     ArtifactType = "audit_trail"
	ArtifactExternalReport ArtifactType = "external_report"
	ArtifactSignature      ArtifactType = "signature"
	ArtifactScreenshot     ArtifactType = "screenshot"
	ArtifactContextCapture ArtifactType = "context_capture"
)

// DigitalSignature is the one permitted in-place addendum to an artifact.
type DigitalSignature struct {
	SignerID  string    `json:"signer_id"`
	Signature string    `json:"signature"`
	Algorithm string    `json:"algorithm"`
	SignedAt  time.Time `json:"signed_at"`
}

// EvidenceArtifact is an immutable, content-addressed record linked to
// decisions and compliance controls.
type EvidenceArtifact struct {
	ArtifactID         string            `json:"artifact_id"`
	ArtifactType       ArtifactType      `json:"artifact_type"`
	SHA256Hash         string            `json:"sha256_hash"`
	SizeBytes          int64             `json:"size_bytes"`
	Source             string            `json:"source"`
	ContentType        string            `json:"content_type,omitempty"`
	StorageURI         string            `json:"storage_uri,omitempty"`
	RelatedDecisionIDs []string          `json:"related_decision_ids,omitempty"`
	RelatedControlIDs  []string          `json:"related_control_ids,omitempty"`
	DigitalSignature   *DigitalSignature `json:"digital_signature,omitempty"`
	RetentionUntil     *time.Time        `json:"retention_until,omitempty"`
	IsImmutable        bool              `json:"is_immutable"`
	CreatedAt          time.Time         `json:"created_at"`
	Metadata           map[string]any    `json:"metadata,omitempty"`
}
