package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kessai/internal/canonical"
	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/testutil"
)

func newEvidenceService(t *testing.T) *Service {
	t.Helper()
	return NewService(testutil.TestLogger())
}

func storeInput(decisionID string) StoreInput {
	return StoreInput{
		Type:               model.ArtifactDecisionLog,
		Content:            []byte(`{"decision":"permit"}`),
		Source:             "decision_service",
		ContentType:        "application/json",
		RelatedDecisionIDs: []string{decisionID},
	}
}

func TestStoreArtifact(t *testing.T) {
	ctx := context.Background()
	s := newEvidenceService(t)
	decisionID := model.NewDecisionID(time.Now())
	in := storeInput(decisionID)

	a, err := s.StoreArtifact(ctx, in)
	require.NoError(t, err)

	require.NoError(t, model.ValidateEvidenceID(a.ArtifactID))
	assert.Equal(t, canonical.HashBytes(in.Content), a.SHA256Hash)
	assert.EqualValues(t, len(in.Content), a.SizeBytes)
	assert.True(t, a.IsImmutable)
	require.NotNil(t, a.RetentionUntil)
	assert.WithinDuration(t, a.CreatedAt.AddDate(7, 0, 0), *a.RetentionUntil, time.Minute,
		"decision logs retain for seven years by default")

	assert.Equal(t, 1, s.Count())
	assert.Len(t, s.ArtifactsByDecision(decisionID), 1)
	assert.Len(t, s.ArtifactsByType(model.ArtifactDecisionLog), 1)
}

func TestStoreArtifactValidation(t *testing.T) {
	ctx := context.Background()
	s := newEvidenceService(t)
	decisionID := model.NewDecisionID(time.Now())

	in := storeInput(decisionID)
	in.Type = "diary_entry"
	_, err := s.StoreArtifact(ctx, in)
	assert.True(t, model.IsKind(err, model.KindValidation))

	in = storeInput(decisionID)
	in.Source = ""
	_, err = s.StoreArtifact(ctx, in)
	assert.True(t, model.IsKind(err, model.KindValidation))

	in = storeInput(decisionID)
	in.RelatedDecisionIDs = []string{"dec_short"}
	_, err = s.StoreArtifact(ctx, in)
	assert.True(t, model.IsKind(err, model.KindValidation))

	in = storeInput(decisionID)
	in.RelatedControlIDs = []string{"not_a_control"}
	_, err = s.StoreArtifact(ctx, in)
	assert.True(t, model.IsKind(err, model.KindValidation))
}

func TestRetentionOverride(t *testing.T) {
	ctx := context.Background()
	s := newEvidenceService(t)

	until := time.Now().UTC().AddDate(0, 6, 0)
	in := storeInput(model.NewDecisionID(time.Now()))
	in.RetentionUntil = &until
	a, err := s.StoreArtifact(ctx, in)
	require.NoError(t, err)
	assert.True(t, a.RetentionUntil.Equal(until))
}

func TestScreenshotRetentionShorter(t *testing.T) {
	ctx := context.Background()
	s := newEvidenceService(t)

	in := storeInput(model.NewDecisionID(time.Now()))
	in.Type = model.ArtifactScreenshot
	a, err := s.StoreArtifact(ctx, in)
	require.NoError(t, err)
	assert.WithinDuration(t, a.CreatedAt.AddDate(1, 0, 0), *a.RetentionUntil, time.Minute)
}

func TestVerifyArtifactIntegrity(t *testing.T) {
	ctx := context.Background()
	s := newEvidenceService(t)
	in := storeInput(model.NewDecisionID(time.Now()))

	a, err := s.StoreArtifact(ctx, in)
	require.NoError(t, err)

	ok, err := s.VerifyArtifactIntegrity(a.ArtifactID, in.Content)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.VerifyArtifactIntegrity(a.ArtifactID, []byte("altered"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.VerifyArtifactIntegrity("evd_missing_00000000", nil)
	assert.True(t, model.IsKind(err, model.KindNotFound))
}

func TestSignArtifactOnce(t *testing.T) {
	ctx := context.Background()
	s := newEvidenceService(t)
	a, err := s.StoreArtifact(ctx, storeInput(model.NewDecisionID(time.Now())))
	require.NoError(t, err)

	require.NoError(t, s.SignArtifact(a.ArtifactID, "key_abc", "c2ln", "ed25519"))

	got, err := s.GetArtifact(a.ArtifactID)
	require.NoError(t, err)
	require.NotNil(t, got.DigitalSignature)
	assert.Equal(t, "key_abc", got.DigitalSignature.SignerID)

	err = s.SignArtifact(a.ArtifactID, "key_abc", "c2ln", "ed25519")
	assert.True(t, model.IsKind(err, model.KindConflict), "second signature is refused")

	err = s.SignArtifact(a.ArtifactID, "", "c2ln", "ed25519")
	assert.True(t, model.IsKind(err, model.KindValidation))
}

func TestArtifactsByControl(t *testing.T) {
	ctx := context.Background()
	s := newEvidenceService(t)

	in := storeInput(model.NewDecisionID(time.Now()))
	in.RelatedControlIDs = []string{"ctl_soc2_CC6.1"}
	_, err := s.StoreArtifact(ctx, in)
	require.NoError(t, err)

	assert.Len(t, s.ArtifactsByControl("ctl_soc2_CC6.1"), 1)
	assert.Empty(t, s.ArtifactsByControl("ctl_soc2_CC7.2"))
}

func TestExportArtifactLineage(t *testing.T) {
	ctx := context.Background()
	s := newEvidenceService(t)
	decisionID := model.NewDecisionID(time.Now())

	first, err := s.StoreArtifact(ctx, storeInput(decisionID))
	require.NoError(t, err)

	in := storeInput(decisionID)
	in.Type = model.ArtifactAuditTrail
	in.Content = []byte("second")
	second, err := s.StoreArtifact(ctx, in)
	require.NoError(t, err)
	require.NoError(t, s.SignArtifact(second.ArtifactID, "key_abc", "c2ln", "ed25519"))

	lineage := s.ExportArtifactLineage(decisionID)
	require.Len(t, lineage, 2)
	assert.Equal(t, first.ArtifactID, lineage[0].ArtifactID)
	assert.False(t, lineage[0].Signed)
	assert.Equal(t, second.ArtifactID, lineage[1].ArtifactID)
	assert.True(t, lineage[1].Signed)
}
