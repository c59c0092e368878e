package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kessai/internal/canonical"
	"github.com/ashita-ai/kessai/internal/escalation"
	"github.com/ashita-ai/kessai/internal/evidence"
	"github.com/ashita-ai/kessai/internal/identity"
	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/policy"
	"github.com/ashita-ai/kessai/internal/risk"
	"github.com/ashita-ai/kessai/internal/testutil"
)

// newExportService wires an aggregator with one record in most scopes.
func newExportService(t *testing.T) (*Service, string) {
	t.Helper()
	ctx := context.Background()
	logger := testutil.TestLogger()

	lg, err := ledger.Open(ctx, ledger.NewMemoryStore(), logger)
	require.NoError(t, err)
	decisionID := model.NewDecisionID(time.Now())
	_, err = lg.Append(ctx, "decision", map[string]any{
		"decision_id": decisionID,
		"decision":    "permit",
	})
	require.NoError(t, err)

	engine := policy.New(logger)
	_, err = engine.Load(policy.Document{
		PolicyID: "pol_export_v1",
		Version:  "1.0.0",
		Mode:     policy.ModeStrict,
		Terms: []policy.Term{
			{ID: "act_ai_agent:assistant", Type: policy.TermActor},
			{ID: "axn_execute:search", Type: policy.TermAction},
		},
		Relations: []policy.Relation{
			{Kind: policy.RelationPermits, Subject: "act_ai_agent:assistant", Action: "axn_execute:search"},
		},
	})
	require.NoError(t, err)

	risks, err := risk.NewService(risk.Weights{}, nil, logger)
	require.NoError(t, err)
	sec := 70
	_, err = risks.AssessRisk(ctx, risk.AssessInput{
		DecisionID: decisionID,
		Dimensions: model.RiskDimensions{Security: &sec},
	})
	require.NoError(t, err)

	escStore := escalation.NewMemoryStore()
	escs := escalation.NewService(escStore, nil, nil, escalation.Config{}, logger)
	_, err = escs.CreateEscalation(ctx, escalation.CreateInput{
		DecisionID:  decisionID,
		Trigger:     model.TriggerRiskThreshold,
		EscalatedTo: []string{"act_human_user:oncall"},
	})
	require.NoError(t, err)

	ev := evidence.NewService(logger)
	_, err = ev.StoreArtifact(ctx, evidence.StoreInput{
		Type:               model.ArtifactAttestation,
		Content:            []byte("attested"),
		Source:             "test",
		RelatedDecisionIDs: []string{decisionID},
		RelatedControlIDs:  []string{"ctl_soc2_CC6.1", "ctl_iso27001_A.9.4"},
	})
	require.NoError(t, err)

	signer, err := identity.NewEphemeralSigner()
	require.NoError(t, err)

	svc := NewService(lg, engine, risks, escStore, nil, ev, nil, nil, signer, logger)
	return svc, decisionID
}

func TestGenerateExportJSON(t *testing.T) {
	ctx := context.Background()
	svc, decisionID := newExportService(t)

	pkg, err := svc.GenerateExport(ctx, Request{Format: FormatJSON})
	require.NoError(t, err)

	assert.Contains(t, pkg.ExportID, "exp_")
	assert.Equal(t, canonical.HashBytes(pkg.Content), pkg.Checksum)
	assert.EqualValues(t, len(pkg.Content), pkg.SizeBytes)
	assert.Equal(t, 1, pkg.Summary.Counts[ScopeDecisions])
	assert.Equal(t, 1, pkg.Summary.Counts[ScopeRisks])
	assert.Equal(t, 1, pkg.Summary.Counts[ScopeEscalations])
	assert.Equal(t, 1, pkg.Summary.Counts[ScopeEvidence])
	assert.Equal(t, 4, pkg.RecordCount)
	assert.Equal(t, 1, pkg.Summary.FrameworkCoverage["soc2"])
	assert.Equal(t, 1, pkg.Summary.FrameworkCoverage["iso27001"])
	assert.Empty(t, pkg.Signature, "unsigned unless requested")

	var doc map[string]any
	require.NoError(t, json.Unmarshal(pkg.Content, &doc))
	assert.Contains(t, string(pkg.Content), decisionID)
}

func TestGenerateExportSigned(t *testing.T) {
	svc, _ := newExportService(t)
	pkg, err := svc.GenerateExport(context.Background(), Request{Format: FormatJSON, Sign: true})
	require.NoError(t, err)
	assert.NotEmpty(t, pkg.Signature)
	assert.Len(t, pkg.SigningKeyID, 16)
}

func TestGenerateExportScopesAndRange(t *testing.T) {
	ctx := context.Background()
	svc, _ := newExportService(t)

	pkg, err := svc.GenerateExport(ctx, Request{Format: FormatJSON, Scopes: []Scope{ScopeRisks}})
	require.NoError(t, err)
	assert.Equal(t, 1, pkg.RecordCount)
	assert.Zero(t, pkg.Summary.Counts[ScopeDecisions])

	// A window entirely in the past matches nothing.
	start := time.Now().Add(-2 * time.Hour)
	end := time.Now().Add(-time.Hour)
	pkg, err = svc.GenerateExport(ctx, Request{Format: FormatJSON, StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	assert.Zero(t, pkg.RecordCount)

	_, err = svc.GenerateExport(ctx, Request{Format: FormatJSON, StartDate: &end, EndDate: &start})
	assert.True(t, model.IsKind(err, model.KindValidation), "end before start")

	_, err = svc.GenerateExport(ctx, Request{Format: "yaml"})
	assert.True(t, model.IsKind(err, model.KindValidation))
}

func TestGenerateExportRenderings(t *testing.T) {
	ctx := context.Background()
	svc, _ := newExportService(t)

	csvPkg, err := svc.GenerateExport(ctx, Request{Format: FormatCSV})
	require.NoError(t, err)
	assert.Contains(t, string(csvPkg.Content), "# decisions")
	assert.Contains(t, string(csvPkg.Content), "decision_id,request_id,decision")

	mdPkg, err := svc.GenerateExport(ctx, Request{Format: FormatMarkdown})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(mdPkg.Content), "# Audit Export"))
	assert.Contains(t, string(mdPkg.Content), "## Risk Assessments")

	htmlPkg, err := svc.GenerateExport(ctx, Request{Format: FormatHTML})
	require.NoError(t, err)
	assert.Contains(t, string(htmlPkg.Content), "<html")
}

func TestBundleHashOrderIndependent(t *testing.T) {
	a := canonical.HashString("a")
	b := canonical.HashString("b")
	assert.Equal(t, BundleHash([]string{a, b}), BundleHash([]string{b, a}))
}

func TestGenerateBundle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newExportService(t)

	bundle, err := svc.GenerateBundle(ctx, Request{Sign: true})
	require.NoError(t, err)
	assert.Contains(t, bundle.BundleID, "bnd_")
	assert.NotEmpty(t, bundle.Manifest.Signature)
	require.Len(t, bundle.Manifest.Files, 4)

	zr, err := zip.NewReader(bytes.NewReader(bundle.Content), int64(len(bundle.Content)))
	require.NoError(t, err)

	got := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		got[f.Name] = data
	}
	require.Len(t, got, 5, "four payload files plus the manifest")

	// Per-file hashes in the manifest match the archive contents, and the
	// bundle hash recomputes from them.
	var hashes []string
	for _, mf := range bundle.Manifest.Files {
		content, ok := got[mf.Path]
		require.True(t, ok, "manifest names %s", mf.Path)
		assert.Equal(t, canonical.HashBytes(content), mf.SHA256)
		hashes = append(hashes, mf.SHA256)
	}
	assert.Equal(t, BundleHash(hashes), bundle.Manifest.BundleHash)

	var manifest Manifest
	require.NoError(t, json.Unmarshal(got["manifest.json"], &manifest))
	assert.Equal(t, bundle.Manifest.BundleHash, manifest.BundleHash)

	// The verification report inside the bundle says the chain is intact.
	var report ledger.AuditReport
	require.NoError(t, json.Unmarshal(got["verification_report.json"], &report))
	assert.True(t, report.Verification.Valid)
}
