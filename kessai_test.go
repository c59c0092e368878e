package kessai_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kessai"
	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/testutil"
)

var testPolicy = []byte(`{
	"policy_id": "pol_embed_v1",
	"version": "1.0.0",
	"mode": "strict",
	"terms": [
		{"id": "act_ai_agent:assistant", "type": "actor"},
		{"id": "axn_execute:search", "type": "action"},
		{"id": "axn_delete:records", "type": "action"}
	],
	"relations": [
		{"kind": "permits", "subject": "act_ai_agent:assistant", "action": "axn_execute:search"},
		{"kind": "forbids", "subject": "act_ai_agent:assistant", "action": "axn_delete:records"}
	]
}`)

func newApp(t *testing.T) *kessai.App {
	t.Helper()
	app, err := kessai.New(
		kessai.WithDatabasePath(":memory:"),
		kessai.WithPolicyJSON(testPolicy),
		kessai.WithLogger(testutil.TestLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

func searchRequest() kessai.DecisionRequest {
	return kessai.DecisionRequest{
		Actor:      "act_ai_agent:assistant",
		Action:     "axn_execute:search",
		Tool:       "web_search",
		UserIntent: "find documentation",
		RiskLevel:  1,
	}
}

func TestDecideAndVerify(t *testing.T) {
	ctx := context.Background()
	app := newApp(t)

	assert.NotEmpty(t, app.ActivePolicyHash())
	assert.Len(t, app.SigningKeyID(), 16)

	resp, err := app.Decide(ctx, searchRequest())
	require.NoError(t, err)
	assert.True(t, resp.Permitted())
	require.NotNil(t, resp.CapabilityToken)
	assert.True(t, resp.Signed)

	out, err := app.VerifyDecision(ctx, resp)
	require.NoError(t, err)
	assert.True(t, out.Verified)

	req := searchRequest()
	req.Action = "axn_delete:records"
	denied, err := app.Decide(ctx, req)
	require.NoError(t, err)
	assert.False(t, denied.Permitted())
	assert.Nil(t, denied.CapabilityToken)
}

func TestAssessRisk(t *testing.T) {
	ctx := context.Background()
	app := newApp(t)

	resp, err := app.Decide(ctx, searchRequest())
	require.NoError(t, err)

	sec := 40
	comp := 60
	r, esc, err := app.AssessRisk(ctx, kessai.RiskInput{
		DecisionID: resp.DecisionID,
		Dimensions: model.RiskDimensions{Security: &sec, Compliance: &comp},
	})
	require.NoError(t, err)
	assert.Equal(t, resp.DecisionID, r.DecisionID)
	assert.Equal(t, model.RiskMedium, r.RiskLevel)
	assert.Nil(t, esc, "medium risk does not escalate")
}

func TestEscalationLifecycle(t *testing.T) {
	ctx := context.Background()
	app := newApp(t)

	resp, err := app.Decide(ctx, searchRequest())
	require.NoError(t, err)

	esc, err := app.CreateEscalation(ctx, kessai.EscalationInput{
		DecisionID:  resp.DecisionID,
		Trigger:     model.TriggerPolicyConflict,
		EscalatedTo: []string{"act_human_user:oncall"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.EscalationPending, esc.Status)

	esc, err = app.AcknowledgeEscalation(ctx, esc.EscalationID, "act_human_user:oncall")
	require.NoError(t, err)
	assert.Equal(t, model.EscalationAcknowledged, esc.Status)

	esc, err = app.ResolveEscalation(ctx, esc.EscalationID, "act_human_user:oncall", "approved", "reviewed and safe")
	require.NoError(t, err)
	assert.Equal(t, model.EscalationResolved, esc.Status)

	status, err := app.CheckSLAStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Open)
}

func TestCreateOverride(t *testing.T) {
	ctx := context.Background()
	app := newApp(t)

	resp, err := app.Decide(ctx, searchRequest())
	require.NoError(t, err)

	ov, err := app.CreateOverride(ctx, kessai.OverrideInput{
		DecisionID:      resp.DecisionID,
		OverrideType:    model.OverrideRiskAccepted,
		AuthorizedBy:    "security_lead",
		Justification:   "confirmed with the data owner that the target dataset is synthetic",
		OriginalOutcome: "deny",
		NewOutcome:      "permit",
	})
	require.NoError(t, err)
	assert.Equal(t, resp.DecisionID, ov.DecisionID)
	assert.True(t, ov.Active(time.Now()))
}

func TestOversightThroughFacade(t *testing.T) {
	ctx := context.Background()
	app := newApp(t)

	iv, err := app.RecordIntervention(ctx, kessai.HumanIntervention{
		InterventionType: model.InterventionOverride,
		AIRecommendation: map[string]any{"decision": "permit"},
		AIConfidence:     0.8,
		HumanDecision:    map[string]any{"decision": "deny"},
		HumanRole:        "compliance_officer",
		Reason:           "request touches production credentials",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, iv.Signature)

	rep, err := app.GenerateEffectivenessReport(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.TotalInterventions)
}

func TestLedgerAndExport(t *testing.T) {
	ctx := context.Background()
	app := newApp(t)

	_, err := app.Decide(ctx, searchRequest())
	require.NoError(t, err)

	verification, err := app.VerifyLedger(ctx)
	require.NoError(t, err)
	assert.True(t, verification.Valid)
	assert.True(t, verification.ChainIntact)

	report, err := app.GenerateAuditReport(ctx)
	require.NoError(t, err)
	// Genesis, policy load, and the decision above.
	assert.GreaterOrEqual(t, report.TotalEntries, 3)
	assert.Equal(t, 1, report.EntriesByType["policy_load"])

	pkg, err := app.GenerateExport(ctx, kessai.ExportRequest{Format: kessai.FormatJSON})
	require.NoError(t, err)
	assert.NotEmpty(t, pkg.Checksum)
	assert.Equal(t, 1, pkg.Summary.Counts["decisions"])

	bundle, err := app.GenerateBundle(ctx, kessai.ExportRequest{Sign: true})
	require.NoError(t, err)
	assert.NotEmpty(t, bundle.Manifest.BundleHash)
	assert.NotEmpty(t, bundle.Manifest.Signature)
}
