package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/testutil"
)

func baseDocument(mode Mode) Document {
	return Document{
		PolicyID: "pol_test_v1",
		Version:  "1.0.0",
		Mode:     mode,
		Terms: []Term{
			{ID: "act_ai_agent:any", Type: TermActor},
			{ID: "act_ai_agent:assistant", Type: TermActor, Parent: "act_ai_agent:any"},
			{ID: "axn_execute:search", Type: TermAction},
			{ID: "axn_write:update", Type: TermAction},
			{ID: "web", Type: TermResource},
			{ID: "crm", Type: TermResource},
		},
		Relations: []Relation{
			{Kind: RelationPermits, Subject: "act_ai_agent:assistant", Action: "axn_execute:search"},
			{Kind: RelationForbids, Subject: "act_ai_agent:any", Action: "axn_write:update"},
		},
	}
}

func loadedEngine(t *testing.T, doc Document) *Engine {
	t.Helper()
	e := New(testutil.TestLogger())
	_, err := e.Load(doc)
	require.NoError(t, err)
	return e
}

func evalInput() EvalInput {
	return EvalInput{
		Actor:     "act_ai_agent:assistant",
		Action:    "axn_execute:search",
		Tool:      "web",
		RiskLevel: 2,
	}
}

func TestParseDocument(t *testing.T) {
	raw := []byte(`{
		"policy_id": "pol_base_v1",
		"version": "1.2.3",
		"mode": "strict",
		"terms": [
			{"id": "act_ai_agent:assistant", "type": "actor"},
			{"id": "axn_execute:search", "type": "action"}
		],
		"relations": [
			{"kind": "permits", "subject": "act_ai_agent:assistant", "action": "axn_execute:search"}
		]
	}`)
	doc, err := ParseDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, "pol_base_v1", doc.PolicyID)
	assert.Equal(t, ModeStrict, doc.Mode)
	assert.Len(t, doc.Terms, 2)
}

func TestParseDocumentRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"bad policy id", `{"policy_id":"base","version":"1.0.0","mode":"strict","terms":[],"relations":[]}`},
		{"unknown mode", `{"policy_id":"pol_x_v1","version":"1.0.0","mode":"lenient","terms":[],"relations":[]}`},
		{"bad term type", `{"policy_id":"pol_x_v1","version":"1.0.0","mode":"strict","terms":[{"id":"a","type":"object"}],"relations":[]}`},
		{"bad version", `{"policy_id":"pol_x_v1","version":"one","mode":"strict","terms":[],"relations":[]}`},
		{"undeclared subject", `{"policy_id":"pol_x_v1","version":"1.0.0","mode":"strict","terms":[{"id":"axn_read:x","type":"action"}],"relations":[{"kind":"permits","subject":"ghost","action":"axn_read:x"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tc.raw))
			assert.True(t, model.IsKind(err, model.KindValidation), "got %v", err)
		})
	}
}

func TestValidateParentChecks(t *testing.T) {
	doc := baseDocument(ModeStrict)
	doc.Terms = append(doc.Terms, Term{ID: "act_ai_agent:intern", Type: TermActor, Parent: "nobody"})
	assert.Error(t, doc.Validate())

	doc = baseDocument(ModeStrict)
	doc.Terms = append(doc.Terms, Term{ID: "act_ai_agent:intern", Type: TermActor, Parent: "web"})
	assert.Error(t, doc.Validate(), "parent must share the term type")

	doc = baseDocument(ModeStrict)
	doc.Terms = append(doc.Terms, Term{ID: "web", Type: TermResource})
	assert.Error(t, doc.Validate(), "duplicate term id")
}

func TestHashIgnoresOrderAndMetadata(t *testing.T) {
	a := baseDocument(ModeStrict)
	h1, err := a.Hash()
	require.NoError(t, err)

	b := baseDocument(ModePermissive)
	b.PolicyID = "pol_other_v2"
	b.Version = "9.9.9"
	b.Terms = []Term{b.Terms[3], b.Terms[0], b.Terms[5], b.Terms[1], b.Terms[2], b.Terms[4]}
	b.Relations = []Relation{b.Relations[1], b.Relations[0]}
	h2, err := b.Hash()
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "hash covers sorted rules only")

	c := baseDocument(ModeStrict)
	c.Relations = c.Relations[:1]
	h3, err := c.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestEvaluateNoPolicyLoaded(t *testing.T) {
	e := New(testutil.TestLogger())
	_, err := e.Evaluate(context.Background(), evalInput())
	assert.True(t, model.IsKind(err, model.KindConfiguration))
	assert.Empty(t, e.PolicyHash())
	assert.Nil(t, e.ActiveDocument())
}

func TestEvaluateStrictMode(t *testing.T) {
	ctx := context.Background()
	e := loadedEngine(t, baseDocument(ModeStrict))

	v, err := e.Evaluate(ctx, evalInput())
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.InDelta(t, 0.95, v.Confidence, 1e-9)
	assert.Equal(t, e.PolicyHash(), v.PolicyHash)

	// No matching permit denies with default confidence.
	in := evalInput()
	in.Action = "axn_write:update"
	in.Actor = "act_ai_agent:any"
	v, err = e.Evaluate(ctx, in)
	require.NoError(t, err)
	assert.False(t, v.Allowed)

	// Undeclared term denies outright.
	in = evalInput()
	in.Actor = "act_ai_agent:stranger"
	v, err = e.Evaluate(ctx, in)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "not declared")
}

func TestEvaluatePermissiveMode(t *testing.T) {
	ctx := context.Background()
	e := loadedEngine(t, baseDocument(ModePermissive))

	// Unknown terms allow with reduced confidence.
	in := evalInput()
	in.Actor = "act_ai_agent:stranger"
	v, err := e.Evaluate(ctx, in)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.InDelta(t, 0.70, v.Confidence, 1e-9)

	// A forbids still denies.
	in = evalInput()
	in.Action = "axn_write:update"
	v, err = e.Evaluate(ctx, in)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "forbids")
}

func TestForbidInheritsThroughParent(t *testing.T) {
	// The forbid targets act_ai_agent:any; the child assistant inherits it.
	e := loadedEngine(t, baseDocument(ModeStrict))
	in := evalInput()
	in.Action = "axn_write:update"
	v, err := e.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "denied by")
}

func TestSpecificPermitBeatsGeneralForbid(t *testing.T) {
	doc := baseDocument(ModeStrict)
	doc.Relations = append(doc.Relations, Relation{
		Kind: RelationPermits, Subject: "act_ai_agent:assistant", Action: "axn_write:update", Object: "crm",
	})
	e := loadedEngine(t, doc)

	in := evalInput()
	in.Action = "axn_write:update"
	in.Tool = "crm"
	v, err := e.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, v.Allowed, "object-qualified permit outranks the general forbid")

	// Same actor, different tool: the general forbid applies again.
	in.Tool = "web"
	v, err = e.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
}

func TestForbidWinsAtEqualSpecificity(t *testing.T) {
	doc := baseDocument(ModeStrict)
	doc.Relations = append(doc.Relations,
		Relation{Kind: RelationForbids, Subject: "act_ai_agent:assistant", Action: "axn_execute:search"},
	)
	e := loadedEngine(t, doc)

	v, err := e.Evaluate(context.Background(), evalInput())
	require.NoError(t, err)
	assert.False(t, v.Allowed)
}

func TestParanoidRequiresAndCeiling(t *testing.T) {
	ctx := context.Background()
	doc := baseDocument(ModeParanoid)
	doc.Relations = append(doc.Relations, Relation{
		Kind:    RelationRequires,
		Subject: "act_ai_agent:assistant",
		Action:  "axn_execute:search",
		Conditions: &Conditions{
			DataClasses:  []string{"public"},
			MaxRiskLevel: 2,
		},
	})
	e := loadedEngine(t, doc)

	// Requires unsatisfied: data class not declared.
	v, err := e.Evaluate(ctx, evalInput())
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "unsatisfied")

	// Satisfied requires with acceptable risk.
	in := evalInput()
	in.DataClasses = []string{"public"}
	v, err = e.Evaluate(ctx, in)
	require.NoError(t, err)
	assert.True(t, v.Allowed)

	// Condition risk cap.
	in.RiskLevel = 3
	v, err = e.Evaluate(ctx, in)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
}

func TestParanoidDefaultRiskCeiling(t *testing.T) {
	e := loadedEngine(t, baseDocument(ModeParanoid))
	in := evalInput()
	in.RiskLevel = 4
	v, err := e.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "ceiling")
}

func TestLoadSwapsSnapshot(t *testing.T) {
	ctx := context.Background()
	e := loadedEngine(t, baseDocument(ModeStrict))
	firstHash := e.PolicyHash()

	next := baseDocument(ModeStrict)
	next.Relations = next.Relations[:1]
	res, err := e.Load(next)
	require.NoError(t, err)
	assert.NotEqual(t, firstHash, res.PolicyHash)
	assert.Equal(t, res.PolicyHash, e.PolicyHash())
	assert.Equal(t, 6, res.TermsLoaded)
	assert.Equal(t, 1, res.RelationsLoaded)

	// With the forbid gone, the previously denied write falls back to
	// no-permit denial in strict mode.
	in := evalInput()
	in.Action = "axn_write:update"
	v, err := e.Evaluate(ctx, in)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "no permits")
}
