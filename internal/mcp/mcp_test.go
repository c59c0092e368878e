package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kessai/internal/decision"
	"github.com/ashita-ai/kessai/internal/evidence"
	"github.com/ashita-ai/kessai/internal/identity"
	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/policy"
	"github.com/ashita-ai/kessai/internal/risk"
	"github.com/ashita-ai/kessai/internal/testutil"
)

const mcpTestPolicy = `{
	"policy_id": "pol_mcp_v1",
	"version": "1.0.0",
	"mode": "strict",
	"terms": [
		{"id": "act_ai_agent:assistant", "type": "actor"},
		{"id": "axn_execute:search", "type": "action"}
	],
	"relations": [
		{"kind": "permits", "subject": "act_ai_agent:assistant", "action": "axn_execute:search"}
	]
}`

func newMCPServer(t *testing.T) *Server {
	t.Helper()
	logger := testutil.TestLogger()

	engine := policy.New(logger)
	_, err := engine.LoadJSON([]byte(mcpTestPolicy))
	require.NoError(t, err)

	lg, err := ledger.Open(context.Background(), ledger.NewMemoryStore(), logger)
	require.NoError(t, err)

	signer, err := identity.NewEphemeralSigner()
	require.NoError(t, err)
	minter, err := decision.NewTokenMinter(signer, 0)
	require.NoError(t, err)

	risks, err := risk.NewService(risk.Weights{}, nil, logger)
	require.NoError(t, err)

	return New(Deps{
		Decisions: decision.NewService(engine, lg, signer, minter, nil, nil, logger),
		Ledger:    lg,
		Risks:     risks,
		Evidence:  evidence.NewService(logger),
	}, logger)
}

func toolRequest(args map[string]any) mcplib.CallToolRequest {
	req := mcplib.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the single text content from a tool result.
func resultText(t *testing.T, res *mcplib.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestHandleDecide(t *testing.T) {
	ctx := context.Background()
	s := newMCPServer(t)

	res, err := s.handleDecide(ctx, toolRequest(map[string]any{
		"actor":       "act_ai_agent:assistant",
		"action":      "axn_execute:search",
		"tool":        "web_search",
		"user_intent": "find documentation",
		"risk_level":  float64(1),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var resp model.DecisionResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &resp))
	assert.Equal(t, model.RulingPermit, resp.Decision)
	assert.NotNil(t, resp.CapabilityToken)
}

func TestHandleDecideInvalid(t *testing.T) {
	s := newMCPServer(t)
	res, err := s.handleDecide(context.Background(), toolRequest(map[string]any{
		"actor": "act_ai_agent:assistant",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "evaluation failed")
}

func TestHandleVerifyDecision(t *testing.T) {
	ctx := context.Background()
	s := newMCPServer(t)

	decideRes, err := s.handleDecide(ctx, toolRequest(map[string]any{
		"actor":       "act_ai_agent:assistant",
		"action":      "axn_execute:search",
		"tool":        "web_search",
		"user_intent": "find documentation",
		"risk_level":  float64(1),
	}))
	require.NoError(t, err)

	res, err := s.handleVerifyDecision(ctx, toolRequest(map[string]any{
		"response_json": resultText(t, decideRes),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out decision.VerifyOutcome
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.True(t, out.Verified)

	res, err = s.handleVerifyDecision(ctx, toolRequest(map[string]any{
		"response_json": "{broken",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleAssessRisk(t *testing.T) {
	s := newMCPServer(t)

	res, err := s.handleAssessRisk(context.Background(), toolRequest(map[string]any{
		"decision_id": model.NewDecisionID(time.Now()),
		"security":    float64(70),
		"compliance":  float64(50),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out struct {
		Risk model.Risk `json:"risk"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.NotZero(t, out.Risk.OverallScore)

	res, err = s.handleAssessRisk(context.Background(), toolRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestLedgerResources(t *testing.T) {
	ctx := context.Background()
	s := newMCPServer(t)

	contents, err := s.handleLedgerRecent(ctx, mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text := contents[0].(mcplib.TextResourceContents)
	assert.Contains(t, text.Text, "genesis")

	contents, err = s.handleLedgerVerification(ctx, mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text = contents[0].(mcplib.TextResourceContents)
	assert.Contains(t, text.Text, `"valid": true`)
}

func TestDecisionEvidenceResourceURI(t *testing.T) {
	s := newMCPServer(t)

	req := mcplib.ReadResourceRequest{}
	req.Params.URI = "kessai://decision/not-a-decision/evidence"
	_, err := s.handleDecisionEvidence(context.Background(), req)
	assert.Error(t, err)

	req.Params.URI = "kessai://decision/dec_01ARZ3NDEKTSV4RRFFQ69G5FAV/evidence"
	contents, err := s.handleDecisionEvidence(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text := contents[0].(mcplib.TextResourceContents)
	assert.Contains(t, text.Text, "dec_01ARZ3NDEKTSV4RRFFQ69G5FAV")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"pii", "internal"}, splitList("pii, internal"))
	assert.Equal(t, []string{"pii"}, splitList("pii,,"))
	assert.Empty(t, splitList(" , "))
}
