package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kessai/internal/export"
	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/risk"
)

func (s *Server) registerTools() {
	// kessai_decide — submit a tool-call intent for evaluation.
	s.mcpServer.AddTool(
		mcplib.NewTool("kessai_decide",
			mcplib.WithDescription("Evaluate a tool-call intent against the active policy; returns permit/deny with a scoped capability token on permit"),
			mcplib.WithString("actor", mcplib.Description("Actor identifier, e.g. act_ai_agent:assistant"), mcplib.Required()),
			mcplib.WithString("action", mcplib.Description("Action identifier, e.g. axn_execute:search"), mcplib.Required()),
			mcplib.WithString("tool", mcplib.Description("Tool name the actor intends to call"), mcplib.Required()),
			mcplib.WithString("user_intent", mcplib.Description("What the end user is trying to achieve"), mcplib.Required()),
			mcplib.WithNumber("risk_level", mcplib.Description("Declared risk level 1-5"), mcplib.Required()),
			mcplib.WithString("data_classes", mcplib.Description("Comma-separated data classes touched, e.g. pii,internal")),
			mcplib.WithString("resource", mcplib.Description("Resource identifier, e.g. res_internal:crm")),
		),
		s.handleDecide,
	)

	// kessai_verify_decision — re-verify a decision against the ledger.
	s.mcpServer.AddTool(
		mcplib.NewTool("kessai_verify_decision",
			mcplib.WithDescription("Verify a previously returned decision: ledger entry presence and signature validity"),
			mcplib.WithString("response_json", mcplib.Description("The full DecisionResponse JSON to verify"), mcplib.Required()),
		),
		s.handleVerifyDecision,
	)

	// kessai_assess_risk — file a dimensional risk assessment.
	s.mcpServer.AddTool(
		mcplib.NewTool("kessai_assess_risk",
			mcplib.WithDescription("Assess a decision across weighted risk dimensions (0-100 each); auto-escalates critical outcomes"),
			mcplib.WithString("decision_id", mcplib.Description("Decision to assess"), mcplib.Required()),
			mcplib.WithNumber("security", mcplib.Description("Security dimension 0-100")),
			mcplib.WithNumber("privacy", mcplib.Description("Privacy dimension 0-100")),
			mcplib.WithNumber("compliance", mcplib.Description("Compliance dimension 0-100")),
			mcplib.WithNumber("operational", mcplib.Description("Operational dimension 0-100")),
			mcplib.WithNumber("reputational", mcplib.Description("Reputational dimension 0-100")),
			mcplib.WithNumber("financial", mcplib.Description("Financial dimension 0-100")),
		),
		s.handleAssessRisk,
	)

	// kessai_export — generate an audit export package.
	s.mcpServer.AddTool(
		mcplib.NewTool("kessai_export",
			mcplib.WithDescription("Generate an audit export package over all governance records"),
			mcplib.WithString("format", mcplib.Description("Output format: json, csv, markdown, or html")),
		),
		s.handleExport,
	)
}

func (s *Server) handleDecide(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.DecisionRequest{
		Actor:      request.GetString("actor", ""),
		Action:     request.GetString("action", ""),
		Tool:       request.GetString("tool", ""),
		UserIntent: request.GetString("user_intent", ""),
		RiskLevel:  request.GetInt("risk_level", 0),
		Resource:   request.GetString("resource", ""),
	}
	if dcs := request.GetString("data_classes", ""); dcs != "" {
		req.DataClasses = splitList(dcs)
	}

	resp, err := s.deps.Decisions.EvaluateRequest(ctx, req)
	if err != nil {
		return errorResult(fmt.Sprintf("evaluation failed: %v", err)), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleVerifyDecision(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw := request.GetString("response_json", "")
	if raw == "" {
		return errorResult("response_json is required"), nil
	}
	var resp model.DecisionResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return errorResult(fmt.Sprintf("invalid response_json: %v", err)), nil
	}
	outcome, err := s.deps.Decisions.VerifyDecision(ctx, resp)
	if err != nil {
		return errorResult(fmt.Sprintf("verification failed: %v", err)), nil
	}
	return jsonResult(outcome)
}

func (s *Server) handleAssessRisk(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	decisionID := request.GetString("decision_id", "")
	if decisionID == "" {
		return errorResult("decision_id is required"), nil
	}
	in := risk.AssessInput{DecisionID: decisionID}
	dim := func(name string) *int {
		if v := request.GetFloat(name, -1); v >= 0 {
			n := int(v)
			return &n
		}
		return nil
	}
	in.Dimensions = model.RiskDimensions{
		Security:     dim("security"),
		Privacy:      dim("privacy"),
		Compliance:   dim("compliance"),
		Operational:  dim("operational"),
		Reputational: dim("reputational"),
		Financial:    dim("financial"),
	}

	r, err := s.deps.Risks.AssessRisk(ctx, in)
	if err != nil {
		return errorResult(fmt.Sprintf("assessment failed: %v", err)), nil
	}

	var esc *model.Escalation
	if s.deps.Escalations != nil {
		esc, err = s.deps.Escalations.AutoEscalateForRisk(ctx, r)
		if err != nil {
			s.logger.Warn("mcp: auto-escalation failed", "decision_id", decisionID, "error", err)
		}
	}
	return jsonResult(map[string]any{"risk": r, "escalation": esc})
}

func (s *Server) handleExport(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	format := export.Format(request.GetString("format", string(export.FormatJSON)))
	pkg, err := s.deps.Exports.GenerateExport(ctx, export.Request{Format: format})
	if err != nil {
		return errorResult(fmt.Sprintf("export failed: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(pkg.Content)},
		},
	}, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
