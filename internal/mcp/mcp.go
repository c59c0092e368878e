// Package mcp implements the Model Context Protocol surface of the gateway.
//
// Model adapters connect over MCP and submit tool-call intents for
// evaluation; the same surface exposes the audit ledger and evidence chain
// as resources so agents can inspect the record they are writing into.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kessai/internal/decision"
	"github.com/ashita-ai/kessai/internal/escalation"
	"github.com/ashita-ai/kessai/internal/evidence"
	"github.com/ashita-ai/kessai/internal/export"
	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/risk"
)

// Deps are the gateway services the MCP surface fronts.
type Deps struct {
	Decisions   *decision.Service
	Ledger      *ledger.Ledger
	Risks       *risk.Service
	Escalations *escalation.Service
	Evidence    *evidence.Service
	Exports     *export.Service
}

// Server wraps the MCP server with the gateway's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	deps      Deps
	logger    *slog.Logger
}

// New creates and configures an MCP server with all resources and tools.
func New(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{deps: deps, logger: logger}

	s.mcpServer = mcpserver.NewMCPServer(
		"kessai",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// kessai://ledger/recent — the most recent audit ledger entries.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kessai://ledger/recent",
			"Recent Ledger Entries",
			mcplib.WithResourceDescription("Most recent entries of the tamper-evident audit ledger"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleLedgerRecent,
	)

	// kessai://ledger/verification — a fresh chain verification result.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kessai://ledger/verification",
			"Ledger Verification",
			mcplib.WithResourceDescription("Full-chain integrity verification of the audit ledger"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleLedgerVerification,
	)

	// kessai://decision/{id}/evidence — evidence lineage for a decision.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"kessai://decision/{id}/evidence",
			"Decision Evidence",
			mcplib.WithTemplateDescription("Evidence artifact lineage for a specific decision"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleDecisionEvidence,
	)
}

func (s *Server) handleLedgerRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	count, err := s.deps.Ledger.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: ledger count: %w", err)
	}
	offset := 0
	if count > 20 {
		offset = int(count) - 20
	}
	entries, err := s.deps.Ledger.Entries(ctx, 20, offset)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent entries: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal entries: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "kessai://ledger/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleLedgerVerification(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	result, err := s.deps.Ledger.VerifyIntegrity(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: verify ledger: %w", err)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal verification: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "kessai://ledger/verification",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleDecisionEvidence(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	rest, okPrefix := strings.CutPrefix(uri, "kessai://decision/")
	decisionID, okSuffix := strings.CutSuffix(rest, "/evidence")
	if !okPrefix || !okSuffix || decisionID == "" {
		return nil, fmt.Errorf("mcp: invalid decision evidence URI: %s", uri)
	}
	if err := model.ValidateDecisionID(decisionID); err != nil {
		return nil, fmt.Errorf("mcp: %w", err)
	}

	lineage := s.deps.Evidence.ExportArtifactLineage(decisionID)
	data, err := json.MarshalIndent(map[string]any{
		"decision_id": decisionID,
		"lineage":     lineage,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal lineage: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
