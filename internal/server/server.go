// Package server implements the HTTP surface of the governance gateway.
//
// The MCP transport is mounted at /mcp; the remaining routes expose the
// operations model adapters don't need but operators do: escalation
// handling, overrides, intervention logging, retention, and audit export.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kessai/internal/decision"
	"github.com/ashita-ai/kessai/internal/escalation"
	"github.com/ashita-ai/kessai/internal/export"
	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/oversight"
	"github.com/ashita-ai/kessai/internal/override"
	"github.com/ashita-ai/kessai/internal/policy"
	"github.com/ashita-ai/kessai/internal/ratelimit"
	"github.com/ashita-ai/kessai/internal/retention"
	"github.com/ashita-ai/kessai/internal/risk"
)

// Server is the Kessai HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds all dependencies and settings for creating a Server.
// Optional fields (nil-safe): Limiter, MCPServer, Retention, Oversight.
type Config struct {
	// Required dependencies.
	Decisions   *decision.Service
	Ledger      *ledger.Ledger
	Engine      *policy.Engine
	Risks       *risk.Service
	Escalations *escalation.Service
	Overrides   *override.Service
	Exports     *export.Service
	Logger      *slog.Logger

	// Optional dependencies (nil = disabled).
	Oversight *oversight.Service
	Retention *retention.Service
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
	CORSOrigins  []string
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := &handlers{
		decisions:   cfg.Decisions,
		ledger:      cfg.Ledger,
		engine:      cfg.Engine,
		risks:       cfg.Risks,
		escalations: cfg.Escalations,
		overrides:   cfg.Overrides,
		exports:     cfg.Exports,
		oversight:   cfg.Oversight,
		retention:   cfg.Retention,
		logger:      cfg.Logger,
		version:     cfg.Version,
	}

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Rate limit rules. Decisions carry the hot path; everything else is
	// operator traffic.
	decideRL := ratelimit.Middleware(cfg.Limiter, ratelimit.RuleDecide, ratelimit.IPKeyFunc, reqIDFunc)
	opsRL := ratelimit.Middleware(cfg.Limiter, ratelimit.RuleOps, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Decision pipeline.
	mux.Handle("POST /v1/decide", decideRL(http.HandlerFunc(h.handleDecide)))
	mux.Handle("POST /v1/decisions/verify", opsRL(http.HandlerFunc(h.handleVerifyDecision)))

	// Ledger inspection.
	mux.Handle("GET /v1/ledger/verify", opsRL(http.HandlerFunc(h.handleLedgerVerify)))
	mux.Handle("GET /v1/ledger/entries", opsRL(http.HandlerFunc(h.handleLedgerEntries)))
	mux.Handle("GET /v1/ledger/report", opsRL(http.HandlerFunc(h.handleAuditReport)))

	// Policy.
	mux.Handle("POST /v1/policy", opsRL(http.HandlerFunc(h.handleLoadPolicy)))
	mux.Handle("GET /v1/policy", opsRL(http.HandlerFunc(h.handleGetPolicy)))

	// Risk.
	mux.Handle("POST /v1/risk", opsRL(http.HandlerFunc(h.handleAssessRisk)))
	mux.Handle("GET /v1/risk/{decision_id}", opsRL(http.HandlerFunc(h.handleGetRisk)))

	// Escalations.
	mux.Handle("POST /v1/escalations", opsRL(http.HandlerFunc(h.handleCreateEscalation)))
	mux.Handle("POST /v1/escalations/{id}/acknowledge", opsRL(http.HandlerFunc(h.handleAcknowledgeEscalation)))
	mux.Handle("POST /v1/escalations/{id}/resolve", opsRL(http.HandlerFunc(h.handleResolveEscalation)))
	mux.Handle("GET /v1/escalations/sla", opsRL(http.HandlerFunc(h.handleSLAStatus)))

	// Overrides.
	mux.Handle("POST /v1/overrides", opsRL(http.HandlerFunc(h.handleCreateOverride)))
	mux.Handle("GET /v1/decisions/{id}/overrides", opsRL(http.HandlerFunc(h.handleOverridesByDecision)))

	// Oversight.
	mux.Handle("POST /v1/interventions", opsRL(http.HandlerFunc(h.handleRecordIntervention)))
	mux.Handle("GET /v1/oversight/effectiveness", opsRL(http.HandlerFunc(h.handleEffectiveness)))

	// Retention.
	mux.Handle("GET /v1/retention/report", opsRL(http.HandlerFunc(h.handleRetentionReport)))
	mux.Handle("GET /v1/retention/package", opsRL(http.HandlerFunc(h.handleRegulatorPackage)))
	mux.Handle("POST /v1/retention/holds", opsRL(http.HandlerFunc(h.handleApplyHold)))
	mux.Handle("DELETE /v1/retention/holds/{id}", opsRL(http.HandlerFunc(h.handleReleaseHold)))

	// Audit export.
	mux.Handle("GET /v1/export", opsRL(http.HandlerFunc(h.handleExport)))
	mux.Handle("GET /v1/export/bundle", opsRL(http.HandlerFunc(h.handleExportBundle)))

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
