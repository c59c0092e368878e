// Package kessai is the public API for embedding the Kessai governance
// gateway.
//
// Consumers construct an App, optionally run its HTTP/MCP surface, and call
// governance operations directly:
//
//	app, err := kessai.New(
//	    kessai.WithDatabasePath(":memory:"),
//	    kessai.WithPolicyJSON(policyDoc),
//	)
//	if err != nil { ... }
//	defer app.Close()
//
//	resp, err := app.Decide(ctx, kessai.DecisionRequest{...})
//
// The import graph enforces a strict no-cycle rule: kessai (root) imports
// internal/*, but internal/* never imports kessai (root).
package kessai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kessai/internal/config"
	"github.com/ashita-ai/kessai/internal/decision"
	"github.com/ashita-ai/kessai/internal/escalation"
	"github.com/ashita-ai/kessai/internal/evidence"
	"github.com/ashita-ai/kessai/internal/export"
	"github.com/ashita-ai/kessai/internal/identity"
	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/mcp"
	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/oversight"
	"github.com/ashita-ai/kessai/internal/override"
	"github.com/ashita-ai/kessai/internal/policy"
	"github.com/ashita-ai/kessai/internal/ratelimit"
	"github.com/ashita-ai/kessai/internal/responsibility"
	"github.com/ashita-ai/kessai/internal/retention"
	"github.com/ashita-ai/kessai/internal/risk"
	"github.com/ashita-ai/kessai/internal/server"
	"github.com/ashita-ai/kessai/internal/storage"
	"github.com/ashita-ai/kessai/internal/telemetry"
)

// App is the gateway lifecycle. Construct with New(), optionally serve with
// Run(), tear down with Close(). App has no public fields — use New()
// options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	pg           *storage.PG // nil without a Postgres DSN
	ledger       *ledger.Ledger
	engine       *policy.Engine
	signer       *identity.Signer
	ev           *evidence.Service
	risks        *risk.Service
	bus          *escalation.Bus
	escalations  *escalation.Service
	overrides    *override.Service
	tracker      *responsibility.Tracker
	oversight    *oversight.Service
	retention    *retention.Service
	decisions    *decision.Service
	exports      *export.Service
	srv          *server.Server
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	sinks        []NotificationSink
	logger       *slog.Logger
	version      string
}

// New initialises the gateway. It opens storage, loads the signing identity
// and policy, and wires all subsystems. It does NOT start any goroutines or
// accept HTTP connections — call Run() for that, or use the operation
// methods directly.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databasePath != "" {
		cfg.DatabasePath = o.databasePath
	}
	if o.postgresURL != "" {
		cfg.PostgresURL = o.postgresURL
	}
	if o.tokenTTL != 0 {
		cfg.TokenTTL = o.tokenTTL
	}
	if o.signingKeyPath != "" {
		cfg.SigningPrivateKeyPath = o.signingKeyPath
		cfg.SigningPublicKeyPath = o.publicKeyPath
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	ctx := context.Background()

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
		SampleRatio: cfg.TraceSamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	app := &App{
		cfg:          cfg,
		otelShutdown: otelShutdown,
		sinks:        o.sinks,
		logger:       logger,
		version:      version,
	}

	if err := app.wire(ctx, o); err != nil {
		app.teardown()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context, o resolvedOptions) error {
	db, err := storage.Open(ctx, a.cfg.DatabasePath, a.logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.db = db

	var ledgerStore ledger.Store = db.LedgerStore()
	if a.cfg.PostgresURL != "" {
		pg, err := storage.OpenPostgres(ctx, a.cfg.PostgresURL, a.logger)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		a.pg = pg
		ledgerStore = pg.LedgerStore()
	}

	if a.cfg.SigningPrivateKeyPath != "" {
		a.signer, err = identity.NewSigner(a.cfg.SigningPrivateKeyPath, a.cfg.SigningPublicKeyPath)
	} else {
		a.signer, err = identity.NewEphemeralSigner()
	}
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	a.ledger, err = ledger.Open(ctx, ledgerStore, a.logger)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	a.engine = policy.New(a.logger)
	policyJSON := o.policyJSON
	if policyJSON == nil && a.cfg.PolicyPath != "" {
		policyJSON, err = os.ReadFile(a.cfg.PolicyPath)
		if err != nil {
			return fmt.Errorf("read policy: %w", err)
		}
	}
	if policyJSON != nil {
		if _, err := a.LoadPolicy(ctx, policyJSON); err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
	}

	a.ev = evidence.NewService(a.logger)
	a.risks, err = risk.NewService(risk.Weights{}, a.ev, a.logger)
	if err != nil {
		return fmt.Errorf("risk: %w", err)
	}

	a.bus = escalation.NewBus(a.cfg.NotificationBuffer, a.logger)
	escStore := escalation.NewMemoryStore()
	a.escalations = escalation.NewService(escStore, a.bus, a.ev, escalation.Config{
		WarningWindow:     a.cfg.SLAWarningWindow,
		DefaultRecipients: a.cfg.EscalationRecipients,
	}, a.logger)

	a.overrides = override.NewService(override.Config{
		AuthorizedRoles: a.cfg.AuthorizedRoles,
		ExecutiveRoles:  a.cfg.ExecutiveRoles,
	}, a.ev, a.logger)

	a.tracker = responsibility.NewTracker(db.ResponsibilityStore(), a.ledger, a.logger)
	a.oversight = oversight.NewService(db.InterventionStore(), a.signer, a.ledger, a.logger)
	a.retention = retention.NewService(a.ledger, a.logger)

	minter, err := decision.NewTokenMinter(a.signer, a.cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("token minter: %w", err)
	}
	a.decisions = decision.NewService(a.engine, a.ledger, a.signer, minter, a.tracker, a.ev, a.logger)
	a.exports = export.NewService(a.ledger, a.engine, a.risks, escStore, a.overrides,
		a.ev, a.tracker, a.oversight, a.signer, a.logger)

	mcpSrv := mcp.New(mcp.Deps{
		Decisions:   a.decisions,
		Ledger:      a.ledger,
		Risks:       a.risks,
		Escalations: a.escalations,
		Evidence:    a.ev,
		Exports:     a.exports,
	}, a.logger)

	if a.cfg.RateLimitEnabled {
		a.limiter = ratelimit.NewMemoryLimiter(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst)
	} else {
		a.limiter = ratelimit.NoopLimiter{}
	}

	a.srv = server.New(server.Config{
		Decisions:    a.decisions,
		Ledger:       a.ledger,
		Engine:       a.engine,
		Risks:        a.risks,
		Escalations:  a.escalations,
		Overrides:    a.overrides,
		Exports:      a.exports,
		Oversight:    a.oversight,
		Retention:    a.retention,
		Limiter:      a.limiter,
		MCPServer:    mcpSrv.MCPServer(),
		Logger:       a.logger,
		Port:         a.cfg.Port,
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
		Version:      a.version,
		CORSOrigins:  a.cfg.CORSOrigins,
	})

	return nil
}

// Run starts the background loops and the HTTP server, then blocks until ctx
// is canceled or the server fails. It always tears the App down before
// returning; do not reuse the App afterwards.
func (a *App) Run(ctx context.Context) error {
	defer a.teardown()

	a.logger.Info("kessai starting", "version", a.version, "port", a.cfg.Port)

	go a.escalations.RunSweeper(ctx, a.cfg.SLASweepInterval)
	go a.integrityProofLoop(ctx)
	go a.dispatchNotifications(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	a.logger.Info("kessai shutting down")
	httpCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	return nil
}

// Close releases storage handles and flushes telemetry. Use it when the App
// was constructed without Run (embedded usage).
func (a *App) Close() {
	a.teardown()
}

func (a *App) teardown() {
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
}

// Handler returns the root HTTP handler for use in tests or custom servers.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// SigningKeyID returns the identifier of the active Ed25519 public key.
func (a *App) SigningKeyID() string {
	return a.signer.PublicKeyID()
}

func (a *App) integrityProofLoop(ctx context.Context) {
	if a.cfg.IntegrityProofInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.IntegrityProofInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.ledger.AppendIntegrityProof(ctx); err != nil {
				a.logger.Error("integrity proof failed", "error", err)
			}
		}
	}
}

func (a *App) dispatchNotifications(ctx context.Context) {
	ch := a.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			for _, sink := range a.sinks {
				if err := sink.Deliver(ctx, n); err != nil {
					a.logger.Warn("notification sink failed", "type", n.Type, "error", err)
				}
			}
		}
	}
}

// --- Governance operations ---

// Decide evaluates one tool-call intent and returns the signed ruling.
func (a *App) Decide(ctx context.Context, req DecisionRequest) (DecisionResponse, error) {
	return a.decisions.EvaluateRequest(ctx, req)
}

// VerifyDecision re-verifies a previously returned decision against the
// ledger and its signature.
func (a *App) VerifyDecision(ctx context.Context, resp DecisionResponse) (VerifyOutcome, error) {
	return a.decisions.VerifyDecision(ctx, resp)
}

// LoadPolicy validates, activates, and ledgers a policy document.
func (a *App) LoadPolicy(ctx context.Context, raw []byte) (PolicyLoadResult, error) {
	result, err := a.engine.LoadJSON(raw)
	if err != nil {
		return PolicyLoadResult{}, err
	}
	if _, err := a.ledger.Append(ctx, "policy_load", map[string]any{
		"policy_hash": result.PolicyHash,
		"terms":       result.TermsLoaded,
		"relations":   result.RelationsLoaded,
	}); err != nil {
		a.logger.Warn("policy load ledger append failed", "error", err)
	}
	return result, nil
}

// ActivePolicyHash returns the hash of the loaded policy, or "" when none
// is loaded.
func (a *App) ActivePolicyHash() string {
	return a.engine.PolicyHash()
}

// AssessRisk files the dimensional risk assessment for a decision and
// auto-escalates critical outcomes.
func (a *App) AssessRisk(ctx context.Context, in RiskInput) (Risk, *Escalation, error) {
	r, err := a.risks.AssessRisk(ctx, in)
	if err != nil {
		return Risk{}, nil, err
	}
	esc, err := a.escalations.AutoEscalateForRisk(ctx, r)
	if err != nil {
		a.logger.Warn("auto-escalation failed", "decision_id", in.DecisionID, "error", err)
		return r, nil, nil
	}
	return r, esc, nil
}

// CreateEscalation opens a human review request with an SLA deadline.
func (a *App) CreateEscalation(ctx context.Context, in EscalationInput) (Escalation, error) {
	return a.escalations.CreateEscalation(ctx, in)
}

// AcknowledgeEscalation marks a pending escalation as acknowledged by a
// recipient.
func (a *App) AcknowledgeEscalation(ctx context.Context, escalationID, actor string) (Escalation, error) {
	return a.escalations.AcknowledgeEscalation(ctx, escalationID, actor)
}

// ResolveEscalation closes an escalation with an outcome.
func (a *App) ResolveEscalation(ctx context.Context, escalationID, actor, outcome, notes string) (Escalation, error) {
	return a.escalations.ResolveEscalation(ctx, escalationID, actor, model.ResolutionOutcome(outcome), notes)
}

// CheckSLAStatus sweeps open escalations once, expiring and warning as
// deadlines approach.
func (a *App) CheckSLAStatus(ctx context.Context) (SLAStatus, error) {
	return a.escalations.CheckSLAStatus(ctx, time.Now().UTC())
}

// CreateOverride records an authorized human reversal of a ruling.
func (a *App) CreateOverride(ctx context.Context, in OverrideInput) (Override, error) {
	return a.overrides.CreateOverride(ctx, in)
}

// RecordIntervention signs and persists a human intervention record.
func (a *App) RecordIntervention(ctx context.Context, in HumanIntervention) (Intervention, error) {
	return a.oversight.RecordIntervention(ctx, in)
}

// GenerateEffectivenessReport aggregates oversight activity over a window.
func (a *App) GenerateEffectivenessReport(ctx context.Context, from, to time.Time) (EffectivenessReport, error) {
	return a.oversight.GenerateEffectivenessReport(ctx, from, to)
}

// VerifyLedger walks the full hash chain and reports any break.
func (a *App) VerifyLedger(ctx context.Context) (LedgerVerification, error) {
	return a.ledger.VerifyIntegrity(ctx)
}

// GenerateAuditReport summarizes ledger health for compliance review.
func (a *App) GenerateAuditReport(ctx context.Context) (AuditReport, error) {
	return a.ledger.GenerateAuditReport(ctx)
}

// GenerateExport renders an audit export package in the requested format.
func (a *App) GenerateExport(ctx context.Context, req ExportRequest) (ExportPackage, error) {
	return a.exports.GenerateExport(ctx, req)
}

// GenerateBundle produces the zipped evidence bundle for external audit.
func (a *App) GenerateBundle(ctx context.Context, req ExportRequest) (ExportBundle, error) {
	return a.exports.GenerateBundle(ctx, req)
}
