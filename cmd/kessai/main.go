package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
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

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KESSAI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("kessai starting", "version", version, "port", cfg.Port, "env", cfg.Env)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
		SampleRatio: cfg.TraceSamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Open storage. The low-volume oversight tables always live on SQLite;
	// the ledger moves to Postgres when a DSN is configured.
	db, err := storage.Open(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer func() { _ = db.Close() }()

	var ledgerStore ledger.Store = db.LedgerStore()
	if cfg.PostgresURL != "" {
		pg, err := storage.OpenPostgres(ctx, cfg.PostgresURL, logger)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer pg.Close()
		ledgerStore = pg.LedgerStore()
		logger.Info("ledger storage: postgres")
	} else {
		logger.Info("ledger storage: sqlite", "path", cfg.DatabasePath)
	}

	// Signing identity. An ephemeral key keeps development friction low but
	// means signatures don't survive restarts; warn loudly.
	var signer *identity.Signer
	if cfg.SigningPrivateKeyPath != "" {
		signer, err = identity.NewSigner(cfg.SigningPrivateKeyPath, cfg.SigningPublicKeyPath)
		if err != nil {
			return fmt.Errorf("identity: %w", err)
		}
	} else {
		signer, err = identity.NewEphemeralSigner()
		if err != nil {
			return fmt.Errorf("identity: %w", err)
		}
		logger.Warn("no signing key configured, using ephemeral key", "key_id", signer.PublicKeyID())
	}

	// Open the audit ledger.
	lg, err := ledger.Open(ctx, ledgerStore, logger)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	// Policy engine, optionally preloaded from disk.
	engine := policy.New(logger)
	if cfg.PolicyPath != "" {
		raw, err := os.ReadFile(cfg.PolicyPath)
		if err != nil {
			return fmt.Errorf("read policy: %w", err)
		}
		result, err := engine.LoadJSON(raw)
		if err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
		if _, err := lg.Append(ctx, "policy_load", map[string]any{
			"policy_hash": result.PolicyHash,
			"terms":       result.TermsLoaded,
			"relations":   result.RelationsLoaded,
		}); err != nil {
			return fmt.Errorf("record policy load: %w", err)
		}
		logger.Info("policy loaded", "path", cfg.PolicyPath, "hash", result.PolicyHash)
	} else {
		logger.Warn("no policy configured, all requests will be denied until one is loaded")
	}

	// Evidence and risk.
	ev := evidence.NewService(logger)
	risks, err := risk.NewService(risk.Weights{}, ev, logger)
	if err != nil {
		return fmt.Errorf("risk: %w", err)
	}

	// Escalation pipeline with its notification bus and SLA sweeper.
	bus := escalation.NewBus(cfg.NotificationBuffer, logger)
	escStore := escalation.NewMemoryStore()
	escalations := escalation.NewService(escStore, bus, ev, escalation.Config{
		WarningWindow:     cfg.SLAWarningWindow,
		DefaultRecipients: cfg.EscalationRecipients,
	}, logger)
	go escalations.RunSweeper(ctx, cfg.SLASweepInterval)

	// Overrides.
	overrides := override.NewService(override.Config{
		AuthorizedRoles: cfg.AuthorizedRoles,
		ExecutiveRoles:  cfg.ExecutiveRoles,
	}, ev, logger)

	// Responsibility and oversight.
	tracker := responsibility.NewTracker(db.ResponsibilityStore(), lg, logger)
	ovs := oversight.NewService(db.InterventionStore(), signer, lg, logger)

	// Retention.
	ret := retention.NewService(lg, logger)

	// Decision pipeline.
	minter, err := decision.NewTokenMinter(signer, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("token minter: %w", err)
	}
	decisions := decision.NewService(engine, lg, signer, minter, tracker, ev, logger)

	// Audit export.
	exports := export.NewService(lg, engine, risks, escStore, overrides, ev, tracker, ovs, signer, logger)

	// MCP server.
	mcpSrv := mcp.New(mcp.Deps{
		Decisions:   decisions,
		Ledger:      lg,
		Risks:       risks,
		Escalations: escalations,
		Evidence:    ev,
		Exports:     exports,
	}, logger)

	// Periodic integrity proofs anchor the chain head in the ledger itself.
	go integrityProofLoop(ctx, lg, logger, cfg.IntegrityProofInterval)

	// Drain notifications into the log until a real delivery channel exists.
	go notificationLoop(ctx, bus, logger)

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// Create and start HTTP server (MCP mounted at /mcp).
	srv := server.New(server.Config{
		Decisions:    decisions,
		Ledger:       lg,
		Engine:       engine,
		Risks:        risks,
		Escalations:  escalations,
		Overrides:    overrides,
		Exports:      exports,
		Oversight:    ovs,
		Retention:    ret,
		Limiter:      limiter,
		MCPServer:    mcpSrv.MCPServer(),
		Logger:       logger,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Version:      version,
		CORSOrigins:  cfg.CORSOrigins,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting requests and drain in-flight ones.
	// Ledger appends are synchronous, so nothing else needs flushing.
	slog.Info("kessai shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	if dropped := bus.Dropped(); dropped > 0 {
		slog.Warn("notifications dropped during run", "count", dropped)
	}

	slog.Info("kessai stopped")
	return nil
}

// integrityProofLoop periodically appends a Merkle proof entry covering the
// chain so far. A verifier can cross-check entry hashes against the proof
// without replaying the whole ledger.
func integrityProofLoop(ctx context.Context, lg *ledger.Ledger, logger *slog.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entry, err := lg.AppendIntegrityProof(ctx)
			if err != nil {
				logger.Error("integrity proof failed", "error", err)
				continue
			}
			logger.Info("integrity proof appended", "entry_hash", entry.EntryHash)
		}
	}
}

// notificationLoop logs escalation notifications. Deployments wire this to
// their paging or chat systems instead.
func notificationLoop(ctx context.Context, bus *escalation.Bus, logger *slog.Logger) {
	ch := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			logger.Info("escalation notification",
				"type", n.Type,
				"subject", n.Subject,
				"priority", n.Priority,
				"message", n.Message,
			)
		}
	}
}
