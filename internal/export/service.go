// Package export aggregates governance records into regulator-ready audit
// packages: JSON, CSV, Markdown, or HTML, optionally signed and bundled.
package export

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kessai/internal/canonical"
	"github.com/ashita-ai/kessai/internal/escalation"
	"github.com/ashita-ai/kessai/internal/evidence"
	"github.com/ashita-ai/kessai/internal/identity"
	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/oversight"
	"github.com/ashita-ai/kessai/internal/override"
	"github.com/ashita-ai/kessai/internal/policy"
	"github.com/ashita-ai/kessai/internal/responsibility"
	"github.com/ashita-ai/kessai/internal/risk"
)

// Format selects the output rendering.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// Scope names one record family to include.
type Scope string

const (
	ScopeDecisions      Scope = "decisions"
	ScopeRisks          Scope = "risks"
	ScopeEscalations    Scope = "escalations"
	ScopeOverrides      Scope = "overrides"
	ScopeEvidence       Scope = "evidence"
	ScopeResponsibility Scope = "responsibility"
	ScopeInterventions  Scope = "interventions"
)

// AllScopes lists every exportable record family.
var AllScopes = []Scope{
	ScopeDecisions, ScopeRisks, ScopeEscalations, ScopeOverrides,
	ScopeEvidence, ScopeResponsibility, ScopeInterventions,
}

// Request describes one export.
type Request struct {
	Scopes    []Scope
	Format    Format
	StartDate *time.Time
	EndDate   *time.Time
	Sign      bool
}

// Summary carries the statistics block of a package.
type Summary struct {
	Counts            map[Scope]int  `json:"counts"`
	FrameworkCoverage map[string]int `json:"framework_coverage,omitempty"`
}

// Package is a finished export.
type Package struct {
	ExportID     string    `json:"export_id"`
	Format       Format    `json:"format"`
	GeneratedAt  time.Time `json:"generated_at"`
	Content      []byte    `json:"-"`
	Checksum     string    `json:"checksum"`
	SizeBytes    int64     `json:"size_bytes"`
	RecordCount  int       `json:"record_count"`
	Summary      Summary   `json:"summary"`
	Signature    string    `json:"signature,omitempty"`
	SigningKeyID string    `json:"signing_key_id,omitempty"`
}

// dataset holds everything one export collected. Each field is written by
// exactly one collection goroutine.
type dataset struct {
	Decisions      []ledger.Entry               `json:"decisions,omitempty"`
	Risks          []model.Risk                 `json:"risks,omitempty"`
	Escalations    []model.Escalation           `json:"escalations,omitempty"`
	Overrides      []model.Override             `json:"overrides,omitempty"`
	Evidence       []model.EvidenceArtifact     `json:"evidence,omitempty"`
	Responsibility []model.ResponsibilityRecord `json:"responsibility,omitempty"`
	Interventions  []model.HumanIntervention    `json:"interventions,omitempty"`
}

// Service aggregates from every governance component.
type Service struct {
	ledger    *ledger.Ledger
	engine    *policy.Engine
	risks     *risk.Service
	escStore  escalation.Store
	overrides *override.Service
	ev        *evidence.Service
	tracker   *responsibility.Tracker
	oversight *oversight.Service
	signer    *identity.Signer
	logger    *slog.Logger
}

// NewService wires the export aggregator. Any source may be nil; its scope
// then yields no records.
func NewService(lg *ledger.Ledger, engine *policy.Engine, risks *risk.Service,
	escStore escalation.Store, overrides *override.Service, ev *evidence.Service,
	tracker *responsibility.Tracker, ovs *oversight.Service, signer *identity.Signer,
	logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger:    lg,
		engine:    engine,
		risks:     risks,
		escStore:  escStore,
		overrides: overrides,
		ev:        ev,
		tracker:   tracker,
		oversight: ovs,
		signer:    signer,
		logger:    logger,
	}
}

func inRange(t time.Time, req Request) bool {
	if req.StartDate != nil && t.Before(*req.StartDate) {
		return false
	}
	if req.EndDate != nil && t.After(*req.EndDate) {
		return false
	}
	return true
}

func hasScope(req Request, s Scope) bool {
	for _, sc := range req.Scopes {
		if sc == s {
			return true
		}
	}
	return false
}

// collect fans the requested scopes out concurrently and joins the results.
func (s *Service) collect(ctx context.Context, req Request) (*dataset, error) {
	ds := &dataset{}
	g, ctx := errgroup.WithContext(ctx)

	if hasScope(req, ScopeDecisions) && s.ledger != nil {
		g.Go(func() error {
			entries, err := s.ledger.EntriesByType(ctx, "decision")
			if err != nil {
				return err
			}
			for _, e := range entries {
				if inRange(e.Time(), req) {
					ds.Decisions = append(ds.Decisions, e)
				}
			}
			return nil
		})
	}
	if hasScope(req, ScopeRisks) && s.risks != nil {
		g.Go(func() error {
			for _, r := range s.risks.AllRisks() {
				if inRange(r.Timestamp, req) {
					ds.Risks = append(ds.Risks, r)
				}
			}
			return nil
		})
	}
	if hasScope(req, ScopeEscalations) && s.escStore != nil {
		g.Go(func() error {
			all, err := s.escStore.List(ctx)
			if err != nil {
				return err
			}
			for _, e := range all {
				if inRange(e.CreatedAt, req) {
					ds.Escalations = append(ds.Escalations, e)
				}
			}
			return nil
		})
	}
	if hasScope(req, ScopeOverrides) && s.overrides != nil {
		g.Go(func() error {
			for _, o := range s.overrides.AllOverrides() {
				if inRange(o.CreatedAt, req) {
					ds.Overrides = append(ds.Overrides, o)
				}
			}
			return nil
		})
	}
	if hasScope(req, ScopeEvidence) && s.ev != nil {
		g.Go(func() error {
			for _, a := range s.ev.AllArtifacts() {
				if inRange(a.CreatedAt, req) {
					ds.Evidence = append(ds.Evidence, a)
				}
			}
			return nil
		})
	}
	if hasScope(req, ScopeResponsibility) && s.tracker != nil {
		g.Go(func() error {
			records, err := s.tracker.All(ctx)
			if err != nil {
				return err
			}
			for _, r := range records {
				if inRange(r.CreatedAt, req) {
					ds.Responsibility = append(ds.Responsibility, r)
				}
			}
			return nil
		})
	}
	if hasScope(req, ScopeInterventions) && s.oversight != nil {
		g.Go(func() error {
			f := oversight.Filter{}
			if req.StartDate != nil {
				f.From = *req.StartDate
			}
			if req.EndDate != nil {
				f.To = *req.EndDate
			}
			ivs, err := s.oversight.ListInterventions(ctx, f)
			if err != nil {
				return err
			}
			ds.Interventions = ivs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ds, nil
}

func (ds *dataset) counts() map[Scope]int {
	return map[Scope]int{
		ScopeDecisions:      len(ds.Decisions),
		ScopeRisks:          len(ds.Risks),
		ScopeEscalations:    len(ds.Escalations),
		ScopeOverrides:      len(ds.Overrides),
		ScopeEvidence:       len(ds.Evidence),
		ScopeResponsibility: len(ds.Responsibility),
		ScopeInterventions:  len(ds.Interventions),
	}
}

// frameworkCoverage counts evidence artifacts per compliance framework,
// derived from the ctl_<framework>_ prefix of related control IDs.
func (ds *dataset) frameworkCoverage() map[string]int {
	cov := map[string]int{}
	for _, a := range ds.Evidence {
		for _, ctl := range a.RelatedControlIDs {
			rest := strings.TrimPrefix(ctl, "ctl_")
			if i := strings.Index(rest, "_"); i > 0 {
				cov[rest[:i]]++
			}
		}
	}
	return cov
}

// GenerateExport collects, renders, checksums, and optionally signs one
// export package.
func (s *Service) GenerateExport(ctx context.Context, req Request) (Package, error) {
	if len(req.Scopes) == 0 {
		req.Scopes = AllScopes
	}
	switch req.Format {
	case FormatJSON, FormatCSV, FormatMarkdown, FormatHTML:
	default:
		return Package{}, model.NewError(model.KindValidation, "export: unknown format %q", req.Format)
	}
	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		return Package{}, model.NewError(model.KindValidation, "export: end_date precedes start_date")
	}

	ds, err := s.collect(ctx, req)
	if err != nil {
		return Package{}, err
	}

	pkg := Package{
		ExportID:    "exp_" + uuid.NewString(),
		Format:      req.Format,
		GeneratedAt: time.Now().UTC(),
		Summary: Summary{
			Counts:            ds.counts(),
			FrameworkCoverage: ds.frameworkCoverage(),
		},
	}
	for _, n := range pkg.Summary.Counts {
		pkg.RecordCount += n
	}

	content, err := render(req.Format, pkg, ds)
	if err != nil {
		return Package{}, err
	}
	pkg.Content = content
	pkg.Checksum = canonical.HashBytes(content)
	pkg.SizeBytes = int64(len(content))

	if req.Sign && s.signer != nil {
		pkg.Signature = s.signer.SignBytes([]byte(pkg.Checksum))
		pkg.SigningKeyID = s.signer.PublicKeyID()
	}

	s.logger.Info("export generated",
		"export_id", pkg.ExportID,
		"format", pkg.Format,
		"record_count", pkg.RecordCount,
		"size_bytes", pkg.SizeBytes,
		"signed", pkg.Signature != "")
	return pkg, nil
}
