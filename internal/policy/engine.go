package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ashita-ai/kessai/internal/model"
)

// maxAncestorDepth bounds parent-chain walks so a cyclic document cannot
// spin an evaluation.
const maxAncestorDepth = 32

// snapshot is an immutable compiled policy. Reload builds a fresh snapshot
// and swaps the pointer; in-flight evaluations finish against the one they
// captured.
type snapshot struct {
	doc       Document
	hash      string
	terms     map[string]Term
	bySubject map[string][]Relation
}

// Engine evaluates requests against the active policy snapshot.
type Engine struct {
	snap   atomic.Pointer[snapshot]
	logger *slog.Logger
}

// New creates an Engine with no policy loaded. Evaluations deny until Load
// succeeds.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// LoadResult reports what a successful Load installed.
type LoadResult struct {
	PolicyHash      string `json:"policy_hash"`
	TermsLoaded     int    `json:"terms_loaded"`
	RelationsLoaded int    `json:"relations_loaded"`
}

// Load validates doc, compiles it, and atomically replaces the active
// snapshot. The previous snapshot keeps serving evaluations already underway.
func (e *Engine) Load(doc Document) (LoadResult, error) {
	if err := doc.Validate(); err != nil {
		return LoadResult{}, err
	}
	hash, err := doc.Hash()
	if err != nil {
		return LoadResult{}, err
	}

	s := &snapshot{
		doc:       doc,
		hash:      hash,
		terms:     make(map[string]Term, len(doc.Terms)),
		bySubject: make(map[string][]Relation, len(doc.Relations)),
	}
	for _, t := range doc.Terms {
		s.terms[t.ID] = t
	}
	for _, r := range doc.Relations {
		s.bySubject[r.Subject] = append(s.bySubject[r.Subject], r)
	}
	e.snap.Store(s)

	e.logger.Info("policy loaded",
		"policy_id", doc.PolicyID,
		"version", doc.Version,
		"mode", doc.Mode,
		"policy_hash", hash,
		"terms", len(doc.Terms),
		"relations", len(doc.Relations))

	return LoadResult{
		PolicyHash:      hash,
		TermsLoaded:     len(doc.Terms),
		RelationsLoaded: len(doc.Relations),
	}, nil
}

// LoadJSON parses raw policy JSON and loads it.
func (e *Engine) LoadJSON(raw []byte) (LoadResult, error) {
	doc, err := ParseDocument(raw)
	if err != nil {
		return LoadResult{}, err
	}
	return e.Load(doc)
}

// PolicyHash returns the active policy hash, or "" when none is loaded.
func (e *Engine) PolicyHash() string {
	if s := e.snap.Load(); s != nil {
		return s.hash
	}
	return ""
}

// Mode returns the active evaluation mode, or "" when none is loaded.
func (e *Engine) Mode() Mode {
	if s := e.snap.Load(); s != nil {
		return s.doc.Mode
	}
	return ""
}

// ActiveDocument returns a copy of the loaded document, or nil.
func (e *Engine) ActiveDocument() *Document {
	s := e.snap.Load()
	if s == nil {
		return nil
	}
	doc := s.doc
	return &doc
}

// EvalInput is one evaluation request.
type EvalInput struct {
	Actor       string
	Action      string
	Tool        string
	Resource    string
	DataClasses []string
	RiskLevel   int
}

// Verdict is the evaluation outcome. Confidence feeds the responsibility
// record: explicit relation matches score higher than default outcomes.
type Verdict struct {
	Allowed    bool
	Reason     string
	PolicyHash string
	Mode       Mode
	Confidence float64
}

const (
	confidenceExplicit = 0.95
	confidenceDefault  = 0.70
)

// Evaluate applies the active snapshot's mode semantics to the input.
// Deterministic: the verdict is a pure function of (snapshot, input).
func (e *Engine) Evaluate(ctx context.Context, in EvalInput) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, fmt.Errorf("policy: evaluate: %w", err)
	}
	s := e.snap.Load()
	if s == nil {
		return Verdict{}, model.NewError(model.KindConfiguration, "policy: no policy loaded")
	}
	v := s.evaluate(in)
	v.PolicyHash = s.hash
	v.Mode = s.doc.Mode
	return v, nil
}

func (s *snapshot) evaluate(in EvalInput) Verdict {
	_, actorKnown := s.terms[in.Actor]
	_, actionKnown := s.terms[in.Action]

	// Term miss denies outright in strict and paranoid. Permissive keeps
	// going: unknown subjects cannot match a forbid either.
	if !actorKnown || !actionKnown {
		missing := in.Actor
		if actorKnown {
			missing = in.Action
		}
		if s.doc.Mode == ModePermissive {
			return Verdict{
				Allowed:    true,
				Reason:     fmt.Sprintf("permissive mode: term %q not declared and no forbids applies", missing),
				Confidence: confidenceDefault,
			}
		}
		return Verdict{
			Allowed:    false,
			Reason:     fmt.Sprintf("%s mode: term %q not declared", s.doc.Mode, missing),
			Confidence: confidenceExplicit,
		}
	}

	subjects := s.ancestorSet(in.Actor)
	actions := s.ancestorSet(in.Action)

	var permits, forbids, requires []Relation
	for subj := range subjects {
		for _, r := range s.bySubject[subj] {
			if _, ok := actions[r.Action]; !ok {
				continue
			}
			if r.Object != "" && r.Object != in.Tool && r.Object != in.Resource {
				continue
			}
			switch r.Kind {
			case RelationPermits:
				permits = append(permits, r)
			case RelationForbids:
				forbids = append(forbids, r)
			case RelationRequires:
				requires = append(requires, r)
			}
		}
	}

	bestPermit, permitSpec := mostSpecific(permits)
	bestForbid, forbidSpec := mostSpecific(forbids)

	// Forbids wins ties; a more specific permit beats a less specific forbid.
	forbidden := bestForbid != nil && (bestPermit == nil || forbidSpec >= permitSpec)

	switch s.doc.Mode {
	case ModePermissive:
		if forbidden {
			return Verdict{
				Allowed:    false,
				Reason:     fmt.Sprintf("permissive mode: denied by %s", bestForbid),
				Confidence: confidenceExplicit,
			}
		}
		if bestPermit != nil {
			return Verdict{
				Allowed:    true,
				Reason:     fmt.Sprintf("permissive mode: allowed by %s", bestPermit),
				Confidence: confidenceExplicit,
			}
		}
		return Verdict{
			Allowed:    true,
			Reason:     "permissive mode: no forbids applies",
			Confidence: confidenceDefault,
		}

	case ModeStrict:
		if forbidden {
			return Verdict{
				Allowed:    false,
				Reason:     fmt.Sprintf("strict mode: denied by %s", bestForbid),
				Confidence: confidenceExplicit,
			}
		}
		if bestPermit == nil {
			return Verdict{
				Allowed:    false,
				Reason:     fmt.Sprintf("strict mode: no permits matches (%s, %s)", in.Actor, in.Action),
				Confidence: confidenceDefault,
			}
		}
		return Verdict{
			Allowed:    true,
			Reason:     fmt.Sprintf("strict mode: allowed by %s", bestPermit),
			Confidence: confidenceExplicit,
		}

	case ModeParanoid:
		if forbidden {
			return Verdict{
				Allowed:    false,
				Reason:     fmt.Sprintf("paranoid mode: denied by %s", bestForbid),
				Confidence: confidenceExplicit,
			}
		}
		if bestPermit == nil {
			return Verdict{
				Allowed:    false,
				Reason:     fmt.Sprintf("paranoid mode: no permits matches (%s, %s)", in.Actor, in.Action),
				Confidence: confidenceDefault,
			}
		}
		for _, req := range requires {
			if ok, why := requiresSatisfied(req, in); !ok {
				return Verdict{
					Allowed:    false,
					Reason:     fmt.Sprintf("paranoid mode: %s unsatisfied: %s", req, why),
					Confidence: confidenceExplicit,
				}
			}
		}
		ceiling := s.doc.RiskCeiling
		if ceiling == 0 {
			ceiling = DefaultRiskCeiling
		}
		if in.RiskLevel > ceiling {
			return Verdict{
				Allowed:    false,
				Reason:     fmt.Sprintf("paranoid mode: risk_level %d exceeds ceiling %d", in.RiskLevel, ceiling),
				Confidence: confidenceExplicit,
			}
		}
		return Verdict{
			Allowed:    true,
			Reason:     fmt.Sprintf("paranoid mode: allowed by %s with all requires satisfied", bestPermit),
			Confidence: confidenceExplicit,
		}

	default:
		return Verdict{
			Allowed:    false,
			Reason:     fmt.Sprintf("unknown policy mode %q", s.doc.Mode),
			Confidence: confidenceDefault,
		}
	}
}

// ancestorSet returns the term and every ancestor reachable through Parent
// links, bounded by maxAncestorDepth.
func (s *snapshot) ancestorSet(id string) map[string]struct{} {
	set := map[string]struct{}{id: {}}
	cur := id
	for range maxAncestorDepth {
		t, ok := s.terms[cur]
		if !ok || t.Parent == "" {
			break
		}
		if _, seen := set[t.Parent]; seen {
			break
		}
		set[t.Parent] = struct{}{}
		cur = t.Parent
	}
	return set
}

// mostSpecific picks the relation with the highest specificity. Object
// qualification is the only specificity axis.
func mostSpecific(rels []Relation) (*Relation, int) {
	var best *Relation
	bestSpec := -1
	for i := range rels {
		spec := 0
		if rels[i].Object != "" {
			spec = 1
		}
		if spec > bestSpec {
			best = &rels[i]
			bestSpec = spec
		}
	}
	return best, bestSpec
}

// requiresSatisfied checks one requires clause against the request.
func requiresSatisfied(r Relation, in EvalInput) (bool, string) {
	if r.Conditions == nil {
		return true, ""
	}
	declared := make(map[string]struct{}, len(in.DataClasses))
	for _, dc := range in.DataClasses {
		declared[dc] = struct{}{}
	}
	for _, need := range r.Conditions.DataClasses {
		if _, ok := declared[need]; !ok {
			return false, fmt.Sprintf("data class %q not declared", need)
		}
	}
	if r.Conditions.MaxRiskLevel > 0 && in.RiskLevel > r.Conditions.MaxRiskLevel {
		return false, fmt.Sprintf("risk_level %d exceeds condition maximum %d", in.RiskLevel, r.Conditions.MaxRiskLevel)
	}
	return true, ""
}
