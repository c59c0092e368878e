// Package policy implements the governance policy engine: typed terms,
// permits/forbids/requires relations, three evaluation modes, and a
// deterministic policy hash over the canonicalized document.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ashita-ai/kessai/internal/canonical"
	"github.com/ashita-ai/kessai/internal/model"
)

// Mode selects the evaluation discipline.
type Mode string

const (
	// ModePermissive allows unless a forbids relation matches.
	ModePermissive Mode = "permissive"
	// ModeStrict requires an explicit permits and no forbids.
	ModeStrict Mode = "strict"
	// ModeParanoid is strict plus requires-clause satisfaction and a risk ceiling.
	ModeParanoid Mode = "paranoid"
)

// TermType classifies a policy term.
type TermType string

const (
	TermActor     TermType = "actor"
	TermAction    TermType = "action"
	TermResource  TermType = "resource"
	TermDataClass TermType = "data_class"
)

// Term is a typed node in the policy vocabulary. Parent links form the
// ancestor chain used during relation matching.
type Term struct {
	ID     string   `json:"id"`
	Type   TermType `json:"type"`
	Label  string   `json:"label,omitempty"`
	Parent string   `json:"parent,omitempty"`
}

// RelationKind is one of permits, forbids, requires.
type RelationKind string

const (
	RelationPermits  RelationKind = "permits"
	RelationForbids  RelationKind = "forbids"
	RelationRequires RelationKind = "requires"
)

// Conditions constrain when a relation applies or what it demands.
type Conditions struct {
	// DataClasses that the request must declare for a requires clause to
	// be satisfied.
	DataClasses []string `json:"data_classes,omitempty"`
	// MaxRiskLevel caps the request's declared risk level (1..5).
	MaxRiskLevel int `json:"max_risk_level,omitempty"`
}

// Relation binds a subject term to an action term, optionally qualified by an
// object (tool or resource). Object-qualified relations are more specific and
// win over unqualified ones.
type Relation struct {
	Kind       RelationKind `json:"kind"`
	Subject    string       `json:"subject"`
	Action     string       `json:"action"`
	Object     string       `json:"object,omitempty"`
	Conditions *Conditions  `json:"conditions,omitempty"`
}

// String renders the relation for reasoning output.
func (r Relation) String() string {
	var b strings.Builder
	b.WriteString(string(r.Kind))
	b.WriteByte('(')
	b.WriteString(r.Subject)
	b.WriteString(", ")
	b.WriteString(r.Action)
	if r.Object != "" {
		b.WriteString(", ")
		b.WriteString(r.Object)
	}
	b.WriteByte(')')
	return b.String()
}

// Document is a complete loadable policy.
type Document struct {
	PolicyID  string     `json:"policy_id"`
	Version   string     `json:"version"`
	Mode      Mode       `json:"mode"`
	Terms     []Term     `json:"terms"`
	Relations []Relation `json:"relations"`
	// RiskCeiling is the maximum request risk level paranoid mode tolerates.
	// Zero means the default ceiling of 3.
	RiskCeiling int `json:"risk_ceiling,omitempty"`
}

// DefaultRiskCeiling applies in paranoid mode when the document sets none.
const DefaultRiskCeiling = 3

const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["policy_id", "version", "mode", "terms", "relations"],
  "properties": {
    "policy_id": {"type": "string", "pattern": "^pol_[a-z0-9_]+_v[0-9]+$"},
    "version": {"type": "string", "minLength": 1},
    "mode": {"enum": ["permissive", "strict", "paranoid"]},
    "risk_ceiling": {"type": "integer", "minimum": 1, "maximum": 5},
    "terms": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"enum": ["actor", "action", "resource", "data_class"]},
          "label": {"type": "string"},
          "parent": {"type": "string"}
        }
      }
    },
    "relations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind", "subject", "action"],
        "properties": {
          "kind": {"enum": ["permits", "forbids", "requires"]},
          "subject": {"type": "string", "minLength": 1},
          "action": {"type": "string", "minLength": 1},
          "object": {"type": "string"},
          "conditions": {
            "type": "object",
            "properties": {
              "data_classes": {"type": "array", "items": {"type": "string"}},
              "max_risk_level": {"type": "integer", "minimum": 1, "maximum": 5}
            }
          }
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("policy-document.json", documentSchema)

// ParseDocument validates raw JSON against the policy schema and decodes it.
// The version must parse as semver and every relation endpoint must name a
// declared term.
func ParseDocument(raw []byte) (Document, error) {
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return Document{}, model.WrapError(model.KindValidation, err, "policy: decode document")
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return Document{}, model.WrapError(model.KindValidation, err, "policy: schema validation")
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, model.WrapError(model.KindValidation, err, "policy: unmarshal document")
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Validate checks internal consistency beyond what the schema expresses.
func (d Document) Validate() error {
	if _, err := semver.NewVersion(d.Version); err != nil {
		return model.NewError(model.KindValidation, "policy: version %q is not semver", d.Version)
	}
	ids := make(map[string]Term, len(d.Terms))
	for _, t := range d.Terms {
		if _, dup := ids[t.ID]; dup {
			return model.NewError(model.KindValidation, "policy: duplicate term %q", t.ID)
		}
		ids[t.ID] = t
	}
	for _, t := range d.Terms {
		if t.Parent == "" {
			continue
		}
		p, ok := ids[t.Parent]
		if !ok {
			return model.NewError(model.KindValidation, "policy: term %q parent %q not declared", t.ID, t.Parent)
		}
		if p.Type != t.Type {
			return model.NewError(model.KindValidation, "policy: term %q parent %q has different type", t.ID, t.Parent)
		}
	}
	for _, r := range d.Relations {
		if _, ok := ids[r.Subject]; !ok {
			return model.NewError(model.KindValidation, "policy: relation subject %q not declared", r.Subject)
		}
		if _, ok := ids[r.Action]; !ok {
			return model.NewError(model.KindValidation, "policy: relation action %q not declared", r.Action)
		}
	}
	return nil
}

// Hash computes the deterministic policy hash: SHA-256 of the canonical JSON
// of the sorted terms and relations. Mode, version, and IDs are excluded so
// semantically identical rule sets hash alike.
func (d Document) Hash() (string, error) {
	terms := make([]Term, len(d.Terms))
	copy(terms, d.Terms)
	sort.Slice(terms, func(i, j int) bool { return terms[i].ID < terms[j].ID })

	rels := make([]Relation, len(d.Relations))
	copy(rels, d.Relations)
	sort.Slice(rels, func(i, j int) bool {
		a, b := rels[i], rels[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		return a.Object < b.Object
	})

	h, err := canonical.Hash(map[string]any{
		"terms":     terms,
		"relations": rels,
	})
	if err != nil {
		return "", fmt.Errorf("policy: hash document: %w", err)
	}
	return h, nil
}
