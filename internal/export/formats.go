package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/kessai/internal/canonical"
	"github.com/ashita-ai/kessai/internal/model"
)

func render(format Format, pkg Package, ds *dataset) ([]byte, error) {
	switch format {
	case FormatJSON:
		return renderJSON(pkg, ds)
	case FormatCSV:
		return renderCSV(ds)
	case FormatMarkdown:
		return renderMarkdown(pkg, ds), nil
	case FormatHTML:
		return renderHTML(pkg, ds)
	default:
		return nil, model.NewError(model.KindValidation, "export: unknown format %q", format)
	}
}

// renderJSON emits the canonical JSON document.
func renderJSON(pkg Package, ds *dataset) ([]byte, error) {
	doc := struct {
		ExportID    string    `json:"export_id"`
		GeneratedAt time.Time `json:"generated_at"`
		Summary     Summary   `json:"summary"`
		Data        *dataset  `json:"data"`
	}{pkg.ExportID, pkg.GeneratedAt, pkg.Summary, ds}
	out, err := canonical.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("export: encode json: %w", err)
	}
	return out, nil
}

// renderCSV emits one section per entity type, each with its own header row.
// Sections are separated by a comment-style marker line.
func renderCSV(ds *dataset) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	section := func(name string, header []string, rows [][]string) error {
		if len(rows) == 0 {
			return nil
		}
		if err := w.Write([]string{"# " + name}); err != nil {
			return err
		}
		if err := w.Write(header); err != nil {
			return err
		}
		return w.WriteAll(rows)
	}

	var decisionRows [][]string
	for _, e := range ds.Decisions {
		decisionRows = append(decisionRows, []string{
			str(e.Data["decision_id"]), str(e.Data["request_id"]), str(e.Data["decision"]),
			str(e.Data["actor"]), str(e.Data["action"]), str(e.Data["policy_version_hash"]),
			e.Timestamp, e.EntryHash,
		})
	}
	if err := section("decisions",
		[]string{"decision_id", "request_id", "decision", "actor", "action", "policy_version_hash", "timestamp", "entry_hash"},
		decisionRows); err != nil {
		return nil, fmt.Errorf("export: write csv: %w", err)
	}

	var riskRows [][]string
	for _, r := range ds.Risks {
		riskRows = append(riskRows, []string{
			r.RiskID, r.DecisionID, strconv.Itoa(r.OverallScore), string(r.RiskLevel),
			r.Timestamp.Format(time.RFC3339),
		})
	}
	if err := section("risks",
		[]string{"risk_id", "decision_id", "overall_score", "risk_level", "timestamp"},
		riskRows); err != nil {
		return nil, fmt.Errorf("export: write csv: %w", err)
	}

	var escRows [][]string
	for _, e := range ds.Escalations {
		escRows = append(escRows, []string{
			e.EscalationID, e.DecisionID, string(e.Trigger), string(e.Priority), string(e.Status),
			strings.Join(e.EscalatedTo, ";"), e.SLADeadline.Format(time.RFC3339),
		})
	}
	if err := section("escalations",
		[]string{"escalation_id", "decision_id", "trigger", "priority", "status", "escalated_to", "sla_deadline"},
		escRows); err != nil {
		return nil, fmt.Errorf("export: write csv: %w", err)
	}

	var ovrRows [][]string
	for _, o := range ds.Overrides {
		expires := ""
		if o.ExpiresAt != nil {
			expires = o.ExpiresAt.Format(time.RFC3339)
		}
		ovrRows = append(ovrRows, []string{
			o.OverrideID, o.DecisionID, string(o.OverrideType), o.AuthorizedBy,
			o.OriginalOutcome, o.NewOutcome, expires, o.CreatedAt.Format(time.RFC3339),
		})
	}
	if err := section("overrides",
		[]string{"override_id", "decision_id", "override_type", "authorized_by", "original_outcome", "new_outcome", "expires_at", "created_at"},
		ovrRows); err != nil {
		return nil, fmt.Errorf("export: write csv: %w", err)
	}

	var evRows [][]string
	for _, a := range ds.Evidence {
		evRows = append(evRows, []string{
			a.ArtifactID, string(a.ArtifactType), a.SHA256Hash, strconv.FormatInt(a.SizeBytes, 10),
			a.Source, strconv.FormatBool(a.DigitalSignature != nil), a.CreatedAt.Format(time.RFC3339),
		})
	}
	if err := section("evidence",
		[]string{"artifact_id", "artifact_type", "sha256_hash", "size_bytes", "source", "signed", "created_at"},
		evRows); err != nil {
		return nil, fmt.Errorf("export: write csv: %w", err)
	}

	var rspRows [][]string
	for _, r := range ds.Responsibility {
		rspRows = append(rspRows, []string{
			r.RecordID, r.DecisionID, r.DecisionMaker, r.ResponsibleParty, r.Role,
			string(r.ResponsibilityLevel), strconv.FormatBool(r.ReviewRequired),
			r.CreatedAt.Format(time.RFC3339),
		})
	}
	if err := section("responsibility",
		[]string{"record_id", "decision_id", "decision_maker", "responsible_party", "role", "responsibility_level", "review_required", "created_at"},
		rspRows); err != nil {
		return nil, fmt.Errorf("export: write csv: %w", err)
	}

	var ivRows [][]string
	for _, iv := range ds.Interventions {
		ivRows = append(ivRows, []string{
			iv.InterventionID, string(iv.InterventionType), iv.HumanRole, iv.Reason,
			strconv.FormatBool(iv.Signature != ""), iv.Timestamp.Format(time.RFC3339),
		})
	}
	if err := section("interventions",
		[]string{"intervention_id", "intervention_type", "human_role", "reason", "signed", "timestamp"},
		ivRows); err != nil {
		return nil, fmt.Errorf("export: write csv: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("export: flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// renderMarkdown emits a human-readable report.
func renderMarkdown(pkg Package, ds *dataset) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Audit Export %s\n\n", pkg.ExportID)
	fmt.Fprintf(&b, "Generated: %s\n\n", pkg.GeneratedAt.Format(time.RFC3339))

	b.WriteString("## Summary\n\n| Scope | Records |\n|---|---|\n")
	for _, sc := range AllScopes {
		if n := pkg.Summary.Counts[sc]; n > 0 {
			fmt.Fprintf(&b, "| %s | %d |\n", sc, n)
		}
	}
	b.WriteString("\n")

	if len(ds.Decisions) > 0 {
		b.WriteString("## Decisions\n\n| Decision | Ruling | Actor | Action | Timestamp |\n|---|---|---|---|---|\n")
		for _, e := range ds.Decisions {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				str(e.Data["decision_id"]), str(e.Data["decision"]),
				str(e.Data["actor"]), str(e.Data["action"]), e.Timestamp)
		}
		b.WriteString("\n")
	}
	if len(ds.Risks) > 0 {
		b.WriteString("## Risk Assessments\n\n| Risk | Decision | Score | Level |\n|---|---|---|---|\n")
		for _, r := range ds.Risks {
			fmt.Fprintf(&b, "| %s | %s | %d | %s |\n", r.RiskID, r.DecisionID, r.OverallScore, r.RiskLevel)
		}
		b.WriteString("\n")
	}
	if len(ds.Escalations) > 0 {
		b.WriteString("## Escalations\n\n| Escalation | Decision | Priority | Status | SLA Deadline |\n|---|---|---|---|---|\n")
		for _, e := range ds.Escalations {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				e.EscalationID, e.DecisionID, e.Priority, e.Status, e.SLADeadline.Format(time.RFC3339))
		}
		b.WriteString("\n")
	}
	if len(ds.Overrides) > 0 {
		b.WriteString("## Overrides\n\n| Override | Decision | Type | Authorized By | New Outcome |\n|---|---|---|---|---|\n")
		for _, o := range ds.Overrides {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				o.OverrideID, o.DecisionID, o.OverrideType, o.AuthorizedBy, o.NewOutcome)
		}
		b.WriteString("\n")
	}
	if len(ds.Evidence) > 0 {
		b.WriteString("## Evidence Artifacts\n\n| Artifact | Type | SHA-256 | Signed |\n|---|---|---|---|\n")
		for _, a := range ds.Evidence {
			fmt.Fprintf(&b, "| %s | %s | %s | %t |\n",
				a.ArtifactID, a.ArtifactType, a.SHA256Hash, a.DigitalSignature != nil)
		}
		b.WriteString("\n")
	}
	if len(ds.Responsibility) > 0 {
		b.WriteString("## Responsibility Records\n\n| Record | Decision | Maker | Party | Level |\n|---|---|---|---|---|\n")
		for _, r := range ds.Responsibility {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				r.RecordID, r.DecisionID, r.DecisionMaker, r.ResponsibleParty, r.ResponsibilityLevel)
		}
		b.WriteString("\n")
	}
	if len(ds.Interventions) > 0 {
		b.WriteString("## Human Interventions\n\n| Intervention | Type | Role | Signed |\n|---|---|---|---|\n")
		for _, iv := range ds.Interventions {
			fmt.Fprintf(&b, "| %s | %s | %s | %t |\n",
				iv.InterventionID, iv.InterventionType, iv.HumanRole, iv.Signature != "")
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

var htmlTmpl = template.Must(template.New("export").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Audit Export {{.Pkg.ExportID}}</title></head>
<body>
<h1>Audit Export {{.Pkg.ExportID}}</h1>
<p>Generated: {{.Pkg.GeneratedAt.Format "2006-01-02T15:04:05Z07:00"}}</p>
<h2>Summary</h2>
<table border="1"><tr><th>Scope</th><th>Records</th></tr>
{{range $scope, $n := .Pkg.Summary.Counts}}{{if $n}}<tr><td>{{$scope}}</td><td>{{$n}}</td></tr>{{end}}{{end}}
</table>
{{if .Data.Decisions}}<h2>Decisions</h2>
<table border="1"><tr><th>Decision</th><th>Ruling</th><th>Actor</th><th>Action</th><th>Timestamp</th></tr>
{{range .Data.Decisions}}<tr><td>{{index .Data "decision_id"}}</td><td>{{index .Data "decision"}}</td><td>{{index .Data "actor"}}</td><td>{{index .Data "action"}}</td><td>{{.Timestamp}}</td></tr>{{end}}
</table>{{end}}
{{if .Data.Risks}}<h2>Risk Assessments</h2>
<table border="1"><tr><th>Risk</th><th>Decision</th><th>Score</th><th>Level</th></tr>
{{range .Data.Risks}}<tr><td>{{.RiskID}}</td><td>{{.DecisionID}}</td><td>{{.OverallScore}}</td><td>{{.RiskLevel}}</td></tr>{{end}}
</table>{{end}}
{{if .Data.Escalations}}<h2>Escalations</h2>
<table border="1"><tr><th>Escalation</th><th>Decision</th><th>Priority</th><th>Status</th></tr>
{{range .Data.Escalations}}<tr><td>{{.EscalationID}}</td><td>{{.DecisionID}}</td><td>{{.Priority}}</td><td>{{.Status}}</td></tr>{{end}}
</table>{{end}}
{{if .Data.Overrides}}<h2>Overrides</h2>
<table border="1"><tr><th>Override</th><th>Decision</th><th>Type</th><th>Authorized By</th></tr>
{{range .Data.Overrides}}<tr><td>{{.OverrideID}}</td><td>{{.DecisionID}}</td><td>{{.OverrideType}}</td><td>{{.AuthorizedBy}}</td></tr>{{end}}
</table>{{end}}
{{if .Data.Evidence}}<h2>Evidence Artifacts</h2>
<table border="1"><tr><th>Artifact</th><th>Type</th><th>SHA-256</th></tr>
{{range .Data.Evidence}}<tr><td>{{.ArtifactID}}</td><td>{{.ArtifactType}}</td><td>{{.SHA256Hash}}</td></tr>{{end}}
</table>{{end}}
</body>
</html>
`))

func renderHTML(pkg Package, ds *dataset) ([]byte, error) {
	var buf bytes.Buffer
	err := htmlTmpl.Execute(&buf, struct {
		Pkg  Package
		Data *dataset
	}{pkg, ds})
	if err != nil {
		return nil, fmt.Errorf("export: render html: %w", err)
	}
	return buf.Bytes(), nil
}
