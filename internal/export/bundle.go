package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kessai/internal/canonical"
)

// Bundle file names. Auditors script against these, so they are fixed.
const (
	bundleLedgerEvents = "ledger_events.json"
	bundleVerification = "verification_report.json"
	bundlePolicies     = "policies.json"
	bundleSummary      = "summary.md"
	bundleManifest     = "manifest.json"
)

// ManifestFile describes one file inside a bundle.
type ManifestFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Manifest is the bundle's table of contents. BundleHash is the SHA-256 of
// the concatenation of the sorted per-file hashes, so a bundle can be
// verified file by file without unpacking order mattering.
type Manifest struct {
	BundleID    string         `json:"bundle_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Files       []ManifestFile `json:"files"`
	BundleHash  string         `json:"bundle_hash"`
	Signature   string         `json:"signature,omitempty"`
	SigningKey  string         `json:"signing_key_id,omitempty"`
}

// Bundle is a regulator-ready ZIP archive.
type Bundle struct {
	BundleID  string   `json:"bundle_id"`
	Content   []byte   `json:"-"`
	SizeBytes int64    `json:"size_bytes"`
	Manifest  Manifest `json:"manifest"`
}

// BundleHash recomputes the manifest-level hash from per-file hashes.
func BundleHash(fileHashes []string) string {
	sorted := make([]string, len(fileHashes))
	copy(sorted, fileHashes)
	sort.Strings(sorted)
	return canonical.HashBytes([]byte(strings.Join(sorted, "")))
}

// GenerateBundle packages the full audit record: every ledger event, a fresh
// chain verification report, the active policy, and a human-readable
// summary, plus a manifest whose bundle hash covers them all. Signing, when
// requested, is over the bundle hash.
func (s *Service) GenerateBundle(ctx context.Context, req Request) (Bundle, error) {
	manifest := Manifest{
		BundleID:    "bnd_" + uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
	}

	entries, err := s.ledger.Entries(ctx, 0, 0)
	if err != nil {
		return Bundle{}, fmt.Errorf("export: collect ledger events: %w", err)
	}
	ledgerJSON, err := canonical.Marshal(entries)
	if err != nil {
		return Bundle{}, fmt.Errorf("export: encode ledger events: %w", err)
	}

	report, err := s.ledger.GenerateAuditReport(ctx)
	if err != nil {
		return Bundle{}, fmt.Errorf("export: verification report: %w", err)
	}
	reportJSON, err := canonical.Marshal(report)
	if err != nil {
		return Bundle{}, fmt.Errorf("export: encode verification report: %w", err)
	}

	var policiesJSON []byte
	if s.engine != nil {
		doc := s.engine.ActiveDocument()
		policiesJSON, err = canonical.Marshal(map[string]any{
			"active_policy": doc,
			"policy_hash":   s.engine.PolicyHash(),
		})
		if err != nil {
			return Bundle{}, fmt.Errorf("export: encode policies: %w", err)
		}
	} else {
		policiesJSON = []byte(`{"active_policy":null,"policy_hash":""}`)
	}

	req.Format = FormatMarkdown
	summaryPkg, err := s.GenerateExport(ctx, req)
	if err != nil {
		return Bundle{}, err
	}

	files := []struct {
		name    string
		content []byte
	}{
		{bundleLedgerEvents, ledgerJSON},
		{bundleVerification, reportJSON},
		{bundlePolicies, policiesJSON},
		{bundleSummary, summaryPkg.Content},
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	var hashes []string
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			return Bundle{}, fmt.Errorf("export: create bundle entry %s: %w", f.name, err)
		}
		if _, err := w.Write(f.content); err != nil {
			return Bundle{}, fmt.Errorf("export: write bundle entry %s: %w", f.name, err)
		}
		h := canonical.HashBytes(f.content)
		hashes = append(hashes, h)
		manifest.Files = append(manifest.Files, ManifestFile{Path: f.name, SHA256: h})
	}
	manifest.BundleHash = BundleHash(hashes)
	if req.Sign && s.signer != nil {
		manifest.Signature = s.signer.SignBytes([]byte(manifest.BundleHash))
		manifest.SigningKey = s.signer.PublicKeyID()
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Bundle{}, fmt.Errorf("export: encode manifest: %w", err)
	}
	mw, err := zw.Create(bundleManifest)
	if err != nil {
		return Bundle{}, fmt.Errorf("export: create manifest entry: %w", err)
	}
	if _, err := mw.Write(manifestJSON); err != nil {
		return Bundle{}, fmt.Errorf("export: write manifest: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Bundle{}, fmt.Errorf("export: close bundle: %w", err)
	}

	content := buf.Bytes()
	s.logger.Info("audit bundle generated",
		"bundle_id", manifest.BundleID,
		"files", len(manifest.Files),
		"size_bytes", len(content),
		"bundle_hash", manifest.BundleHash)
	return Bundle{
		BundleID:  manifest.BundleID,
		Content:   content,
		SizeBytes: int64(len(content)),
		Manifest:  manifest,
	}, nil
}
