// Package artifact writes the evidence bundle of a completed run.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Bundle file names
const (
	DiffFile         = "diff.patch"
	TestEvidenceFile = "test_evidence.json"
	PRFile           = "PR.md"
	RiskFile         = "RISK.md"
	RollbackFile     = "ROLLBACK.md"
	ChangelogFile    = "CHANGELOG.md"
	ExecutionFile    = "execution.json"
	ManifestFile     = "manifest.json"
)

// Bundle is the content of one run's evidence directory
type Bundle struct {
	RunID        string
	Diff         string
	TestEvidence any
	PR           string
	Risk         string
	Rollback     string
	Changelog    string
	Execution    any
}

// ManifestEntry describes one file in the bundle. The manifest's own entry
// carries no size or checksum.
type ManifestEntry struct {
	Name   string `json:"name"`
	Size   int64  `json:"size,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
}

// Manifest lists every file written to the bundle directory
type Manifest struct {
	RunID     string          `json:"run_id"`
	CreatedAt time.Time       `json:"created_at"`
	Files     []ManifestEntry `json:"files"`
}

// Writer writes bundles
type Writer struct {
	now func() time.Time
}

// NewWriter creates a writer
func NewWriter() *Writer {
	return &Writer{now: time.Now}
}

// WriteBundle writes every bundle file into dir, then the manifest
func (w *Writer) WriteBundle(dir string, b Bundle) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	evidence, err := json.MarshalIndent(b.TestEvidence, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal test evidence: %w", err)
	}
	execution, err := json.MarshalIndent(b.Execution, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution report: %w", err)
	}

	files := map[string][]byte{
		DiffFile:         []byte(b.Diff),
		TestEvidenceFile: evidence,
		PRFile:           []byte(b.PR),
		RiskFile:         []byte(b.Risk),
		RollbackFile:     []byte(b.Rollback),
		ChangelogFile:    []byte(b.Changelog),
		ExecutionFile:    execution,
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	manifest := &Manifest{RunID: b.RunID, CreatedAt: w.now().UTC()}
	for _, name := range names {
		data := files[name]
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
		sum := sha256.Sum256(data)
		manifest.Files = append(manifest.Files, ManifestEntry{
			Name:   name,
			Size:   int64(len(data)),
			SHA256: hex.EncodeToString(sum[:]),
		})
	}
	manifest.Files = append(manifest.Files, ManifestEntry{Name: ManifestFile})

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	return manifest, nil
}

// Verify recomputes checksums of the files listed in the manifest at dir
func Verify(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	for _, entry := range m.Files {
		if entry.Name == ManifestFile {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", entry.Name, err)
		}
		sum := sha256.Sum256(content)
		if hex.EncodeToString(sum[:]) != entry.SHA256 {
			return fmt.Errorf("checksum mismatch for %s", entry.Name)
		}
	}
	return nil
}
