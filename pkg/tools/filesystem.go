package tools

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lelandsequel/shipmachine/pkg/governance"
)

// Policy is the subset of the governance engine the tools consult
type Policy interface {
	IsToolAllowed(role string, category governance.ToolCategory) bool
	IsPathAllowed(path string) bool
	IsCommandAllowed(command string) bool
	IsDangerous(command string) bool
}

func checkTool(p Policy, role string, category governance.ToolCategory) error {
	if !p.IsToolAllowed(role, category) {
		return &ToolAccessDeniedError{Role: role, Category: category}
	}
	return nil
}

// FileChange describes one applied write
type FileChange struct {
	Path         string `json:"path"`
	Before       string `json:"-"`
	After        string `json:"-"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	Created      bool   `json:"created"`
}

// Diff renders the change as a unified diff
func (c FileChange) Diff() string {
	return UnifiedDiff(c.Path, c.Before, c.After)
}

// Filesystem reads and writes workspace files on behalf of a role. In staged
// mode writes are kept in memory and reads see the staged content.
type Filesystem struct {
	policy Policy
	guard  *Guard
	role   string
	staged bool

	mu      sync.Mutex
	overlay map[string]string
}

// FilesystemOption configures a Filesystem
type FilesystemOption func(*Filesystem)

// WithStaging keeps writes in memory instead of touching disk
func WithStaging() FilesystemOption {
	return func(f *Filesystem) { f.staged = true }
}

// NewFilesystem creates a filesystem tool for role
func NewFilesystem(policy Policy, guard *Guard, role string, opts ...FilesystemOption) *Filesystem {
	f := &Filesystem{
		policy:  policy,
		guard:   guard,
		role:    role,
		overlay: make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Staged reports whether writes stay in memory
func (f *Filesystem) Staged() bool {
	return f.staged
}

// resolve validates path against the guard and returns its absolute and
// workspace-relative forms
func (f *Filesystem) resolve(path string) (string, string, error) {
	if err := f.guard.ValidatePath(path); err != nil {
		return "", "", &PathNotAllowedError{Path: path, Reason: err.Error(), OutsideWorkspace: true}
	}
	abs, err := f.guard.ResolvePath(path)
	if err != nil {
		return "", "", &PathNotAllowedError{Path: path, Reason: err.Error(), OutsideWorkspace: true}
	}
	rel, err := f.guard.MakeRelative(abs)
	if err != nil {
		return "", "", &PathNotAllowedError{Path: path, Reason: err.Error(), OutsideWorkspace: true}
	}
	return abs, rel, nil
}

// Read returns the content of a workspace file
func (f *Filesystem) Read(path string) (string, error) {
	if err := checkTool(f.policy, f.role, governance.ToolFilesystem); err != nil {
		return "", err
	}
	abs, rel, err := f.resolve(path)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	content, ok := f.overlay[rel]
	f.mu.Unlock()
	if ok {
		return content, nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return string(data), nil
}

// Write replaces the content of a file on the path allowlist
func (f *Filesystem) Write(path, content string) (*FileChange, error) {
	if err := checkTool(f.policy, f.role, governance.ToolFilesystem); err != nil {
		return nil, err
	}
	abs, rel, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	if !f.policy.IsPathAllowed(rel) {
		return nil, &PathNotAllowedError{Path: rel, Reason: "not on the path allowlist"}
	}

	before, existed, err := f.current(abs, rel)
	if err != nil {
		return nil, err
	}

	if f.staged {
		f.mu.Lock()
		f.overlay[rel] = content
		f.mu.Unlock()
	} else {
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", rel, err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", rel, err)
		}
	}

	added, removed := LineStats(before, content)
	return &FileChange{
		Path:         rel,
		Before:       before,
		After:        content,
		LinesAdded:   added,
		LinesRemoved: removed,
		Created:      !existed,
	}, nil
}

func (f *Filesystem) current(abs, rel string) (string, bool, error) {
	f.mu.Lock()
	content, ok := f.overlay[rel]
	f.mu.Unlock()
	if ok {
		return content, true, nil
	}

	data, err := os.ReadFile(abs)
	switch {
	case err == nil:
		return string(data), true, nil
	case errors.Is(err, fs.ErrNotExist):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("failed to read %s: %w", rel, err)
	}
}

// List returns the workspace-relative files under dir, skipping ignored
// entries. Staged files are included.
func (f *Filesystem) List(dir string) ([]string, error) {
	if err := checkTool(f.policy, f.role, governance.ToolFilesystem); err != nil {
		return nil, err
	}
	if dir == "" {
		dir = "."
	}
	abs, _, err := f.resolve(dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, relErr := f.guard.MakeRelative(p)
		if relErr != nil || rel == "." {
			return nil
		}
		if f.guard.ShouldIgnore(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			seen[rel] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	prefix, _ := f.guard.MakeRelative(abs)
	f.mu.Lock()
	for rel := range f.overlay {
		if prefix == "." || isWithin(filepath.FromSlash(rel), filepath.FromSlash(prefix)) {
			seen[rel] = true
		}
	}
	f.mu.Unlock()

	files := make([]string, 0, len(seen))
	for rel := range seen {
		files = append(files, rel)
	}
	sort.Strings(files)
	return files, nil
}
