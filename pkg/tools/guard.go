package tools

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// defaultIgnores are skipped by directory listings even without a .gitignore
var defaultIgnores = []string{".git/", ".shipmachine/", "node_modules/"}

// Guard enforces workspace boundary restrictions on file paths.
// Every filesystem and publish operation resolves its path through the guard,
// which rejects traversal and symlinks that leave the workspace.
type Guard struct {
	workspaceDir    string
	ignore          *ignore.GitIgnore
	whitelistedDirs []string
}

// NewGuard creates a guard rooted at workspaceDir. The directory is made
// absolute and its symlinks are evaluated. Ignore rules are read from
// .gitignore and .shipmachine/ignore when present.
func NewGuard(workspaceDir string) (*Guard, error) {
	if workspaceDir == "" {
		return nil, fmt.Errorf("workspace directory cannot be empty")
	}

	absPath, err := filepath.Abs(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory: %w", err)
	}

	evalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate workspace directory symlinks: %w", err)
	}

	rules := append([]string(nil), defaultIgnores...)
	for _, name := range []string{".gitignore", filepath.Join(".shipmachine", "ignore")} {
		lines, readErr := readIgnoreFile(filepath.Join(evalPath, name))
		if readErr == nil {
			rules = append(rules, lines...)
		}
	}

	return &Guard{
		workspaceDir: evalPath,
		ignore:       ignore.CompileIgnoreLines(rules...),
	}, nil
}

func readIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// ValidatePath checks that path resolves inside the workspace or a
// whitelisted directory
func (g *Guard) ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	resolvedPath, err := g.ResolvePath(path)
	if err != nil {
		return err
	}

	if !g.IsWithinWorkspace(resolvedPath) {
		return fmt.Errorf("path '%s' is outside workspace boundaries", path)
	}
	return nil
}

// ResolvePath converts a relative or absolute path to an absolute path within
// the workspace context, resolving symlinks of the longest existing prefix
func (g *Guard) ResolvePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	cleanPath := filepath.Clean(path)
	absPath := cleanPath
	if !filepath.IsAbs(cleanPath) {
		absPath = filepath.Join(g.workspaceDir, cleanPath)
	}
	return resolveSymlinks(filepath.Clean(absPath)), nil
}

// IsWithinWorkspace reports whether absPath is the workspace, a child of it,
// or inside a whitelisted directory
func (g *Guard) IsWithinWorkspace(absPath string) bool {
	evalPath := resolveSymlinks(absPath)
	if isWithin(evalPath, g.workspaceDir) {
		return true
	}
	for _, dir := range g.whitelistedDirs {
		if isWithin(evalPath, dir) {
			return true
		}
	}
	return false
}

func isWithin(path, root string) bool {
	return path == root || strings.HasPrefix(path+string(filepath.Separator), root+string(filepath.Separator))
}

// resolveSymlinks evaluates symlinks in path. For paths that do not exist yet
// the longest existing ancestor is resolved and the rest re-joined.
func resolveSymlinks(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}

	var components []string
	current := path
	for {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			result := resolved
			for i := len(components) - 1; i >= 0; i-- {
				result = filepath.Join(result, components[i])
			}
			return result
		}

		dir := filepath.Dir(current)
		if dir == current || dir == "." {
			return filepath.Clean(path)
		}
		components = append(components, filepath.Base(current))
		current = dir
	}
}

// AddWhitelist allows operations inside dir even when it is outside the
// workspace. The artifacts directory is typically registered this way.
func (g *Guard) AddWhitelist(dir string) error {
	if dir == "" {
		return fmt.Errorf("whitelist directory cannot be empty")
	}
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve whitelist directory: %w", err)
	}
	evalPath := resolveSymlinks(absPath)
	for _, existing := range g.whitelistedDirs {
		if existing == evalPath {
			return nil
		}
	}
	g.whitelistedDirs = append(g.whitelistedDirs, evalPath)
	return nil
}

// WorkspaceDir returns the absolute workspace root
func (g *Guard) WorkspaceDir() string {
	return g.workspaceDir
}

// MakeRelative converts an absolute path to a slash-separated path relative
// to the workspace
func (g *Guard) MakeRelative(absPath string) (string, error) {
	evalPath := resolveSymlinks(absPath)
	if !isWithin(evalPath, g.workspaceDir) {
		return "", fmt.Errorf("path '%s' is not within workspace", absPath)
	}
	rel, err := filepath.Rel(g.workspaceDir, evalPath)
	if err != nil {
		return "", fmt.Errorf("failed to make path relative: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// ShouldIgnore reports whether a workspace-relative path matches the ignore
// rules
func (g *Guard) ShouldIgnore(relPath string, isDir bool) bool {
	p := filepath.ToSlash(relPath)
	if isDir && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return g.ignore.MatchesPath(p)
}
