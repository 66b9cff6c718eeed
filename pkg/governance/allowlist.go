package governance

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// recursiveMarker suffixes a path entry that matches any depth below it
const recursiveMarker = "/**"

type pathRule struct {
	entry     string
	prefix    string
	recursive bool
	pattern   glob.Glob
}

func compilePathRule(entry string) (pathRule, error) {
	raw := strings.TrimSpace(entry)
	if raw == "" {
		return pathRule{}, fmt.Errorf("allowlisted path cannot be empty")
	}

	if raw == "**" || raw == "." || raw == "./" {
		return pathRule{entry: raw, recursive: true}, nil
	}

	if strings.HasSuffix(raw, recursiveMarker) {
		base := NormalizePath(strings.TrimSuffix(raw, recursiveMarker))
		if base != "" && !strings.ContainsAny(base, "*?[{") {
			return pathRule{entry: raw, prefix: base, recursive: true}, nil
		}
	}

	if strings.ContainsAny(raw, "*?[{") {
		g, err := glob.Compile(NormalizePath(raw), '/')
		if err != nil {
			return pathRule{}, fmt.Errorf("invalid path pattern '%s': %w", raw, err)
		}
		return pathRule{entry: raw, pattern: g}, nil
	}

	return pathRule{entry: raw, prefix: NormalizePath(raw)}, nil
}

func (r pathRule) matches(p string) bool {
	switch {
	case r.pattern != nil:
		return r.pattern.Match(p)
	case r.recursive && r.prefix == "":
		return true
	case p == r.prefix:
		return true
	case !strings.HasPrefix(p, r.prefix+"/"):
		return false
	case r.recursive:
		return true
	default:
		// plain entries admit only direct children
		return !strings.Contains(strings.TrimPrefix(p, r.prefix+"/"), "/")
	}
}

// NormalizePath cleans a workspace-relative path into slash form without a
// leading "./". Paths escaping the workspace normalize to "".
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = path.Clean(filepath.ToSlash(p))
	p = strings.TrimPrefix(p, "./")
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return ""
	}
	return p
}

// IsPathAllowed reports whether a workspace-relative path is writable. Denied
// patterns win over every allowlist entry.
func (e *Engine) IsPathAllowed(p string) bool {
	pol := e.current()

	normalized := NormalizePath(p)
	if normalized == "" || strings.HasPrefix(normalized, "/") {
		return false
	}

	for _, denied := range pol.deniedPaths {
		if denied.Match(normalized) {
			return false
		}
	}

	for _, rule := range pol.paths {
		if rule.matches(normalized) {
			return true
		}
	}
	return false
}

// AllowedPaths returns the configured path entries
func (e *Engine) AllowedPaths() []string {
	pol := e.current()
	out := make([]string, 0, len(pol.paths))
	for _, r := range pol.paths {
		out = append(out, r.entry)
	}
	return out
}

// IsCommandAllowed reports whether command equals, or begins with as a whole
// token, an allowlisted command.
func (e *Engine) IsCommandAllowed(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	for _, allowed := range e.current().commands {
		if matchesCommand(command, allowed) {
			return true
		}
	}
	return false
}

// AllowedCommands returns the configured command entries
func (e *Engine) AllowedCommands() []string {
	return append([]string(nil), e.current().commands...)
}

// matchesCommand checks an exact match or a prefix followed by a space, so
// "npm install" admits "npm install express" but "npm" never admits "npminstall".
func matchesCommand(command, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if command == pattern {
		return true
	}
	return strings.HasPrefix(command, pattern+" ")
}
