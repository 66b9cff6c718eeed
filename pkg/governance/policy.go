package governance

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/lelandsequel/shipmachine/pkg/budget"
	"github.com/lelandsequel/shipmachine/pkg/config"
)

// policy is the compiled, immutable form of the configuration
type policy struct {
	roles          map[string]*role
	commands       []string
	paths          []pathRule
	deniedPaths    []glob.Glob
	limits         budget.Limits
	dataClasses    map[DataClass]*dataClassRule
	modelAllowlist map[string][]string
	approvals      []approvalRule
}

type role struct {
	name       string
	operations []string
	tools      map[ToolCategory]bool
}

type dataClassRule struct {
	blocked           bool
	anyRole           bool
	allowedRoles      map[string]bool
	requiresRedaction bool
	patterns          []*piiPattern
}

func compile(cfg *config.Config) (*policy, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	if err := cfg.Budgets.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budgets: %w", err)
	}

	p := &policy{
		roles:          make(map[string]*role, len(cfg.Roles)),
		limits:         cfg.Budgets,
		dataClasses:    make(map[DataClass]*dataClassRule),
		modelAllowlist: make(map[string][]string),
	}

	for name, rc := range cfg.Roles {
		if name == "" {
			return nil, fmt.Errorf("role name cannot be empty")
		}
		r := &role{name: name, tools: make(map[ToolCategory]bool)}
		for _, op := range rc.Operations {
			op = strings.TrimSpace(op)
			if err := validateOperationPattern(op); err != nil {
				return nil, fmt.Errorf("role %s: %w", name, err)
			}
			r.operations = append(r.operations, op)
		}
		for _, t := range rc.Tools {
			cat, err := ParseToolCategory(t)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", name, err)
			}
			r.tools[cat] = true
		}
		p.roles[name] = r
	}

	for _, c := range cfg.Allowlists.Commands {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, fmt.Errorf("allowlisted command cannot be empty")
		}
		p.commands = append(p.commands, c)
	}

	for _, entry := range cfg.Allowlists.Paths {
		rule, err := compilePathRule(entry)
		if err != nil {
			return nil, err
		}
		p.paths = append(p.paths, rule)
	}

	for _, pattern := range cfg.Allowlists.DeniedPaths {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid denied path pattern '%s': %w", pattern, err)
		}
		p.deniedPaths = append(p.deniedPaths, g)
	}

	for name, dc := range cfg.Governance.DataClasses {
		rule := &dataClassRule{
			blocked:           dc.Blocked,
			allowedRoles:      make(map[string]bool),
			requiresRedaction: dc.RequiresRedaction,
		}
		for _, r := range dc.AllowedRoles {
			if r == "*" {
				rule.anyRole = true
				continue
			}
			rule.allowedRoles[r] = true
		}
		patterns, err := selectPIIPatterns(dc.RedactPatterns)
		if err != nil {
			return nil, fmt.Errorf("data class %s: %w", name, err)
		}
		rule.patterns = patterns
		p.dataClasses[DataClass(name)] = rule
	}

	for r, models := range cfg.Governance.ModelAllowlist {
		p.modelAllowlist[r] = append([]string(nil), models...)
	}

	for i, ar := range cfg.Governance.ApprovalRequired {
		rule, err := compileApprovalRule(ar)
		if err != nil {
			return nil, fmt.Errorf("approval_required[%d]: %w", i, err)
		}
		p.approvals = append(p.approvals, rule)
	}

	return p, nil
}

var operationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

func validateOperationPattern(pattern string) error {
	if pattern == "*" {
		return nil
	}
	base := strings.TrimSuffix(pattern, ".*")
	if !operationIDPattern.MatchString(base) {
		return fmt.Errorf("invalid operation pattern %q", pattern)
	}
	return nil
}

func sortedStrings(in []string) []string {
	sort.Strings(in)
	return in
}
