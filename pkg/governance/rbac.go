package governance

import (
	"fmt"
	"strings"
)

// IsOperationAllowed reports whether role may run operationID. Patterns are
// exact ids, "*" for everything, or "P.*" which matches P itself and anything
// below "P." (never a sibling such as "Pxyz").
func (e *Engine) IsOperationAllowed(roleName, operationID string) bool {
	r, ok := e.current().roles[roleName]
	if !ok {
		return false
	}
	return matchesAnyOperation(r.operations, operationID)
}

// IsToolAllowed reports whether role may use a tool category
func (e *Engine) IsToolAllowed(roleName string, category ToolCategory) bool {
	r, ok := e.current().roles[roleName]
	if !ok {
		return false
	}
	return r.tools[category]
}

// AllowedOperations returns the raw operation patterns of a role
func (e *Engine) AllowedOperations(roleName string) []string {
	r, ok := e.current().roles[roleName]
	if !ok {
		return nil
	}
	return append([]string(nil), r.operations...)
}

func matchesAnyOperation(patterns []string, operationID string) bool {
	for _, pattern := range patterns {
		if matchOperation(pattern, operationID) {
			return true
		}
	}
	return false
}

func matchOperation(pattern, operationID string) bool {
	if pattern == "*" {
		return operationID != ""
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return operationID == prefix || strings.HasPrefix(operationID, prefix+".")
	}
	return pattern == operationID
}

// RoleIndex is a role-membership index maintained separately from the role
// policy. It answers the same question from its own table.
type RoleIndex struct {
	grants map[string][]string
}

// NewRoleIndex builds an index from role -> operation patterns
func NewRoleIndex(grants map[string][]string) (*RoleIndex, error) {
	idx := &RoleIndex{grants: make(map[string][]string, len(grants))}
	for r, patterns := range grants {
		for _, p := range patterns {
			if err := validateOperationPattern(p); err != nil {
				return nil, fmt.Errorf("rbac role %s: %w", r, err)
			}
		}
		idx.grants[r] = append([]string(nil), patterns...)
	}
	return idx, nil
}

// Allows reports whether the index grants operationID to role
func (idx *RoleIndex) Allows(roleName, operationID string) bool {
	patterns, ok := idx.grants[roleName]
	if !ok {
		return false
	}
	return matchesAnyOperation(patterns, operationID)
}
