package tools

import (
	"fmt"

	"github.com/lelandsequel/shipmachine/pkg/governance"
)

// ToolAccessDeniedError is returned when a role may not use a tool category
type ToolAccessDeniedError struct {
	Role     string
	Category governance.ToolCategory
}

func (e *ToolAccessDeniedError) Error() string {
	return fmt.Sprintf("tool access denied: role %q cannot use %s", e.Role, e.Category)
}

// Remediation suggests how to grant access
func (e *ToolAccessDeniedError) Remediation() string {
	return fmt.Sprintf("add %q to roles.%s.tools", e.Category, e.Role)
}

// PathNotAllowedError is returned for writes outside the path allowlist or
// workspace
type PathNotAllowedError struct {
	Path   string
	Reason string
	// OutsideWorkspace marks a path the workspace guard rejected. No allowlist
	// entry can admit it.
	OutsideWorkspace bool
}

func (e *PathNotAllowedError) Error() string {
	return fmt.Sprintf("path not allowed: %s: %s", e.Path, e.Reason)
}

// Remediation suggests how to permit the path
func (e *PathNotAllowedError) Remediation() string {
	if e.OutsideWorkspace {
		return fmt.Sprintf("use a path inside run.workspace; %q escapes it", e.Path)
	}
	return fmt.Sprintf("add %q (or a matching glob) to allowlists.paths and keep it out of allowlists.denied_paths", e.Path)
}

// CommandNotAllowlistedError is returned for commands outside the allowlist
type CommandNotAllowlistedError struct {
	Command string
}

func (e *CommandNotAllowlistedError) Error() string {
	return fmt.Sprintf("command not allowlisted: %s", e.Command)
}

// Remediation suggests how to permit the command
func (e *CommandNotAllowlistedError) Remediation() string {
	return fmt.Sprintf("add %q to allowlists.commands", e.Command)
}

// DangerousCommandUnconfirmedError is returned when an allowlisted command
// matches a dangerous signature and the caller did not confirm it
type DangerousCommandUnconfirmedError struct {
	Command string
	Reason  string
}

func (e *DangerousCommandUnconfirmedError) Error() string {
	return fmt.Sprintf("dangerous command requires confirmation (%s): %s", e.Reason, e.Command)
}

// Remediation suggests how to proceed
func (e *DangerousCommandUnconfirmedError) Remediation() string {
	return "re-run with explicit confirmation after reviewing the command"
}

// Remediator is implemented by errors that carry a suggested fix
type Remediator interface {
	Remediation() string
}
