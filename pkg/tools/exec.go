package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/lelandsequel/shipmachine/pkg/governance"
)

// DefaultExecTimeout bounds commands that do not set their own timeout
const DefaultExecTimeout = 5 * time.Minute

// RunOptions controls a single command execution
type RunOptions struct {
	// Confirmed acknowledges a dangerous command. It never bypasses the
	// allowlist.
	Confirmed bool
	Timeout   time.Duration
	// Dir is a workspace-relative working directory
	Dir string
}

// ExecResult is the outcome of a command that ran
type ExecResult struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// ProcessExec runs allowlisted commands inside the workspace
type ProcessExec struct {
	policy Policy
	guard  *Guard
	role   string
}

// NewProcessExec creates a process tool for role
func NewProcessExec(policy Policy, guard *Guard, role string) *ProcessExec {
	return &ProcessExec{policy: policy, guard: guard, role: role}
}

// Authorize applies the tool, allowlist and dangerous-command checks without
// running anything
func (p *ProcessExec) Authorize(command string, confirmed bool) error {
	if err := checkTool(p.policy, p.role, governance.ToolProcessExec); err != nil {
		return err
	}
	command = strings.TrimSpace(command)
	if !p.policy.IsCommandAllowed(command) {
		return &CommandNotAllowlistedError{Command: command}
	}
	if p.policy.IsDangerous(command) && !confirmed {
		reason, _ := governance.DangerousReason(command)
		return &DangerousCommandUnconfirmedError{Command: command, Reason: reason}
	}
	return nil
}

// splitCommand turns command into argv using shell quoting rules. Expansion
// is disabled and shell operators are rejected since no shell runs the result.
func splitCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	parts, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command %q: %w", command, err)
	}
	if parser.Position >= 0 {
		return nil, fmt.Errorf("command %q uses shell operators, which are not supported", command)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return parts, nil
}

// Run executes command without a shell. A non-zero exit status is reported in
// the result, not as an error.
func (p *ProcessExec) Run(ctx context.Context, command string, opts RunOptions) (*ExecResult, error) {
	if err := p.Authorize(command, opts.Confirmed); err != nil {
		return nil, err
	}

	parts, err := splitCommand(command)
	if err != nil {
		return nil, err
	}

	dir := p.guard.WorkspaceDir()
	if opts.Dir != "" {
		if err := p.guard.ValidatePath(opts.Dir); err != nil {
			return nil, &PathNotAllowedError{Path: opts.Dir, Reason: err.Error(), OutsideWorkspace: true}
		}
		resolved, err := p.guard.ResolvePath(opts.Dir)
		if err != nil {
			return nil, err
		}
		dir = resolved
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, parts[0], parts[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	result := &ExecResult{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		result.TimedOut = true
		return result, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return nil, fmt.Errorf("failed to run %q: %w", command, err)
}
