package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lelandsequel/shipmachine/pkg/config"
	"github.com/lelandsequel/shipmachine/pkg/governance"
)

// GateResult is the outcome of one configured test command
type GateResult struct {
	Name     string        `json:"name"`
	Command  string        `json:"command"`
	Required bool          `json:"required"`
	Passed   bool          `json:"passed"`
	Skipped  bool          `json:"skipped,omitempty"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// TestOutcome aggregates gate results. Passed is false when any required
// gate failed.
type TestOutcome struct {
	Passed  bool         `json:"passed"`
	Results []GateResult `json:"results"`
}

// FailedGates returns the required gates that did not pass
func (o *TestOutcome) FailedGates() []GateResult {
	failed := make([]GateResult, 0)
	for _, r := range o.Results {
		if r.Required && !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// FeedbackMessage describes failed gates for the next fix attempt
func (o *TestOutcome) FeedbackMessage(attempt, maxAttempts int) string {
	failed := o.FailedGates()
	if len(failed) == 0 {
		return ""
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("The previous change failed tests (attempt %d/%d).\n\n", attempt, maxAttempts))
	for _, r := range failed {
		msg.WriteString(fmt.Sprintf("- %s (%s)\n", r.Name, r.Command))
		if r.Error != "" {
			msg.WriteString(fmt.Sprintf("  error: %s\n", r.Error))
		}
		if r.Output != "" {
			msg.WriteString(fmt.Sprintf("  output: %s\n", truncate(r.Output, 2000)))
		}
	}
	return msg.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// TestRunner runs the configured test commands through ProcessExec
type TestRunner struct {
	policy   Policy
	role     string
	exec     *ProcessExec
	commands []config.TestCommand
	skip     bool
}

// TestRunnerOption configures a TestRunner
type TestRunnerOption func(*TestRunner)

// WithSkipExecution records every gate as skipped and passing
func WithSkipExecution() TestRunnerOption {
	return func(r *TestRunner) { r.skip = true }
}

// NewTestRunner creates a runner for commands
func NewTestRunner(policy Policy, role string, exec *ProcessExec, commands []config.TestCommand, opts ...TestRunnerOption) *TestRunner {
	r := &TestRunner{policy: policy, role: role, exec: exec, commands: commands}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every command in order. A gate whose command cannot be run
// fails with the error recorded. With no commands the outcome passes.
func (r *TestRunner) Run(ctx context.Context) (*TestOutcome, error) {
	if err := checkTool(r.policy, r.role, governance.ToolTestRunner); err != nil {
		return nil, err
	}

	outcome := &TestOutcome{Passed: true, Results: make([]GateResult, 0, len(r.commands))}
	for _, tc := range r.commands {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result := r.runGate(ctx, tc)
		if result.Required && !result.Passed {
			outcome.Passed = false
		}
		outcome.Results = append(outcome.Results, result)
	}
	return outcome, nil
}

func (r *TestRunner) runGate(ctx context.Context, tc config.TestCommand) GateResult {
	name := tc.Name
	if name == "" {
		name = tc.Command
	}
	result := GateResult{Name: name, Command: tc.Command, Required: tc.Required}

	if r.skip {
		result.Passed = true
		result.Skipped = true
		return result
	}

	res, err := r.exec.Run(ctx, tc.Command, RunOptions{Timeout: tc.Timeout})
	if err != nil {
		result.Error = err.Error()
		result.ExitCode = -1
		return result
	}

	result.ExitCode = res.ExitCode
	result.Duration = res.Duration
	result.Output = strings.TrimSpace(res.Stdout + res.Stderr)
	result.Passed = res.ExitCode == 0
	if res.TimedOut {
		result.Error = fmt.Sprintf("timed out after %s", res.Duration.Round(time.Millisecond))
	}
	return result
}
