// Package orchestrator drives a run: it scopes the task, plans typed steps,
// executes them in plan order under budget and retry ceilings, then produces
// the documentation, security, risk, rollback and PR phases and the evidence
// bundle.
package orchestrator

import (
	"fmt"
	"strings"
)

// StepType tags a plan step
type StepType string

const (
	StepAnalysis StepType = "analysis"
	StepPatch    StepType = "patch"
	StepCreate   StepType = "create"
	StepTests    StepType = "tests"
	StepExec     StepType = "exec"
	StepDocs     StepType = "docs"
	StepReview   StepType = "review"
)

// PlanStep is one unit of planned work
type PlanStep struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	Type           StepType `json:"type"`
	Files          []string `json:"files,omitempty"`
	TestCheckpoint bool     `json:"test_checkpoint,omitempty"`
	Command        string   `json:"command,omitempty"`
}

// StepOutcome is what executing a step produced
type StepOutcome struct {
	StepID string         `json:"step_id"`
	Output map[string]any `json:"output,omitempty"`
	// Applied is set when every edit of a patch or create step was written
	Applied bool `json:"applied,omitempty"`
	// TestsPassed is nil when no test checkpoint ran
	TestsPassed *bool  `json:"tests_passed,omitempty"`
	TestFile    string `json:"test_file,omitempty"`
	// ExitCode is nil when no command ran
	ExitCode    *int     `json:"exit_code,omitempty"`
	DocsUpdated bool     `json:"docs_updated,omitempty"`
	Reviewed    bool     `json:"reviewed,omitempty"`
	Complete    bool     `json:"complete,omitempty"`
	NeedsFix    bool     `json:"needs_fix,omitempty"`
	Abort       bool     `json:"abort,omitempty"`
	Files       []string `json:"files,omitempty"`
	Skipped     bool     `json:"skipped,omitempty"`
	Error       string   `json:"error,omitempty"`
	Tokens      int      `json:"tokens"`
}

// IsStepComplete applies the per-type completion rule
func IsStepComplete(step PlanStep, o StepOutcome) bool {
	switch step.Type {
	case StepAnalysis:
		return o.Output != nil
	case StepPatch, StepCreate:
		if !o.Applied {
			return false
		}
		if step.TestCheckpoint {
			return o.TestsPassed != nil && *o.TestsPassed
		}
		return true
	case StepTests:
		return o.TestFile != ""
	case StepExec:
		return o.ExitCode != nil && *o.ExitCode == 0
	case StepDocs:
		return o.DocsUpdated
	case StepReview:
		return o.Reviewed
	default:
		return o.Complete
	}
}

// ParsePlan converts the ship.plan output into plan steps. Step ids must be
// unique; a missing id is derived from the position.
func ParsePlan(output map[string]any) ([]PlanStep, error) {
	raw, ok := output["steps"].([]any)
	if !ok {
		if output["steps"] == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("plan steps must be an array")
	}

	seen := make(map[string]bool, len(raw))
	steps := make([]PlanStep, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("plan step %d is not an object", i+1)
		}
		step := PlanStep{
			ID:             strings.TrimSpace(stringField(m, "id")),
			Description:    stringField(m, "description"),
			Type:           StepType(strings.ToLower(strings.TrimSpace(stringField(m, "type")))),
			Files:          stringSlice(m["files"]),
			TestCheckpoint: boolField(m, "test_checkpoint"),
			Command:        strings.TrimSpace(stringField(m, "command")),
		}
		if step.ID == "" {
			step.ID = fmt.Sprintf("step-%d", i+1)
		}
		if seen[step.ID] {
			return nil, fmt.Errorf("duplicate plan step id: %s", step.ID)
		}
		seen[step.ID] = true
		steps = append(steps, step)
	}
	return steps, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func stringSlice(v any) []string {
	switch items := v.(type) {
	case []string:
		return append([]string(nil), items...)
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
