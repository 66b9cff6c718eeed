package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/lelandsequel/shipmachine/pkg/operations"
	"github.com/lelandsequel/shipmachine/pkg/tools"
)

// fileEdit is one full-content replacement proposed by the model
type fileEdit struct {
	Path    string
	Content string
}

// executeStep dispatches a plan step by type. retry is the number of
// earlier attempts of the same step.
func (e *Executor) executeStep(ctx context.Context, tc *TaskContext, step PlanStep, retry int) (StepOutcome, error) {
	outcome := StepOutcome{StepID: step.ID}
	var err error
	switch step.Type {
	case StepAnalysis:
		err = e.runAnalysis(ctx, tc, step, retry, &outcome)
	case StepPatch, StepCreate:
		err = e.runEdit(ctx, tc, step, retry, &outcome)
	case StepTests:
		err = e.runTestAuthoring(ctx, tc, step, retry, &outcome)
	case StepExec:
		err = e.runExec(ctx, step, &outcome)
	case StepDocs:
		err = e.runDocs(ctx, tc, retry, &outcome)
	case StepReview:
		err = e.runReview(ctx, tc, step, retry, &outcome)
	default:
		err = e.runGeneric(ctx, tc, step, retry, &outcome)
	}
	return outcome, err
}

func stepInput(step PlanStep) map[string]any {
	in := map[string]any{
		"id":          step.ID,
		"type":        string(step.Type),
		"description": step.Description,
	}
	if len(step.Files) > 0 {
		in["files"] = step.Files
	}
	if step.Command != "" {
		in["command"] = step.Command
	}
	return in
}

// readFiles loads the step's files for the prompt. Unreadable files are
// marked instead of failing the step.
func (e *Executor) readFiles(paths []string) (map[string]any, []string) {
	if len(paths) == 0 {
		return nil, nil
	}
	contents := make(map[string]any, len(paths))
	calls := make([]string, 0, len(paths))
	for _, p := range paths {
		calls = append(calls, "filesystem.read:"+p)
		content, err := e.fs.Read(p)
		if err != nil {
			contents[p] = operations.NotProvided(p)
			continue
		}
		contents[p] = content
	}
	return contents, calls
}

func (e *Executor) runAnalysis(ctx context.Context, tc *TaskContext, step PlanStep, retry int, outcome *StepOutcome) error {
	files, calls := e.readFiles(step.Files)
	res, err := e.call(ctx, tc, "ship.analysis", map[string]any{
		"step":  stepInput(step),
		"files": files,
	}, retry, calls)
	if err != nil {
		return err
	}
	outcome.Output = res.Output
	outcome.Tokens = res.TokensUsed
	e.console.Infof("%s", stringOr(res.Output["summary"], "analysis complete"))
	return nil
}

func (e *Executor) runEdit(ctx context.Context, tc *TaskContext, step PlanStep, retry int, outcome *StepOutcome) error {
	operationID := "ship.patch"
	if step.Type == StepCreate {
		operationID = "ship.create"
	}

	files, calls := e.readFiles(step.Files)
	inputs := map[string]any{
		"step":  stepInput(step),
		"files": files,
	}
	if fb := tc.feedback[step.ID]; fb != "" {
		inputs["feedback"] = fb
	}

	res, err := e.call(ctx, tc, operationID, inputs, retry, calls)
	if err != nil {
		return err
	}
	outcome.Output = res.Output
	outcome.Tokens = res.TokensUsed

	edits := parseEdits(res.Output["edits"])
	if len(edits) == 0 {
		tc.feedback[step.ID] = "The previous reply contained no usable edits."
		return nil
	}
	applied, err := e.applyEdits(tc, edits, outcome)
	if err != nil {
		tc.feedback[step.ID] = fmt.Sprintf("The previous edits could not be applied: %v", err)
		return err
	}
	outcome.Applied = applied

	if step.TestCheckpoint {
		result, err := e.runTests(ctx, tc)
		if err != nil {
			return err
		}
		passed := result.Passed
		outcome.TestsPassed = &passed
		if passed {
			delete(tc.feedback, step.ID)
		} else {
			tc.feedback[step.ID] = result.FeedbackMessage(retry+1, e.cfg.Run.MaxRetries)
			outcome.Error = fmt.Sprintf("%d required test gate(s) failed", len(result.FailedGates()))
		}
	}
	return nil
}

func (e *Executor) runTestAuthoring(ctx context.Context, tc *TaskContext, step PlanStep, retry int, outcome *StepOutcome) error {
	files, calls := e.readFiles(step.Files)
	res, err := e.call(ctx, tc, "ship.tests", map[string]any{
		"step":  stepInput(step),
		"files": files,
	}, retry, calls)
	if err != nil {
		return err
	}
	outcome.Output = res.Output
	outcome.Tokens = res.TokensUsed

	path := stringOr(res.Output["path"], "")
	content, _ := res.Output["content"].(string)
	if path == "" {
		return errors.New("test step returned no file path")
	}
	if _, err := e.applyEdits(tc, []fileEdit{{Path: path, Content: content}}, outcome); err != nil {
		return err
	}
	outcome.TestFile = path
	return nil
}

// runExec runs the step command. Dry runs only authorize it.
func (e *Executor) runExec(ctx context.Context, step PlanStep, outcome *StepOutcome) error {
	if step.Command == "" {
		return errors.New("exec step has no command")
	}

	if e.dryRun {
		if err := e.proc.Authorize(step.Command, false); err != nil {
			return err
		}
		code := 0
		outcome.ExitCode = &code
		outcome.Skipped = true
		e.console.Verbosef("dry run: skipped %s", step.Command)
		return nil
	}

	res, err := e.proc.Run(ctx, step.Command, tools.RunOptions{})
	if err != nil {
		return err
	}
	code := res.ExitCode
	outcome.ExitCode = &code
	switch {
	case res.TimedOut:
		outcome.Error = fmt.Sprintf("command timed out after %s", res.Duration)
	case code != 0:
		outcome.Error = fmt.Sprintf("command exited with code %d: %s", code, truncateOutput(res.Stderr))
	}
	return nil
}

func (e *Executor) runDocs(ctx context.Context, tc *TaskContext, retry int, outcome *StepOutcome) error {
	res, err := e.call(ctx, tc, "ship.docs", map[string]any{
		"scope":         tc.Phases[PhaseScope],
		"changed_files": tc.ModifiedFiles(),
		"diff":          e.diff(tc),
	}, retry, nil)
	if err != nil {
		return err
	}
	outcome.Output = res.Output
	outcome.Tokens = res.TokensUsed

	updated, _ := res.Output["docs_updated"].(bool)
	if edits := parseEdits(res.Output["edits"]); len(edits) > 0 {
		applied, err := e.applyEdits(tc, edits, outcome)
		if err != nil {
			return err
		}
		updated = updated || applied
	}
	outcome.DocsUpdated = updated
	return nil
}

func (e *Executor) runReview(ctx context.Context, tc *TaskContext, step PlanStep, retry int, outcome *StepOutcome) error {
	res, err := e.call(ctx, tc, "ship.review", map[string]any{
		"step": stepInput(step),
		"diff": e.diff(tc),
	}, retry, nil)
	if err != nil {
		return err
	}
	outcome.Output = res.Output
	outcome.Tokens = res.TokensUsed

	approved, ok := res.Output["approved"].(bool)
	outcome.Reviewed = ok
	if ok && !approved {
		tc.AddWarnings(fmt.Sprintf("review %s did not approve the change", step.ID))
		e.console.Warningf("review %s did not approve the change", step.ID)
	}
	return nil
}

// runGeneric handles step types without a dedicated operation. The model
// must report completion explicitly.
func (e *Executor) runGeneric(ctx context.Context, tc *TaskContext, step PlanStep, retry int, outcome *StepOutcome) error {
	files, calls := e.readFiles(step.Files)
	res, err := e.call(ctx, tc, "ship.analysis", map[string]any{
		"step":  stepInput(step),
		"files": files,
	}, retry, calls)
	if err != nil {
		return err
	}
	outcome.Output = res.Output
	outcome.Tokens = res.TokensUsed
	outcome.Complete, _ = res.Output["complete"].(bool)
	outcome.Abort, _ = res.Output["abort"].(bool)
	return nil
}

// applyEdits writes every edit, stopping at the first failure. It reports
// whether at least one edit was written.
func (e *Executor) applyEdits(tc *TaskContext, edits []fileEdit, outcome *StepOutcome) (bool, error) {
	for _, edit := range edits {
		change, err := e.fs.Write(edit.Path, edit.Content)
		if err != nil {
			return false, err
		}
		tc.RecordChange(change)
		outcome.Files = append(outcome.Files, change.Path)
		e.console.FileModified(change.Path, change.LinesAdded, change.LinesRemoved, e.fs.Staged())
	}
	return len(edits) > 0, nil
}

// runTests runs the configured gates and keeps the outcome as evidence
func (e *Executor) runTests(ctx context.Context, tc *TaskContext) (*tools.TestOutcome, error) {
	result, err := e.tests.Run(ctx)
	if err != nil {
		return nil, err
	}
	tc.TestEvidence = append(tc.TestEvidence, result)
	for _, gate := range result.Results {
		e.console.TestGate(gate.Name, gate.Passed, gate.Skipped, gate.Error)
	}
	return result, nil
}

func parseEdits(v any) []fileEdit {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	edits := make([]fileEdit, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		path := stringField(m, "path")
		if path == "" {
			continue
		}
		edits = append(edits, fileEdit{Path: path, Content: stringField(m, "content")})
	}
	return edits
}

func truncateOutput(s string) string {
	const limit = 500
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}
