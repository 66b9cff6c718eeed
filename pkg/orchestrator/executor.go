package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lelandsequel/shipmachine/pkg/artifact"
	"github.com/lelandsequel/shipmachine/pkg/bridge"
	"github.com/lelandsequel/shipmachine/pkg/budget"
	"github.com/lelandsequel/shipmachine/pkg/config"
	"github.com/lelandsequel/shipmachine/pkg/governance"
	"github.com/lelandsequel/shipmachine/pkg/logging"
	"github.com/lelandsequel/shipmachine/pkg/metrics"
	"github.com/lelandsequel/shipmachine/pkg/operations"
	"github.com/lelandsequel/shipmachine/pkg/tools"
)

// Terminal run statuses
const (
	StatusComplete = "complete"
	StatusAborted  = "aborted"
	StatusError    = "error"
	StatusDryRun   = "dry_run"
)

// Options configures an Executor
type Options struct {
	Config *config.Config
	Engine *governance.Engine
	Bridge *bridge.Bridge
	// Role defaults to run.default_role
	Role   string
	DryRun bool
	// Branch is checked out before any change and receives a commit when
	// the run completes
	Branch            string
	RollbackOnFailure bool
	// Attributes and Approved are passed to approval rules
	Attributes map[string]string
	Approved   bool
	Console    *Console
	Logger     *logging.Logger
	Metrics    *metrics.Recorder
	Clock      func() time.Time
}

// RunReport is the execution record of a run. It is written to
// execution.json in the artifact bundle.
type RunReport struct {
	RunID            string                    `json:"run_id"`
	Task             string                    `json:"task"`
	Status           string                    `json:"status"`
	Error            string                    `json:"error,omitempty"`
	AbortReason      string                    `json:"abort_reason,omitempty"`
	DryRun           bool                      `json:"dry_run"`
	Role             string                    `json:"role"`
	StartTime        time.Time                 `json:"start_time"`
	EndTime          time.Time                 `json:"end_time"`
	Duration         time.Duration             `json:"duration"`
	Plan             []PlanStep                `json:"plan"`
	Steps            []StepResult              `json:"steps"`
	FilesModified    []FileModification        `json:"files_modified"`
	Usage            budget.Usage              `json:"usage"`
	Escalations      []Escalation              `json:"escalations,omitempty"`
	Errors           []string                  `json:"errors,omitempty"`
	Warnings         []string                  `json:"warnings,omitempty"`
	PendingApprovals []string                  `json:"pending_approvals,omitempty"`
	TestEvidence     []*tools.TestOutcome      `json:"test_evidence,omitempty"`
	Phases           map[string]map[string]any `json:"phases"`
	Branch           string                    `json:"branch,omitempty"`
	CommitHash       string                    `json:"commit_hash,omitempty"`
	ArtifactDir      string                    `json:"artifact_dir,omitempty"`
	Diff             string                    `json:"-"`
	Manifest         *artifact.Manifest        `json:"-"`
}

// Executor runs tasks through the bridge and the tool collaborators
type Executor struct {
	cfg          *config.Config
	engine       *governance.Engine
	bridge       *bridge.Bridge
	role         string
	dryRun       bool
	branch       string
	rollback     bool
	attributes   map[string]string
	approved     bool
	artifactsDir string

	guard   *tools.Guard
	fs      *tools.Filesystem
	proc    *tools.ProcessExec
	tests   *tools.TestRunner
	publish *tools.ArtifactPublish
	vcs     *tools.VersionControl

	console *Console
	logger  *logging.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewExecutor wires the tool collaborators for the configured workspace
func NewExecutor(opts Options) (*Executor, error) {
	if opts.Config == nil || opts.Engine == nil || opts.Bridge == nil {
		return nil, fmt.Errorf("executor requires a config, an engine and a bridge")
	}
	cfg := opts.Config

	role := opts.Role
	if role == "" {
		role = cfg.Run.DefaultRole
	}
	if !opts.Engine.HasRole(role) {
		return nil, fmt.Errorf("unknown role: %s", role)
	}

	guard, err := tools.NewGuard(cfg.Run.Workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace guard: %w", err)
	}

	artifactsDir := cfg.Run.ArtifactsDir
	if !filepath.IsAbs(artifactsDir) {
		artifactsDir = filepath.Join(guard.WorkspaceDir(), artifactsDir)
	}
	if err := guard.AddWhitelist(artifactsDir); err != nil {
		return nil, fmt.Errorf("failed to register artifacts directory: %w", err)
	}

	e := &Executor{
		cfg:          cfg,
		engine:       opts.Engine,
		bridge:       opts.Bridge,
		role:         role,
		dryRun:       opts.DryRun || cfg.Run.DryRun,
		branch:       opts.Branch,
		rollback:     opts.RollbackOnFailure,
		attributes:   opts.Attributes,
		approved:     opts.Approved,
		artifactsDir: artifactsDir,
		guard:        guard,
		console:      opts.Console,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Clock,
	}
	if e.console == nil {
		e.console = NewConsole(ParseVerbosity(cfg.Run.Verbosity))
	}
	if e.logger == nil {
		e.logger = logging.Nop()
	}
	e.logger = e.logger.Named("orchestrator")
	if e.now == nil {
		e.now = time.Now
	}

	var fsOpts []tools.FilesystemOption
	var testOpts []tools.TestRunnerOption
	if e.dryRun {
		fsOpts = append(fsOpts, tools.WithStaging())
		testOpts = append(testOpts, tools.WithSkipExecution())
	}
	e.fs = tools.NewFilesystem(opts.Engine, guard, role, fsOpts...)
	e.proc = tools.NewProcessExec(opts.Engine, guard, role)
	e.tests = tools.NewTestRunner(opts.Engine, role, e.proc, cfg.Tests.Commands, testOpts...)
	e.publish = tools.NewArtifactPublish(opts.Engine, guard, role, artifact.NewWriter())

	if opts.Engine.IsToolAllowed(role, governance.ToolVersionControl) {
		vcs, err := tools.OpenVersionControl(opts.Engine, guard, role)
		if err != nil {
			e.logger.Debug("version control unavailable", zap.Error(err))
		} else {
			e.vcs = vcs
		}
	}
	return e, nil
}

// Run executes task end to end. The report is returned for every terminal
// status; the error is non-nil when the run aborted or failed.
func (e *Executor) Run(ctx context.Context, task string) (*RunReport, error) {
	start := e.now()
	tc := NewTaskContext(bridge.NewRunID(), task, budget.NewTrackerWithClock(e.now))
	report := &RunReport{
		RunID:     tc.RunID,
		Task:      task,
		DryRun:    e.dryRun,
		Role:      e.role,
		StartTime: start,
	}

	e.console.Header("shipmachine: " + task)
	e.logger.Info("run started",
		zap.String("run_id", tc.RunID),
		zap.String("role", e.role),
		zap.Bool("dry_run", e.dryRun))

	e.prepareWorkspace(report)

	status, runErr := e.execute(ctx, tc, report)
	e.finalize(tc, report, status, runErr)

	if status == StatusAborted || status == StatusError {
		return report, fmt.Errorf("run %s: %w", status, runErr)
	}
	return report, nil
}

// prepareWorkspace checks out the run branch when one is requested
func (e *Executor) prepareWorkspace(report *RunReport) {
	if e.vcs == nil {
		if e.branch != "" {
			e.console.Warningf("branch %s requested but no git repository is available", e.branch)
		}
		return
	}

	if clean, err := e.vcs.IsClean(); err == nil && !clean {
		e.console.Warningf("workspace has uncommitted changes")
	}
	if e.branch != "" && !e.dryRun {
		if err := e.vcs.CreateBranch(e.branch); err != nil {
			e.console.Warningf("failed to checkout branch %s: %v", e.branch, err)
		}
	}
	if branch, err := e.vcs.CurrentBranch(); err == nil {
		report.Branch = branch
		e.console.Verbosef("branch: %s", branch)
	}
}

func failureStatus(err error) string {
	if budget.IsBudgetError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return StatusAborted
	}
	return StatusError
}

// remediation returns the fix hint carried by an allowlist failure, if any
func remediation(err error) string {
	var rem tools.Remediator
	if errors.As(err, &rem) {
		return rem.Remediation()
	}
	return ""
}

func (e *Executor) execute(ctx context.Context, tc *TaskContext, report *RunReport) (string, error) {
	e.console.Section("Scope")
	scope, err := e.phase(ctx, tc, PhaseScope, "ship.scope", map[string]any{
		"task":      tc.Task,
		"workspace": e.guard.WorkspaceDir(),
	})
	if err != nil {
		return failureStatus(err), err
	}
	e.console.Infof("%s", stringOr(scope["summary"], tc.Task))

	e.console.Section("Survey")
	files, err := e.fs.List(".")
	if err != nil {
		tc.AddWarnings(fmt.Sprintf("failed to list workspace: %v", err))
	}
	survey, err := e.phase(ctx, tc, PhaseSurvey, "ship.survey", map[string]any{
		"scope": scope,
		"files": files,
	})
	if err != nil {
		return failureStatus(err), err
	}

	e.console.Section("Plan")
	planOut, err := e.phase(ctx, tc, PhasePlan, "ship.plan", map[string]any{
		"scope":  scope,
		"survey": survey,
	})
	if err != nil {
		return failureStatus(err), err
	}
	plan, err := ParsePlan(planOut)
	if err != nil {
		return StatusError, fmt.Errorf("invalid plan: %w", err)
	}
	tc.Plan = plan
	e.console.Infof("%d planned step(s)", len(plan))

	e.console.Section("Execute")
	if status, err := e.loop(ctx, tc, report); err != nil {
		// The tail still runs after an abort. Its failure is recorded and
		// the status stays aborted.
		if tailErr := e.tail(ctx, tc, scope); tailErr != nil {
			tc.AddError(fmt.Sprintf("tail after abort: %v", tailErr))
			e.console.Errorf("tail after abort: %v", tailErr)
			e.logger.Warn("tail failed after abort", zap.Error(tailErr))
		}
		return status, err
	}

	if len(e.cfg.Tests.Commands) > 0 {
		e.console.Section("Verify")
		if _, err := e.runTests(ctx, tc); err != nil {
			tc.AddWarnings(fmt.Sprintf("final test run unavailable: %v", err))
		}
	}

	if err := e.tail(ctx, tc, scope); err != nil {
		return StatusError, err
	}

	if e.dryRun {
		return StatusDryRun, nil
	}
	return StatusComplete, nil
}

// loop executes plan steps until none is selectable or the run must abort
func (e *Executor) loop(ctx context.Context, tc *TaskContext, report *RunReport) (string, error) {
	limits := e.engine.Limits()
	maxRetries := e.cfg.Run.MaxRetries

	for {
		if err := ctx.Err(); err != nil {
			return StatusAborted, fmt.Errorf("run canceled: %w", err)
		}

		decision := ShouldAbort(tc.Usage.Snapshot(), limits, tc.last, tc.Retries, maxRetries)
		if decision.Escalate && !tc.Exhausted[decision.EscalateStepID] {
			e.escalate(tc, decision.EscalateStepID)
		}
		if decision.Abort {
			report.AbortReason = decision.Reason
			e.console.Warningf("aborting: %s", decision.Reason)
			return StatusAborted, errors.New(decision.Reason)
		}

		step := SelectNextStep(tc.Plan, tc.Completed, tc.Exhausted)
		if step == nil {
			return "", nil
		}

		retry := tc.Retries[step.ID]
		e.console.Step(fmt.Sprintf("%s (%s) %s", step.ID, step.Type, step.Description))
		started := e.now()
		outcome, err := e.executeStep(ctx, tc, *step, retry)
		tc.Usage.RecordStep()

		if err != nil {
			outcome.Error = err.Error()
			msg := fmt.Sprintf("step %s: %v", step.ID, err)
			if hint := remediation(err); hint != "" {
				msg += " (" + hint + ")"
			}
			tc.AddError(msg)
			e.console.Errorf("%s", msg)
			e.logger.Warn("step failed", zap.String("step", step.ID), zap.Error(err))
		}

		complete := IsStepComplete(*step, outcome)
		outcome.NeedsFix = !complete && !outcome.Abort
		label := "incomplete"
		if complete {
			tc.Completed[step.ID] = true
			label = "complete"
			e.console.Successf("step %s complete", step.ID)
		} else {
			tc.Retries[step.ID]++
			if outcome.Error != "" && tc.feedback[step.ID] == "" {
				tc.feedback[step.ID] = outcome.Error
			}
		}
		if err != nil {
			label = "error"
		}
		e.metrics.ObserveStep(string(step.Type), label)

		tc.Results = append(tc.Results, StepResult{
			Index:    len(tc.Results) + 1,
			Step:     *step,
			Attempt:  retry + 1,
			Outcome:  outcome,
			Complete: complete,
			Duration: e.now().Sub(started),
		})
		last := outcome
		tc.last = &last

		if err != nil && failureStatus(err) == StatusAborted {
			report.AbortReason = err.Error()
			return StatusAborted, err
		}
	}
}

func (e *Executor) escalate(tc *TaskContext, stepID string) {
	reason := "step did not complete"
	if tc.last != nil && tc.last.Error != "" {
		reason = tc.last.Error
	}
	tc.Exhausted[stepID] = true
	tc.Escalations = append(tc.Escalations, Escalation{
		StepID:  stepID,
		Retries: tc.Retries[stepID],
		Reason:  reason,
	})
	e.console.Warningf("step %s escalated after %d attempt(s): %s", stepID, tc.Retries[stepID], reason)
	e.logger.Warn("step escalated", zap.String("step", stepID), zap.Int("retries", tc.Retries[stepID]))
}

// tail runs the post-execution phases in order
func (e *Executor) tail(ctx context.Context, tc *TaskContext, scope map[string]any) error {
	e.console.Section("Docs")
	docs, err := e.phase(ctx, tc, PhaseDocs, "ship.docs", map[string]any{
		"scope":         scope,
		"changed_files": tc.ModifiedFiles(),
		"diff":          e.diff(tc),
	})
	if err != nil {
		return err
	}
	if edits := parseEdits(docs["edits"]); len(edits) > 0 {
		var scratch StepOutcome
		if _, err := e.applyEdits(tc, edits, &scratch); err != nil {
			tc.AddWarnings(fmt.Sprintf("documentation edits not applied: %v", err))
		}
	}

	diff := e.diff(tc)
	changed := tc.ModifiedFiles()
	evidence := evidenceSummary(tc.TestEvidence)

	e.console.Section("Security")
	security, err := e.phase(ctx, tc, PhaseSecurity, "ship.security", map[string]any{
		"diff":          diff,
		"changed_files": changed,
	})
	if err != nil {
		return err
	}
	if passed, _ := security["passed"].(bool); !passed {
		tc.AddWarnings("security review did not pass")
		e.console.Warningf("security review did not pass")
	}

	e.console.Section("Risk")
	risk, err := e.phase(ctx, tc, PhaseRisk, "ship.risk", map[string]any{
		"scope":         scope,
		"diff":          diff,
		"test_evidence": evidence,
		"security":      security,
	})
	if err != nil {
		return err
	}
	e.console.Infof("risk level: %s", stringOr(risk["level"], "unknown"))

	e.console.Section("Rollback")
	rollback, err := e.phase(ctx, tc, PhaseRollback, "ship.rollback", map[string]any{
		"changed_files": changed,
		"diff":          diff,
		"risk":          risk,
	})
	if err != nil {
		return err
	}

	e.console.Section("Pull Request")
	pr, err := e.phase(ctx, tc, PhasePR, "ship.pr", map[string]any{
		"scope":         scope,
		"changed_files": changed,
		"test_evidence": evidence,
		"risk":          risk,
		"rollback":      rollback,
	})
	if err != nil {
		return err
	}
	e.console.Infof("%s", stringOr(pr["title"], "pull request drafted"))
	return nil
}

// phase runs one whole-run operation and stores its output
func (e *Executor) phase(ctx context.Context, tc *TaskContext, name, operationID string, inputs map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := e.call(ctx, tc, operationID, inputs, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("%s phase failed: %w", name, err)
	}
	tc.Phases[name] = res.Output
	return res.Output, nil
}

// call sends one operation through the bridge and accounts for its tokens
func (e *Executor) call(ctx context.Context, tc *TaskContext, operationID string, inputs map[string]any, retry int, toolCalls []string) (*bridge.Result, error) {
	res, err := e.bridge.Execute(ctx, operationID, inputs, bridge.CallContext{
		RunID:      tc.RunID,
		Role:       e.role,
		StepIndex:  len(tc.Results),
		RetryCount: retry,
		Channel:    e.cfg.Run.Channel,
		Usage:      tc.Usage.Snapshot(),
		Approved:   e.approved,
		Attributes: e.attributes,
		ToolCalls:  toolCalls,
	})
	if err != nil {
		return nil, err
	}

	tc.Usage.RecordTokens(res.TokensUsed)
	tc.AddWarnings(res.Warnings...)
	if res.Approval == governance.ApprovalRequiredUnapproved {
		tc.PendingApprovals = append(tc.PendingApprovals, fmt.Sprintf("%s: %s", operationID, res.ApprovalReason))
		e.console.Warningf("%s requires approval: %s", operationID, res.ApprovalReason)
	}
	if res.IsMock {
		e.console.Verbosef("%s answered by mock model", operationID)
	}
	e.console.Verbosef("%s: %d tokens (%s data)", operationID, res.TokensUsed, res.DataClass)
	return res, nil
}

// diff renders the run's changes, preferring the repository view for
// applied writes
func (e *Executor) diff(tc *TaskContext) string {
	files := tc.ModifiedFiles()
	if len(files) == 0 {
		return ""
	}
	if !e.dryRun && e.vcs != nil {
		if d, err := e.vcs.Diff(files); err == nil {
			return d
		}
	}
	return tc.Diff()
}

// finalize commits, rolls back or publishes according to the status, then
// prints the summary
func (e *Executor) finalize(tc *TaskContext, report *RunReport, status string, runErr error) {
	report.Status = status
	if runErr != nil {
		report.Error = runErr.Error()
		e.console.Errorf("%v", runErr)
	}
	report.EndTime = e.now()
	report.Duration = tc.Usage.Elapsed()
	report.Plan = tc.Plan
	report.Steps = tc.Results
	report.FilesModified = tc.Modifications()
	report.Usage = tc.Usage.Snapshot()
	report.Escalations = tc.Escalations
	report.Errors = tc.Errors
	report.Warnings = tc.Warnings
	report.PendingApprovals = tc.PendingApprovals
	report.TestEvidence = tc.TestEvidence
	report.Phases = tc.Phases
	report.Diff = e.diff(tc)

	if !e.dryRun && e.vcs != nil {
		switch {
		case status == StatusComplete && e.branch != "" && len(tc.ModifiedFiles()) > 0:
			hash, err := e.vcs.Commit(commitMessage(tc), tools.DefaultAuthor)
			if err != nil {
				e.console.Warningf("failed to commit changes: %v", err)
			} else {
				report.CommitHash = hash
			}
		case (status == StatusAborted || status == StatusError) && e.rollback:
			if err := e.vcs.Rollback(); err != nil {
				e.console.Warningf("failed to roll back changes: %v", err)
			} else {
				e.console.Infof("workspace rolled back")
			}
		}
	}

	if !e.dryRun {
		e.writeArtifacts(tc, report)
	}

	e.metrics.ObserveRun(status)
	e.logger.Info("run finished",
		zap.String("run_id", report.RunID),
		zap.String("status", status),
		zap.Int("steps", report.Usage.Steps),
		zap.Int("tokens", report.Usage.Tokens),
		zap.Duration("duration", report.Duration))
	e.console.Summary(report)
}

func (e *Executor) writeArtifacts(tc *TaskContext, report *RunReport) {
	dir := filepath.Join(e.artifactsDir, report.RunID)
	report.ArtifactDir = dir

	changed := tc.ModifiedFiles()
	manifest, err := e.publish.Publish(dir, artifact.Bundle{
		RunID:        report.RunID,
		Diff:         report.Diff,
		TestEvidence: tc.TestEvidence,
		PR:           artifact.PRMarkdown(tc.Phases[PhasePR], changed),
		Risk:         artifact.RiskMarkdown(tc.Phases[PhaseRisk], tc.Phases[PhaseSecurity]),
		Rollback:     artifact.RollbackMarkdown(tc.Phases[PhaseRollback]),
		Changelog:    artifact.ChangelogMarkdown(tc.Task, tc.Phases[PhaseDocs]),
		Execution:    report,
	})
	if err != nil {
		report.ArtifactDir = ""
		e.console.Warningf("failed to write artifacts: %v", err)
		e.logger.Warn("artifact bundle not written", zap.Error(err))
		return
	}
	report.Manifest = manifest
}

func commitMessage(tc *TaskContext) string {
	if title := stringOr(tc.Phases[PhasePR]["title"], ""); title != "" {
		return fmt.Sprintf("%s\n\nRun: %s", title, tc.RunID)
	}
	return fmt.Sprintf("chore: %s\n\nRun: %s", tc.Task, tc.RunID)
}

func evidenceSummary(outcomes []*tools.TestOutcome) any {
	if len(outcomes) == 0 {
		return operations.NotProvided("test_evidence")
	}
	last := outcomes[len(outcomes)-1]
	gates := make([]map[string]any, 0, len(last.Results))
	for _, r := range last.Results {
		gates = append(gates, map[string]any{
			"name":    r.Name,
			"passed":  r.Passed,
			"skipped": r.Skipped,
		})
	}
	return map[string]any{"passed": last.Passed, "runs": len(outcomes), "gates": gates}
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
