package orchestrator

import (
	"strings"
	"time"

	"github.com/lelandsequel/shipmachine/pkg/budget"
	"github.com/lelandsequel/shipmachine/pkg/tools"
)

// Phase names
const (
	PhaseScope    = "scope"
	PhaseSurvey   = "survey"
	PhasePlan     = "plan"
	PhaseDocs     = "docs"
	PhaseSecurity = "security"
	PhaseRisk     = "risk"
	PhaseRollback = "rollback"
	PhasePR       = "pr"
)

// StepResult records one attempt of a plan step
type StepResult struct {
	Index    int           `json:"index"`
	Step     PlanStep      `json:"step"`
	Attempt  int           `json:"attempt"`
	Outcome  StepOutcome   `json:"outcome"`
	Complete bool          `json:"complete"`
	Duration time.Duration `json:"duration"`
}

// Escalation flags a step that exhausted its retries
type Escalation struct {
	StepID  string `json:"step_id"`
	Retries int    `json:"retries"`
	Reason  string `json:"reason"`
}

// FileModification is the net change of one file over the run
type FileModification struct {
	Path         string `json:"path"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	Created      bool   `json:"created"`
}

type fileState struct {
	before  string
	after   string
	created bool
}

// TaskContext is the mutable state of one run. Only the executor goroutine
// touches it.
type TaskContext struct {
	RunID string
	Task  string
	Usage *budget.Tracker

	Plan             []PlanStep
	Results          []StepResult
	Errors           []string
	Warnings         []string
	Phases           map[string]map[string]any
	Retries          map[string]int
	Completed        map[string]bool
	Exhausted        map[string]bool
	Escalations      []Escalation
	PendingApprovals []string
	TestEvidence     []*tools.TestOutcome

	feedback map[string]string
	files    map[string]*fileState
	last     *StepOutcome
}

// NewTaskContext creates an empty context for a run
func NewTaskContext(runID, task string, tracker *budget.Tracker) *TaskContext {
	if tracker == nil {
		tracker = budget.NewTracker()
	}
	return &TaskContext{
		RunID:     runID,
		Task:      task,
		Usage:     tracker,
		Phases:    make(map[string]map[string]any),
		Retries:   make(map[string]int),
		Completed: make(map[string]bool),
		Exhausted: make(map[string]bool),
		feedback:  make(map[string]string),
		files:     make(map[string]*fileState),
	}
}

// RecordChange folds a file write into the run's net changes
func (tc *TaskContext) RecordChange(c *tools.FileChange) {
	tc.Usage.RecordFile(c.Path)
	if st, ok := tc.files[c.Path]; ok {
		st.after = c.After
		return
	}
	tc.files[c.Path] = &fileState{before: c.Before, after: c.After, created: c.Created}
}

// ModifiedFiles returns touched paths in first-touch order
func (tc *TaskContext) ModifiedFiles() []string {
	return tc.Usage.Files()
}

// Modifications returns the net line statistics per touched file
func (tc *TaskContext) Modifications() []FileModification {
	paths := tc.ModifiedFiles()
	mods := make([]FileModification, 0, len(paths))
	for _, p := range paths {
		st, ok := tc.files[p]
		if !ok {
			continue
		}
		added, removed := tools.LineStats(st.before, st.after)
		mods = append(mods, FileModification{Path: p, LinesAdded: added, LinesRemoved: removed, Created: st.created})
	}
	return mods
}

// Diff renders the net change of every touched file
func (tc *TaskContext) Diff() string {
	var out strings.Builder
	for _, p := range tc.ModifiedFiles() {
		if st, ok := tc.files[p]; ok {
			out.WriteString(tools.UnifiedDiff(p, st.before, st.after))
		}
	}
	return out.String()
}

// AddError records a non-fatal error
func (tc *TaskContext) AddError(msg string) {
	tc.Errors = append(tc.Errors, msg)
}

// AddWarnings records warnings, skipping duplicates
func (tc *TaskContext) AddWarnings(warnings ...string) {
	for _, w := range warnings {
		dup := false
		for _, existing := range tc.Warnings {
			if existing == w {
				dup = true
				break
			}
		}
		if !dup {
			tc.Warnings = append(tc.Warnings, w)
		}
	}
}
