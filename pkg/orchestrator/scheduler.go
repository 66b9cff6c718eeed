package orchestrator

import (
	"fmt"

	"github.com/lelandsequel/shipmachine/pkg/budget"
)

// AbortDecision is the result of ShouldAbort. Escalation is advisory and does
// not stop the loop on its own.
type AbortDecision struct {
	Abort          bool   `json:"abort"`
	Reason         string `json:"reason,omitempty"`
	Escalate       bool   `json:"escalate,omitempty"`
	EscalateStepID string `json:"escalate_step_id,omitempty"`
}

// SelectNextStep returns the first step in plan order that is neither
// completed nor exhausted, or nil when none is left
func SelectNextStep(plan []PlanStep, completed, exhausted map[string]bool) *PlanStep {
	for i := range plan {
		if completed[plan[i].ID] || exhausted[plan[i].ID] {
			continue
		}
		return &plan[i]
	}
	return nil
}

// ShouldAbort evaluates budgets and the previous outcome before each step
func ShouldAbort(usage budget.Usage, limits budget.Limits, last *StepOutcome, retries map[string]int, maxRetries int) AbortDecision {
	var d AbortDecision

	if last != nil && last.NeedsFix && retries[last.StepID] >= maxRetries {
		d.Escalate = true
		d.EscalateStepID = last.StepID
	}

	if res := budget.Check(usage, limits); !res.OK {
		d.Abort = true
		d.Reason = res.Reason
		return d
	}

	if last != nil && last.Abort {
		d.Abort = true
		d.Reason = fmt.Sprintf("step %s requested abort", last.StepID)
	}
	return d
}
