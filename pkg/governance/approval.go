package governance

import (
	"fmt"
	"strings"

	"github.com/lelandsequel/shipmachine/pkg/config"
)

// Condition operators
const (
	CondEquals    = "equals"
	CondNotEquals = "not_equals"
	CondIn        = "in"
	CondPresent   = "present"
)

type approvalRule struct {
	operation string
	always    bool
	cond      *config.Condition
	reason    string
}

func compileApprovalRule(ar config.ApprovalRule) (approvalRule, error) {
	op := strings.TrimSpace(ar.Operation)
	if op == "" {
		return approvalRule{}, fmt.Errorf("operation is required")
	}
	if err := validateOperationPattern(op); err != nil {
		return approvalRule{}, err
	}
	if !ar.Always && ar.When == nil {
		return approvalRule{}, fmt.Errorf("rule for %s needs either always or when", op)
	}
	if ar.When != nil {
		if ar.When.Field == "" {
			return approvalRule{}, fmt.Errorf("rule for %s: condition field is required", op)
		}
		switch ar.When.Op {
		case CondEquals, CondNotEquals, CondIn, CondPresent:
		default:
			return approvalRule{}, fmt.Errorf("rule for %s: unsupported condition op %q", op, ar.When.Op)
		}
	}

	reason := ar.Reason
	if reason == "" {
		reason = fmt.Sprintf("operation %s requires approval", op)
	}
	cond := ar.When
	if cond != nil {
		c := *cond
		c.Values = append([]string(nil), cond.Values...)
		cond = &c
	}
	return approvalRule{operation: op, always: ar.Always, cond: cond, reason: reason}, nil
}

func (c approvalRule) triggered(attrs map[string]string) bool {
	if c.always {
		return true
	}
	return evaluateCondition(c.cond, attrs)
}

// evaluateCondition interprets the closed predicate set; nothing is executed
func evaluateCondition(cond *config.Condition, attrs map[string]string) bool {
	if cond == nil {
		return false
	}
	value, present := attrs[cond.Field]
	switch cond.Op {
	case CondEquals:
		return present && value == cond.Value
	case CondNotEquals:
		return present && value != cond.Value
	case CondIn:
		if !present {
			return false
		}
		for _, v := range cond.Values {
			if v == value {
				return true
			}
		}
		return false
	case CondPresent:
		return present && value != ""
	default:
		return false
	}
}

// RequiresApproval looks up approval rules for operationID against the call
// attributes. The first triggered rule supplies the reason.
func (e *Engine) RequiresApproval(operationID string, attrs map[string]string) ApprovalDecision {
	for _, rule := range e.current().approvals {
		if !matchOperation(rule.operation, operationID) {
			continue
		}
		if rule.triggered(attrs) {
			return ApprovalDecision{Required: true, Reason: rule.reason}
		}
	}
	return ApprovalDecision{}
}

// EvaluateApproval folds RequiresApproval and the caller's approved flag into
// the tri-state status
func (e *Engine) EvaluateApproval(operationID string, attrs map[string]string, approved bool) (ApprovalStatus, string) {
	decision := e.RequiresApproval(operationID, attrs)
	switch {
	case !decision.Required:
		return ApprovalNotRequired, ""
	case approved:
		return ApprovalRequiredApproved, decision.Reason
	default:
		return ApprovalRequiredUnapproved, decision.Reason
	}
}
