// Package audit records one append-only event per mediated operation.
package audit

import (
	"context"
	"sort"
	"time"
)

// Event is a single line in the audit ledger
type Event struct {
	RunID         string    `json:"run_id"`
	Timestamp     time.Time `json:"timestamp"`
	OperationID   string    `json:"operation_id"`
	StepIndex     int       `json:"step_index"`
	ToolCalls     []string  `json:"tool_calls,omitempty"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failure_reason,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
	TokensUsed    int       `json:"tokens_used"`
	Model         string    `json:"model,omitempty"`
	Role          string    `json:"role,omitempty"`
	RetryCount    int       `json:"retry_count"`
	Channel       string    `json:"channel,omitempty"`
	DataClass     string    `json:"data_class,omitempty"`
	IsMock        bool      `json:"is_mock,omitempty"`
}

// Ledger is an append-only store of events. Implementations must be safe for
// concurrent use.
type Ledger interface {
	Append(ctx context.Context, event Event) error
	// Events returns the events of a run in append order. An empty runID
	// returns every event.
	Events(ctx context.Context, runID string) ([]Event, error)
	Close() error
}

// Summary aggregates the events of a run
type Summary struct {
	Calls       int
	Failures    int
	TokensUsed  int
	MockCalls   int
	ByOperation map[string]int
	Roles       []string
}

// Summarize aggregates events
func Summarize(events []Event) Summary {
	s := Summary{ByOperation: make(map[string]int)}
	roles := make(map[string]struct{})
	for _, e := range events {
		s.Calls++
		if !e.Success {
			s.Failures++
		}
		if e.IsMock {
			s.MockCalls++
		}
		s.TokensUsed += e.TokensUsed
		s.ByOperation[e.OperationID]++
		if e.Role != "" {
			roles[e.Role] = struct{}{}
		}
	}
	for r := range roles {
		s.Roles = append(s.Roles, r)
	}
	sort.Strings(s.Roles)
	return s
}
