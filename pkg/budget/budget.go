// Package budget tracks run-level resource consumption and checks it against
// configured ceilings.
package budget

import (
	"errors"
	"fmt"
	"strings"
)

// WarningThreshold is the fraction of a ceiling at which a warning is raised.
const WarningThreshold = 0.8

// Dimension identifies one budgeted resource
type Dimension string

const (
	DimensionSteps          Dimension = "steps"
	DimensionTokens         Dimension = "tokens"
	DimensionElapsedMinutes Dimension = "elapsed_minutes"
	DimensionFilesModified  Dimension = "files_modified"
)

// Limits holds the ceilings for a run. A zero ceiling disables that dimension.
type Limits struct {
	MaxSteps          int     `koanf:"max_steps" yaml:"max_steps" json:"max_steps"`
	MaxTokens         int     `koanf:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
	MaxElapsedMinutes float64 `koanf:"max_elapsed_minutes" yaml:"max_elapsed_minutes" json:"max_elapsed_minutes"`
	MaxFilesModified  int     `koanf:"max_files_modified" yaml:"max_files_modified" json:"max_files_modified"`
}

// Validate checks that no ceiling is negative
func (l Limits) Validate() error {
	if l.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}
	if l.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative")
	}
	if l.MaxElapsedMinutes < 0 {
		return fmt.Errorf("max_elapsed_minutes must be non-negative")
	}
	if l.MaxFilesModified < 0 {
		return fmt.Errorf("max_files_modified must be non-negative")
	}
	return nil
}

// Usage is the consumption of a run so far
type Usage struct {
	Steps          int     `json:"steps"`
	Tokens         int     `json:"tokens"`
	ElapsedMinutes float64 `json:"elapsed_minutes"`
	FilesModified  int     `json:"files_modified"`
}

// Result is the outcome of a budget check
type Result struct {
	OK        bool
	Reason    string
	Dimension Dimension
	Warnings  []string
}

// Err converts a failed result into an ExceededError. It returns nil when OK.
func (r Result) Err(usage Usage, limits Limits) error {
	if r.OK {
		return nil
	}
	used, limit := valuesFor(r.Dimension, usage, limits)
	return &ExceededError{Dimension: r.Dimension, Used: used, Limit: limit}
}

// ExceededError is returned when a ceiling has been reached
type ExceededError struct {
	Dimension Dimension
	Used      float64
	Limit     float64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget exceeded (%s): used %s of %s", e.Dimension, formatValue(e.Used), formatValue(e.Limit))
}

type dimensionCheck struct {
	dim   Dimension
	used  float64
	limit float64
}

func checks(usage Usage, limits Limits) []dimensionCheck {
	return []dimensionCheck{
		{DimensionSteps, float64(usage.Steps), float64(limits.MaxSteps)},
		{DimensionTokens, float64(usage.Tokens), float64(limits.MaxTokens)},
		{DimensionElapsedMinutes, usage.ElapsedMinutes, limits.MaxElapsedMinutes},
		{DimensionFilesModified, float64(usage.FilesModified), float64(limits.MaxFilesModified)},
	}
}

// Check compares usage to limits. Reaching a ceiling fails closed: a counter
// equal to its ceiling is not ok. Dimensions at or above WarningThreshold of
// their ceiling produce warnings.
func Check(usage Usage, limits Limits) Result {
	result := Result{OK: true}
	for _, c := range checks(usage, limits) {
		if c.limit <= 0 {
			continue
		}
		if c.used >= c.limit {
			return Result{
				OK:        false,
				Dimension: c.dim,
				Reason:    fmt.Sprintf("%s budget exhausted (%s/%s)", c.dim, formatValue(c.used), formatValue(c.limit)),
			}
		}
		if c.used >= c.limit*WarningThreshold {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s at %.0f%% of budget (%s/%s)", c.dim, c.used/c.limit*100, formatValue(c.used), formatValue(c.limit)))
		}
	}
	return result
}

// IsBudgetError reports whether err describes a budget condition
func IsBudgetError(err error) bool {
	if err == nil {
		return false
	}
	var exceeded *ExceededError
	if errors.As(err, &exceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "budget")
}

func valuesFor(dim Dimension, usage Usage, limits Limits) (float64, float64) {
	for _, c := range checks(usage, limits) {
		if c.dim == dim {
			return c.used, c.limit
		}
	}
	return 0, 0
}

func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
