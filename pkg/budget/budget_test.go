package budget

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	limits := Limits{MaxSteps: 50, MaxTokens: 1000, MaxElapsedMinutes: 30, MaxFilesModified: 10}

	tests := []struct {
		name         string
		usage        Usage
		wantOK       bool
		wantDim      Dimension
		wantWarnings int
	}{
		{name: "empty usage", usage: Usage{}, wantOK: true},
		{name: "steps at ceiling", usage: Usage{Steps: 50}, wantOK: false, wantDim: DimensionSteps},
		{name: "steps one below ceiling warns", usage: Usage{Steps: 49}, wantOK: true, wantWarnings: 1},
		{name: "tokens over ceiling", usage: Usage{Tokens: 1200}, wantOK: false, wantDim: DimensionTokens},
		{name: "elapsed at ceiling", usage: Usage{ElapsedMinutes: 30}, wantOK: false, wantDim: DimensionElapsedMinutes},
		{name: "files at ceiling", usage: Usage{FilesModified: 10}, wantOK: false, wantDim: DimensionFilesModified},
		{name: "two dimensions warn", usage: Usage{Steps: 40, Tokens: 850}, wantOK: true, wantWarnings: 2},
		{name: "below threshold no warning", usage: Usage{Steps: 39, Tokens: 799}, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Check(tt.usage, limits)
			assert.Equal(t, tt.wantOK, result.OK)
			if !tt.wantOK {
				assert.Equal(t, tt.wantDim, result.Dimension)
				assert.Contains(t, result.Reason, string(tt.wantDim))
			}
			assert.Len(t, result.Warnings, tt.wantWarnings)
		})
	}
}

func TestCheck_StepsScenario(t *testing.T) {
	result := Check(Usage{Steps: 50}, Limits{MaxSteps: 50})
	assert.False(t, result.OK)
	assert.Contains(t, result.Reason, "steps")
}

// Any usage with a counter at or above its ceiling must fail.
func TestCheck_FailsClosedProperty(t *testing.T) {
	for ceiling := 1; ceiling <= 20; ceiling++ {
		for used := 0; used <= 25; used++ {
			result := Check(Usage{Steps: used, Tokens: used, FilesModified: used}, Limits{MaxSteps: ceiling, MaxTokens: ceiling, MaxFilesModified: ceiling})
			assert.Equal(t, used < ceiling, result.OK, fmt.Sprintf("used=%d ceiling=%d", used, ceiling))
		}
	}
}

func TestCheck_ZeroLimitIsUnlimited(t *testing.T) {
	result := Check(Usage{Steps: 10000, Tokens: 1 << 20}, Limits{})
	assert.True(t, result.OK)
	assert.Empty(t, result.Warnings)
}

func TestResultErr(t *testing.T) {
	usage := Usage{Tokens: 500}
	limits := Limits{MaxTokens: 500}

	err := Check(usage, limits).Err(usage, limits)
	require.Error(t, err)

	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, DimensionTokens, exceeded.Dimension)
	assert.Equal(t, float64(500), exceeded.Limit)
	assert.True(t, IsBudgetError(fmt.Errorf("wrapped: %w", err)))

	assert.NoError(t, Check(Usage{}, limits).Err(Usage{}, limits))
}

func TestIsBudgetError(t *testing.T) {
	assert.False(t, IsBudgetError(nil))
	assert.False(t, IsBudgetError(fmt.Errorf("model call failed")))
	assert.True(t, IsBudgetError(fmt.Errorf("token Budget exhausted upstream")))
}

func TestLimitsValidate(t *testing.T) {
	assert.NoError(t, Limits{MaxSteps: 1}.Validate())
	assert.Error(t, Limits{MaxSteps: -1}.Validate())
	assert.Error(t, Limits{MaxTokens: -1}.Validate())
	assert.Error(t, Limits{MaxElapsedMinutes: -0.5}.Validate())
	assert.Error(t, Limits{MaxFilesModified: -2}.Validate())
}

func TestTracker(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tracker := NewTrackerWithClock(clock)

	tracker.RecordStep()
	tracker.RecordStep()
	tracker.RecordTokens(120)
	tracker.RecordTokens(-50)
	tracker.RecordTokens(0)

	assert.True(t, tracker.RecordFile("src/a.go"))
	assert.True(t, tracker.RecordFile("./src/b.go"))
	assert.False(t, tracker.RecordFile("src/./a.go"))

	now = now.Add(90 * time.Second)
	usage := tracker.Snapshot()

	assert.Equal(t, 2, usage.Steps)
	assert.Equal(t, 120, usage.Tokens)
	assert.Equal(t, 2, usage.FilesModified)
	assert.InDelta(t, 1.5, usage.ElapsedMinutes, 0.0001)
	assert.Equal(t, []string{"src/a.go", "src/b.go"}, tracker.Files())
}
