package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent(runID, op string, success bool) Event {
	return Event{
		RunID:       runID,
		Timestamp:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		OperationID: op,
		StepIndex:   2,
		ToolCalls:   []string{"filesystem.write"},
		Success:     success,
		DurationMS:  42,
		TokensUsed:  100,
		Model:       "gpt-4o-mini",
		Role:        "engineer",
		Channel:     "cli",
		DataClass:   "internal",
	}
}

func TestFileLedger_AppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "ledger.jsonl")
	ledger, err := OpenFile(path)
	require.NoError(t, err)
	defer ledger.Close()

	ctx := context.Background()
	require.NoError(t, ledger.Append(ctx, sampleEvent("run-1", "ship.scope", true)))
	require.NoError(t, ledger.Append(ctx, sampleEvent("run-2", "ship.plan", false)))
	require.NoError(t, ledger.Append(ctx, sampleEvent("run-1", "ship.plan", true)))

	events, err := ledger.Events(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ship.scope", events[0].OperationID)
	assert.Equal(t, "ship.plan", events[1].OperationID)
	assert.Equal(t, []string{"filesystem.write"}, events[0].ToolCalls)

	all, err := ledger.Events(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFileLedger_ConcurrentWritersKeepWholeLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	// Two ledgers on the same file simulate two bridges sharing it.
	a, err := OpenFile(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenFile(path)
	require.NoError(t, err)
	defer b.Close()

	const perWriter = 200
	var wg sync.WaitGroup
	for i, l := range []*FileLedger{a, b} {
		wg.Add(1)
		go func(writer int, l *FileLedger) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				e := sampleEvent(fmt.Sprintf("run-%d", writer), "ship.patch", true)
				e.FailureReason = strings.Repeat("x", j%64)
				assert.NoError(t, l.Append(context.Background(), e))
			}
		}(i, l)
	}
	wg.Wait()

	events, err := ReadFile(path, "")
	require.NoError(t, err)
	assert.Len(t, events, 2*perWriter)
}

func TestFileLedger_AppendAfterClose(t *testing.T) {
	ledger, err := OpenFile(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	require.NoError(t, ledger.Close())
	require.NoError(t, ledger.Close())

	err = ledger.Append(context.Background(), sampleEvent("run", "op", true))
	assert.Error(t, err)
}

func TestReadFile_InvalidLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"run_id\":\"a\"}\nnot-json\n"), 0o600))

	_, err := ReadFile(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestSQLiteLedger(t *testing.T) {
	ledger, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer ledger.Close()

	ctx := context.Background()
	failed := sampleEvent("run-1", "ship.pr", false)
	failed.FailureReason = "model timeout"
	failed.TokensUsed = 0
	failed.IsMock = true

	require.NoError(t, ledger.Append(ctx, sampleEvent("run-1", "ship.scope", true)))
	require.NoError(t, ledger.Append(ctx, sampleEvent("run-9", "ship.scope", true)))
	require.NoError(t, ledger.Append(ctx, failed))

	events, err := ledger.Events(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Success)
	assert.Equal(t, []string{"filesystem.write"}, events[0].ToolCalls)
	assert.False(t, events[1].Success)
	assert.True(t, events[1].IsMock)
	assert.Equal(t, "model timeout", events[1].FailureReason)
	assert.True(t, events[1].Timestamp.Equal(failed.Timestamp))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(BackendJSONL, filepath.Join(dir, "a.jsonl"))
	require.NoError(t, err)
	assert.IsType(t, &FileLedger{}, l)
	require.NoError(t, l.Close())

	l, err = Open(BackendMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryLedger{}, l)

	_, err = Open("kafka", "")
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	events := []Event{
		sampleEvent("r", "ship.scope", true),
		sampleEvent("r", "ship.plan", false),
		sampleEvent("r", "ship.plan", true),
	}
	events[1].TokensUsed = 0
	events[2].Role = "reviewer"
	events[2].IsMock = true

	s := Summarize(events)
	assert.Equal(t, 3, s.Calls)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 200, s.TokensUsed)
	assert.Equal(t, 1, s.MockCalls)
	assert.Equal(t, 2, s.ByOperation["ship.plan"])
	assert.Equal(t, []string{"engineer", "reviewer"}, s.Roles)
}
