package budget

import (
	"path/filepath"
	"sync"
	"time"
)

// Tracker owns the usage counters of a single run. Counters only grow.
type Tracker struct {
	startTime time.Time
	now       func() time.Time

	steps  int
	tokens int

	// files keeps first-modification order; seen deduplicates
	files []string
	seen  map[string]struct{}

	mu sync.RWMutex
}

// NewTracker creates a tracker whose elapsed time starts now
func NewTracker() *Tracker {
	return NewTrackerWithClock(time.Now)
}

// NewTrackerWithClock creates a tracker using the given clock
func NewTrackerWithClock(now func() time.Time) *Tracker {
	return &Tracker{
		startTime: now(),
		now:       now,
		seen:      make(map[string]struct{}),
	}
}

// RecordStep counts one step attempt
func (t *Tracker) RecordStep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps++
}

// RecordTokens adds token consumption. Non-positive values are ignored.
func (t *Tracker) RecordTokens(tokens int) {
	if tokens <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens += tokens
}

// RecordFile records a modified file and reports whether it was new
func (t *Tracker) RecordFile(path string) bool {
	path = filepath.ToSlash(filepath.Clean(path))

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.seen[path]; exists {
		return false
	}
	t.seen[path] = struct{}{}
	t.files = append(t.files, path)
	return true
}

// Files returns the modified files in first-modification order
func (t *Tracker) Files() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	files := make([]string, len(t.files))
	copy(files, t.files)
	return files
}

// Snapshot returns the current usage
func (t *Tracker) Snapshot() Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Usage{
		Steps:          t.steps,
		Tokens:         t.tokens,
		ElapsedMinutes: t.now().Sub(t.startTime).Minutes(),
		FilesModified:  len(t.files),
	}
}

// Elapsed returns wall time since the tracker was created
func (t *Tracker) Elapsed() time.Duration {
	return t.now().Sub(t.startTime)
}
