package audit

import (
	"context"
	"sync"
)

// MemoryLedger keeps events in memory
type MemoryLedger struct {
	events []Event
	mu     sync.Mutex
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) Append(_ context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *MemoryLedger) Events(_ context.Context, runID string) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for _, e := range l.events {
		if runID == "" || e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *MemoryLedger) Close() error { return nil }
