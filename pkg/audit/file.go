package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileLedger appends events as JSON lines. Every event is written with a
// single write on an O_APPEND descriptor so whole lines never interleave.
type FileLedger struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// OpenFile opens (creating if needed) a JSONL ledger at path
func OpenFile(path string) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit ledger: %w", err)
	}
	return &FileLedger{path: path, file: f}, nil
}

// Path returns the ledger file path
func (l *FileLedger) Path() string {
	return l.path
}

// Append writes one event line
func (l *FileLedger) Append(_ context.Context, event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit ledger is closed")
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// Events reads the ledger file back
func (l *FileLedger) Events(_ context.Context, runID string) ([]Event, error) {
	return ReadFile(l.path, runID)
}

// Close closes the underlying file
func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadFile parses a JSONL ledger, optionally filtered by run id
func ReadFile(path string, runID string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit ledger: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("invalid audit record on line %d: %w", lineNo, err)
		}
		if runID == "" || e.RunID == runID {
			events = append(events, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit ledger: %w", err)
	}
	return events, nil
}
