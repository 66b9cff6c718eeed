package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	ts TEXT NOT NULL,
	operation_id TEXT NOT NULL,
	step_index INTEGER NOT NULL,
	tool_calls TEXT,
	success INTEGER NOT NULL,
	failure_reason TEXT,
	duration_ms INTEGER NOT NULL,
	tokens_used INTEGER NOT NULL,
	model TEXT,
	role TEXT,
	retry_count INTEGER NOT NULL,
	channel TEXT,
	data_class TEXT,
	is_mock INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_run ON audit_events(run_id);
`

// SQLiteLedger stores events in an insert-only SQLite table
type SQLiteLedger struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite ledger at path
func OpenSQLite(path string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite ledger: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) Append(ctx context.Context, e Event) error {
	toolCalls, err := json.Marshal(e.ToolCalls)
	if err != nil {
		return fmt.Errorf("failed to marshal tool calls: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `INSERT INTO audit_events
		(run_id, ts, operation_id, step_index, tool_calls, success, failure_reason, duration_ms,
		 tokens_used, model, role, retry_count, channel, data_class, is_mock)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Timestamp.UTC().Format(time.RFC3339Nano), e.OperationID, e.StepIndex, string(toolCalls),
		boolToInt(e.Success), e.FailureReason, e.DurationMS, e.TokensUsed, e.Model, e.Role,
		e.RetryCount, e.Channel, e.DataClass, boolToInt(e.IsMock))
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) Events(ctx context.Context, runID string) ([]Event, error) {
	query := `SELECT run_id, ts, operation_id, step_index, tool_calls, success, failure_reason, duration_ms,
		tokens_used, model, role, retry_count, channel, data_class, is_mock FROM audit_events`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY id`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                   Event
			ts, toolCalls       string
			success, isMock     int
			reason, model       sql.NullString
			role, ch, dataClass sql.NullString
		)
		if err := rows.Scan(&e.RunID, &ts, &e.OperationID, &e.StepIndex, &toolCalls, &success, &reason,
			&e.DurationMS, &e.TokensUsed, &model, &role, &e.RetryCount, &ch, &dataClass, &isMock); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("invalid audit timestamp %q: %w", ts, err)
		}
		if toolCalls != "" && toolCalls != "null" {
			if err := json.Unmarshal([]byte(toolCalls), &e.ToolCalls); err != nil {
				return nil, fmt.Errorf("invalid tool calls for event: %w", err)
			}
		}
		e.Success = success == 1
		e.IsMock = isMock == 1
		e.FailureReason = reason.String
		e.Model = model.String
		e.Role = role.String
		e.Channel = ch.String
		e.DataClass = dataClass.String
		events = append(events, e)
	}
	return events, rows.Err()
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
