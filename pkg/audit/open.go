package audit

import "fmt"

// Backend names a ledger implementation
type Backend string

const (
	BackendJSONL  Backend = "jsonl"
	BackendSQLite Backend = "sqlite"
	BackendMemory Backend = "memory"
)

// Open creates a ledger for the given backend
func Open(backend Backend, path string) (Ledger, error) {
	switch backend {
	case BackendJSONL, "":
		return OpenFile(path)
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendMemory:
		return NewMemoryLedger(), nil
	default:
		return nil, fmt.Errorf("unknown audit backend: %s", backend)
	}
}
