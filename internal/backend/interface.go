package backend

import (
	"context"
	"time"

	"budget/internal/auth"
	"budget/internal/docstore"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult bundles the ports one backend provides.
type BackendResult struct {
	Store docstore.DocumentStore
	Users auth.UserStore

	// Ready reports whether the backend can serve requests.
	Ready func(ctx context.Context) error

	// Listen consumes change notifications from other processes until ctx
	// ends. Nil when the backend has no cross-process fan-out.
	Listen func(ctx context.Context) error

	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Origin identifies this process in change notifications.
	Origin string

	// SQLite (documents for sqlite, users for sqlite and sheets)
	SQLiteDBPath string
	AMQPURL      string
	AMQPExchange string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleDocumentsSheet     string
	GoogleSummarySheet       string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	SheetsPollInterval       time.Duration
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
