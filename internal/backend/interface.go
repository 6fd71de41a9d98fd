// Package backend selects and constructs the expense repository variant
// at startup: sqlite, remote REST, or a local JSON file.
package backend

import (
	"context"
	"time"

	"spendtrack/internal/auth"
	"spendtrack/internal/repository"
)

// CleanupFunc releases backend resources on shutdown.
type CleanupFunc func() error

// BackendResult contains the constructed repository and, when the
// backend owns its data, the user store backing authentication.
type BackendResult struct {
	Repository repository.ExpenseRepository

	// Users is non-nil only for the sqlite backend; the others delegate
	// identity elsewhere.
	Users auth.UserStore

	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// REST specific
	RESTBaseURL      string
	RESTPollInterval time.Duration

	// Local file specific
	LocalFilePath string

	// Optional AMQP change feed, sqlite backend only
	AMQPURL      string
	AMQPExchange string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	RESTBackend   BackendType = "rest"
	FileBackend   BackendType = "file"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, RESTBackend, FileBackend:
		return true
	default:
		return false
	}
}
