package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/claimgov/internal/model"
)

// ErrNotFound is returned by Head on an empty log.
var ErrNotFound = errors.New("not found")

// Log is an append-only transition log.
//
// Implementations are safe for concurrent use. Append assigns Seq,
// PrevHash and Hash and returns the stored entry; any values the caller put
// in those fields are ignored.
type Log interface {
	Append(ctx context.Context, entry model.LogEntry) (model.LogEntry, error)

	// ReadAll returns entries for claimID in seq order. An empty claimID
	// returns the whole log.
	ReadAll(ctx context.Context, claimID string) ([]model.LogEntry, error)

	// LatestState folds the allow entries for claimID.
	LatestState(ctx context.Context, claimID string) (model.Claim, error)

	// Head returns the last entry in the log.
	Head(ctx context.Context) (model.LogEntry, error)

	Close() error
}

// Drivers accepted by OpenLog.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverJSONL    = "jsonl"
	DriverMemory   = "memory"
)

// OpenLog opens a log by driver name. dsn is a file path for sqlite and
// jsonl, a connection string for postgres, and ignored for memory.
func OpenLog(ctx context.Context, driver, dsn string) (Log, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "sqlite3", "":
		return Open(dsn)
	case DriverPostgres, "postgresql":
		return OpenPostgres(ctx, dsn)
	case DriverJSONL, "file":
		return OpenFile(dsn)
	case DriverMemory:
		return NewMemoryLog(), nil
	default:
		return nil, fmt.Errorf("unknown log driver %q", driver)
	}
}

type entryReader interface {
	ReadAll(ctx context.Context, claimID string) ([]model.LogEntry, error)
}

// latestState is the shared LatestState implementation.
func latestState(ctx context.Context, l entryReader, claimID string) (model.Claim, error) {
	entries, err := l.ReadAll(ctx, claimID)
	if err != nil {
		return model.Claim{}, err
	}
	return model.Fold(claimID, entries)
}
