package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/claimgov/internal/model"
)

// sqlLog implements Log over database/sql. Dialect differences are the
// placeholder style and an optional per-transaction writer lock.
type sqlLog struct {
	db     *sql.DB
	rebind func(string) string
	lock   func(ctx context.Context, tx *sql.Tx) error
}

func questionMarks(q string) string { return q }

// dollarPlaceholders rewrites ? placeholders to $1, $2, ...
func dollarPlaceholders(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const insertEntrySQL = `INSERT INTO transition_log (` + entryColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Append seals entry against the current head and inserts it in one
// transaction, so seq and prev_hash are consistent under concurrent writers.
func (l *sqlLog) Append(ctx context.Context, entry model.LogEntry) (model.LogEntry, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return entry, fmt.Errorf("append entry: begin: %w", err)
	}
	defer tx.Rollback()

	if l.lock != nil {
		if err := l.lock(ctx, tx); err != nil {
			return entry, fmt.Errorf("append entry: lock: %w", err)
		}
	}

	var (
		lastSeq  int64
		prevHash = model.GenesisHash
	)
	err = tx.QueryRowContext(ctx, l.rebind(
		"SELECT seq, hash FROM transition_log ORDER BY seq DESC LIMIT 1",
	)).Scan(&lastSeq, &prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return entry, fmt.Errorf("append entry: read head: %w", err)
	}

	entry.Seq = lastSeq + 1
	sealed, err := entry.Seal(prevHash)
	if err != nil {
		return entry, fmt.Errorf("append entry: %w", err)
	}
	args, err := entryArgs(sealed)
	if err != nil {
		return entry, fmt.Errorf("append entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, l.rebind(insertEntrySQL), args...); err != nil {
		return entry, fmt.Errorf("append entry: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return entry, fmt.Errorf("append entry: commit: %w", err)
	}
	return sealed, nil
}

// ReadAll returns entries for claimID (all entries if empty) ordered by seq.
// Returns an empty slice (not nil) when nothing matches.
func (l *sqlLog) ReadAll(ctx context.Context, claimID string) ([]model.LogEntry, error) {
	query := "SELECT " + entryColumns + " FROM transition_log"
	var args []any
	if claimID != "" {
		query += " WHERE claim_id = ?"
		args = append(args, claimID)
	}
	query += " ORDER BY seq ASC"

	rows, err := l.db.QueryContext(ctx, l.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []model.LogEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func (l *sqlLog) LatestState(ctx context.Context, claimID string) (model.Claim, error) {
	return latestState(ctx, l, claimID)
}

func (l *sqlLog) Head(ctx context.Context) (model.LogEntry, error) {
	row := l.db.QueryRowContext(ctx, l.rebind(
		"SELECT "+entryColumns+" FROM transition_log ORDER BY seq DESC LIMIT 1",
	))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	return e, err
}

// Close closes the database connection.
func (l *sqlLog) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}
