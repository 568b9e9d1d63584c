package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// advisoryLockKey serializes appenders across connections.
const advisoryLockKey int64 = 0x636c61696d676f76 // "claimgov"

const pgSchema = `
CREATE TABLE IF NOT EXISTS transition_log (
	seq           BIGINT  PRIMARY KEY,
	claim_id      TEXT    NOT NULL,
	evidence_id   TEXT    NOT NULL,
	from_state    TEXT    NOT NULL,
	to_state      TEXT    NOT NULL,
	outcome       TEXT    NOT NULL,
	allow         BOOLEAN NOT NULL,
	failed_stage  TEXT    NOT NULL DEFAULT '',
	reasons       TEXT    NOT NULL DEFAULT '[]',
	evaluated_at  TEXT    NOT NULL,
	attempt       INTEGER NOT NULL,
	run_id        TEXT    NOT NULL DEFAULT '',
	proposal_hash TEXT    NOT NULL DEFAULT '',
	claim_version BIGINT  NOT NULL,
	prev_hash     TEXT    NOT NULL,
	hash          TEXT    NOT NULL UNIQUE,
	log_version   TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transition_log_claim ON transition_log(claim_id, seq);

-- Append-only: updates and deletes are discarded.
CREATE OR REPLACE RULE transition_log_no_update AS ON UPDATE TO transition_log DO INSTEAD NOTHING;
CREATE OR REPLACE RULE transition_log_no_delete AS ON DELETE TO transition_log DO INSTEAD NOTHING;
`

// PostgresLog is a transition log in PostgreSQL.
type PostgresLog struct {
	sqlLog
}

// NewPostgresLog wraps an open database. Call Init before first use.
func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{sqlLog{
		db:     db,
		rebind: dollarPlaceholders,
		lock: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey)
			return err
		},
	}}
}

// Init ensures the schema exists.
func (l *PostgresLog) Init(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, pgSchema); err != nil {
		return fmt.Errorf("init postgres log: %w", err)
	}
	return nil
}

// OpenPostgres connects to dsn and initializes the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresLog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	l := NewPostgresLog(db)
	if err := l.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}
