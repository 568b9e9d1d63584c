package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/claimgov/internal/model"
)

// entryColumns is the column order shared by inserts and scans.
const entryColumns = `seq, claim_id, evidence_id, from_state, to_state, outcome,
	allow, failed_stage, reasons, evaluated_at, attempt, run_id, proposal_hash,
	claim_version, prev_hash, hash, log_version`

// marshalReasons converts decision reasons to canonical JSON TEXT for storage.
func marshalReasons(reasons []string) (string, error) {
	arr := make([]any, len(reasons))
	for i, r := range reasons {
		arr[i] = r
	}
	data, err := model.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal reasons: %w", err)
	}
	return string(data), nil
}

// unmarshalReasons parses stored reasons. Always returns a non-nil slice.
func unmarshalReasons(data string) ([]string, error) {
	reasons := []string{}
	if data == "" {
		return reasons, nil
	}
	if err := json.Unmarshal([]byte(data), &reasons); err != nil {
		return nil, fmt.Errorf("unmarshal reasons: %w", err)
	}
	return reasons, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// entryArgs returns the insert arguments for e in entryColumns order.
func entryArgs(e model.LogEntry) ([]any, error) {
	reasons, err := marshalReasons(e.Decision.Reasons)
	if err != nil {
		return nil, err
	}
	return []any{
		e.Seq, e.ClaimID, e.EvidenceID, string(e.From), string(e.To), string(e.Outcome),
		e.Decision.Allow, string(e.Decision.FailedStage), reasons, formatTime(e.Decision.EvaluatedAt),
		e.Attempt, e.RunID, e.ProposalHash,
		e.ClaimVersion, e.PrevHash, e.Hash, model.LogVersion,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntry reads one row selected with entryColumns.
func scanEntry(row rowScanner) (model.LogEntry, error) {
	var (
		e                          model.LogEntry
		from, to, outcome, stage   string
		reasons, evaluatedAt, logV string
	)
	err := row.Scan(
		&e.Seq, &e.ClaimID, &e.EvidenceID, &from, &to, &outcome,
		&e.Decision.Allow, &stage, &reasons, &evaluatedAt, &e.Attempt, &e.RunID, &e.ProposalHash,
		&e.ClaimVersion, &e.PrevHash, &e.Hash, &logV,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return e, err
		}
		return e, fmt.Errorf("scan entry: %w", err)
	}
	if logV != model.LogVersion {
		return e, fmt.Errorf("entry seq %d: unsupported log version %q", e.Seq, logV)
	}

	e.From = model.State(from)
	e.To = model.State(to)
	e.Outcome = model.Outcome(outcome)
	e.Decision.FailedStage = model.StageID(stage)
	if e.Decision.Reasons, err = unmarshalReasons(reasons); err != nil {
		return e, fmt.Errorf("entry seq %d: %w", e.Seq, err)
	}
	if e.Decision.EvaluatedAt, err = time.Parse(time.RFC3339Nano, evaluatedAt); err != nil {
		return e, fmt.Errorf("entry seq %d: parse evaluated_at: %w", e.Seq, err)
	}
	return e, nil
}
