package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/claimgov/internal/model"
)

var testTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestStore creates a new SQLite log in a temp dir.
func createTestStore(t *testing.T) *SQLiteLog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// testLogs returns one fresh instance of every local backend.
func testLogs(t *testing.T) map[string]Log {
	t.Helper()
	file, err := OpenFile(filepath.Join(t.TempDir(), "log.jsonl"))
	if err != nil {
		t.Fatalf("OpenFile() failed: %v", err)
	}
	t.Cleanup(func() { file.Close() })
	return map[string]Log{
		"sqlite": createTestStore(t),
		"memory": NewMemoryLog(),
		"jsonl":  file,
	}
}

// createTestEntry builds an unsealed entry for claimID.
func createTestEntry(claimID, evidenceID string, from, to model.State, outcome model.Outcome) model.LogEntry {
	var d model.Decision
	switch outcome {
	case model.OutcomeAllow:
		d = model.Allowed(testTime, "structural: ok", "authority: ok")
	case model.OutcomeDeny:
		d = model.Denied(model.StageAuthority, testTime, "structural: ok", "authority: self-approval")
	default:
		d = model.NoOp(testTime, "does not match current state")
	}
	return model.LogEntry{
		ClaimID:      claimID,
		EvidenceID:   evidenceID,
		From:         from,
		To:           to,
		Outcome:      outcome,
		Decision:     d,
		Attempt:      1,
		RunID:        "run-" + evidenceID,
		ProposalHash: model.ProposalHash(claimID, evidenceID, model.Transition{From: from, To: to}),
	}
}
