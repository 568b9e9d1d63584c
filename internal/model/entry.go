package model

import (
	"fmt"
	"time"
)

// LogEntry is one append-only record of a transition attempt.
//
// INVARIANTS:
//   - Seq is assigned by the log at append and is unique across the log
//   - Once written, an entry's content never changes and it is never removed
//   - Hash covers every other field; PrevHash links to the preceding entry
type LogEntry struct {
	Seq          int64    `json:"seq"`
	ClaimID      string   `json:"claim_id"`
	EvidenceID   string   `json:"evidence_id"`
	From         State    `json:"from"`
	To           State    `json:"to"`
	Outcome      Outcome  `json:"outcome"`
	Decision     Decision `json:"decision"`
	Attempt      int      `json:"attempt"`
	RunID        string   `json:"run_id,omitempty"`
	ProposalHash string   `json:"proposal_hash,omitempty"`
	ClaimVersion int64    `json:"claim_version"`
	PrevHash     string   `json:"prev_hash"`
	Hash         string   `json:"hash"`
}

// Transition returns the entry's declared transition.
func (e LogEntry) Transition() Transition {
	return Transition{From: e.From, To: e.To}
}

// canonicalMap converts the entry (minus Hash) into a map for canonical
// JSON serialization. Timestamps are rendered as RFC 3339 UTC strings.
func (e LogEntry) canonicalMap() map[string]any {
	reasons := make([]any, len(e.Decision.Reasons))
	for i, r := range e.Decision.Reasons {
		reasons[i] = r
	}
	return map[string]any{
		"seq":         e.Seq,
		"claim_id":    e.ClaimID,
		"evidence_id": e.EvidenceID,
		"from":        e.From,
		"to":          e.To,
		"outcome":     e.Outcome,
		"decision": map[string]any{
			"allow":        e.Decision.Allow,
			"failed_stage": e.Decision.FailedStage,
			"reasons":      reasons,
			"evaluated_at": e.Decision.EvaluatedAt.UTC().Format(time.RFC3339Nano),
		},
		"attempt":       e.Attempt,
		"run_id":        e.RunID,
		"proposal_hash": e.ProposalHash,
		"claim_version": e.ClaimVersion,
		"prev_hash":     e.PrevHash,
		"log_version":   LogVersion,
	}
}

// Seal computes the entry's hash given the log's current head hash.
// Called by log implementations at append time, after Seq is assigned.
func (e LogEntry) Seal(prevHash string) (LogEntry, error) {
	e.PrevHash = prevHash
	h, err := EntryHash(e)
	if err != nil {
		return e, err
	}
	e.Hash = h
	return e, nil
}

// Fold replays entries for one claim in seq order, applying only allow
// entries, and returns the resulting claim.
//
// Entries must already be ordered by seq. An allow entry whose From does not
// match the folded state means the log is corrupt and is reported as an error.
func Fold(claimID string, entries []LogEntry) (Claim, error) {
	claim := NewClaim(claimID)
	var lastSeq int64
	for _, e := range entries {
		if e.ClaimID != claimID {
			continue
		}
		if e.Seq <= lastSeq {
			return claim, fmt.Errorf("fold %s: seq %d out of order after %d", claimID, e.Seq, lastSeq)
		}
		lastSeq = e.Seq
		if !e.Decision.Allow {
			continue
		}
		if e.From != claim.State {
			return claim, fmt.Errorf("fold %s: allow entry seq %d moves from %s but claim is %s",
				claimID, e.Seq, e.From, claim.State)
		}
		claim.State = e.To
		claim.Version++
	}
	return claim, nil
}
