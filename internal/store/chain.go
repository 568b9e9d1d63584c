package store

import (
	"fmt"
	"strings"

	"github.com/roach88/claimgov/internal/model"
)

// ChainBreak describes one entry that does not verify.
type ChainBreak struct {
	Seq    int64
	Reason string
}

// ChainError reports every break found by VerifyChain.
type ChainError struct {
	Breaks []ChainBreak
}

func (e *ChainError) Error() string {
	parts := make([]string, len(e.Breaks))
	for i, b := range e.Breaks {
		parts[i] = fmt.Sprintf("seq %d: %s", b.Seq, b.Reason)
	}
	return "hash chain broken: " + strings.Join(parts, "; ")
}

// VerifyChain checks that entries form an unbroken chain from the genesis
// hash: seq strictly increasing, each PrevHash equal to the previous Hash,
// and each Hash matching the entry's content.
//
// entries must be the complete log in seq order, not a per-claim slice.
// Returns nil or a *ChainError.
func VerifyChain(entries []model.LogEntry) error {
	var breaks []ChainBreak
	prev := model.GenesisHash
	var lastSeq int64
	for _, e := range entries {
		if e.Seq <= lastSeq {
			breaks = append(breaks, ChainBreak{Seq: e.Seq, Reason: fmt.Sprintf("seq not after %d", lastSeq)})
		}
		lastSeq = e.Seq
		if e.PrevHash != prev {
			breaks = append(breaks, ChainBreak{Seq: e.Seq, Reason: "prev_hash does not link to preceding entry"})
		}
		want, err := model.EntryHash(e)
		if err != nil {
			breaks = append(breaks, ChainBreak{Seq: e.Seq, Reason: err.Error()})
		} else if want != e.Hash {
			breaks = append(breaks, ChainBreak{Seq: e.Seq, Reason: "content does not match hash"})
		}
		prev = e.Hash
	}
	if len(breaks) > 0 {
		return &ChainError{Breaks: breaks}
	}
	return nil
}
