package store

import (
	"context"
	"fmt"

	"github.com/roach88/claimgov/internal/model"
)

// Snapshot is the state derived from a complete log.
type Snapshot struct {
	Claims   map[string]model.Claim
	Entries  int
	HeadSeq  int64
	HeadHash string
}

// Replay reads the whole log, verifies its hash chain, and folds every
// claim's allow entries. The result depends only on the log contents.
func Replay(ctx context.Context, l Log) (Snapshot, error) {
	entries, err := l.ReadAll(ctx, "")
	if err != nil {
		return Snapshot{}, fmt.Errorf("replay: %w", err)
	}
	snap, err := ReplayEntries(entries)
	if err != nil {
		return snap, fmt.Errorf("replay: %w", err)
	}
	return snap, nil
}

// ReplayEntries is Replay over entries already read, in seq order.
func ReplayEntries(entries []model.LogEntry) (Snapshot, error) {
	snap := Snapshot{
		Claims:   map[string]model.Claim{},
		Entries:  len(entries),
		HeadHash: model.GenesisHash,
	}
	if err := VerifyChain(entries); err != nil {
		return snap, err
	}

	byClaim := map[string][]model.LogEntry{}
	var order []string
	for _, e := range entries {
		if _, ok := byClaim[e.ClaimID]; !ok {
			order = append(order, e.ClaimID)
		}
		byClaim[e.ClaimID] = append(byClaim[e.ClaimID], e)
	}
	for _, id := range order {
		claim, err := model.Fold(id, byClaim[id])
		if err != nil {
			return snap, err
		}
		snap.Claims[id] = claim
	}

	if n := len(entries); n > 0 {
		snap.HeadSeq = entries[n-1].Seq
		snap.HeadHash = entries[n-1].Hash
	}
	return snap, nil
}
