package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/claimgov/internal/model"
)

// MemoryLog keeps entries in process memory.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemoryLog struct {
	mu      sync.RWMutex
	seq     *Sequence
	entries []model.LogEntry
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{seq: NewSequence()}
}

func (l *MemoryLog) Append(ctx context.Context, entry model.LogEntry) (model.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return entry, fmt.Errorf("append entry: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := model.GenesisHash
	if n := len(l.entries); n > 0 {
		prev = l.entries[n-1].Hash
	}
	entry.Seq = l.seq.Next()
	entry.Decision.Reasons = slices.Clone(entry.Decision.Reasons)
	sealed, err := entry.Seal(prev)
	if err != nil {
		return entry, fmt.Errorf("append entry: %w", err)
	}
	l.entries = append(l.entries, sealed)
	return sealed, nil
}

func (l *MemoryLog) ReadAll(ctx context.Context, claimID string) ([]model.LogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return filterEntries(l.entries, claimID), nil
}

func (l *MemoryLog) LatestState(ctx context.Context, claimID string) (model.Claim, error) {
	return latestState(ctx, l, claimID)
}

func (l *MemoryLog) Head(ctx context.Context) (model.LogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return model.LogEntry{}, ErrNotFound
	}
	return l.entries[len(l.entries)-1], nil
}

func (l *MemoryLog) Close() error { return nil }

// filterEntries copies entries for claimID (all if empty).
func filterEntries(entries []model.LogEntry, claimID string) []model.LogEntry {
	out := make([]model.LogEntry, 0, len(entries))
	for _, e := range entries {
		if claimID == "" || e.ClaimID == claimID {
			out = append(out, e)
		}
	}
	return out
}
