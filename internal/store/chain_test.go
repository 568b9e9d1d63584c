package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/claimgov/internal/model"
)

func chainOf(t *testing.T, entries ...model.LogEntry) []model.LogEntry {
	t.Helper()
	l := NewMemoryLog()
	for _, e := range entries {
		_, err := l.Append(context.Background(), e)
		require.NoError(t, err)
	}
	all, err := l.ReadAll(context.Background(), "")
	require.NoError(t, err)
	return all
}

func TestVerifyChain_Valid(t *testing.T) {
	entries := chainOf(t,
		createTestEntry("c1", "ev-1", model.StateProposed, model.StateSupported, model.OutcomeAllow),
		createTestEntry("c1", "ev-2", model.StateSupported, model.StateContradicted, model.OutcomeDeny),
	)
	assert.NoError(t, VerifyChain(entries))
	assert.NoError(t, VerifyChain(nil))
}

func TestVerifyChain_DetectsEdits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]model.LogEntry) []model.LogEntry
		seq    int64
		reason string
	}{
		{
			name: "flipped decision",
			mutate: func(es []model.LogEntry) []model.LogEntry {
				es[1].Decision.Allow = true
				return es
			},
			seq:    2,
			reason: "content does not match hash",
		},
		{
			name: "removed entry",
			mutate: func(es []model.LogEntry) []model.LogEntry {
				return append(es[:1], es[2:]...)
			},
			seq:    3,
			reason: "prev_hash does not link to preceding entry",
		},
		{
			name: "reordered",
			mutate: func(es []model.LogEntry) []model.LogEntry {
				es[1], es[2] = es[2], es[1]
				return es
			},
			seq:    2,
			reason: "seq not after 3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := chainOf(t,
				createTestEntry("c1", "ev-1", model.StateProposed, model.StateSupported, model.OutcomeAllow),
				createTestEntry("c1", "ev-2", model.StateSupported, model.StateContradicted, model.OutcomeDeny),
				createTestEntry("c1", "ev-3", model.StateSupported, model.StateSuperseded, model.OutcomeAllow),
			)

			err := VerifyChain(tt.mutate(entries))
			var chainErr *ChainError
			require.True(t, errors.As(err, &chainErr))
			assert.Contains(t, chainErr.Breaks, ChainBreak{Seq: tt.seq, Reason: tt.reason})
		})
	}
}

func TestReplay_DerivesEveryClaim(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()
	for _, e := range []model.LogEntry{
		createTestEntry("c1", "ev-1", model.StateProposed, model.StateSupported, model.OutcomeAllow),
		createTestEntry("c2", "ev-5", model.StateProposed, model.StateSupported, model.OutcomeDeny),
		createTestEntry("c1", "ev-2", model.StateSupported, model.StateSuperseded, model.OutcomeAllow),
	} {
		_, err := l.Append(ctx, e)
		require.NoError(t, err)
	}

	snap, err := Replay(ctx, l)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.Entries)
	assert.Equal(t, int64(3), snap.HeadSeq)
	assert.Equal(t, map[string]model.Claim{
		"c1": {ID: "c1", State: model.StateSuperseded, Version: 2},
		"c2": {ID: "c2", State: model.StateProposed, Version: 0},
	}, snap.Claims)

	for _, id := range []string{"c1", "c2"} {
		claim, err := l.LatestState(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, snap.Claims[id], claim)
	}
}

func TestReplay_Empty(t *testing.T) {
	snap, err := Replay(context.Background(), NewMemoryLog())
	require.NoError(t, err)
	assert.Empty(t, snap.Claims)
	assert.Equal(t, model.GenesisHash, snap.HeadHash)
}

func TestReplayEntries_BrokenChain(t *testing.T) {
	entries := chainOf(t,
		createTestEntry("c1", "ev-1", model.StateProposed, model.StateSupported, model.OutcomeAllow),
	)
	entries[0].To = model.StateSuperseded

	_, err := ReplayEntries(entries)
	var chainErr *ChainError
	assert.True(t, errors.As(err, &chainErr))
}
