package gate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/store"
	"github.com/roach88/claimgov/internal/testutil"
)

func quietGate(l store.Log) *Gate {
	return New(l, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func draft(evidenceID string, from, to model.State, outcome model.Outcome) Draft {
	var d model.Decision
	switch outcome {
	case model.OutcomeAllow:
		d = model.Allowed(testutil.Epoch, "structural: ok")
	case model.OutcomeDeny:
		d = model.Denied(model.StageAuthority, testutil.Epoch, "authority: self-approval")
	default:
		d = model.NoOp(testutil.Epoch, "does not match current state")
	}
	return Draft{
		EvidenceID: evidenceID,
		Transition: model.Transition{From: from, To: to},
		Outcome:    outcome,
		Decision:   d,
	}
}

func TestCommit_AllowAdvancesClaim(t *testing.T) {
	g := quietGate(store.NewMemoryLog())
	ctx := context.Background()

	claim, entry, err := g.Commit(ctx, "c1", 0, draft("ev-1", model.StateProposed, model.StateSupported, model.OutcomeAllow))
	require.NoError(t, err)

	assert.Equal(t, model.Claim{ID: "c1", State: model.StateSupported, Version: 1}, claim)
	assert.Equal(t, claim, g.Claim("c1"))
	assert.Equal(t, int64(1), entry.Seq)
	assert.Equal(t, int64(1), entry.ClaimVersion)
	assert.Equal(t, model.OutcomeAllow, entry.Outcome)
}

func TestCommit_NonAllowLeavesClaimButAppends(t *testing.T) {
	for _, outcome := range []model.Outcome{model.OutcomeDeny, model.OutcomeSkip, model.OutcomeReject} {
		t.Run(string(outcome), func(t *testing.T) {
			l := store.NewMemoryLog()
			g := quietGate(l)
			ctx := context.Background()

			claim, entry, err := g.Commit(ctx, "c1", 0, draft("ev-1", model.StateProposed, model.StateSupported, outcome))
			require.NoError(t, err)

			assert.Equal(t, model.NewClaim("c1"), claim)
			assert.Equal(t, model.NewClaim("c1"), g.Claim("c1"))
			assert.Equal(t, int64(0), entry.ClaimVersion)

			entries, err := l.ReadAll(ctx, "c1")
			require.NoError(t, err)
			assert.Len(t, entries, 1)
		})
	}
}

func TestCommit_StaleVersion(t *testing.T) {
	l := store.NewMemoryLog()
	g := quietGate(l)
	ctx := context.Background()

	_, _, err := g.Commit(ctx, "c1", 0, draft("ev-1", model.StateProposed, model.StateSupported, model.OutcomeAllow))
	require.NoError(t, err)

	claim, _, err := g.Commit(ctx, "c1", 0, draft("ev-2", model.StateProposed, model.StateSupported, model.OutcomeAllow))
	assert.True(t, errors.Is(err, ErrStaleVersion))
	assert.Equal(t, int64(1), claim.Version)

	entries, err := l.ReadAll(ctx, "")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCommit_InvalidDrafts(t *testing.T) {
	tests := []struct {
		name  string
		draft Draft
	}{
		{"allow from wrong state", draft("ev", model.StateSupported, model.StateContradicted, model.OutcomeAllow)},
		{"outcome disagrees with decision", func() Draft {
			d := draft("ev", model.StateProposed, model.StateSupported, model.OutcomeAllow)
			d.Outcome = model.OutcomeDeny
			return d
		}()},
		{"system error", func() Draft {
			d := draft("ev", model.StateProposed, model.StateSupported, model.OutcomeDeny)
			d.Outcome = model.OutcomeSystemError
			return d
		}()},
		{"unknown target", draft("ev", model.StateProposed, "retracted", model.OutcomeAllow)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := store.NewMemoryLog()
			g := quietGate(l)
			_, _, err := g.Commit(context.Background(), "c1", 0, tt.draft)
			assert.True(t, errors.Is(err, ErrInvalidDraft), "got %v", err)

			_, err = l.Head(context.Background())
			assert.True(t, errors.Is(err, store.ErrNotFound))
		})
	}
}

// failingLog rejects every append.
type failingLog struct {
	store.Log
}

func (failingLog) Append(ctx context.Context, e model.LogEntry) (model.LogEntry, error) {
	return e, errors.New("disk full")
}

func TestCommit_ProjectionUnchangedWhenAppendFails(t *testing.T) {
	g := quietGate(failingLog{store.NewMemoryLog()})

	_, _, err := g.Commit(context.Background(), "c1", 0, draft("ev-1", model.StateProposed, model.StateSupported, model.OutcomeAllow))
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, model.NewClaim("c1"), g.Claim("c1"))
}

func TestCommit_ConcurrentSameVersionSingleWinner(t *testing.T) {
	l := store.NewMemoryLog()
	g := quietGate(l)
	ctx := context.Background()

	const n = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		stale int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := g.Commit(ctx, "c1", 0, draft("ev-1", model.StateProposed, model.StateSupported, model.OutcomeAllow))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrStaleVersion):
				stale++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, stale)

	entries, err := l.ReadAll(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCommit_IndependentClaimsInParallel(t *testing.T) {
	g := quietGate(store.NewMemoryLog())
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _, err := g.Commit(ctx, id, 0, draft("ev", model.StateProposed, model.StateSupported, model.OutcomeAllow))
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	claims := g.Claims()
	require.Len(t, claims, len(ids))
	for i, c := range claims {
		assert.Equal(t, ids[i], c.ID)
		assert.Equal(t, model.StateSupported, c.State)
	}
}

func TestRecover_RebuildsProjection(t *testing.T) {
	l := store.NewMemoryLog()
	ctx := context.Background()

	live := quietGate(l)
	_, _, err := live.Commit(ctx, "c1", 0, draft("ev-1", model.StateProposed, model.StateSupported, model.OutcomeAllow))
	require.NoError(t, err)
	_, _, err = live.Commit(ctx, "c1", 1, draft("ev-2", model.StateSupported, model.StateContradicted, model.OutcomeDeny))
	require.NoError(t, err)

	restarted := quietGate(l)
	assert.Equal(t, model.NewClaim("c1"), restarted.Claim("c1"))
	require.NoError(t, restarted.Recover(ctx))
	assert.Equal(t, live.Claim("c1"), restarted.Claim("c1"))

	// resumes committing against the recovered version
	claim, _, err := restarted.Commit(ctx, "c1", 1, draft("ev-2", model.StateSupported, model.StateContradicted, model.OutcomeAllow))
	require.NoError(t, err)
	assert.Equal(t, int64(2), claim.Version)
}

func TestNextAttempt_CountsPriorEntries(t *testing.T) {
	g := quietGate(store.NewMemoryLog())
	ctx := context.Background()

	n, err := g.NextAttempt(ctx, "c1", "ev-3")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d := draft("ev-3", model.StateProposed, model.StateSupported, model.OutcomeDeny)
	_, _, err = g.Commit(ctx, "c1", 0, d)
	require.NoError(t, err)
	_, _, err = g.Commit(ctx, "c1", 0, draft("ev-other", model.StateProposed, model.StateSupported, model.OutcomeDeny))
	require.NoError(t, err)

	n, err = g.NextAttempt(ctx, "c1", "ev-3")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCommit_NumbersAttemptsPerEvidence(t *testing.T) {
	g := quietGate(store.NewMemoryLog())
	ctx := context.Background()

	var attempts []int
	for _, id := range []string{"ev-1", "ev-2", "ev-1", "ev-1"} {
		_, entry, err := g.Commit(ctx, "c1", 0, draft(id, model.StateProposed, model.StateSupported, model.OutcomeDeny))
		require.NoError(t, err)
		attempts = append(attempts, entry.Attempt)
	}
	assert.Equal(t, []int{1, 1, 2, 3}, attempts)
}

func TestCommit_ConcurrentDenialsGetDistinctAttempts(t *testing.T) {
	l := store.NewMemoryLog()
	g := quietGate(l)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := g.Commit(ctx, "c1", 0, draft("ev-2", model.StateProposed, model.StateSupported, model.OutcomeDeny))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := l.ReadAll(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, entries, n)
	seen := map[int]bool{}
	for _, e := range entries {
		assert.False(t, seen[e.Attempt], "attempt %d logged twice", e.Attempt)
		seen[e.Attempt] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[i], "attempt %d missing", i)
	}
}

func TestClaims_IncludesDenyOnlyClaimsAfterRecover(t *testing.T) {
	l := store.NewMemoryLog()
	ctx := context.Background()

	live := quietGate(l)
	_, _, err := live.Commit(ctx, "c1", 0, draft("ev-1", model.StateProposed, model.StateSupported, model.OutcomeAllow))
	require.NoError(t, err)
	_, _, err = live.Commit(ctx, "c2", 0, draft("ev-2", model.StateProposed, model.StateSupported, model.OutcomeDeny))
	require.NoError(t, err)

	// a live gate only tracks claims it has advanced
	assert.Equal(t, []model.Claim{{ID: "c1", State: model.StateSupported, Version: 1}}, live.Claims())

	restarted := quietGate(l)
	require.NoError(t, restarted.Recover(ctx))
	assert.Equal(t, []model.Claim{
		{ID: "c1", State: model.StateSupported, Version: 1},
		model.NewClaim("c2"),
	}, restarted.Claims())
}
