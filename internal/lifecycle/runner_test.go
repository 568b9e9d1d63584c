package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/claimgov/internal/kernel"
	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/testutil"
)

func TestRunner_ProcessesInFIFOOrder(t *testing.T) {
	s := newTestStack(t, kernel.DefaultConfig())

	var (
		mu  sync.Mutex
		ids []string
	)
	r := NewRunner(s.pipeline, WithResultHandler(func(res Result) {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, res.EvidenceID)
	}))

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	for _, sub := range demoSubmissions() {
		require.True(t, r.Enqueue(sub))
	}
	r.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not stop")
	}

	assert.Equal(t, []string{
		"ev-001-proposed",
		"ev-002-supported",
		"ev-003-contradicted",
		"ev-003-contradicted",
		"ev-004-superseded",
	}, ids)
	assert.False(t, r.Enqueue(Submission{}))
}

func TestRunner_StopsOnCancel(t *testing.T) {
	s := newTestStack(t, kernel.DefaultConfig())
	r := NewRunner(s.pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, r.Enqueue(Submission{Evidence: testutil.DemoEvidence()[0]}))
}

func TestSummary_Count(t *testing.T) {
	s := Summary{Results: []Result{
		{Outcome: model.OutcomeAllow},
		{Outcome: model.OutcomeDeny},
		{Outcome: model.OutcomeAllow},
	}}
	assert.Equal(t, 2, s.Count(model.OutcomeAllow))
	assert.Equal(t, 0, s.Count(model.OutcomeSkip))
}
