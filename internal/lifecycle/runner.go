package lifecycle

import (
	"context"
	"log/slog"

	"github.com/roach88/claimgov/internal/model"
)

// Runner processes queued submissions in FIFO order on one goroutine.
//
// Thread-safety model:
//   - Enqueue(), Stop(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Runner struct {
	pipeline *Pipeline
	queue    *submissionQueue
	onResult func(Result)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithResultHandler receives every attempt result as it is produced.
// Called from the Run goroutine.
func WithResultHandler(fn func(Result)) RunnerOption {
	return func(r *Runner) { r.onResult = fn }
}

// NewRunner creates a runner over p.
func NewRunner(p *Pipeline, opts ...RunnerOption) *Runner {
	r := &Runner{
		pipeline: p,
		queue:    newSubmissionQueue(),
		onResult: func(Result) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue adds a submission. Returns false after Stop.
func (r *Runner) Enqueue(sub Submission) bool {
	return r.queue.Enqueue(sub)
}

// Stop closes the queue. Run drains what is already queued, then returns.
func (r *Runner) Stop() {
	r.queue.Close()
}

// Run processes submissions until the queue is stopped and drained, or ctx
// is cancelled. An attempt already started runs to its outcome.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("runner starting")

	for {
		if err := ctx.Err(); err != nil {
			slog.Info("runner stopping: context cancelled")
			r.queue.Close()
			return err
		}

		sub, ok := r.queue.TryDequeue()
		if ok {
			for _, res := range r.pipeline.Process(ctx, sub) {
				r.onResult(res)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("runner stopping: context cancelled")
			r.queue.Close()
			return ctx.Err()

		case <-r.queue.Wait():
			// the signal channel closes with the queue
			if r.queue.Len() == 0 && r.queue.Closed() {
				slog.Info("runner stopping: queue closed")
				return nil
			}
		}
	}
}

// Summary is the outcome of a complete run.
type Summary struct {
	Results []Result

	// Claims holds the final state of every claim touched, by id.
	Claims map[string]model.Claim
}

// Count returns how many attempts had outcome o.
func (s Summary) Count(o model.Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// RunAll processes subs in order and returns every attempt result.
// onResult, if non-nil, is also called for each result as it is produced.
func (p *Pipeline) RunAll(ctx context.Context, subs []Submission, onResult func(Result)) (Summary, error) {
	summary := Summary{Claims: map[string]model.Claim{}}
	r := NewRunner(p, WithResultHandler(func(res Result) {
		summary.Results = append(summary.Results, res)
		if onResult != nil {
			onResult(res)
		}
	}))
	for _, sub := range subs {
		r.Enqueue(sub)
	}
	r.Stop()
	if err := r.Run(ctx); err != nil {
		return summary, err
	}

	for _, res := range summary.Results {
		summary.Claims[res.ClaimID] = p.gate.Claim(res.ClaimID)
	}
	return summary, nil
}
