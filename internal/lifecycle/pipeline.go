package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/claimgov/internal/gate"
	"github.com/roach88/claimgov/internal/kernel"
	"github.com/roach88/claimgov/internal/materialize"
	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/rules"
)

// DefaultMaterializeTimeout bounds a single materializer call.
const DefaultMaterializeTimeout = 30 * time.Second

// Submission is one piece of evidence plus optional corrected resubmissions.
type Submission struct {
	Evidence model.EvidenceSubmission
	Faults   materialize.Faults

	// Resubmissions are tried in order after a denial.
	Resubmissions []Resubmission
}

// Resubmission corrects a denied attempt.
type Resubmission struct {
	// Approvals replaces the evidence approvals when non-nil.
	Approvals []model.Approval
	Faults    materialize.Faults
}

// Result describes one attempt.
type Result struct {
	ClaimID    string
	EvidenceID string
	Attempt    int
	Transition model.Transition
	Outcome    model.Outcome
	Decision   model.Decision

	// Stages holds the kernel stage results for allow and deny outcomes.
	Stages []kernel.Result

	RunID string

	// Claim is the claim after the attempt.
	Claim model.Claim

	// Entry is the committed log entry. Zero for system errors.
	Entry model.LogEntry

	// Err is a *model.GovernanceError for every outcome except allow and skip.
	Err error
}

// Pipeline wires the governance components for one process.
//
// Thread-safety: Process is safe for concurrent use. Attempts on the same
// claim are serialized by the gate; a draft that lost a race is reported
// as a system error.
type Pipeline struct {
	rules        rules.Evaluator
	materializer materialize.Materializer
	kernel       kernel.Decider
	gate         *gate.Gate

	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaterializeTimeout bounds each materializer call. Zero disables the bound.
func WithMaterializeTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithClock sets the clock stamping skip and reject decisions.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the pipeline's logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline.
func New(r rules.Evaluator, m materialize.Materializer, k kernel.Decider, g *gate.Gate, opts ...Option) *Pipeline {
	p := &Pipeline{
		rules:        r,
		materializer: m,
		kernel:       k,
		gate:         g,
		timeout:      DefaultMaterializeTimeout,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Gate returns the pipeline's commit gate.
func (p *Pipeline) Gate() *gate.Gate { return p.gate }

// Process runs a submission and its resubmissions. Resubmissions are only
// used after a denial; any other outcome ends the submission.
func (p *Pipeline) Process(ctx context.Context, sub Submission) []Result {
	ev := sub.Evidence
	faults := sub.Faults
	var results []Result
	for i := 0; ; i++ {
		res := p.Submit(ctx, ev, faults)
		results = append(results, res)
		if res.Outcome != model.OutcomeDeny || i >= len(sub.Resubmissions) {
			return results
		}
		next := sub.Resubmissions[i]
		if next.Approvals != nil {
			ev = ev.WithApprovals(next.Approvals...)
		}
		faults = next.Faults
	}
}

// Submit runs a single attempt.
func (p *Pipeline) Submit(ctx context.Context, ev model.EvidenceSubmission, faults materialize.Faults) Result {
	res := Result{
		ClaimID:    ev.ClaimID,
		EvidenceID: ev.ID,
		Transition: ev.Transition,
	}

	claim := p.gate.Claim(ev.ClaimID)
	res.Claim = claim

	attempt, err := p.gate.NextAttempt(ctx, ev.ClaimID, ev.ID)
	if err != nil {
		return p.systemError(res, "read attempt history", err)
	}
	res.Attempt = attempt

	out := p.rules.Evaluate(claim, ev)
	switch out.Verdict {
	case rules.VerdictSkip:
		res.Outcome = model.OutcomeSkip
		res.Decision = model.NoOp(p.now(), out.Reason)
		return p.commit(ctx, res, claim, gate.Draft{})

	case rules.VerdictReject:
		res.Outcome = model.OutcomeReject
		res.Decision = model.NoOp(p.now(), append([]string{out.Reason}, out.Missing...)...)
		res.Err = out.Err(ev.ID)
		return p.commit(ctx, res, claim, gate.Draft{})
	}

	mctx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	run, err := p.materializer.Materialize(mctx, materialize.Request{
		Claim:    claim,
		Evidence: ev,
		Attempt:  attempt,
		Faults:   faults,
	})
	if err != nil {
		return p.systemError(res, "materialize run", err)
	}
	res.RunID = run.Artifact.RunID

	report := p.kernel.Evaluate(ctx, kernel.Input{
		Claim:    claim,
		Evidence: ev,
		Rule:     out.Rule,
		Artifact: run.Artifact,
		Files:    run.Files,
	})
	res.Decision = report.Decision
	res.Stages = report.Results
	if report.Decision.Allow {
		res.Outcome = model.OutcomeAllow
	} else {
		res.Outcome = model.OutcomeDeny
		res.Err = model.NewDenialError(ev.ID, report.Decision)
	}

	return p.commit(ctx, res, claim, gate.Draft{RunID: res.RunID, ProposalHash: run.ProposalHash})
}

// commit completes d from res and passes it to the gate.
func (p *Pipeline) commit(ctx context.Context, res Result, claim model.Claim, d gate.Draft) Result {
	d.EvidenceID = res.EvidenceID
	d.Transition = res.Transition
	d.Outcome = res.Outcome
	d.Decision = res.Decision

	updated, entry, err := p.gate.Commit(ctx, res.ClaimID, claim.Version, d)
	if err != nil {
		msg := "commit attempt"
		if errors.Is(err, gate.ErrStaleVersion) {
			msg = "claim changed during evaluation"
		}
		return p.systemError(res, msg, err)
	}
	res.Claim = updated
	res.Entry = entry
	res.Attempt = entry.Attempt

	p.logger.Info("attempt processed",
		"claim_id", res.ClaimID,
		"evidence_id", res.EvidenceID,
		"attempt", res.Attempt,
		"outcome", res.Outcome,
		"failed_stage", res.Decision.FailedStage,
		"seq", entry.Seq,
		"state", updated.State,
	)
	return res
}

func (p *Pipeline) systemError(res Result, msg string, err error) Result {
	ge := model.NewSystemError(msg, err)
	ge.EvidenceID = res.EvidenceID
	res.Outcome = model.OutcomeSystemError
	res.Decision = model.Decision{}
	res.Stages = nil
	res.Err = ge

	p.logger.Error("attempt aborted",
		"claim_id", res.ClaimID,
		"evidence_id", res.EvidenceID,
		"attempt", res.Attempt,
		"error", err,
	)
	return res
}

// String summarizes the result on one line.
func (r Result) String() string {
	return fmt.Sprintf("%s %s %s attempt=%d", r.Outcome.Tag(), r.EvidenceID, r.Transition, r.Attempt)
}
