package harness

import (
	"github.com/roach88/claimgov/internal/model"
)

// TraceEvent is one attempt as recorded in the transition log.
type TraceEvent struct {
	Seq          int64         `json:"seq"`
	ClaimID      string        `json:"claim_id"`
	EvidenceID   string        `json:"evidence_id"`
	Attempt      int           `json:"attempt"`
	From         model.State   `json:"from"`
	To           model.State   `json:"to"`
	Outcome      model.Outcome `json:"outcome"`
	FailedStage  model.StageID `json:"failed_stage,omitempty"`
	Reasons      []string      `json:"reasons"`
	RunID        string        `json:"run_id,omitempty"`
	ClaimVersion int64         `json:"claim_version"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per attempt, in submission order. Attempts
	// aborted by a system error appear with seq 0.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Claims is the gate's view of every claim after the last attempt.
	Claims map[string]model.Claim `json:"claims,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Claims: make(map[string]model.Claim),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace records an attempt.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// Outcomes returns the outcome of every traced attempt.
func (r *Result) Outcomes() []model.Outcome {
	out := make([]model.Outcome, len(r.Trace))
	for i, ev := range r.Trace {
		out[i] = ev.Outcome
	}
	return out
}
