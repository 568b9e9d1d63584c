// Package showcase drives the enforcement kernel through fail/fix cycles,
// one per stage family, so each stage can be seen blocking an attempt and
// then passing once the defect is corrected.
//
// Attempts are evaluated by the real kernel over freshly materialized
// bundles. Nothing is committed: the claim never changes.
package showcase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/claimgov/internal/kernel"
	"github.com/roach88/claimgov/internal/materialize"
	"github.com/roach88/claimgov/internal/model"
)

// Scenario names.
const (
	Authority = "authority"
	Integrity = "integrity"
	Structure = "structure"
	All       = "all"
)

// Names lists the scenarios in the order All runs them.
var Names = []string{Authority, Integrity, Structure}

// ErrUnexpectedDecision is returned when an attempt did not fail or pass
// as its scenario expects.
var ErrUnexpectedDecision = errors.New("unexpected kernel decision")

// Attempt is one evaluation within a scenario.
type Attempt struct {
	Label       string
	Reviewer    string
	Faults      materialize.Faults
	ExpectAllow bool
}

// Scenario is a failing attempt followed by its fix.
type Scenario struct {
	Name     string
	Attempts []Attempt
}

// Scenarios returns the named scenarios. submitter is reused as reviewer
// where a scenario needs self-approval; reviewer is the independent one.
func Scenarios(name, submitter, reviewer string) ([]Scenario, error) {
	all := map[string]Scenario{
		Authority: {Name: Authority, Attempts: []Attempt{
			{Label: "A1 authority fail (self-approval)", Reviewer: submitter},
			{Label: "A2 authority fix (separate reviewer)", Reviewer: reviewer, ExpectAllow: true},
		}},
		Integrity: {Name: Integrity, Attempts: []Attempt{
			{Label: "B1 integrity fail (report edited after hashing)", Reviewer: reviewer, Faults: materialize.Faults{TamperReport: true}},
			{Label: "B2 integrity fix (hashes match)", Reviewer: reviewer, ExpectAllow: true},
		}},
		Structure: {Name: Structure, Attempts: []Attempt{
			{Label: "C1 structure fail (approval.json missing)", Reviewer: reviewer, Faults: materialize.Faults{OmitFiles: []string{model.FileApproval}}},
			{Label: "C2 structure fix (complete bundle)", Reviewer: reviewer, ExpectAllow: true},
		}},
	}

	if name == All {
		out := make([]Scenario, 0, len(Names))
		for _, n := range Names {
			out = append(out, all[n])
		}
		return out, nil
	}
	s, ok := all[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q: must be one of %s or %s", name, strings.Join(Names, ", "), All)
	}
	return []Scenario{s}, nil
}

// Outcome records one evaluated attempt.
type Outcome struct {
	Scenario string        `json:"scenario"`
	Label    string        `json:"label"`
	RunID    string        `json:"run_id"`
	Report   kernel.Report `json:"report"`
	Expected bool          `json:"expected_allow"`
}

// Met reports whether the decision matched the expectation.
func (o Outcome) Met() bool {
	return o.Report.Decision.Allow == o.Expected
}

// Showcase evaluates attempts for one evidence submission against a claim
// sitting at the submission's source state.
type Showcase struct {
	kernel       kernel.Decider
	materializer materialize.Materializer
	evidence     model.EvidenceSubmission
	rule         model.TransitionRule
}

// New creates a showcase for ev. rule is the transition rule governing ev.
func New(k kernel.Decider, m materialize.Materializer, ev model.EvidenceSubmission, rule model.TransitionRule) *Showcase {
	return &Showcase{kernel: k, materializer: m, evidence: ev, rule: rule}
}

// Run evaluates every attempt in order and writes a transcript to w. All
// attempts run even after a mismatch; the error then wraps
// ErrUnexpectedDecision and names the first offender.
func (s *Showcase) Run(ctx context.Context, w io.Writer, scenarios []Scenario) ([]Outcome, error) {
	claim := model.NewClaim(s.evidence.ClaimID)
	claim.State = s.evidence.Transition.From

	var (
		outcomes []Outcome
		mismatch error
	)
	for _, sc := range scenarios {
		for i, a := range sc.Attempts {
			ev := s.evidence
			ev.Approvals = []model.Approval{{Identity: a.Reviewer, Role: reviewerRole(s.rule)}}

			run, err := s.materializer.Materialize(ctx, materialize.Request{
				Claim:    claim,
				Evidence: ev,
				Attempt:  i + 1,
				Faults:   a.Faults,
			})
			if err != nil {
				return outcomes, fmt.Errorf("%s: %w", a.Label, err)
			}

			report := s.kernel.Evaluate(ctx, kernel.Input{
				Claim:    claim,
				Evidence: ev,
				Rule:     s.rule,
				Artifact: run.Artifact,
				Files:    run.Files,
			})
			o := Outcome{
				Scenario: sc.Name,
				Label:    a.Label,
				RunID:    run.Artifact.RunID,
				Report:   report,
				Expected: a.ExpectAllow,
			}
			outcomes = append(outcomes, o)

			if err := writeOutcome(w, o); err != nil {
				return outcomes, err
			}
			if !o.Met() && mismatch == nil {
				mismatch = fmt.Errorf("%s (run %s): %w", a.Label, o.RunID, ErrUnexpectedDecision)
			}
		}
	}
	return outcomes, mismatch
}

func reviewerRole(rule model.TransitionRule) string {
	if len(rule.RequiredApprovalRoles) > 0 {
		return rule.RequiredApprovalRoles[0]
	}
	return "reviewer"
}

func writeOutcome(w io.Writer, o Outcome) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\n== %s ==\n", o.Label)
	for _, r := range o.Report.Results {
		if r.Passed {
			fmt.Fprintf(&b, "%s: OK\n", r.Stage)
			continue
		}
		fmt.Fprintf(&b, "%s: FAILED\n", r.Stage)
		for _, reason := range r.Reasons {
			fmt.Fprintf(&b, "  - %s\n", reason)
		}
	}
	verdict := "blocked"
	if o.Report.Decision.Allow {
		verdict = "allowed"
	}
	fmt.Fprintf(&b, "COMMIT: %s (run %s)\n", verdict, o.RunID)
	_, err := io.WriteString(w, b.String())
	return err
}
