package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/claimgov/internal/gate"
	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s %s -> %s attempt=%d\n", i+1, ev.Outcome, ev.EvidenceID, ev.From, ev.To, ev.Attempt)
	}

	return buf.String()
}

// assertFinalState checks the gate's view of a claim.
func assertFinalState(g *gate.Gate, trace []TraceEvent, a Assertion) error {
	got := g.Claim(a.ClaimID)
	if got.State == a.State && (a.Version == nil || got.Version == *a.Version) {
		return nil
	}

	want := string(a.State)
	if a.Version != nil {
		want = fmt.Sprintf("%s (version %d)", a.State, *a.Version)
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("claim %s in %s", a.ClaimID, want),
		Actual:   fmt.Sprintf("%s (version %d)", got.State, got.Version),
		Trace:    trace,
	}
}

// assertOutcomeCount checks how many attempts ended with an outcome.
func assertOutcomeCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Outcome == a.Outcome {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertOutcomeCount,
			Expected: fmt.Sprintf("%d %s outcome(s)", a.Count, a.Outcome),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertOutcomeOrder checks the exact outcome sequence.
func assertOutcomeOrder(trace []TraceEvent, a Assertion) error {
	got := make([]model.Outcome, len(trace))
	for i, ev := range trace {
		got[i] = ev.Outcome
	}
	if slices.Equal(got, a.Outcomes) {
		return nil
	}
	return &AssertionError{
		Type:     AssertOutcomeOrder,
		Expected: fmt.Sprintf("%v", a.Outcomes),
		Actual:   fmt.Sprintf("%v", got),
		Trace:    trace,
	}
}

// assertLogContains checks that a committed entry matches every field set
// on the assertion.
func assertLogContains(ctx context.Context, l store.Log, trace []TraceEvent, a Assertion) error {
	entries, err := l.ReadAll(ctx, a.ClaimID)
	if err != nil {
		return fmt.Errorf("%s: read log: %w", AssertLogContains, err)
	}

	for _, e := range entries {
		if e.EvidenceID != a.EvidenceID {
			continue
		}
		if a.Outcome != "" && e.Outcome != a.Outcome {
			continue
		}
		if a.FailedStage != "" && e.Decision.FailedStage != a.FailedStage {
			continue
		}
		return nil
	}

	return &AssertionError{
		Type:     AssertLogContains,
		Expected: describeEntry(a),
		Actual:   fmt.Sprintf("not found in %d log entries", len(entries)),
		Trace:    trace,
	}
}

func describeEntry(a Assertion) string {
	parts := []string{"entry for " + a.EvidenceID}
	if a.ClaimID != "" {
		parts = append(parts, "claim "+a.ClaimID)
	}
	if a.Outcome != "" {
		parts = append(parts, "outcome "+string(a.Outcome))
	}
	if a.FailedStage != "" {
		parts = append(parts, "failed stage "+string(a.FailedStage))
	}
	return strings.Join(parts, ", ")
}

// assertReplayConsistent replays the log from scratch and compares every
// folded claim with the gate's projection.
func assertReplayConsistent(ctx context.Context, l store.Log, g *gate.Gate, trace []TraceEvent) error {
	snap, err := store.Replay(ctx, l)
	if err != nil {
		return &AssertionError{
			Type:     AssertReplayConsistent,
			Expected: "log replays cleanly",
			Actual:   err.Error(),
			Trace:    trace,
		}
	}

	for _, c := range g.Claims() {
		folded, ok := snap.Claims[c.ID]
		if !ok {
			folded = model.NewClaim(c.ID)
		}
		if folded != c {
			return &AssertionError{
				Type:     AssertReplayConsistent,
				Expected: fmt.Sprintf("claim %s replays to %s (version %d)", c.ID, c.State, c.Version),
				Actual:   fmt.Sprintf("%s (version %d)", folded.State, folded.Version),
				Trace:    trace,
			}
		}
	}
	return nil
}

// AssertionContext provides the log and gate that assertions inspect.
type AssertionContext struct {
	Log  store.Log
	Gate *gate.Gate
	Ctx  context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// actx is required by final_state, log_contains and replay_consistent.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertOutcomeCount:
			err = assertOutcomeCount(result.Trace, assertion)
		case AssertOutcomeOrder:
			err = assertOutcomeOrder(result.Trace, assertion)
		case AssertFinalState, AssertLogContains, AssertReplayConsistent:
			if actx == nil || actx.Log == nil || actx.Gate == nil {
				err = fmt.Errorf("assertion[%d]: %s requires log context", i, assertion.Type)
				break
			}
			ctx := actx.Ctx
			if ctx == nil {
				ctx = context.Background()
			}
			switch assertion.Type {
			case AssertFinalState:
				err = assertFinalState(actx.Gate, result.Trace, assertion)
			case AssertLogContains:
				err = assertLogContains(ctx, actx.Log, result.Trace, assertion)
			default:
				err = assertReplayConsistent(ctx, actx.Log, actx.Gate, result.Trace)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
