package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/roach88/claimgov/internal/gate"
	"github.com/roach88/claimgov/internal/kernel"
	"github.com/roach88/claimgov/internal/lifecycle"
	"github.com/roach88/claimgov/internal/materialize"
	"github.com/roach88/claimgov/internal/store"
	"github.com/roach88/claimgov/internal/testutil"
	"github.com/roach88/claimgov/internal/workspace"
)

// Harness executes one scenario over an isolated pipeline.
type Harness struct {
	pipeline *lifecycle.Pipeline
	log      store.Log
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs over a fresh in-memory log and a temporary runs
// directory, with a deterministic clock and sequential run ids.
//
// Execution flow:
// 1. Load the rule set
// 2. Assemble the pipeline
// 3. Submit every attempt and check its expect clause
// 4. Evaluate assertions against the trace and the log
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	ruleSet := scenario.Rules
	if scenario.RulesFile != "" {
		rs, err := workspace.LoadRules(scenario.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
		ruleSet = rs.AllowedTransitions
	}

	runsDir, err := os.MkdirTemp("", "claimgov-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create runs dir: %w", err)
	}
	defer os.RemoveAll(runsDir)

	clock := testutil.NewDeterministicClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	l := store.NewMemoryLog()
	defer l.Close()

	p, err := lifecycle.Assemble(ctx, lifecycle.Components{
		Rules:   ruleSet,
		Kernel:  kernel.DefaultConfig(),
		Log:     l,
		RunsDir: runsDir,
		MaterializerOptions: []materialize.Option{
			materialize.WithIDGenerator(testutil.NewSequentialRunIDs("run")),
			materialize.WithClock(clock.Now),
		},
		KernelOptions:   []kernel.Option{kernel.WithClock(clock.Now)},
		GateOptions:     []gate.Option{gate.WithLogger(logger)},
		PipelineOptions: []lifecycle.Option{lifecycle.WithClock(clock.Now), lifecycle.WithLogger(logger)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assemble pipeline: %w", err)
	}

	h := &Harness{pipeline: p, log: l, logger: logger}

	result := NewResult()
	h.executeAttempts(ctx, scenario, result)

	actx := &AssertionContext{Log: l, Gate: p.Gate(), Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeAttempts submits every attempt in order and validates expect
// clauses against what the pipeline actually did.
func (h *Harness) executeAttempts(ctx context.Context, scenario *Scenario, result *Result) {
	for i, step := range scenario.Attempts {
		ev := step.Evidence(scenario.ClaimID)
		res := h.pipeline.Submit(ctx, ev, step.Faults)

		result.AddTrace(TraceEvent{
			Seq:          res.Entry.Seq,
			ClaimID:      res.ClaimID,
			EvidenceID:   res.EvidenceID,
			Attempt:      res.Attempt,
			From:         res.Transition.From,
			To:           res.Transition.To,
			Outcome:      res.Outcome,
			FailedStage:  res.Decision.FailedStage,
			Reasons:      res.Decision.Reasons,
			RunID:        res.RunID,
			ClaimVersion: res.Claim.Version,
		})
		result.Claims[res.ClaimID] = res.Claim

		if step.Expect != nil {
			if msg := checkExpect(*step.Expect, res); msg != "" {
				result.AddError(fmt.Sprintf("attempts[%d] (%s): %s", i, ev.ID, msg))
			}
		}

		h.logger.Info("attempt completed",
			"step", i,
			"evidence_id", ev.ID,
			"outcome", res.Outcome,
			"seq", res.Entry.Seq,
		)
	}
}

// checkExpect returns a description of the first mismatch, or "".
func checkExpect(want ExpectClause, res lifecycle.Result) string {
	if res.Outcome != want.Outcome {
		msg := fmt.Sprintf("expected outcome %s, got %s", want.Outcome, res.Outcome)
		if len(res.Decision.Reasons) > 0 {
			msg += fmt.Sprintf(" (%s)", strings.Join(res.Decision.Reasons, "; "))
		} else if res.Err != nil {
			msg += fmt.Sprintf(" (%v)", res.Err)
		}
		return msg
	}
	if want.FailedStage != "" && res.Decision.FailedStage != want.FailedStage {
		return fmt.Sprintf("expected failed stage %s, got %q", want.FailedStage, res.Decision.FailedStage)
	}
	for _, sub := range want.ReasonsContain {
		if !anyContains(res.Decision.Reasons, sub) {
			return fmt.Sprintf("no reason contains %q in %v", sub, res.Decision.Reasons)
		}
	}
	return ""
}

func anyContains(reasons []string, sub string) bool {
	for _, r := range reasons {
		if strings.Contains(r, sub) {
			return true
		}
	}
	return false
}
