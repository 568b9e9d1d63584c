package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/claimgov/internal/lifecycle"
	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/workspace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ExpectState string

	Overrides Overrides
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	Attempts []AttemptView  `json:"attempts"`
	Claims   []ClaimView    `json:"claims"`
	Counts   map[string]int `json:"counts"`
}

// AttemptView is one attempt in JSON output.
type AttemptView struct {
	ClaimID     string        `json:"claim_id"`
	EvidenceID  string        `json:"evidence_id"`
	Attempt     int           `json:"attempt"`
	From        model.State   `json:"from"`
	To          model.State   `json:"to"`
	Outcome     model.Outcome `json:"outcome"`
	FailedStage model.StageID `json:"failed_stage,omitempty"`
	Reasons     []string      `json:"reasons"`
	RunID       string        `json:"run_id,omitempty"`
	Seq         int64         `json:"seq,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// ClaimView is a claim's state in JSON output.
type ClaimView struct {
	ID      string      `json:"claim_id"`
	State   model.State `json:"state"`
	Version int64       `json:"version"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [workspace]",
		Short: "Process every evidence submission in a workspace",
		Long: `Process the workspace's evidence submissions in file-name order.

Each submission is checked against the transition rules, materialized into a
run bundle, and evaluated by the enforcement kernel. Allowed transitions
advance the claim; every attempt is appended to the transition log.

Output lines:
  [OK]     transition committed
  [SKIP]   evidence does not apply to the claim's current state
  [REJECT] transition not allowed by the rules, or evidence incomplete
  [DENY]   blocked by a kernel stage (details indented below)
  [ERROR]  attempt aborted by a system error; nothing committed

Exit codes:
  0 - All attempts produced a governance outcome
  1 - An attempt aborted, or --expect-state was not reached
  2 - Command error (bad workspace, config, or log)

Examples:
  claimgov run ./examples/demo
  claimgov run ./examples/demo --log-driver memory --expect-state superseded
  claimgov run . --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runLifecycle(opts, dir, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ExpectState, "expect-state", "", "fail unless every claim ends in this state")

	return cmd
}

func runLifecycle(opts *RunOptions, dir string, cmd *cobra.Command) error {
	if opts.ExpectState != "" && !model.State(opts.ExpectState).Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --expect-state %q", opts.ExpectState))
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	ws, err := loadWorkspace(dir)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	l, err := openLog(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLog(l)

	p, err := assemble(ctx, cfg, ws, l, opts.Overrides)
	if err != nil {
		return err
	}
	warnDeclaredState(ws, p)

	slog.Info("run starting", "workspace", dir, "log", describeDriver(cfg), "submissions", len(ws.Evidence))
	summary, err := p.RunAll(ctx, ws.Submissions(), nil)
	if err != nil {
		return WrapExitError(ExitFailure, "run interrupted", err)
	}
	for _, c := range ws.Claims {
		summary.Claims[c.ID] = p.Gate().Claim(c.ID)
	}

	formatter := newFormatter(opts.RootOptions, cmd)
	if formatter.JSON() {
		if err := formatter.Success(runResult(summary)); err != nil {
			return err
		}
	} else if err := lifecycle.WriteReport(formatter.Writer, summary); err != nil {
		return err
	}

	if n := summary.Count(model.OutcomeSystemError); n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d attempt(s) aborted", n))
	}
	if opts.ExpectState != "" {
		for _, c := range ws.Claims {
			if got := summary.Claims[c.ID].State; got != model.State(opts.ExpectState) {
				return NewExitError(ExitFailure, fmt.Sprintf("claim %s ended in %s, expected %s", c.ID, got, opts.ExpectState))
			}
		}
	}
	return nil
}

// warnDeclaredState flags claim files whose declared state disagrees with
// the transition log. The log wins.
func warnDeclaredState(ws *workspace.Workspace, p *lifecycle.Pipeline) {
	for _, c := range ws.Claims {
		if got := p.Gate().Claim(c.ID); got.State != c.CurrentState {
			slog.Warn("claim file state differs from transition log",
				"claim_id", c.ID,
				"declared", c.CurrentState,
				"logged", got.State,
				"version", got.Version,
			)
		}
	}
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runResult(s lifecycle.Summary) RunResult {
	out := RunResult{
		Attempts: make([]AttemptView, 0, len(s.Results)),
		Claims:   claimViews(s.Claims),
		Counts:   map[string]int{},
	}
	for _, r := range s.Results {
		out.Counts[string(r.Outcome)]++
		v := AttemptView{
			ClaimID:     r.ClaimID,
			EvidenceID:  r.EvidenceID,
			Attempt:     r.Attempt,
			From:        r.Transition.From,
			To:          r.Transition.To,
			Outcome:     r.Outcome,
			FailedStage: r.Decision.FailedStage,
			Reasons:     r.Decision.Reasons,
			RunID:       r.RunID,
			Seq:         r.Entry.Seq,
		}
		if v.Reasons == nil {
			v.Reasons = []string{}
		}
		if r.Outcome == model.OutcomeSystemError && r.Err != nil {
			v.Error = r.Err.Error()
		}
		out.Attempts = append(out.Attempts, v)
	}
	return out
}

func claimViews(claims map[string]model.Claim) []ClaimView {
	views := make([]ClaimView, 0, len(claims))
	for id, c := range claims {
		views = append(views, ClaimView{ID: id, State: c.State, Version: c.Version})
	}
	slices.SortFunc(views, func(a, b ClaimView) int { return strings.Compare(a.ID, b.ID) })
	return views
}
