package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/claimgov/internal/kernel"
	"github.com/roach88/claimgov/internal/lifecycle"
	"github.com/roach88/claimgov/internal/materialize"
	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/rules"
	"github.com/roach88/claimgov/internal/showcase"
)

// KernelOptions holds flags for the kernel command.
type KernelOptions struct {
	*RootOptions
	Workspace  string
	Scenario   string
	EvidenceID string
	Reviewer   string

	Overrides Overrides
}

// NewKernelCommand creates the kernel showcase command.
func NewKernelCommand(rootOpts *RootOptions) *cobra.Command {
	return newKernelCommand(&KernelOptions{RootOptions: rootOpts})
}

func newKernelCommand(opts *KernelOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kernel",
		Short: "Show kernel stages blocking and then passing an attempt",
		Long: `Run fail/fix cycles through the enforcement kernel.

Each scenario evaluates a defective attempt, which the kernel must block,
followed by the corrected attempt, which it must allow:

  authority  self-approval, then a separate reviewer
  integrity  report edited after hashing, then matching hashes
  structure  approval.json missing, then a complete bundle

Attempts are evaluated only; nothing is written to the transition log.

Examples:
  claimgov kernel --workspace ./examples/demo
  claimgov kernel --workspace ./examples/demo --scenario integrity`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKernel(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Workspace, "workspace", ".", "workspace providing the evidence and rules")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", showcase.All, "authority|integrity|structure|all")
	cmd.Flags().StringVar(&opts.EvidenceID, "evidence", "ev-003-contradicted", "evidence submission to evaluate")
	cmd.Flags().StringVar(&opts.Reviewer, "reviewer", "bob", "independent reviewer used by passing attempts")

	return cmd
}

func runKernel(opts *KernelOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	ws, err := loadWorkspace(opts.Workspace)
	if err != nil {
		return err
	}

	ev, ok := findEvidence(ws.Submissions(), opts.EvidenceID)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("evidence %q not found in workspace", opts.EvidenceID))
	}
	if ev.Submitter == opts.Reviewer {
		return NewExitError(ExitCommandError, "--reviewer must differ from the evidence submitter")
	}

	scenarios, err := showcase.Scenarios(opts.Scenario, ev.Submitter, opts.Reviewer)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --scenario", err)
	}

	graph, err := rules.NewGraph(ws.Rules.AllowedTransitions)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid rule set", err)
	}
	rule, ok := graph.Lookup(ev.Transition.From, ev.Transition.To)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("no rule allows %s", ev.Transition))
	}

	var kopts []kernel.Option
	if opts.Overrides.Now != nil {
		kopts = append(kopts, kernel.WithClock(opts.Overrides.Now))
	}
	k, err := kernel.New(cfg.KernelConfig(), kopts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid kernel config", err)
	}
	m := materialize.NewDirMaterializer(cfg.Runs.Dir, opts.Overrides.materializerOptions(cfg)...)

	formatter := newFormatter(opts.RootOptions, cmd)
	transcript := formatter.Writer
	if formatter.JSON() {
		transcript = io.Discard
	} else {
		fmt.Fprintf(transcript, "Kernel enforcement showcase: %s via %s\n", ev.Transition, ev.ID)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()
	outcomes, runErr := showcase.New(k, m, ev, rule).Run(ctx, transcript, scenarios)
	if formatter.JSON() {
		if err := formatter.Success(outcomes); err != nil {
			return err
		}
	}
	if runErr != nil {
		return WrapExitError(ExitFailure, "showcase failed", runErr)
	}
	if !formatter.JSON() {
		fmt.Fprintln(transcript, "\nDONE: every blocked attempt was fixed.")
	}
	return nil
}

func findEvidence(subs []lifecycle.Submission, id string) (model.EvidenceSubmission, bool) {
	for _, s := range subs {
		if s.Evidence.ID == id {
			return s.Evidence, true
		}
	}
	return model.EvidenceSubmission{}, false
}
