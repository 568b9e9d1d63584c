package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/claimgov/internal/model"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	ClaimID string
	Denied  bool
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print transition log entries",
		Long: `Print transition log entries in seq order.

--denied limits the output to attempts that did not change the claim
(skip, reject and deny), with the reasons recorded for each.

Examples:
  claimgov log
  claimgov log --claim claim-001 --denied
  claimgov log --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ClaimID, "claim", "", "only entries for this claim")
	cmd.Flags().BoolVar(&opts.Denied, "denied", false, "only entries that did not change the claim")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
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

	entries, err := l.ReadAll(ctx, opts.ClaimID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read log", err)
	}
	if opts.Denied {
		entries = deniedEntries(entries)
	}

	formatter := newFormatter(opts.RootOptions, cmd)
	if formatter.JSON() {
		return formatter.Success(entries)
	}
	return writeEntries(formatter.Writer, entries, opts.Denied || opts.Verbose)
}

func deniedEntries(entries []model.LogEntry) []model.LogEntry {
	out := make([]model.LogEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Decision.Allow {
			out = append(out, e)
		}
	}
	return out
}

func writeEntries(w io.Writer, entries []model.LogEntry, withReasons bool) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No entries.")
		return err
	}

	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%4d  %-6s  %s  %s  %s  attempt=%d  v%d\n",
			e.Seq, e.Outcome, e.ClaimID, e.EvidenceID, e.Transition(), e.Attempt, e.ClaimVersion); err != nil {
			return err
		}
		if !withReasons || e.Decision.Allow {
			continue
		}
		for _, r := range e.Decision.Reasons {
			if _, err := fmt.Fprintf(w, "        %s\n", r); err != nil {
				return err
			}
		}
	}
	return nil
}
