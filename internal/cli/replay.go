package cli

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/claimgov/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	ClaimID string // optional - specific claim only
}

// ReplayClaimResult holds the replay result for a single claim.
type ReplayClaimResult struct {
	ClaimView
	Logged     ClaimView `json:"logged"`
	Consistent bool      `json:"consistent"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Entries       int                 `json:"entries"`
	HeadSeq       int64               `json:"head_seq"`
	HeadHash      string              `json:"head_hash"`
	Claims        []ReplayClaimResult `json:"claims"`
	Breaks        []store.ChainBreak  `json:"breaks,omitempty"`
	AllConsistent bool                `json:"all_consistent"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild claim state from the transition log and verify it",
		Long: `Replay the transition log from the first entry.

The hash chain is verified entry by entry, then every claim's state is folded
from its allow entries and compared with the state the log reports for that
claim on its own.

Exit codes:
  0 - Chain intact and every claim consistent
  1 - Chain broken or a claim's state disagrees
  2 - Command error (log unavailable, bad config)

Examples:
  claimgov replay
  claimgov replay --log-driver jsonl --log-dsn ./transitions.jsonl
  claimgov replay --claim claim-001 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ClaimID, "claim", "", "replay specific claim only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
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

	formatter := newFormatter(opts.RootOptions, cmd)

	snap, err := store.Replay(ctx, l)
	var chainErr *store.ChainError
	if errors.As(err, &chainErr) {
		result := ReplayResult{Entries: snap.Entries, Breaks: chainErr.Breaks, Claims: []ReplayClaimResult{}}
		return outputChainBroken(formatter, result)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay log", err)
	}

	result := ReplayResult{
		Entries:       snap.Entries,
		HeadSeq:       snap.HeadSeq,
		HeadHash:      snap.HeadHash,
		Claims:        []ReplayClaimResult{},
		AllConsistent: true,
	}

	ids := make([]string, 0, len(snap.Claims))
	for id := range snap.Claims {
		if opts.ClaimID == "" || id == opts.ClaimID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if opts.ClaimID != "" && len(ids) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("claim %q has no log entries", opts.ClaimID))
	}

	for _, id := range ids {
		folded := snap.Claims[id]
		logged, err := l.LatestState(ctx, id)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read state of %s", id), err)
		}
		cr := ReplayClaimResult{
			ClaimView:  ClaimView{ID: id, State: folded.State, Version: folded.Version},
			Logged:     ClaimView{ID: id, State: logged.State, Version: logged.Version},
			Consistent: folded == logged,
		}
		result.Claims = append(result.Claims, cr)
		if !cr.Consistent {
			result.AllConsistent = false
		}
		formatter.VerboseLog("replayed %s: %s v%d", id, folded.State, folded.Version)
	}

	if formatter.JSON() {
		if !result.AllConsistent {
			if err := formatter.Failure(ErrCodeMismatch, "replayed state disagrees with log", result); err != nil {
				return err
			}
			return NewExitError(ExitFailure, "replay verification failed")
		}
		return formatter.Success(result)
	}
	return outputReplayText(formatter, result)
}

func outputChainBroken(f *OutputFormatter, result ReplayResult) error {
	if f.JSON() {
		if err := f.Failure(ErrCodeChain, "hash chain broken", result); err != nil {
			return err
		}
	} else {
		w := f.Writer
		fmt.Fprintf(w, "Replay Summary: %d entries\n\n", result.Entries)
		for _, b := range result.Breaks {
			fmt.Fprintf(w, "✗ seq %d: %s\n", b.Seq, b.Reason)
		}
		fmt.Fprintln(w, "\n✗ Hash chain broken")
	}
	return NewExitError(ExitFailure, "hash chain broken")
}

// outputReplayText outputs the replay result as text.
func outputReplayText(f *OutputFormatter, result ReplayResult) error {
	w := f.Writer

	fmt.Fprintf(w, "Replay Summary: %d entries, head seq %d (%s)\n", result.Entries, result.HeadSeq, shortHash(result.HeadHash))
	fmt.Fprintln(w)

	if len(result.Claims) == 0 {
		fmt.Fprintln(w, "No claims found in log.")
		return nil
	}

	for _, c := range result.Claims {
		status := "✓"
		if !c.Consistent {
			status = "✗"
		}
		fmt.Fprintf(w, "%s %s: %s (version %d)\n", status, c.ID, c.State, c.Version)
		if !c.Consistent {
			fmt.Fprintf(w, "  Logged: %s (version %d)\n", c.Logged.State, c.Logged.Version)
		}
	}
	fmt.Fprintln(w)

	if result.AllConsistent {
		fmt.Fprintln(w, "✓ Chain intact, all claims consistent")
		return nil
	}

	fmt.Fprintln(w, "✗ Replay verification failed")
	return NewExitError(ExitFailure, "replay verification failed")
}

func shortHash(h string) string {
	h = strings.TrimPrefix(h, "sha256:")
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
