package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/rules"
	"github.com/roach88/claimgov/internal/workspace"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                   `json:"valid"`
	Path        string                 `json:"path"`
	Transitions []model.TransitionRule `json:"transitions,omitempty"`
	Errors      []string               `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rules-file>",
		Short: "Validate a transition rule set",
		Long: `Validate a transition rule set without processing any evidence.

YAML rule sets (optionally with a front-matter block) and CUE rule sets
(.cue) are accepted. Checks: known states, no self transitions, no duplicate
edges, non-negative approval counts, and every state reachable from
"proposed".`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	result := ValidationResult{Path: path}

	rs, err := workspace.LoadRules(path)
	if err == nil {
		formatter.VerboseLog("Loaded %d transition(s) from %s", len(rs.AllowedTransitions), path)
		var g *rules.Graph
		if g, err = rules.NewGraph(rs.AllowedTransitions); err == nil {
			result.Valid = true
			result.Transitions = g.Rules()
		}
	}
	if err != nil {
		result.Errors = problems(err)
	}

	if formatter.JSON() {
		if !result.Valid {
			if err := formatter.Failure(ErrCodeRules, "invalid rule set", result); err != nil {
				return err
			}
			return NewExitError(ExitFailure, "validation failed")
		}
		return formatter.Success(result)
	}

	w := formatter.Writer
	if !result.Valid {
		fmt.Fprintf(w, "✗ %s: invalid rule set\n", path)
		for _, p := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", p)
		}
		return NewExitError(ExitFailure, "validation failed")
	}

	fmt.Fprintf(w, "✓ %s: %d transition(s)\n", path, len(result.Transitions))
	for _, r := range result.Transitions {
		line := "  " + r.Transition().String()
		if len(r.RequiredApprovalRoles) > 0 {
			line += fmt.Sprintf("  roles=[%s]", strings.Join(r.RequiredApprovalRoles, " "))
		}
		if r.MinApprovals > 0 {
			line += fmt.Sprintf("  min_approvals=%d", r.MinApprovals)
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

// problems flattens a load or graph error into one message per problem.
func problems(err error) []string {
	var ge *rules.GraphError
	if errors.As(err, &ge) {
		return ge.Problems
	}
	return []string{err.Error()}
}
