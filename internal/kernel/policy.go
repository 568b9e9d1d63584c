package kernel

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	gocache "github.com/patrickmn/go-cache"

	"github.com/roach88/claimgov/internal/model"
)

// Threshold requires a role set whenever a numeric metadata field exceeds
// a limit. Roles are counted by distinct, unconflicted identities.
type Threshold struct {
	Name          string   `yaml:"name" json:"name" mapstructure:"name"`
	Field         string   `yaml:"field" json:"field" mapstructure:"field"`
	Limit         float64  `yaml:"limit" json:"limit" mapstructure:"limit"`
	RequiredRoles []string `yaml:"required_roles" json:"required_roles" mapstructure:"required_roles"`
}

// Expression is a named CEL predicate over claim, evidence and artifact.
// It must evaluate to true for the stage to pass.
type Expression struct {
	Name string `yaml:"name" json:"name" mapstructure:"name"`
	Expr string `yaml:"expr" json:"expr" mapstructure:"expr"`
}

// celCostLimit bounds the work a single predicate may do.
const celCostLimit = 10000

// PolicyStage evaluates thresholds and CEL predicates.
type PolicyStage struct {
	thresholds  []Threshold
	expressions []Expression
	env         *cel.Env
	programs    *gocache.Cache // expr -> cel.Program
}

// NewPolicyStage compiles every expression up front so malformed policy is
// reported at startup rather than as a denial.
func NewPolicyStage(thresholds []Threshold, expressions []Expression) (*PolicyStage, error) {
	for _, t := range thresholds {
		if t.Field == "" {
			return nil, fmt.Errorf("threshold %q: field is required", t.Name)
		}
		if len(t.RequiredRoles) == 0 {
			return nil, fmt.Errorf("threshold %q: required_roles is empty", t.Name)
		}
	}

	env, err := cel.NewEnv(
		cel.Variable("claim", cel.DynType),
		cel.Variable("evidence", cel.DynType),
		cel.Variable("artifact", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	s := &PolicyStage{
		thresholds:  thresholds,
		expressions: expressions,
		env:         env,
		programs:    gocache.New(gocache.NoExpiration, 0),
	}
	for _, e := range expressions {
		if _, err := s.program(e.Expr); err != nil {
			return nil, fmt.Errorf("policy expression %q: %w", e.Name, err)
		}
	}
	return s, nil
}

// ID implements Stage.
func (s *PolicyStage) ID() model.StageID { return model.StagePolicy }

// Check implements Stage.
func (s *PolicyStage) Check(in Input) Result {
	var reasons []string
	ev := in.Evidence

	for _, t := range s.thresholds {
		raw, present := ev.Metadata[t.Field]
		if !present {
			continue
		}
		value, ok := toFloat(raw)
		if !ok {
			reasons = append(reasons, fmt.Sprintf("threshold %s: metadata.%s is not numeric", t.Name, t.Field))
			continue
		}
		if value <= t.Limit {
			continue
		}
		for _, a := range ev.Approvals {
			if a.ConflictOfInterest && slices.Contains(t.RequiredRoles, a.Role) {
				reasons = append(reasons, fmt.Sprintf("threshold %s: approver %s has an unresolved conflict of interest for role %s",
					t.Name, a.Identity, a.Role))
			}
		}
		if uncovered := uncoveredRoles(t.RequiredRoles, eligibleApprovals(ev)); len(uncovered) > 0 {
			reasons = append(reasons, fmt.Sprintf("threshold %s: metadata.%s %s exceeds %s and requires [%s] from distinct unconflicted approvers",
				t.Name, t.Field, formatNumber(value), formatNumber(t.Limit), strings.Join(uncovered, " ")))
		}
	}

	if len(s.expressions) > 0 {
		activation := celActivation(in)
		for _, e := range s.expressions {
			ok, err := s.eval(e.Expr, activation)
			switch {
			case err != nil:
				reasons = append(reasons, fmt.Sprintf("expression %s: %v", e.Name, err))
			case !ok:
				reasons = append(reasons, fmt.Sprintf("expression %s is false", e.Name))
			}
		}
	}

	return result(model.StagePolicy, reasons)
}

// eligibleApprovals drops the submitter's own approvals; thresholds demand
// independent sign-off.
func eligibleApprovals(ev model.EvidenceSubmission) []model.Approval {
	out := make([]model.Approval, 0, len(ev.Approvals))
	for _, a := range ev.Approvals {
		if a.Identity != ev.Submitter {
			out = append(out, a)
		}
	}
	return out
}

func (s *PolicyStage) program(expr string) (cel.Program, error) {
	if p, ok := s.programs.Get(expr); ok {
		return p.(cel.Program), nil
	}

	ast, issues := s.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("CEL expression returns %s, want bool", ast.OutputType())
	}
	p, err := s.env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("CEL program error: %w", err)
	}
	s.programs.Set(expr, p, gocache.NoExpiration)
	return p, nil
}

func (s *PolicyStage) eval(expr string, activation map[string]any) (bool, error) {
	p, err := s.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := p.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("CEL eval error: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not boolean")
	}
	return b, nil
}

func celActivation(in Input) map[string]any {
	ev := in.Evidence

	approvals := make([]any, 0, len(ev.Approvals))
	for _, a := range ev.Approvals {
		approvals = append(approvals, map[string]any{
			"identity":             a.Identity,
			"role":                 a.Role,
			"conflict_of_interest": a.ConflictOfInterest,
		})
	}
	refs := make([]any, 0, len(ev.ArtifactRefs))
	for _, r := range ev.ArtifactRefs {
		refs = append(refs, r)
	}
	metadata := ev.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	checksums := make(map[string]any, len(in.Artifact.Checksums))
	for k, v := range in.Artifact.Checksums {
		checksums[k] = v
	}
	descriptor := in.Artifact.Descriptor
	if descriptor == nil {
		descriptor = map[string]any{}
	}

	return map[string]any{
		"claim": map[string]any{
			"id":      in.Claim.ID,
			"state":   string(in.Claim.State),
			"version": in.Claim.Version,
		},
		"evidence": map[string]any{
			"id":            ev.ID,
			"claim_id":      ev.ClaimID,
			"submitter":     ev.Submitter,
			"from":          string(ev.Transition.From),
			"to":            string(ev.Transition.To),
			"approvals":     approvals,
			"artifact_refs": refs,
			"metadata":      metadata,
		},
		"artifact": map[string]any{
			"run_id":           in.Artifact.RunID,
			"contract_version": in.Artifact.ContractVersion,
			"checksums":        checksums,
			"descriptor":       descriptor,
		},
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
