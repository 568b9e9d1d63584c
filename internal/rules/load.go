package rules

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/claimgov/internal/model"
)

//go:embed schema.cue
var schemaCUE string

// RuleSet is the on-disk shape of a transition rule set.
type RuleSet struct {
	AllowedTransitions []model.TransitionRule `yaml:"allowed_transitions" json:"allowed_transitions"`
}

// LoadError describes a rule set that could not be decoded.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ParseYAML decodes a YAML rule set body. Unknown keys are rejected.
func ParseYAML(data []byte) (RuleSet, error) {
	var rs RuleSet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil {
		if errors.Is(err, io.EOF) {
			return rs, &LoadError{Field: "allowed_transitions", Message: "rule set is empty"}
		}
		return rs, fmt.Errorf("decode rule set: %w", err)
	}
	if len(rs.AllowedTransitions) == 0 {
		return rs, &LoadError{Field: "allowed_transitions", Message: "at least one transition is required"}
	}
	return rs, nil
}

// LoadCUE compiles a CUE rule set, unifies it with the embedded schema and
// decodes allowed_transitions. filename is used for error positions only.
func LoadCUE(src []byte, filename string) (RuleSet, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return RuleSet{}, fmt.Errorf("compile embedded schema: %w", err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return RuleSet{}, formatCUEError(err)
	}

	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return RuleSet{}, formatCUEError(err)
	}

	list := unified.LookupPath(cue.ParsePath("allowed_transitions"))
	if !list.Exists() {
		return RuleSet{}, &LoadError{Field: "allowed_transitions", Message: "allowed_transitions is required", Pos: v.Pos()}
	}

	var rs RuleSet
	iter, err := list.List()
	if err != nil {
		return RuleSet{}, formatCUEError(err)
	}
	for iter.Next() {
		rule, err := decodeCUERule(iter.Value())
		if err != nil {
			return RuleSet{}, err
		}
		rs.AllowedTransitions = append(rs.AllowedTransitions, rule)
	}
	if len(rs.AllowedTransitions) == 0 {
		return RuleSet{}, &LoadError{Field: "allowed_transitions", Message: "at least one transition is required", Pos: list.Pos()}
	}
	return rs, nil
}

func decodeCUERule(v cue.Value) (model.TransitionRule, error) {
	var rule model.TransitionRule

	from, err := v.LookupPath(cue.ParsePath("from")).String()
	if err != nil {
		return rule, formatCUEError(err)
	}
	to, err := v.LookupPath(cue.ParsePath("to")).String()
	if err != nil {
		return rule, formatCUEError(err)
	}
	rule.From = model.State(from)
	rule.To = model.State(to)

	rule.RequiredFields, err = stringList(v.LookupPath(cue.ParsePath("required_fields")))
	if err != nil {
		return rule, err
	}
	rule.RequiredApprovalRoles, err = stringList(v.LookupPath(cue.ParsePath("required_approval_roles")))
	if err != nil {
		return rule, err
	}

	n, err := v.LookupPath(cue.ParsePath("min_approvals")).Int64()
	if err != nil {
		return rule, formatCUEError(err)
	}
	rule.MinApprovals = int(n)
	return rule, nil
}

func stringList(v cue.Value) ([]string, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &LoadError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}

// Build validates a rule set and returns an Engine over it.
func Build(rs RuleSet) (*Engine, error) {
	g, err := NewGraph(rs.AllowedTransitions)
	if err != nil {
		return nil, err
	}
	return NewEngine(g), nil
}
