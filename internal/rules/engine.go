package rules

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/claimgov/internal/model"
)

// Verdict is the rule engine's classification of an evidence submission.
type Verdict int

const (
	// VerdictAccept means the evidence proceeds to materialization.
	VerdictAccept Verdict = iota
	// VerdictSkip means the evidence does not apply to the current state.
	VerdictSkip
	// VerdictReject means the transition is not permitted or incomplete.
	VerdictReject
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccept:
		return "accept"
	case VerdictSkip:
		return "skip"
	case VerdictReject:
		return "reject"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Skip reasons.
const (
	ReasonStateMismatch = "does not match current state"
	ReasonNoChange      = "declares no state change"
)

// Outcome is the result of evaluating one submission.
type Outcome struct {
	Verdict Verdict

	// Kind is KindRuleViolation or KindValidation for rejections.
	Kind model.ErrorKind

	// Reason is a human-readable summary.
	Reason string

	// Missing lists missing metadata fields ("field:<name>"), missing roles
	// ("role:<name>") and approval shortfalls, for ValidationError.
	Missing []string

	// Rule is the matched edge (Accept and ValidationError only).
	Rule model.TransitionRule
}

// Err converts a rejection into a GovernanceError; nil otherwise.
func (o Outcome) Err(evidenceID string) error {
	if o.Verdict != VerdictReject {
		return nil
	}
	return &model.GovernanceError{
		Kind:       o.Kind,
		Message:    o.Reason,
		EvidenceID: evidenceID,
		Reasons:    o.Missing,
	}
}

// Evaluator is the rule engine capability consumed by the lifecycle pipeline.
type Evaluator interface {
	Evaluate(claim model.Claim, ev model.EvidenceSubmission) Outcome
}

// Engine evaluates submissions against a Graph.
// Safe for concurrent use.
type Engine struct {
	graph *Graph
}

// NewEngine creates an Engine over a validated graph.
func NewEngine(g *Graph) *Engine {
	return &Engine{graph: g}
}

// Graph returns the engine's transition graph.
func (e *Engine) Graph() *Graph {
	return e.graph
}

// Evaluate classifies ev against the claim's current state.
func (e *Engine) Evaluate(claim model.Claim, ev model.EvidenceSubmission) Outcome {
	t := ev.Transition
	if t.From != claim.State {
		return Outcome{Verdict: VerdictSkip, Reason: ReasonStateMismatch}
	}
	if t.From == t.To {
		return Outcome{Verdict: VerdictSkip, Reason: ReasonNoChange}
	}

	rule, ok := e.graph.Lookup(claim.State, t.To)
	if !ok {
		return Outcome{
			Verdict: VerdictReject,
			Kind:    model.KindRuleViolation,
			Reason:  fmt.Sprintf("transition %s not allowed by rules", t),
		}
	}

	var missing []string
	for _, field := range rule.RequiredFields {
		if isEmptyValue(ev.Metadata[field]) {
			missing = append(missing, "field:"+field)
		}
	}

	present := make(map[string]bool)
	for _, role := range ev.ApprovalRoles() {
		present[role] = true
	}
	for _, role := range rule.RequiredApprovalRoles {
		if !present[role] {
			missing = append(missing, "role:"+role)
		}
	}

	if n := len(ev.ApproverIdentities()); n < rule.MinApprovals {
		missing = append(missing, fmt.Sprintf("approvals:%d<%d", n, rule.MinApprovals))
	}

	if len(missing) > 0 {
		return Outcome{
			Verdict: VerdictReject,
			Kind:    model.KindValidation,
			Reason:  fmt.Sprintf("evidence incomplete for %s: missing %s", t, strings.Join(missing, ", ")),
			Missing: missing,
			Rule:    rule,
		}
	}

	return Outcome{Verdict: VerdictAccept, Reason: "rules satisfied", Rule: rule}
}

// isEmptyValue reports whether a metadata value counts as absent:
// nil, blank strings, and empty slices or maps.
func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}
