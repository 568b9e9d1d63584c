package rules

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/claimgov/internal/model"
)

// Graph is the validated transition graph. It is read-only after
// construction and safe for concurrent use.
//
// INVARIANTS:
//   - No edge has From == To
//   - At most one edge per (From, To)
//   - Every state except the initial one is reachable from the initial state
type Graph struct {
	rules []model.TransitionRule
	edges map[model.State]map[model.State]int // from -> to -> index into rules
}

// GraphError lists every problem found while building a graph.
type GraphError struct {
	Problems []string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("invalid transition rule set: %s", strings.Join(e.Problems, "; "))
}

// NewGraph validates rules and builds the adjacency structure.
// The rules slice is copied; later mutation by the caller has no effect.
func NewGraph(rules []model.TransitionRule) (*Graph, error) {
	g := &Graph{
		rules: make([]model.TransitionRule, 0, len(rules)),
		edges: make(map[model.State]map[model.State]int),
	}

	var problems []string
	for i, r := range rules {
		switch {
		case !r.From.Valid():
			problems = append(problems, fmt.Sprintf("rule %d: unknown from state %q", i, r.From))
			continue
		case !r.To.Valid():
			problems = append(problems, fmt.Sprintf("rule %d: unknown to state %q", i, r.To))
			continue
		case r.From == r.To:
			problems = append(problems, fmt.Sprintf("rule %d: self transition %s", i, r.Transition()))
			continue
		case r.MinApprovals < 0:
			problems = append(problems, fmt.Sprintf("rule %d: negative min_approvals %d", i, r.MinApprovals))
			continue
		}
		if _, dup := g.edges[r.From][r.To]; dup {
			problems = append(problems, fmt.Sprintf("rule %d: duplicate edge %s", i, r.Transition()))
			continue
		}

		r.RequiredFields = slices.Clone(r.RequiredFields)
		r.RequiredApprovalRoles = slices.Clone(r.RequiredApprovalRoles)
		if g.edges[r.From] == nil {
			g.edges[r.From] = make(map[model.State]int)
		}
		g.edges[r.From][r.To] = len(g.rules)
		g.rules = append(g.rules, r)
	}

	reachable := g.reachableFrom(model.InitialState)
	for _, st := range model.States {
		if st != model.InitialState && !reachable[st] {
			problems = append(problems, fmt.Sprintf("state %s is unreachable from %s", st, model.InitialState))
		}
	}

	if len(problems) > 0 {
		return nil, &GraphError{Problems: problems}
	}
	return g, nil
}

// reachableFrom returns the set of states reachable from start (BFS).
func (g *Graph) reachableFrom(start model.State) map[model.State]bool {
	seen := map[model.State]bool{start: true}
	queue := []model.State{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.Successors(cur) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// Lookup returns the rule governing from -> to.
func (g *Graph) Lookup(from, to model.State) (model.TransitionRule, bool) {
	idx, ok := g.edges[from][to]
	if !ok {
		return model.TransitionRule{}, false
	}
	return g.rules[idx], true
}

// Successors returns the states reachable in one step from, in declaration
// order of the lifecycle states.
func (g *Graph) Successors(from model.State) []model.State {
	var out []model.State
	for _, st := range model.States {
		if _, ok := g.edges[from][st]; ok {
			out = append(out, st)
		}
	}
	return out
}

// Rules returns a copy of the rules in declaration order.
func (g *Graph) Rules() []model.TransitionRule {
	return slices.Clone(g.rules)
}
