// Package rules implements the transition rule engine.
//
// A rule set is compiled once per process into a Graph: an explicit
// adjacency structure over claim states. The Engine evaluates a proposed
// transition against the graph and the matched edge's completeness
// requirements, producing one of three verdicts:
//
//   - Skip: the evidence does not apply to the claim's current state
//     (benign no-op, processing continues)
//   - Reject: no edge exists (RuleViolation) or the evidence is incomplete
//     (ValidationError)
//   - Accept: the evidence proceeds to materialization and enforcement
//
// Evaluation is pure: it never touches the log or the claim.
//
// Rule sets are authored as YAML (ParseYAML) or CUE (CompileCUE). CUE rule
// sets are unified with an embedded schema before decoding, so type errors
// are reported with source positions.
package rules
