// Package harness runs claim lifecycle scenarios against the real
// governance pipeline.
//
// A scenario names a rule set, a sequence of evidence attempts with their
// expected outcomes, and assertions over the resulting transition log.
// Every attempt goes through the rule engine, the materializer, the
// enforcement kernel, and the commit gate; nothing is stubbed.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	claim_id: claim-001
//	rules_file: ../rules/transition-rules.yaml
//	attempts:
//	  - evidence_id: ev-002
//	    submitter: alice
//	    from: proposed
//	    to: supported
//	    approvals: [{identity: bob, role: reviewer}]
//	    metadata: {summary: "peer review"}
//	    faults: {tamper_report: true}
//	    expect:
//	      outcome: deny
//	      failed_stage: integrity
//	      reasons_contain: ["sha256 mismatch"]
//	assertions:
//	  - type: final_state
//	    claim_id: claim-001
//	    state: supported
//	    version: 1
//	  - type: outcome_count
//	    outcome: deny
//	    count: 1
//
// Rules may be given inline under rules: instead of rules_file.
//
// # Assertion Types
//
//   - final_state: the claim's state and version after the last attempt
//   - outcome_count: number of attempts with the given outcome
//   - outcome_order: the sequence of attempt outcomes, exactly
//   - log_contains: a log entry matching evidence, outcome and failed stage
//   - replay_consistent: replaying the log reproduces the gate's claims
//
// # Deterministic Testing
//
// Each scenario runs over a fresh in-memory transition log with a
// deterministic clock and sequential run ids, so traces are byte-stable
// and can be compared against golden files in testdata/golden.
package harness
