package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/claimgov/internal/materialize"
	"github.com/roach88/claimgov/internal/model"
)

// Scenario defines a lifecycle scenario: a rule set, the attempts made
// against it, and assertions over the resulting log.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ClaimID is the default claim for attempts that do not name one.
	ClaimID string `yaml:"claim_id"`

	// RulesFile is a rule set path, relative to the scenario file.
	RulesFile string `yaml:"rules_file,omitempty"`

	// Rules is an inline rule set. Exactly one of Rules and RulesFile is set.
	Rules []model.TransitionRule `yaml:"rules,omitempty"`

	// Attempts are submitted in order, each exactly once.
	Attempts []AttemptStep `yaml:"attempts"`

	// Assertions validate the trace and the final log.
	Assertions []Assertion `yaml:"assertions"`
}

// AttemptStep is one evidence submission.
type AttemptStep struct {
	EvidenceID   string             `yaml:"evidence_id"`
	ClaimID      string             `yaml:"claim_id,omitempty"`
	Submitter    string             `yaml:"submitter"`
	From         model.State        `yaml:"from"`
	To           model.State        `yaml:"to"`
	ArtifactRefs []string           `yaml:"artifact_refs,omitempty"`
	Approvals    []model.Approval   `yaml:"approvals,omitempty"`
	Metadata     map[string]any     `yaml:"metadata,omitempty"`
	Faults       materialize.Faults `yaml:"faults,omitempty"`

	// Expect is checked against the attempt's actual result. If nil, any
	// outcome is accepted.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Evidence builds the submission for this step.
func (a AttemptStep) Evidence(defaultClaim string) model.EvidenceSubmission {
	claimID := a.ClaimID
	if claimID == "" {
		claimID = defaultClaim
	}
	return model.EvidenceSubmission{
		ID:           a.EvidenceID,
		ClaimID:      claimID,
		Submitter:    a.Submitter,
		Transition:   model.Transition{From: a.From, To: a.To},
		ArtifactRefs: a.ArtifactRefs,
		Approvals:    a.Approvals,
		Metadata:     a.Metadata,
	}.Clone()
}

// ExpectClause specifies the expected result of an attempt.
type ExpectClause struct {
	Outcome model.Outcome `yaml:"outcome"`

	// FailedStage is checked only when set.
	FailedStage model.StageID `yaml:"failed_stage,omitempty"`

	// ReasonsContain lists substrings each of which must occur in some reason.
	ReasonsContain []string `yaml:"reasons_contain,omitempty"`
}

// Assertion validates the trace or the final log.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// ClaimID selects the claim (final_state, log_contains).
	ClaimID string `yaml:"claim_id,omitempty"`

	// State and Version are the expected final claim (final_state).
	State   model.State `yaml:"state,omitempty"`
	Version *int64      `yaml:"version,omitempty"`

	// Outcome is the outcome to count or match (outcome_count, log_contains).
	Outcome model.Outcome `yaml:"outcome,omitempty"`

	// Count is the expected number of attempts (outcome_count).
	Count int `yaml:"count,omitempty"`

	// Outcomes is the expected outcome sequence (outcome_order).
	Outcomes []model.Outcome `yaml:"outcomes,omitempty"`

	// EvidenceID and FailedStage narrow log_contains.
	EvidenceID  string        `yaml:"evidence_id,omitempty"`
	FailedStage model.StageID `yaml:"failed_stage,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState       = "final_state"
	AssertOutcomeCount     = "outcome_count"
	AssertOutcomeOrder     = "outcome_order"
	AssertLogContains      = "log_contains"
	AssertReplayConsistent = "replay_consistent"
)

// LoadScenario reads and parses a scenario YAML file. rules_file is
// resolved relative to the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving rules_file relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.RulesFile != "" && !filepath.IsAbs(scenario.RulesFile) && basePath != "" {
		scenario.RulesFile = filepath.Join(basePath, scenario.RulesFile)
	}
	if scenario.RulesFile != "" {
		if _, err := os.Stat(scenario.RulesFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: rules file not found: %s", scenario.RulesFile)
		}
	}

	return scenario, nil
}

// ParseScenario decodes and validates a scenario document. rules_file is
// left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.ClaimID == "" {
		return fmt.Errorf("claim_id is required")
	}

	if (s.RulesFile == "") == (len(s.Rules) == 0) {
		return fmt.Errorf("exactly one of rules and rules_file is required")
	}

	if len(s.Attempts) == 0 {
		return fmt.Errorf("attempts list is required and must be non-empty")
	}

	for i, a := range s.Attempts {
		if err := validateAttempt(i, &a); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateAttempt(index int, a *AttemptStep) error {
	if a.EvidenceID == "" {
		return fmt.Errorf("attempts[%d]: evidence_id is required", index)
	}
	if a.Submitter == "" {
		return fmt.Errorf("attempts[%d]: submitter is required", index)
	}
	if !a.From.Valid() || !a.To.Valid() {
		return fmt.Errorf("attempts[%d]: unknown transition %s -> %s", index, a.From, a.To)
	}
	if a.Expect != nil && !validOutcome(a.Expect.Outcome) {
		return fmt.Errorf("attempts[%d].expect: unknown outcome %q", index, a.Expect.Outcome)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalState:
		if a.ClaimID == "" {
			return fmt.Errorf("assertions[%d]: claim_id is required for final_state", index)
		}
		if !a.State.Valid() {
			return fmt.Errorf("assertions[%d]: state is required for final_state", index)
		}
	case AssertOutcomeCount:
		if !validOutcome(a.Outcome) {
			return fmt.Errorf("assertions[%d]: outcome is required for outcome_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for outcome_count", index)
		}
	case AssertOutcomeOrder:
		if len(a.Outcomes) == 0 {
			return fmt.Errorf("assertions[%d]: outcomes list is required for outcome_order", index)
		}
	case AssertLogContains:
		if a.EvidenceID == "" {
			return fmt.Errorf("assertions[%d]: evidence_id is required for log_contains", index)
		}
	case AssertReplayConsistent:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func validOutcome(o model.Outcome) bool {
	switch o {
	case model.OutcomeAllow, model.OutcomeDeny, model.OutcomeSkip, model.OutcomeReject, model.OutcomeSystemError:
		return true
	}
	return false
}
