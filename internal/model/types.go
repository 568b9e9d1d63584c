package model

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// State is a claim lifecycle state.
type State string

// Lifecycle states in declaration order.
const (
	StateProposed     State = "proposed"
	StateSupported    State = "supported"
	StateContradicted State = "contradicted"
	StateSuperseded   State = "superseded"
)

// InitialState is the state every claim is created in.
const InitialState = StateProposed

// States lists every lifecycle state in declaration order.
var States = []State{StateProposed, StateSupported, StateContradicted, StateSuperseded}

// Valid reports whether s is one of the declared lifecycle states.
func (s State) Valid() bool {
	return slices.Contains(States, s)
}

// ParseState converts a string into a State, rejecting unknown values.
func ParseState(s string) (State, error) {
	st := State(strings.TrimSpace(s))
	if !st.Valid() {
		return "", fmt.Errorf("unknown claim state %q", s)
	}
	return st, nil
}

// Claim is the governed, stateful statement under lifecycle control.
//
// Claims are owned by the commit gate. Callers receive copies; the only way
// to change State or Version is an allowed commit.
type Claim struct {
	ID      string `json:"id" yaml:"id"`
	State   State  `json:"current_state" yaml:"current_state"`
	Version int64  `json:"version" yaml:"version"`
}

// NewClaim returns a claim in the initial state at version 0.
func NewClaim(id string) Claim {
	return Claim{ID: id, State: InitialState}
}

// Transition is a declared move between two states.
type Transition struct {
	From State `json:"from" yaml:"from"`
	To   State `json:"to" yaml:"to"`
}

// String renders the transition as "from -> to".
func (t Transition) String() string {
	return fmt.Sprintf("%s -> %s", t.From, t.To)
}

// Approval is one approver's sign-off on an evidence submission.
type Approval struct {
	Identity string `json:"identity" yaml:"identity"`
	Role     string `json:"role" yaml:"role"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`

	// ConflictOfInterest marks an unresolved conflict; the approval cannot
	// satisfy a required role until it is resolved or substituted.
	ConflictOfInterest bool `json:"conflict_of_interest,omitempty" yaml:"conflict_of_interest,omitempty"`
}

// EvidenceSubmission is a proposal to move a claim between states.
// It is immutable once created: use Clone before deriving a resubmission.
type EvidenceSubmission struct {
	ID           string         `json:"evidence_id" yaml:"evidence_id"`
	ClaimID      string         `json:"claim_id" yaml:"claim_id"`
	Submitter    string         `json:"submitter" yaml:"submitter"`
	Transition   Transition     `json:"intended_transition" yaml:"intended_transition"`
	ArtifactRefs []string       `json:"artifact_refs,omitempty" yaml:"artifact_refs,omitempty"`
	Approvals    []Approval     `json:"approvals,omitempty" yaml:"approvals,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Clone returns a deep copy of the submission's slices and maps.
func (e EvidenceSubmission) Clone() EvidenceSubmission {
	out := e
	out.ArtifactRefs = slices.Clone(e.ArtifactRefs)
	out.Approvals = slices.Clone(e.Approvals)
	out.Metadata = maps.Clone(e.Metadata)
	return out
}

// WithApprovals returns a copy of the submission carrying a new approval set.
// Used for corrected resubmissions; the original is left untouched.
func (e EvidenceSubmission) WithApprovals(approvals ...Approval) EvidenceSubmission {
	out := e.Clone()
	out.Approvals = slices.Clone(approvals)
	return out
}

// ApproverIdentities returns the distinct approving identities in order of
// first appearance.
func (e EvidenceSubmission) ApproverIdentities() []string {
	seen := make(map[string]bool, len(e.Approvals))
	var ids []string
	for _, a := range e.Approvals {
		if !seen[a.Identity] {
			seen[a.Identity] = true
			ids = append(ids, a.Identity)
		}
	}
	return ids
}

// ApprovalRoles returns the distinct roles present among the approvals, sorted.
func (e EvidenceSubmission) ApprovalRoles() []string {
	seen := make(map[string]bool, len(e.Approvals))
	var roles []string
	for _, a := range e.Approvals {
		if a.Role != "" && !seen[a.Role] {
			seen[a.Role] = true
			roles = append(roles, a.Role)
		}
	}
	slices.Sort(roles)
	return roles
}

// TransitionRule is a permitted edge between two states plus its
// completeness requirements.
type TransitionRule struct {
	From                  State    `json:"from" yaml:"from"`
	To                    State    `json:"to" yaml:"to"`
	RequiredFields        []string `json:"required_fields,omitempty" yaml:"required_fields,omitempty"`
	RequiredApprovalRoles []string `json:"required_approval_roles,omitempty" yaml:"required_approval_roles,omitempty"`
	MinApprovals          int      `json:"min_approvals,omitempty" yaml:"min_approvals,omitempty"`
}

// Transition returns the edge the rule governs.
func (r TransitionRule) Transition() Transition {
	return Transition{From: r.From, To: r.To}
}

// RunArtifact is an externally produced bundle backing one transition attempt.
// The kernel treats every field as untrusted input to verify.
type RunArtifact struct {
	RunID           string `json:"run_id"`
	ContractVersion string `json:"contract_version"`

	// Checksums maps artifact name (path relative to the bundle root) to its
	// recorded digest, "<hex>" for sha256 or "<algo>:<hex>".
	Checksums map[string]string `json:"checksums"`

	// Approvals is the bundle's approval record, cross-checked against the
	// submission's approvals.
	Approvals []Approval `json:"approvals,omitempty"`

	// StructuralFields holds the fields the contract version requires, keyed
	// by name (for 0.1.x these are the bundle files present).
	StructuralFields map[string]any `json:"structural_fields,omitempty"`

	// Descriptor is the decoded contract descriptor (contract.json).
	Descriptor map[string]any `json:"descriptor,omitempty"`
}

// ChecksumNames returns the manifest artifact names in sorted order.
func (r RunArtifact) ChecksumNames() []string {
	return slices.Sorted(maps.Keys(r.Checksums))
}
