package testutil

import "github.com/roach88/claimgov/internal/model"

// DemoClaimID is the claim governed by the demo fixtures.
const DemoClaimID = "claim-001"

// DemoRules returns the demo transition rule set.
func DemoRules() []model.TransitionRule {
	return []model.TransitionRule{
		{
			From:                  model.StateProposed,
			To:                    model.StateSupported,
			RequiredFields:        []string{"summary"},
			RequiredApprovalRoles: []string{"reviewer"},
			MinApprovals:          1,
		},
		{
			From:                  model.StateSupported,
			To:                    model.StateContradicted,
			RequiredFields:        []string{"summary"},
			RequiredApprovalRoles: []string{"reviewer"},
			MinApprovals:          1,
		},
		{
			From:                  model.StateContradicted,
			To:                    model.StateSuperseded,
			RequiredApprovalRoles: []string{"reviewer"},
			MinApprovals:          1,
		},
		{
			From:                  model.StateSupported,
			To:                    model.StateSuperseded,
			RequiredApprovalRoles: []string{"reviewer"},
			MinApprovals:          1,
		},
	}
}

// Reviewer returns a reviewer approval by identity.
func Reviewer(identity string) model.Approval {
	return model.Approval{Identity: identity, Role: "reviewer", Token: "tok-" + identity}
}

// Evidence builds a submission by alice for the demo claim.
func Evidence(id string, from, to model.State, approvals ...model.Approval) model.EvidenceSubmission {
	return model.EvidenceSubmission{
		ID:           id,
		ClaimID:      DemoClaimID,
		Submitter:    "alice",
		Transition:   model.Transition{From: from, To: to},
		ArtifactRefs: []string{"report.md"},
		Approvals:    approvals,
		Metadata:     map[string]any{"summary": "evidence " + id},
	}
}

// DemoEvidence returns ev-001..ev-004 in processing order. ev-003 is
// self-approved (alice approves her own submission) and is expected to be
// denied on its first attempt.
func DemoEvidence() []model.EvidenceSubmission {
	return []model.EvidenceSubmission{
		Evidence("ev-001-proposed", model.StateProposed, model.StateProposed, Reviewer("bob")),
		Evidence("ev-002-supported", model.StateProposed, model.StateSupported, Reviewer("bob")),
		Evidence("ev-003-contradicted", model.StateSupported, model.StateContradicted, Reviewer("alice")),
		Evidence("ev-004-superseded", model.StateContradicted, model.StateSuperseded, Reviewer("bob")),
	}
}
