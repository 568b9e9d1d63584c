package kernel

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/claimgov/internal/model"
)

// AuthorityStage enforces separation of duties.
type AuthorityStage struct{}

// ID implements Stage.
func (AuthorityStage) ID() model.StageID { return model.StageAuthority }

// Check implements Stage.
func (AuthorityStage) Check(in Input) Result {
	ev := in.Evidence
	var reasons []string

	if slices.Contains(ev.ApproverIdentities(), ev.Submitter) {
		reasons = append(reasons, fmt.Sprintf("submitter %s is also an approver (self-approval)", ev.Submitter))
	}

	for _, a := range ev.Approvals {
		if a.ConflictOfInterest && slices.Contains(in.Rule.RequiredApprovalRoles, a.Role) {
			reasons = append(reasons, fmt.Sprintf("approver %s has an unresolved conflict of interest for role %s", a.Identity, a.Role))
		}
	}

	if uncovered := uncoveredRoles(in.Rule.RequiredApprovalRoles, ev.Approvals); len(uncovered) > 0 {
		reasons = append(reasons, fmt.Sprintf("required roles [%s] not covered by distinct eligible identities",
			strings.Join(uncovered, " ")))
	}

	reasons = append(reasons, crossCheckApprovals(ev.Approvals, in.Artifact.Approvals)...)

	return result(model.StageAuthority, reasons)
}

// uncoveredRoles assigns each required role a distinct identity holding an
// unconflicted approval for it (maximum bipartite matching) and returns the
// roles left unassigned, sorted.
func uncoveredRoles(required []string, approvals []model.Approval) []string {
	roles := slices.Clone(required)
	slices.Sort(roles)
	roles = slices.Compact(roles)

	eligible := make(map[string][]string, len(roles)) // role -> identities
	for _, a := range approvals {
		if a.ConflictOfInterest || a.Identity == "" {
			continue
		}
		if !slices.Contains(eligible[a.Role], a.Identity) {
			eligible[a.Role] = append(eligible[a.Role], a.Identity)
		}
	}

	owner := make(map[string]string) // identity -> role
	var assign func(role string, seen map[string]bool) bool
	assign = func(role string, seen map[string]bool) bool {
		for _, id := range eligible[role] {
			if seen[id] {
				continue
			}
			seen[id] = true
			if prev, taken := owner[id]; !taken || assign(prev, seen) {
				owner[id] = role
				return true
			}
		}
		return false
	}

	var uncovered []string
	for _, role := range roles {
		if !assign(role, make(map[string]bool)) {
			uncovered = append(uncovered, role)
		}
	}
	return uncovered
}

// crossCheckApprovals compares the submission's approvals with the
// artifact's approval record as (identity, role) sets.
func crossCheckApprovals(submitted, recorded []model.Approval) []string {
	key := func(a model.Approval) string { return a.Identity + "/" + a.Role }

	want := make(map[string]bool, len(submitted))
	for _, a := range submitted {
		want[key(a)] = true
	}
	got := make(map[string]bool, len(recorded))
	for _, a := range recorded {
		got[key(a)] = true
	}

	var missing, unexpected []string
	for k := range want {
		if !got[k] {
			missing = append(missing, k)
		}
	}
	for k := range got {
		if !want[k] {
			unexpected = append(unexpected, k)
		}
	}
	slices.Sort(missing)
	slices.Sort(unexpected)

	var reasons []string
	if len(missing) > 0 {
		reasons = append(reasons, fmt.Sprintf("artifact approval record lacks [%s]", strings.Join(missing, " ")))
	}
	if len(unexpected) > 0 {
		reasons = append(reasons, fmt.Sprintf("artifact approval record has unsubmitted [%s]", strings.Join(unexpected, " ")))
	}
	return reasons
}
