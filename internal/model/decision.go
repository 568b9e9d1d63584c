package model

import (
	"slices"
	"time"
)

// StageID identifies an enforcement kernel stage.
type StageID string

// Enforcement stages in evaluation order.
const (
	StageStructural StageID = "structural"
	StageAuthority  StageID = "authority"
	StageIntegrity  StageID = "integrity"
	StagePolicy     StageID = "policy"
)

// Stages lists the enforcement stages in the fixed evaluation order.
var Stages = []StageID{StageStructural, StageAuthority, StageIntegrity, StagePolicy}

// Kind returns the error kind a failure of this stage is reported as.
func (s StageID) Kind() ErrorKind {
	switch s {
	case StageStructural:
		return KindStructural
	case StageAuthority:
		return KindAuthority
	case StageIntegrity:
		return KindIntegrity
	case StagePolicy:
		return KindPolicy
	default:
		return KindSystem
	}
}

// Decision is the immutable result of one enforcement evaluation.
type Decision struct {
	Allow       bool      `json:"allow"`
	FailedStage StageID   `json:"failed_stage,omitempty"`
	Reasons     []string  `json:"reasons"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Allowed builds an allow decision.
func Allowed(at time.Time, reasons ...string) Decision {
	return Decision{Allow: true, Reasons: nonNil(reasons), EvaluatedAt: at.UTC()}
}

// Denied builds a deny decision attributed to stage.
func Denied(stage StageID, at time.Time, reasons ...string) Decision {
	return Decision{FailedStage: stage, Reasons: nonNil(reasons), EvaluatedAt: at.UTC()}
}

// NoOp builds a non-allow decision that is not attributed to any kernel
// stage. Used to record skipped and rule-rejected attempts.
func NoOp(at time.Time, reasons ...string) Decision {
	return Decision{Reasons: nonNil(reasons), EvaluatedAt: at.UTC()}
}

func nonNil(reasons []string) []string {
	if reasons == nil {
		return []string{}
	}
	return slices.Clone(reasons)
}

// Outcome is the user-visible result of one attempt.
type Outcome string

// Attempt outcomes. Every attempt yields exactly one.
const (
	OutcomeAllow       Outcome = "allow"
	OutcomeDeny        Outcome = "deny"
	OutcomeSkip        Outcome = "skip"
	OutcomeReject      Outcome = "reject"
	OutcomeSystemError Outcome = "error"
)

// Tag renders the bracketed status used in run reports.
func (o Outcome) Tag() string {
	switch o {
	case OutcomeAllow:
		return "[OK]"
	case OutcomeDeny:
		return "[DENY]"
	case OutcomeSkip:
		return "[SKIP]"
	case OutcomeReject:
		return "[REJECT]"
	default:
		return "[ERROR]"
	}
}
