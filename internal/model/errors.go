package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes governance errors.
type ErrorKind string

const (
	// KindValidation indicates malformed or incomplete evidence metadata or approvals.
	KindValidation ErrorKind = "VALIDATION_ERROR"

	// KindRuleViolation indicates no transition edge exists for the requested move.
	KindRuleViolation ErrorKind = "RULE_VIOLATION"

	// KindStructural indicates the run artifact fails the contract structure.
	KindStructural ErrorKind = "STRUCTURAL_FAILURE"

	// KindAuthority indicates a separation-of-duties violation.
	KindAuthority ErrorKind = "AUTHORITY_VIOLATION"

	// KindIntegrity indicates a manifest hash mismatch or a missing artifact.
	KindIntegrity ErrorKind = "INTEGRITY_FAILURE"

	// KindPolicy indicates a configured threshold or policy predicate failed.
	KindPolicy ErrorKind = "POLICY_VIOLATION"

	// KindSystem indicates an infrastructure fault (I/O, timeout, unreachable
	// collaborator). It is never a governance outcome.
	KindSystem ErrorKind = "SYSTEM_ERROR"
)

// GovernanceError is a classified error raised while processing an attempt.
//
// Rule-stage rejections and enforcement denials are represented as values
// (rules.Outcome, Decision), not errors; GovernanceError is used where a
// caller needs an error: SystemError aborts, and wrapping a rejection or
// denial for reporting.
type GovernanceError struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Message is a human-readable description.
	Message string

	// Stage identifies the failing kernel stage, if any.
	Stage StageID

	// EvidenceID identifies the affected submission, if known.
	EvidenceID string

	// Reasons carries the individual findings.
	Reasons []string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *GovernanceError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.EvidenceID != "" {
		fmt.Fprintf(&b, " (evidence=%s)", e.EvidenceID)
	}
	if len(e.Reasons) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Reasons, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *GovernanceError) Unwrap() error {
	return e.Err
}

// NewSystemError wraps an infrastructure fault.
func NewSystemError(message string, err error) *GovernanceError {
	return &GovernanceError{Kind: KindSystem, Message: message, Err: err}
}

// NewDenialError wraps a deny decision for callers that want an error value.
func NewDenialError(evidenceID string, d Decision) *GovernanceError {
	return &GovernanceError{
		Kind:       d.FailedStage.Kind(),
		Message:    fmt.Sprintf("%s stage denied the transition", d.FailedStage),
		Stage:      d.FailedStage,
		EvidenceID: evidenceID,
		Reasons:    d.Reasons,
	}
}

// KindOf extracts the kind of a GovernanceError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ge *GovernanceError
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return "", false
}

// IsSystemError returns true if the error is an infrastructure fault.
// Uses errors.As to handle wrapped errors.
func IsSystemError(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindSystem
}

// IsDenial returns true if the error wraps one of the four enforcement
// stage denial kinds.
func IsDenial(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindStructural, KindAuthority, KindIntegrity, KindPolicy:
		return true
	}
	return false
}
