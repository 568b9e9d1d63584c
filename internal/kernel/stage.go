package kernel

import (
	"io/fs"

	"github.com/roach88/claimgov/internal/model"
)

// Input is everything a stage may inspect for one attempt.
type Input struct {
	Claim    model.Claim
	Evidence model.EvidenceSubmission

	// Rule is the transition rule the rule engine matched.
	Rule model.TransitionRule

	Artifact model.RunArtifact

	// Files serves the artifact's bundle contents for integrity checks.
	Files fs.FS
}

// Result is one stage's verdict.
type Result struct {
	Stage   model.StageID `json:"stage"`
	Passed  bool          `json:"passed"`
	Reasons []string      `json:"reasons,omitempty"`
}

// Stage is one enforcement check.
type Stage interface {
	ID() model.StageID
	Check(in Input) Result
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageID model.StageID
	Fn      func(in Input) []string
}

// ID returns the stage id.
func (s StageFunc) ID() model.StageID { return s.StageID }

// Check runs Fn; any returned reason fails the stage.
func (s StageFunc) Check(in Input) Result {
	return result(s.StageID, s.Fn(in))
}

func result(id model.StageID, reasons []string) Result {
	return Result{Stage: id, Passed: len(reasons) == 0, Reasons: reasons}
}
