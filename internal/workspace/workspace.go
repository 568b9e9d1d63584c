// Package workspace loads the declarative files a lifecycle run consumes:
// claims, a transition rule set, and evidence submissions.
//
// Each file is a YAML document with an optional front-matter block (see
// SplitFrontMatter). Rule sets may instead be written in CUE. Files are
// read once at startup and never written back; claim state lives in the
// transition log.
//
// Layout:
//
//	<root>/claims/*.yaml
//	<root>/rules/transition-rules.{yaml,yml,cue}
//	<root>/evidence/*.yaml   (processed in file-name order)
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/claimgov/internal/lifecycle"
	"github.com/roach88/claimgov/internal/materialize"
	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/rules"
)

// Directory and file names within a workspace.
const (
	DirClaims   = "claims"
	DirRules    = "rules"
	DirEvidence = "evidence"
	RulesBase   = "transition-rules"
)

// ClaimRecord is a claim file. CurrentState is what the file declares; the
// authoritative state is derived from the transition log.
type ClaimRecord struct {
	Path         string      `yaml:"-"`
	Meta         Meta        `yaml:"-"`
	ID           string      `yaml:"claim_id"`
	CurrentState model.State `yaml:"current_state"`
	Title        string      `yaml:"title,omitempty"`
	Statement    string      `yaml:"statement,omitempty"`
}

// EvidenceRecord is an evidence file.
type EvidenceRecord struct {
	Path       string
	Meta       Meta
	Submission lifecycle.Submission
}

// evidenceDoc is the on-disk evidence body.
type evidenceDoc struct {
	model.EvidenceSubmission `yaml:",inline"`

	Faults        materialize.Faults `yaml:"faults,omitempty"`
	Resubmissions []resubmissionDoc  `yaml:"resubmissions,omitempty"`
}

type resubmissionDoc struct {
	Approvals []model.Approval   `yaml:"approvals"`
	Faults    materialize.Faults `yaml:"faults,omitempty"`
}

// Workspace is a loaded workspace.
type Workspace struct {
	Root      string
	Claims    []ClaimRecord
	RulesPath string
	Rules     rules.RuleSet
	Evidence  []EvidenceRecord
}

// Submissions returns the evidence submissions in processing order.
func (w *Workspace) Submissions() []lifecycle.Submission {
	subs := make([]lifecycle.Submission, len(w.Evidence))
	for i, e := range w.Evidence {
		subs[i] = e.Submission
	}
	return subs
}

// Claim returns the claim record with id.
func (w *Workspace) Claim(id string) (ClaimRecord, bool) {
	for _, c := range w.Claims {
		if c.ID == id {
			return c, true
		}
	}
	return ClaimRecord{}, false
}

// Load reads a complete workspace rooted at root.
func Load(root string) (*Workspace, error) {
	w := &Workspace{Root: root}

	claimPaths, err := yamlFiles(filepath.Join(root, DirClaims))
	if err != nil {
		return nil, err
	}
	if len(claimPaths) == 0 {
		return nil, fmt.Errorf("load workspace %s: no claim files in %s/", root, DirClaims)
	}
	for _, p := range claimPaths {
		c, err := LoadClaim(p)
		if err != nil {
			return nil, err
		}
		if _, dup := w.Claim(c.ID); dup {
			return nil, fmt.Errorf("%s: duplicate claim id %q", p, c.ID)
		}
		w.Claims = append(w.Claims, c)
	}

	w.RulesPath, err = findRules(filepath.Join(root, DirRules))
	if err != nil {
		return nil, err
	}
	if w.Rules, err = LoadRules(w.RulesPath); err != nil {
		return nil, err
	}

	evidencePaths, err := yamlFiles(filepath.Join(root, DirEvidence))
	if err != nil {
		return nil, err
	}
	seen := map[string]string{}
	for _, p := range evidencePaths {
		e, err := LoadEvidence(p)
		if err != nil {
			return nil, err
		}
		ev := e.Submission.Evidence
		if _, ok := w.Claim(ev.ClaimID); !ok {
			return nil, fmt.Errorf("%s: unknown claim %q", p, ev.ClaimID)
		}
		if prev, dup := seen[ev.ID]; dup {
			return nil, fmt.Errorf("%s: evidence id %q already defined in %s", p, ev.ID, prev)
		}
		seen[ev.ID] = p
		w.Evidence = append(w.Evidence, e)
	}
	return w, nil
}

// LoadClaim reads one claim file.
func LoadClaim(path string) (ClaimRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClaimRecord{}, fmt.Errorf("read claim: %w", err)
	}
	var c ClaimRecord
	meta, err := decodeDocument(data, &c, false)
	if err != nil {
		return ClaimRecord{}, fmt.Errorf("%s: %w", path, err)
	}
	c.Path, c.Meta = path, meta
	if c.ID == "" {
		return ClaimRecord{}, fmt.Errorf("%s: claim_id is required", path)
	}
	if c.CurrentState == "" {
		c.CurrentState = model.InitialState
	}
	if !c.CurrentState.Valid() {
		return ClaimRecord{}, fmt.Errorf("%s: unknown current_state %q", path, c.CurrentState)
	}
	return c, nil
}

// LoadEvidence reads one evidence file.
func LoadEvidence(path string) (EvidenceRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EvidenceRecord{}, fmt.Errorf("read evidence: %w", err)
	}
	var doc evidenceDoc
	meta, err := decodeDocument(data, &doc, false)
	if err != nil {
		return EvidenceRecord{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := validateEvidence(doc.EvidenceSubmission); err != nil {
		return EvidenceRecord{}, fmt.Errorf("%s: %w", path, err)
	}

	sub := lifecycle.Submission{Evidence: doc.EvidenceSubmission, Faults: doc.Faults}
	for _, r := range doc.Resubmissions {
		sub.Resubmissions = append(sub.Resubmissions, lifecycle.Resubmission{
			Approvals: r.Approvals,
			Faults:    r.Faults,
		})
	}
	return EvidenceRecord{Path: path, Meta: meta, Submission: sub}, nil
}

func validateEvidence(ev model.EvidenceSubmission) error {
	var missing []string
	if ev.ID == "" {
		missing = append(missing, "evidence_id")
	}
	if ev.ClaimID == "" {
		missing = append(missing, "claim_id")
	}
	if ev.Submitter == "" {
		missing = append(missing, "submitter")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	for _, s := range []model.State{ev.Transition.From, ev.Transition.To} {
		if !s.Valid() {
			return fmt.Errorf("intended_transition: unknown state %q", s)
		}
	}
	return nil
}

// LoadRules reads a rule set. Files ending in .cue are evaluated as CUE;
// anything else is YAML with optional front matter.
func LoadRules(path string) (rules.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rules.RuleSet{}, fmt.Errorf("read rules: %w", err)
	}
	if filepath.Ext(path) == ".cue" {
		rs, err := rules.LoadCUE(data, path)
		if err != nil {
			return rs, fmt.Errorf("%s: %w", path, err)
		}
		return rs, nil
	}

	_, body, err := SplitFrontMatter(data)
	if err != nil {
		return rules.RuleSet{}, fmt.Errorf("%s: %w", path, err)
	}
	rs, err := rules.ParseYAML(body)
	if err != nil {
		return rs, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

func findRules(dir string) (string, error) {
	for _, ext := range []string{".yaml", ".yml", ".cue"} {
		p := filepath.Join(dir, RulesBase+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no %s.{yaml,yml,cue} in %s", RulesBase, dir)
}

// yamlFiles lists *.yaml and *.yml in dir, sorted by name.
func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	slices.Sort(paths)
	return paths, nil
}
