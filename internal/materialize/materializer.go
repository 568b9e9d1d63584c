package materialize

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/roach88/claimgov/internal/model"
)

// Request describes one attempt to materialize.
type Request struct {
	Claim    model.Claim
	Evidence model.EvidenceSubmission
	Attempt  int

	// Faults injects defects into the bundle. Used by the kernel showcase
	// and scenario harness to exercise individual enforcement stages.
	Faults Faults
}

// Faults are applied after the manifest is written.
type Faults struct {
	// TamperReport appends to report.md so its digest no longer matches.
	TamperReport bool `yaml:"tamper_report,omitempty"`

	// OmitFiles removes bundle files.
	OmitFiles []string `yaml:"omit_files,omitempty"`

	// ContractVersion overrides the contract_version written to contract.json.
	ContractVersion string `yaml:"contract_version,omitempty"`

	// ArtifactApprovals replaces the approvals recorded in approval.json.
	ArtifactApprovals []model.Approval `yaml:"artifact_approvals,omitempty"`
}

// Run is a materialized bundle.
type Run struct {
	Dir          string
	ProposalHash string
	Artifact     model.RunArtifact
	Files        fs.FS
}

// Materializer produces the run artifact backing an attempt.
// Implementations may perform I/O; errors are system errors.
type Materializer interface {
	Materialize(ctx context.Context, req Request) (*Run, error)
}

// DirMaterializer writes run bundles under a root directory.
type DirMaterializer struct {
	root            string
	ids             IDGenerator
	now             func() time.Time
	contractVersion string
	digestAlgo      string
}

// Option configures a DirMaterializer.
type Option func(*DirMaterializer)

// WithIDGenerator sets the run id generator. Default is UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *DirMaterializer) { m.ids = g }
}

// WithClock sets the wall clock used for bundle timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *DirMaterializer) { m.now = now }
}

// WithContractVersion sets the contract version written to contract.json.
func WithContractVersion(v string) Option {
	return func(m *DirMaterializer) { m.contractVersion = v }
}

// WithDigestAlgorithm selects the manifest digest (model.AlgoSHA256 or
// model.AlgoBLAKE2b256).
func WithDigestAlgorithm(algo string) Option {
	return func(m *DirMaterializer) { m.digestAlgo = algo }
}

// NewDirMaterializer creates a materializer writing to root/<run-id>.
func NewDirMaterializer(root string, opts ...Option) *DirMaterializer {
	m := &DirMaterializer{
		root:            root,
		ids:             UUIDv7Generator{},
		now:             time.Now,
		contractVersion: model.ContractVersion,
		digestAlgo:      model.AlgoSHA256,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type bundleFile struct {
	name string
	data []byte
}

// Materialize writes a complete bundle and reads it back as an artifact.
func (m *DirMaterializer) Materialize(ctx context.Context, req Request) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("materialize %s: %w", req.Evidence.ID, err)
	}

	runID := m.ids.Generate()
	dir := filepath.Join(m.root, runID)
	if err := os.MkdirAll(filepath.Join(dir, "validation"), 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	ev := req.Evidence
	proposalHash := model.ProposalHash(ev.ClaimID, ev.ID, ev.Transition)
	created := m.now().UTC().Format(time.RFC3339)

	files, err := m.render(runID, created, proposalHash, req)
	if err != nil {
		return nil, err
	}

	checksums := make(map[string]string, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("materialize %s: %w", ev.ID, err)
		}
		path := filepath.Join(dir, filepath.FromSlash(f.name))
		if err := os.WriteFile(path, f.data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
		digest, err := digestFile(m.digestAlgo, path)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", f.name, err)
		}
		checksums[f.name] = model.FormatDigest(m.digestAlgo, digest)
	}
	if err := os.WriteFile(filepath.Join(dir, model.FileManifest), model.FormatManifest(checksums), 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	if err := applyFaults(dir, req.Faults); err != nil {
		return nil, err
	}

	artifact, err := LoadBundle(dir)
	if err != nil {
		return nil, err
	}

	slog.Debug("run materialized",
		"run_id", runID,
		"evidence_id", ev.ID,
		"attempt", req.Attempt,
		"dir", dir,
	)

	return &Run{
		Dir:          dir,
		ProposalHash: proposalHash,
		Artifact:     artifact,
		Files:        DirSource(dir),
	}, nil
}

type contractDoc struct {
	ContractVersion string `json:"contract_version"`
	RunID           string `json:"run_id"`
	CreatedUTC      string `json:"created_utc"`
	ClaimID         string `json:"claim_id"`
	EvidenceID      string `json:"evidence_id"`
	ProposalHash    string `json:"proposal_hash"`
	Attempt         int    `json:"attempt"`
}

type identityDoc struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Role               string `json:"role,omitempty"`
	Token              string `json:"token,omitempty"`
	ConflictOfInterest bool   `json:"conflict_of_interest,omitempty"`
}

type approvalDoc struct {
	RunID         string        `json:"run_id"`
	Submitter     identityDoc   `json:"submitter"`
	Approvers     []identityDoc `json:"approvers"`
	ApprovedAtUTC string        `json:"approved_at_utc"`
	ContextRef    string        `json:"context_ref"`
}

type randomnessDoc struct {
	RunID         string `json:"run_id"`
	Deterministic bool   `json:"deterministic"`
	Seed          *int64 `json:"seed"`
}

type invariantResult struct {
	Invariant string `json:"invariant"`
	Passed    bool   `json:"passed"`
}

type invariantsDoc struct {
	RunID          string            `json:"run_id"`
	GeneratedAtUTC string            `json:"generated_at_utc"`
	Results        []invariantResult `json:"results"`
}

type proposalDoc struct {
	Type       string      `json:"type"`
	ClaimID    string      `json:"claim_id"`
	EvidenceID string      `json:"evidence_id"`
	From       model.State `json:"from"`
	To         model.State `json:"to"`
}

// render builds every bundle file except the manifest, in manifest order.
func (m *DirMaterializer) render(runID, created, proposalHash string, req Request) ([]bundleFile, error) {
	ev := req.Evidence

	version := m.contractVersion
	if req.Faults.ContractVersion != "" {
		version = req.Faults.ContractVersion
	}

	approvals := ev.Approvals
	if req.Faults.ArtifactApprovals != nil {
		approvals = req.Faults.ArtifactApprovals
	}
	approvers := make([]identityDoc, 0, len(approvals))
	for _, a := range approvals {
		approvers = append(approvers, identityDoc{
			ID:                 a.Identity,
			Type:               "human",
			Role:               a.Role,
			Token:              a.Token,
			ConflictOfInterest: a.ConflictOfInterest,
		})
	}

	proposal := proposalDoc{
		Type:       "claim_transition",
		ClaimID:    ev.ClaimID,
		EvidenceID: ev.ID,
		From:       ev.Transition.From,
		To:         ev.Transition.To,
	}
	proposalJSON, err := json.MarshalIndent(proposal, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode proposal: %w", err)
	}

	report := strings.Join([]string{
		"# Run Report",
		"",
		fmt.Sprintf("- run_id: `%s`", runID),
		fmt.Sprintf("- created_utc: `%s`", created),
		fmt.Sprintf("- contract_version: `%s`", version),
		fmt.Sprintf("- proposal_hash: `%s`", proposalHash),
		fmt.Sprintf("- attempt: `%d`", req.Attempt),
		"",
		"## Proposal",
		"```json",
		string(proposalJSON),
		"```",
		"",
	}, "\n")

	docs := []struct {
		name string
		v    any
	}{
		{model.FileContract, contractDoc{
			ContractVersion: version,
			RunID:           runID,
			CreatedUTC:      created,
			ClaimID:         ev.ClaimID,
			EvidenceID:      ev.ID,
			ProposalHash:    proposalHash,
			Attempt:         req.Attempt,
		}},
		{model.FileApproval, approvalDoc{
			RunID:         runID,
			Submitter:     identityDoc{ID: ev.Submitter, Type: "human"},
			Approvers:     approvers,
			ApprovedAtUTC: created,
			ContextRef:    proposalHash,
		}},
		{model.FileRandomness, randomnessDoc{RunID: runID, Deterministic: true}},
		{model.FileInvariants, invariantsDoc{
			RunID:          runID,
			GeneratedAtUTC: created,
			Results: []invariantResult{
				{Invariant: "transition-declared", Passed: ev.Transition.From != ev.Transition.To},
				{Invariant: "approvals-recorded", Passed: len(approvals) > 0},
			},
		}},
	}

	files := []bundleFile{{name: model.FileReport, data: []byte(report)}}
	for _, d := range docs {
		data, err := json.MarshalIndent(d.v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", d.name, err)
		}
		files = append(files, bundleFile{name: d.name, data: append(data, '\n')})
	}
	slices.SortFunc(files, func(a, b bundleFile) int { return strings.Compare(a.name, b.name) })
	return files, nil
}

func digestFile(algo, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return model.Digest(algo, f)
}

func applyFaults(dir string, faults Faults) error {
	if faults.TamperReport {
		f, err := os.OpenFile(filepath.Join(dir, model.FileReport), os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("tamper report: %w", err)
		}
		_, werr := f.WriteString("\nEdited after hashing.\n")
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return fmt.Errorf("tamper report: %w", werr)
		}
	}
	for _, name := range faults.OmitFiles {
		if err := os.Remove(filepath.Join(dir, filepath.FromSlash(name))); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("omit %s: %w", name, err)
		}
	}
	return nil
}
