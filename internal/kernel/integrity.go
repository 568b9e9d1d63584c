package kernel

import (
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/claimgov/internal/model"
)

// IntegrityStage recomputes every manifest digest and compares it with the
// recorded value. Read-only.
type IntegrityStage struct {
	workers int
}

// NewIntegrityStage hashes up to workers artifacts concurrently.
func NewIntegrityStage(workers int) *IntegrityStage {
	if workers < 1 {
		workers = 1
	}
	return &IntegrityStage{workers: workers}
}

// ID implements Stage.
func (s *IntegrityStage) ID() model.StageID { return model.StageIntegrity }

// Check implements Stage.
func (s *IntegrityStage) Check(in Input) Result {
	names := in.Artifact.ChecksumNames()
	if len(names) == 0 {
		return result(model.StageIntegrity, []string{"manifest lists no artifacts"})
	}
	if in.Files == nil {
		return result(model.StageIntegrity, []string{"artifact files unavailable"})
	}

	// One slot per artifact keeps reasons in manifest order.
	findings := make([]string, len(names))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, name := range names {
		g.Go(func() error {
			findings[i] = verifyArtifact(in.Files, name, in.Artifact.Checksums[name])
			return nil
		})
	}
	_ = g.Wait()

	var reasons []string
	for _, f := range findings {
		if f != "" {
			reasons = append(reasons, f)
		}
	}
	return result(model.StageIntegrity, reasons)
}

// verifyArtifact returns "" when name's content matches recorded.
func verifyArtifact(files fs.FS, name, recorded string) string {
	algo, want, err := model.ParseDigest(recorded)
	if err != nil {
		return fmt.Sprintf("%s: %v", name, err)
	}

	f, err := files.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Sprintf("%s: missing", name)
	}
	if err != nil {
		return fmt.Sprintf("%s: unreadable: %v", name, err)
	}
	defer f.Close()

	got, err := model.Digest(algo, f)
	if err != nil {
		return fmt.Sprintf("%s: unreadable: %v", name, err)
	}
	if got != want {
		return fmt.Sprintf("%s: %s mismatch (recorded %s, actual %s)", name, algo, short(want), short(got))
	}
	return ""
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
