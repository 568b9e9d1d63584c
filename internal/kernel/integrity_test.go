package kernel

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/testutil"
)

func integrityInput(t *testing.T) Input {
	t.Helper()
	return memInput(t, testutil.DemoEvidence()[1], map[string]string{
		"report.md":                         "# report\n",
		"contract.json":                     `{"run_id":"run-mem"}`,
		"validation/invariant_results.json": `{}`,
	})
}

func TestIntegrity_Passes(t *testing.T) {
	res := NewIntegrityStage(2).Check(integrityInput(t))
	assert.True(t, res.Passed, res.Reasons)
}

func TestIntegrity_SingleByteTamper(t *testing.T) {
	in := integrityInput(t)
	fsys := in.Files.(fstest.MapFS)
	fsys["report.md"] = &fstest.MapFile{Data: []byte("# report!")}

	res := NewIntegrityStage(2).Check(in)
	assert.False(t, res.Passed)
	require.Len(t, res.Reasons, 1)
	assert.True(t, strings.HasPrefix(res.Reasons[0], "report.md: sha256 mismatch (recorded "))
}

func TestIntegrity_MissingArtifact(t *testing.T) {
	in := integrityInput(t)
	delete(in.Files.(fstest.MapFS), "contract.json")

	res := NewIntegrityStage(1).Check(in)
	assert.Equal(t, []string{"contract.json: missing"}, res.Reasons)
}

func TestIntegrity_ReasonsInManifestOrder(t *testing.T) {
	in := integrityInput(t)
	fsys := in.Files.(fstest.MapFS)
	delete(fsys, "validation/invariant_results.json")
	delete(fsys, "contract.json")

	res := NewIntegrityStage(8).Check(in)
	assert.Equal(t, []string{"contract.json: missing", "validation/invariant_results.json: missing"}, res.Reasons)
}

func TestIntegrity_BLAKE2b(t *testing.T) {
	in := integrityInput(t)
	d, err := model.Digest(model.AlgoBLAKE2b256, strings.NewReader("# report\n"))
	require.NoError(t, err)
	in.Artifact.Checksums["report.md"] = model.FormatDigest(model.AlgoBLAKE2b256, d)
	assert.True(t, NewIntegrityStage(1).Check(in).Passed)

	// a sha256 value labelled blake2b must not verify
	sha, err := model.Digest(model.AlgoSHA256, strings.NewReader("# report\n"))
	require.NoError(t, err)
	in.Artifact.Checksums["report.md"] = model.FormatDigest(model.AlgoBLAKE2b256, sha)
	assert.False(t, NewIntegrityStage(1).Check(in).Passed)
}

func TestIntegrity_EmptyManifest(t *testing.T) {
	in := integrityInput(t)
	in.Artifact.Checksums = nil
	assert.Equal(t, []string{"manifest lists no artifacts"}, NewIntegrityStage(1).Check(in).Reasons)
}

func TestIntegrity_NoFiles(t *testing.T) {
	in := integrityInput(t)
	in.Files = nil
	assert.Equal(t, []string{"artifact files unavailable"}, NewIntegrityStage(1).Check(in).Reasons)
}
