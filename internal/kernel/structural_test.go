package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/testutil"
)

func structuralInput(t *testing.T) Input {
	t.Helper()
	return memInput(t, testutil.DemoEvidence()[1], map[string]string{model.FileReport: "# report\n"})
}

func TestStructural_Passes(t *testing.T) {
	s, err := NewStructuralStage(model.ContractVersion, "")
	require.NoError(t, err)

	res := s.Check(structuralInput(t))
	assert.True(t, res.Passed, res.Reasons)
}

func TestStructural_ExactVersion(t *testing.T) {
	s, err := NewStructuralStage("0.1.0", "")
	require.NoError(t, err)

	in := structuralInput(t)
	in.Artifact.ContractVersion = "0.1.1"
	in.Artifact.Descriptor["contract_version"] = "0.1.1"

	res := s.Check(in)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"contract version 0.1.1 does not match expected 0.1.0"}, res.Reasons)
}

func TestStructural_Constraint(t *testing.T) {
	s, err := NewStructuralStage("", "~0.1")
	require.NoError(t, err)

	in := structuralInput(t)
	in.Artifact.ContractVersion = "0.1.7"
	in.Artifact.Descriptor["contract_version"] = "0.1.7"
	assert.True(t, s.Check(in).Passed)

	in.Artifact.ContractVersion = "0.2.0"
	in.Artifact.Descriptor["contract_version"] = "0.2.0"
	res := s.Check(in)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reasons, "contract version 0.2.0 does not satisfy ~0.1")
	assert.Contains(t, res.Reasons, "no structural profile for contract line 0.2")
}

func TestStructural_InvalidConstraint(t *testing.T) {
	_, err := NewStructuralStage("", ">>>1")
	assert.Error(t, err)
}

func TestStructural_VersionMissingOrMalformed(t *testing.T) {
	s, err := NewStructuralStage(model.ContractVersion, "")
	require.NoError(t, err)

	in := structuralInput(t)
	in.Artifact.ContractVersion = ""
	in.Artifact.Descriptor = nil
	assert.Contains(t, s.Check(in).Reasons, "contract version missing")

	in.Artifact.ContractVersion = "banana"
	assert.Contains(t, s.Check(in).Reasons, `contract version "banana" is not a semantic version`)
}

func TestStructural_DescriptorSchema(t *testing.T) {
	s, err := NewStructuralStage(model.ContractVersion, "")
	require.NoError(t, err)

	in := structuralInput(t)
	delete(in.Artifact.Descriptor, "run_id")
	in.Artifact.Descriptor["attempt"] = float64(0)

	res := s.Check(in)
	assert.False(t, res.Passed)
	require.NotEmpty(t, res.Reasons)
	for _, r := range res.Reasons {
		assert.Contains(t, r, "contract descriptor")
	}
}

func TestStructural_RequiredFiles(t *testing.T) {
	s, err := NewStructuralStage(model.ContractVersion, "")
	require.NoError(t, err)

	in := structuralInput(t)
	delete(in.Artifact.StructuralFields, model.FileApproval)
	in.Artifact.StructuralFields[model.FileManifest] = "malformed: manifest line 1: bad"

	res := s.Check(in)
	assert.Equal(t, []string{
		"required file approval.json missing",
		"required file SHA256SUMS.txt malformed: manifest line 1: bad",
	}, res.Reasons)
}

func TestStructural_RunIDMissing(t *testing.T) {
	s, err := NewStructuralStage(model.ContractVersion, "")
	require.NoError(t, err)

	in := structuralInput(t)
	in.Artifact.RunID = ""
	assert.Equal(t, []string{"run id missing"}, s.Check(in).Reasons)
}
