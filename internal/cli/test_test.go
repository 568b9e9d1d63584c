package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/claimgov/internal/harness"
)

const harnessScenarios = "../harness/testdata"

const inlineScenario = `name: inline
description: "one allowed transition"
claim_id: claim-001
rules:
  - {from: proposed, to: supported}
  - {from: supported, to: contradicted}
  - {from: contradicted, to: superseded}
attempts:
  - evidence_id: ev-1
    submitter: alice
    from: proposed
    to: supported
    approvals: [{identity: bob, role: reviewer}]
    expect: {outcome: allow}
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := execute(NewTestCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := execute(NewTestCommand(&RootOptions{Format: "text"}), "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), harnessScenarios)
	require.NoError(t, err, out)

	assert.Contains(t, out, "✓ conflict-of-interest\n")
	assert.Contains(t, out, "✓ demo-lifecycle\n")
	assert.Contains(t, out, "✓ integrity-tamper\n")
	assert.Contains(t, out, "✓ rule-violation\n")
	assert.Contains(t, out, "Test Summary: 4 passed, 0 failed, 4 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandFilter(t *testing.T) {
	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), harnessScenarios, "--filter", "demo-*")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ demo-lifecycle\n")
	assert.NotContains(t, out, "rule-violation")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTestCommandBadFilter(t *testing.T) {
	_, err := execute(NewTestCommand(&RootOptions{Format: "text"}), harnessScenarios, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestTestCommandJSON(t *testing.T) {
	out, err := execute(NewTestCommand(&RootOptions{Format: "json"}), harnessScenarios, "--filter", "*-lifecycle")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, []ScenarioResult{{Name: "demo-lifecycle", Pass: true}}, resp.Data.Scenarios)
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "wrong.yaml", `name: wrong
description: "expects the wrong outcome"
claim_id: claim-001
rules:
  - {from: proposed, to: supported}
  - {from: supported, to: contradicted}
  - {from: contradicted, to: superseded}
attempts:
  - evidence_id: ev-1
    submitter: alice
    from: proposed
    to: supported
    approvals: [{identity: alice, role: reviewer}]
    expect: {outcome: allow}
`)

	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong\n")
	assert.Contains(t, out, "attempts[0] (ev-1): expected outcome allow, got deny")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")

	out, err = execute(NewTestCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: broken\n")

	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml\n")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommandUpdateThenCompare(t *testing.T) {
	dir := t.TempDir()
	scenarioFile := writeScenario(t, dir, "inline.yaml", inlineScenario)

	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ inline (golden updated)")

	goldenPath := harness.GoldenPath(scenarioFile)
	require.FileExists(t, goldenPath)

	out, err = execute(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ inline\n")

	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"scenario_name":"inline","trace":[]}`), 0o644))
	out, err = execute(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}
