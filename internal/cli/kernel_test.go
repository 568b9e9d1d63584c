package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/claimgov/internal/store"
)

func newTestKernelCommand(env testEnv, format string) *KernelOptions {
	return &KernelOptions{RootOptions: env.rootOpts(format), Overrides: deterministic()}
}

func TestKernelShowcase(t *testing.T) {
	env := newTestEnv(t, store.DriverMemory)

	out, err := execute(newKernelCommand(newTestKernelCommand(env, "text")), "--workspace", demoWorkspace)
	require.NoError(t, err)

	assert.Contains(t, out, "Kernel enforcement showcase: supported -> contradicted via ev-003-contradicted\n")
	assert.Contains(t, out, "\n== A1 authority fail (self-approval) ==\nstructural: OK\nauthority: FAILED\n")
	assert.Contains(t, out, "COMMIT: blocked (run run-0001)")
	assert.Contains(t, out, "COMMIT: allowed (run run-0002)")
	assert.Contains(t, out, "\n== B1 integrity fail (report edited after hashing) ==\n")
	assert.Contains(t, out, "\n== C2 structure fix (complete bundle) ==\n")
	assert.Contains(t, out, "COMMIT: allowed (run run-0006)")
	assert.Contains(t, out, "DONE: every blocked attempt was fixed.")
}

func TestKernelShowcaseWritesNoLog(t *testing.T) {
	env := newTestEnv(t, store.DriverSQLite)

	_, err := execute(newKernelCommand(newTestKernelCommand(env, "text")), "--workspace", demoWorkspace, "--scenario", "integrity")
	require.NoError(t, err)

	out, err := execute(NewLogCommand(env.rootOpts("text")))
	require.NoError(t, err)
	assert.Equal(t, "No entries.\n", out)
}

func TestKernelShowcaseJSON(t *testing.T) {
	env := newTestEnv(t, store.DriverMemory)

	out, err := execute(newKernelCommand(newTestKernelCommand(env, "json")), "--workspace", demoWorkspace, "--scenario", "authority")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   []any  `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, resp.Data, 2)
}

func TestKernelShowcaseErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown scenario", []string{"--scenario", "timing"}, "invalid --scenario"},
		{"unknown evidence", []string{"--evidence", "ev-999"}, `evidence "ev-999" not found`},
		{"reviewer is submitter", []string{"--reviewer", "alice"}, "--reviewer must differ"},
		{"skip evidence has no rule", []string{"--evidence", "ev-001-proposed"}, "no rule allows proposed -> proposed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, store.DriverMemory)
			args := append([]string{"--workspace", demoWorkspace}, tt.args...)

			_, err := execute(newKernelCommand(newTestKernelCommand(env, "text")), args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
