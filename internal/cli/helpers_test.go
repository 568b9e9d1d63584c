package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/claimgov/internal/config"
	"github.com/roach88/claimgov/internal/store"
	"github.com/roach88/claimgov/internal/testutil"
)

const demoWorkspace = "../../examples/demo"

// testEnv is a temp directory holding a config file, a log, and run bundles.
type testEnv struct {
	dir     string
	config  string
	logPath string
}

func newTestEnv(t *testing.T, driver string) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		dir:    dir,
		config: filepath.Join(dir, config.FileName),
	}
	switch driver {
	case store.DriverJSONL:
		env.logPath = filepath.Join(dir, "transitions.jsonl")
	case store.DriverMemory:
	default:
		env.logPath = filepath.Join(dir, "transitions.db")
	}

	content := fmt.Sprintf("log:\n  driver: %s\n  dsn: %q\nruns:\n  dir: %q\n",
		driver, env.logPath, filepath.Join(dir, "runs"))
	require.NoError(t, os.WriteFile(env.config, []byte(content), 0o644))
	return env
}

func (e testEnv) rootOpts(format string) *RootOptions {
	return &RootOptions{Format: format, ConfigFile: e.config}
}

// deterministic fixes run ids and timestamps.
func deterministic() Overrides {
	return Overrides{
		RunIDs: testutil.NewSequentialRunIDs("run"),
		Now:    testutil.NewDeterministicClock().Now,
	}
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// runDemo processes the demo workspace into env's log.
func runDemo(t *testing.T, env testEnv) string {
	t.Helper()
	cmd := newRunCommand(&RunOptions{RootOptions: env.rootOpts("text"), Overrides: deterministic()})
	out, err := execute(cmd, demoWorkspace)
	require.NoError(t, err)
	return out
}
