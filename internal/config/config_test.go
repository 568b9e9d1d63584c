package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/claimgov/internal/kernel"
	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/store"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Options{})
	require.NoError(t, err)

	want := Defaults()
	assert.Equal(t, want.Contract, cfg.Contract)
	assert.Equal(t, want.Log, cfg.Log)
	assert.Equal(t, want.Runs, cfg.Runs)
	assert.Equal(t, want.Materializer, cfg.Materializer)
	assert.Empty(t, cfg.File)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
contract:
  constraint: "~0.1"
log:
  driver: jsonl
  dsn: /tmp/claimgov.jsonl
materializer:
  timeout: 5s
  digest: blake2b-256
policy:
  thresholds:
    - name: large-amount
      field: metadata.amount
      limit: 10000
      required_roles: [reviewer, finance]
  expressions:
    - name: has-refs
      expr: size(evidence.artifact_refs) > 0
`)

	cfg, err := Load(Options{File: path})
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "~0.1", cfg.Contract.Constraint)
	assert.Equal(t, model.ContractVersion, cfg.Contract.Version)
	assert.Equal(t, LogConfig{Driver: store.DriverJSONL, DSN: "/tmp/claimgov.jsonl"}, cfg.Log)
	assert.Equal(t, 5*time.Second, cfg.Materializer.Timeout)
	assert.Equal(t, model.AlgoBLAKE2b256, cfg.Materializer.Digest)

	kc := cfg.KernelConfig()
	assert.Equal(t, []kernel.Threshold{{
		Name: "large-amount", Field: "metadata.amount", Limit: 10000,
		RequiredRoles: []string{"reviewer", "finance"},
	}}, kc.Thresholds)
	assert.Equal(t, []kernel.Expression{{Name: "has-refs", Expr: "size(evidence.artifact_refs) > 0"}}, kc.Expressions)
	assert.Equal(t, 4, kc.HashWorkers)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "log:\n  driver: jsonl\n  dsn: a.jsonl\n")
	t.Setenv("CLAIMGOV_LOG_DSN", "b.jsonl")
	t.Setenv("CLAIMGOV_MATERIALIZER_TIMEOUT", "90s")

	cfg, err := Load(Options{File: path})
	require.NoError(t, err)

	assert.Equal(t, store.DriverJSONL, cfg.Log.Driver)
	assert.Equal(t, "b.jsonl", cfg.Log.DSN)
	assert.Equal(t, 90*time.Second, cfg.Materializer.Timeout)
}

func TestLoad_KernelHomeConfig(t *testing.T) {
	home := t.TempDir()
	path := writeConfig(t, home, "runs:\n  dir: /var/claimgov/runs\n")
	t.Setenv("CLAIMGOV_KERNEL_HOME", home)

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, home, cfg.Kernel.Home)
	assert.Equal(t, "/var/claimgov/runs", cfg.Runs.Dir)
}

func TestLoad_FlagsOverrideEverything(t *testing.T) {
	t.Setenv("CLAIMGOV_LOG_DRIVER", store.DriverJSONL)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-driver", "", "")
	fs.String("runs-dir", "", "")
	require.NoError(t, fs.Parse([]string{"--log-driver", "memory"}))

	cfg, err := Load(Options{Flags: map[string]*pflag.Flag{
		KeyLogDriver: fs.Lookup("log-driver"),
		KeyRunsDir:   fs.Lookup("runs-dir"),
	}})
	require.NoError(t, err)

	assert.Equal(t, store.DriverMemory, cfg.Log.Driver)
	// unset flags leave lower sources in place
	assert.Equal(t, Defaults().Runs.Dir, cfg.Runs.Dir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Log.Driver = "redis" }, `log.driver: unknown driver "redis"`},
		{"missing dsn", func(c *Config) { c.Log.DSN = "" }, "log.dsn: required"},
		{"bad constraint", func(c *Config) { c.Contract.Constraint = "not a constraint" }, "contract.constraint"},
		{"no contract", func(c *Config) { c.Contract.Version = "" }, "contract.version: required"},
		{"zero timeout", func(c *Config) { c.Materializer.Timeout = 0 }, "materializer.timeout: must be positive"},
		{"bad digest", func(c *Config) { c.Materializer.Digest = "md5" }, `unsupported algorithm "md5"`},
		{"no workers", func(c *Config) { c.Kernel.HashWorkers = 0 }, "kernel.hash_workers"},
		{"incomplete threshold", func(c *Config) {
			c.Policy.Thresholds = []kernel.Threshold{{Name: "t", Field: "metadata.amount"}}
		}, "policy.thresholds[0]"},
		{"incomplete expression", func(c *Config) {
			c.Policy.Expressions = []kernel.Expression{{Name: "e"}}
		}, "policy.expressions[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidate_MemoryNeedsNoDSN(t *testing.T) {
	cfg := Defaults()
	cfg.Log = LogConfig{Driver: store.DriverMemory}
	assert.NoError(t, cfg.Validate())
}
