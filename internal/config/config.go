// Package config resolves claimgov settings from defaults, an optional
// YAML config file, CLAIMGOV_* environment variables and command flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/claimgov/internal/kernel"
	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/store"
)

// EnvPrefix is the prefix of every environment override.
// CLAIMGOV_LOG_DRIVER sets log.driver, CLAIMGOV_KERNEL_HOME sets kernel.home.
const EnvPrefix = "CLAIMGOV"

// FileName is the config file looked up in the kernel home directory.
const FileName = "claimgov.yaml"

// Keys.
const (
	KeyContractVersion     = "contract.version"
	KeyContractConstraint  = "contract.constraint"
	KeyLogDriver           = "log.driver"
	KeyLogDSN              = "log.dsn"
	KeyRunsDir             = "runs.dir"
	KeyMaterializerTimeout = "materializer.timeout"
	KeyMaterializerDigest  = "materializer.digest"
	KeyPolicyThresholds    = "policy.thresholds"
	KeyPolicyExpressions   = "policy.expressions"
	KeyKernelHome          = "kernel.home"
	KeyKernelHashWorkers   = "kernel.hash_workers"
)

// Config is the resolved configuration.
type Config struct {
	Contract     ContractConfig     `mapstructure:"contract" yaml:"contract" json:"contract"`
	Log          LogConfig          `mapstructure:"log" yaml:"log" json:"log"`
	Runs         RunsConfig         `mapstructure:"runs" yaml:"runs" json:"runs"`
	Materializer MaterializerConfig `mapstructure:"materializer" yaml:"materializer" json:"materializer"`
	Policy       PolicyConfig       `mapstructure:"policy" yaml:"policy" json:"policy"`
	Kernel       KernelSettings     `mapstructure:"kernel" yaml:"kernel" json:"kernel"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-" json:"-"`
}

type ContractConfig struct {
	Version    string `mapstructure:"version" yaml:"version" json:"version"`
	Constraint string `mapstructure:"constraint" yaml:"constraint,omitempty" json:"constraint,omitempty"`
}

type LogConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

type RunsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir" json:"dir"`
}

type MaterializerConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Digest  string        `mapstructure:"digest" yaml:"digest" json:"digest"`
}

type PolicyConfig struct {
	Thresholds  []kernel.Threshold  `mapstructure:"thresholds" yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
	Expressions []kernel.Expression `mapstructure:"expressions" yaml:"expressions,omitempty" json:"expressions,omitempty"`
}

type KernelSettings struct {
	// Home locates the kernel policy bundle directory when packaged
	// separately. A claimgov.yaml there is read when no --config is given.
	Home        string `mapstructure:"home" yaml:"home,omitempty" json:"home,omitempty"`
	HashWorkers int    `mapstructure:"hash_workers" yaml:"hash_workers" json:"hash_workers"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Contract:     ContractConfig{Version: model.ContractVersion},
		Log:          LogConfig{Driver: store.DriverSQLite, DSN: filepath.Join(".claimgov", "transitions.db")},
		Runs:         RunsConfig{Dir: filepath.Join(".claimgov", "runs")},
		Materializer: MaterializerConfig{Timeout: 30 * time.Second, Digest: model.AlgoSHA256},
		Kernel:       KernelSettings{HashWorkers: 4},
	}
}

// Options controls where Load looks.
type Options struct {
	// File is an explicit config file. Missing explicit files are an error.
	File string

	// Flags maps config keys to command flags. A flag overrides the other
	// sources only when set on the command line.
	Flags map[string]*pflag.Flag
}

// Load resolves the configuration and validates it.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, f := range opts.Flags {
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	}

	file := opts.File
	if file == "" {
		if home := v.GetString(KeyKernelHome); home != "" {
			candidate := filepath.Join(home, FileName)
			if _, err := os.Stat(candidate); err == nil {
				file = candidate
			}
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = file

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault(KeyContractVersion, d.Contract.Version)
	v.SetDefault(KeyContractConstraint, d.Contract.Constraint)
	v.SetDefault(KeyLogDriver, d.Log.Driver)
	v.SetDefault(KeyLogDSN, d.Log.DSN)
	v.SetDefault(KeyRunsDir, d.Runs.Dir)
	v.SetDefault(KeyMaterializerTimeout, d.Materializer.Timeout)
	v.SetDefault(KeyMaterializerDigest, d.Materializer.Digest)
	v.SetDefault(KeyKernelHome, d.Kernel.Home)
	v.SetDefault(KeyKernelHashWorkers, d.Kernel.HashWorkers)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Contract.Version == "" && c.Contract.Constraint == "" {
		errs = append(errs, fmt.Errorf("%s: required unless %s is set", KeyContractVersion, KeyContractConstraint))
	}
	if c.Contract.Constraint != "" {
		if _, err := semver.NewConstraint(c.Contract.Constraint); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyContractConstraint, err))
		}
	}

	switch c.Log.Driver {
	case store.DriverSQLite, store.DriverPostgres, store.DriverJSONL:
		if c.Log.DSN == "" {
			errs = append(errs, fmt.Errorf("%s: required for driver %q", KeyLogDSN, c.Log.Driver))
		}
	case store.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("%s: unknown driver %q", KeyLogDriver, c.Log.Driver))
	}

	if c.Runs.Dir == "" {
		errs = append(errs, fmt.Errorf("%s: required", KeyRunsDir))
	}
	if c.Materializer.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%s: must be positive, got %s", KeyMaterializerTimeout, c.Materializer.Timeout))
	}
	switch c.Materializer.Digest {
	case model.AlgoSHA256, model.AlgoBLAKE2b256:
	default:
		errs = append(errs, fmt.Errorf("%s: unsupported algorithm %q", KeyMaterializerDigest, c.Materializer.Digest))
	}
	if c.Kernel.HashWorkers < 1 {
		errs = append(errs, fmt.Errorf("%s: must be at least 1", KeyKernelHashWorkers))
	}

	for i, th := range c.Policy.Thresholds {
		if th.Name == "" || th.Field == "" || len(th.RequiredRoles) == 0 {
			errs = append(errs, fmt.Errorf("%s[%d]: name, field and required_roles are required", KeyPolicyThresholds, i))
		}
	}
	for i, ex := range c.Policy.Expressions {
		if ex.Name == "" || ex.Expr == "" {
			errs = append(errs, fmt.Errorf("%s[%d]: name and expr are required", KeyPolicyExpressions, i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// KernelConfig converts the policy settings into a kernel configuration.
func (c *Config) KernelConfig() kernel.Config {
	return kernel.Config{
		ContractVersion:    c.Contract.Version,
		ContractConstraint: c.Contract.Constraint,
		Thresholds:         c.Policy.Thresholds,
		Expressions:        c.Policy.Expressions,
		HashWorkers:        c.Kernel.HashWorkers,
	}
}
