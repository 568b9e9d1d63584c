package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roach88/claimgov/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	// flags are the persistent flags that override config keys.
	flags *pflag.FlagSet
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// configFlags maps config keys to the persistent flags overriding them.
var configFlags = map[string]string{
	config.KeyLogDriver: "log-driver",
	config.KeyLogDSN:    "log-dsn",
	config.KeyRunsDir:   "runs-dir",
}

// NewRootCommand creates the root command for the claimgov CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "claimgov",
		Short: "claimgov - governed claim lifecycle",
		Long: `Move claims through their lifecycle only when evidence earns it.

Every proposed transition passes the transition rules, then the enforcement
kernel (structural, authority, integrity, policy). Only an allowed decision
changes a claim; every attempt is appended to a hash-chained transition log.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			setupLogging(opts, cmd)
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.ConfigFile, "config", "", "config file (default $CLAIMGOV_KERNEL_HOME/claimgov.yaml)")
	pf.String("log-driver", "", "transition log driver (sqlite|postgres|jsonl|memory)")
	pf.String("log-dsn", "", "transition log location (file path or postgres DSN)")
	pf.String("runs-dir", "", "directory receiving run bundles")
	opts.flags = pf

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewKernelCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// setupLogging points the default slog logger at the command's stderr.
func setupLogging(opts *RootOptions, cmd *cobra.Command) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// loadConfig resolves the configuration for a command.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	bound := map[string]*pflag.Flag{}
	if opts.flags != nil {
		for key, name := range configFlags {
			bound[key] = opts.flags.Lookup(name)
		}
	}
	cfg, err := config.Load(config.Options{File: opts.ConfigFile, Flags: bound})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
