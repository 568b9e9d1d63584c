package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect claimgov configuration",
		Long: `Inspect claimgov configuration.

Configuration hierarchy (highest to lowest priority):
1. Command flags (--log-driver, --log-dsn, --runs-dir)
2. Environment variables (CLAIMGOV_*, e.g. CLAIMGOV_LOG_DRIVER)
3. Config file (--config, or $CLAIMGOV_KERNEL_HOME/claimgov.yaml)
4. Defaults`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "show",
		Short:         "Show the resolved configuration",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(rootOpts, cmd)
		},
	})

	return cmd
}

func runConfigShow(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	formatter := newFormatter(opts, cmd)
	if formatter.JSON() {
		return formatter.Success(cfg)
	}

	if cfg.File != "" {
		fmt.Fprintf(formatter.GetErrWriter(), "Configuration file: %s\n", cfg.File)
	} else {
		fmt.Fprintln(formatter.GetErrWriter(), "No configuration file found (using defaults)")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = formatter.Writer.Write(data)
	return err
}
