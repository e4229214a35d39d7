// Package cli implements the registry-sync command line.
package cli

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/farstore/registry-sync/internal/config"
	"github.com/farstore/registry-sync/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	LogLevel   string

	// Out receives human-readable command output. Defaults to stdout.
	Out io.Writer
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Out: os.Stdout})
}

func newRootCommand(opts *RootOptions) *cobra.Command {

	cmd := &cobra.Command{
		Use:   "registry-sync",
		Short: "Mirror the on-chain app registry and serve lookups",
		Long: `registry-sync keeps a database mirror of the on-chain app registry and the
manifests each app publishes, derives liquidity and funding figures for every
entry, and serves them over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to a YAML config file (defaults to $CONFIG_FILE)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewAPIKeyCommand(opts))

	return cmd
}

func (o *RootOptions) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

// load resolves configuration and the logger for a command.
func (o *RootOptions) load() (config.Config, *logger.Logger, error) {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	if level := strings.TrimSpace(o.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, logger.New(cfg.Logging), nil
}
