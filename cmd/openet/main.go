// Command openet fetches OpenET raster time series for a set of geometries.
//
// Usage:
//
//	openet fetch --config config.yaml --start 2023-01-01 --end 2023-12-31 --output et.csv
//	openet schedule --config config.yaml
//
// Settings come from the YAML file named by --config, overridden by
// OPENET_* environment variables (OPENET_API_KEY, OPENET_JOB_WORKERS, ...).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/aetriusgx/openet/internal/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(afero.NewOsFs()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(fs afero.Fs) *cobra.Command {
	opts := &rootOptions{}
	a := &app{fs: fs}

	cmd := &cobra.Command{
		Use:          "openet",
		Short:        "Fetch OpenET raster time series",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := cfg.Logging.Logger()
			if err != nil {
				return err
			}
			logger.SetOutput(cmd.ErrOrStderr())
			a.cfg = cfg
			a.logger = logger
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging.level")

	cmd.AddCommand(newFetchCommand(a))
	cmd.AddCommand(newScheduleCommand(a))
	return cmd
}
