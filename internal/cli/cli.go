// Package cli implements the sltm command-line interface.
//
// Commands:
//   - preprocess: import an OSM extract into a binary road graph
//   - assign: run a capacity constrained assignment and write segment flows
//   - serve: run an assignment and expose its progress over HTTP
//
// Every command reads its run configuration through pkg/config, from
// --config, the SLTM_* environment and the built-in defaults.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/azybler/sltm/pkg/config"
)

type options struct {
	verbose    bool
	configPath string
	stderr     io.Writer
}

// Execute runs the CLI with args until ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd(os.Stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	o := &options{stderr: stderr}
	root := &cobra.Command{
		Use:           "sltm",
		Short:         "Capacity constrained static traffic assignment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := log.InfoLevel
			if o.verbose {
				level = log.DebugLevel
			}
			cmd.SetContext(withLogger(cmd.Context(), newLogger(o.stderr, level)))
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "YAML run configuration (default: ./sltm.yaml if present)")

	root.AddCommand(newPreprocessCmd())
	root.AddCommand(newAssignCmd(o))
	root.AddCommand(newServeCmd(o))
	return root
}

// loadConfig reads the run configuration and applies --verbose on top of
// the configured level.
func (o *options) loadConfig(ctx context.Context) (*config.Config, *log.Logger, error) {
	var opts []config.LoaderOption
	if o.configPath != "" {
		opts = append(opts, config.WithFile(o.configPath))
	}
	cfg, err := config.NewLoader(opts...).Load()
	if err != nil {
		return nil, nil, err
	}
	logger := loggerFromContext(ctx)
	if !o.verbose {
		logger.SetLevel(cfg.LogLevel())
	}
	return cfg, logger, nil
}
