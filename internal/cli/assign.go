package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/azybler/sltm/pkg/assignment"
)

type assignOpts struct {
	inputOpts
	output      string
	jsonOutput  string
	destination bool
}

func newAssignCmd(root *options) *cobra.Command {
	var o assignOpts
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Run an assignment and write the loaded segment flows as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssign(cmd, root, o)
		},
	}
	addInputFlags(cmd, &o.inputOpts)
	cmd.Flags().StringVarP(&o.output, "output", "o", "-", "CSV output path, - for stdout")
	cmd.Flags().StringVar(&o.jsonOutput, "json", "", "also write the full result as JSON")
	cmd.Flags().BoolVar(&o.destination, "destination", false, "root bushes at destinations")
	return cmd
}

func addInputFlags(cmd *cobra.Command, o *inputOpts) {
	cmd.Flags().StringVarP(&o.scenario, "scenario", "s", "", "scenario TOML (zones, demand and optional inline network)")
	cmd.Flags().StringVarP(&o.graph, "graph", "g", "", "binary road graph written by preprocess")
	cmd.Flags().Float64Var(&o.snapRadius, "snap-radius", 5000, "max centroid snapping distance in meters")
	cmd.MarkFlagRequired("scenario")
}

func runAssign(cmd *cobra.Command, root *options, o assignOpts) error {
	ctx := cmd.Context()
	cfg, logger, err := root.loadConfig(ctx)
	if err != nil {
		return err
	}
	net, demand, err := loadInputs(o.inputOpts, logger)
	if err != nil {
		return err
	}

	opts := cfg.AssignmentOptions()
	if o.destination {
		opts.Inverted = true
	}
	prog := newProgress(logger)
	s := assignment.NewStrategy(net, demand, opts, logger)
	res, err := s.Run(ctx)
	if err != nil {
		return err
	}
	prog.done("assignment finished", "iterations", res.Iterations, "converged", res.Converged, "gap", res.Gap)

	if err := writeOutput(o.output, cmd.OutOrStdout(), res.WriteCSV); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	if o.jsonOutput != "" {
		err := writeOutput(o.jsonOutput, cmd.OutOrStdout(), func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		})
		if err != nil {
			return fmt.Errorf("write json: %w", err)
		}
	}
	return nil
}

// writeOutput writes to path, or to stdout when path is "-".
func writeOutput(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
