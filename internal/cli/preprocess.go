package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/azybler/sltm/pkg/graph"
	osmparser "github.com/azybler/sltm/pkg/osm"
)

type preprocessOpts struct {
	input     string
	output    string
	bbox      string
	singapore bool
}

func newPreprocessCmd() *cobra.Command {
	var o preprocessOpts
	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Import an OSM PBF extract into a binary road graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreprocess(cmd, o)
		},
	}
	cmd.Flags().StringVarP(&o.input, "input", "i", "", "path to .osm.pbf file")
	cmd.Flags().StringVarP(&o.output, "output", "o", "network.bin", "output binary graph path")
	cmd.Flags().StringVar(&o.bbox, "bbox", "", "bounding box filter: minLat,minLng,maxLat,maxLng")
	cmd.Flags().BoolVar(&o.singapore, "singapore", false, "shortcut for --bbox 1.15,103.6,1.48,104.1")
	cmd.MarkFlagRequired("input")
	return cmd
}

func parseBBox(o preprocessOpts) (osmparser.BBox, error) {
	switch {
	case o.singapore:
		return osmparser.BBox{MinLat: 1.15, MaxLat: 1.48, MinLng: 103.6, MaxLng: 104.1}, nil
	case o.bbox != "":
		var b osmparser.BBox
		if _, err := fmt.Sscanf(o.bbox, "%f,%f,%f,%f", &b.MinLat, &b.MinLng, &b.MaxLat, &b.MaxLng); err != nil {
			return b, fmt.Errorf("invalid bbox (expected minLat,minLng,maxLat,maxLng): %w", err)
		}
		if b.MinLat >= b.MaxLat || b.MinLng >= b.MaxLng {
			return b, fmt.Errorf("invalid bbox %q: min must be below max", o.bbox)
		}
		return b, nil
	}
	return osmparser.BBox{}, nil
}

func runPreprocess(cmd *cobra.Command, o preprocessOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	bbox, err := parseBBox(o)
	if err != nil {
		return err
	}
	if !bbox.IsZero() {
		logger.Info("bounding box filter", "lat", [2]float64{bbox.MinLat, bbox.MaxLat}, "lng", [2]float64{bbox.MinLng, bbox.MaxLng})
	}

	total := newProgress(logger)

	// Step 1: parse OSM data.
	f, err := os.Open(o.input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	prog := newProgress(logger)
	res, err := osmparser.Parse(ctx, f, osmparser.ParseOptions{BBox: bbox, Logger: logger})
	if err != nil {
		return fmt.Errorf("parse osm: %w", err)
	}
	prog.done("parsed OSM", "links", len(res.Links), "nodes", len(res.NodeLat))

	// Step 2: build the graph.
	g := graph.Build(res)
	logger.Info("graph built", "nodes", g.NumNodes, "edges", g.NumEdges)

	// Step 3: keep the largest connected component so every zone can
	// reach every other.
	nodes := graph.LargestComponent(g)
	if g.NumNodes > 0 {
		logger.Info("largest component", "nodes", len(nodes), "share", fmt.Sprintf("%.1f%%", float64(len(nodes))/float64(g.NumNodes)*100))
	}
	g = graph.FilterToComponent(g, nodes)

	// Step 4: serialize.
	if err := graph.WriteBinary(o.output, g); err != nil {
		return fmt.Errorf("write graph: %w", err)
	}
	size := int64(0)
	if info, err := os.Stat(o.output); err == nil {
		size = info.Size()
	}
	total.done("preprocess complete", "output", o.output, "nodes", g.NumNodes, "edges", g.NumEdges,
		"size", fmt.Sprintf("%.1f MB", float64(size)/(1024*1024)))
	return nil
}
