package cli

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/azybler/sltm/pkg/graph"
	"github.com/azybler/sltm/pkg/network"
	"github.com/azybler/sltm/pkg/zoning"
)

// inputOpts name the files a run is built from.
type inputOpts struct {
	scenario   string
	graph      string
	snapRadius float64
}

// loadInputs builds the network and demand of a run.
func loadInputs(o inputOpts, logger *log.Logger) (*network.Network, *zoning.Matrix, error) {
	prog := newProgress(logger)
	sc, err := zoning.LoadScenario(o.scenario)
	if err != nil {
		return nil, nil, err
	}

	bo := zoning.BuildOptions{SnapRadius: o.snapRadius, Logger: logger}
	if o.graph != "" {
		g, err := graph.ReadBinary(o.graph)
		if err != nil {
			return nil, nil, fmt.Errorf("read graph %s: %w", o.graph, err)
		}
		logger.Debug("road graph loaded", "nodes", g.NumNodes, "edges", g.NumEdges)
		bo.Graph = g
	}

	net, demand, err := sc.Build(bo)
	if err != nil {
		return nil, nil, fmt.Errorf("build network: %w", err)
	}
	prog.done("network ready", "zones", net.NumZones(), "segments", net.NumSegments(),
		"turns", net.NumTurns(), "demand", demand.Total())
	return net, demand, nil
}
