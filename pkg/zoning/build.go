package zoning

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/azybler/sltm/pkg/geo"
	"github.com/azybler/sltm/pkg/graph"
	"github.com/azybler/sltm/pkg/network"
)

// ErrUnknownNode is returned when a link or zone names a node that is not
// in the scenario.
var ErrUnknownNode = errors.New("unknown node")

// BuildOptions control how a scenario is turned into a network.
type BuildOptions struct {
	// Graph is an imported road graph added before the inline links.
	Graph *graph.Graph
	// SnapRadius bounds the centroid snapping search, in meters.
	SnapRadius float64
	// DefaultCapacity and DefaultSpeedKmh apply to inline links that do
	// not set them.
	DefaultCapacity float64
	DefaultSpeedKmh float64
	Logger          *log.Logger
}

// Build creates the assignment network and the demand matrix. Zone i of
// the scenario is zone i of the network.
func (sc *Scenario) Build(opts BuildOptions) (*network.Network, *Matrix, error) {
	demand, err := sc.Matrix()
	if err != nil {
		return nil, nil, err
	}
	if opts.DefaultCapacity <= 0 {
		opts.DefaultCapacity = 1800
	}
	if opts.DefaultSpeedKmh <= 0 {
		opts.DefaultSpeedKmh = 50
	}

	b := network.NewBuilder()
	snap := NewSnapper(opts.SnapRadius)

	// Step 1: road vertices.
	if opts.Graph != nil {
		first := b.AddGraph(opts.Graph)
		for i := range opts.Graph.NumNodes {
			v := first + network.VertexID(i)
			snap.Insert(v, opts.Graph.NodeLat[i], opts.Graph.NodeLon[i])
		}
	}
	nodes := make(map[int64]network.VertexID, len(sc.Nodes))
	for _, n := range sc.Nodes {
		if _, dup := nodes[n.ID]; dup {
			return nil, nil, fmt.Errorf("duplicate node %d", n.ID)
		}
		v := b.AddVertex(n.Lat, n.Lon)
		nodes[n.ID] = v
		snap.Insert(v, n.Lat, n.Lon)
	}

	// Step 2: inline links.
	for _, l := range sc.Links {
		from, ok := nodes[l.From]
		if !ok {
			return nil, nil, fmt.Errorf("link %d -> %d: %w %d", l.From, l.To, ErrUnknownNode, l.From)
		}
		to, ok := nodes[l.To]
		if !ok {
			return nil, nil, fmt.Errorf("link %d -> %d: %w %d", l.From, l.To, ErrUnknownNode, l.To)
		}
		attrs := network.LinkAttrs{
			LengthKm: l.LengthKm,
			Capacity: l.Capacity,
			SpeedKmh: l.SpeedKmh,
			Lanes:    max(l.Lanes, 1),
		}
		if attrs.LengthKm <= 0 {
			a, z := b.VertexAt(from), b.VertexAt(to)
			attrs.LengthKm = geo.Haversine(a.Lat, a.Lon, z.Lat, z.Lon) / 1000
		}
		if attrs.Capacity <= 0 {
			attrs.Capacity = opts.DefaultCapacity * float64(attrs.Lanes)
		}
		if attrs.SpeedKmh <= 0 {
			attrs.SpeedKmh = opts.DefaultSpeedKmh
		}
		if _, _, err := b.AddLink(from, to, attrs, l.TwoWay); err != nil {
			return nil, nil, err
		}
	}

	// Step 3: zones, attached to their nodes or to the nearest vertex.
	for _, z := range sc.Zones {
		access := make([]network.VertexID, 0, max(len(z.Nodes), 1))
		for _, id := range z.Nodes {
			v, ok := nodes[id]
			if !ok {
				return nil, nil, fmt.Errorf("zone %q: %w %d", z.ID, ErrUnknownNode, id)
			}
			access = append(access, v)
		}
		if len(access) == 0 {
			v, dist, err := snap.Nearest(z.Lat, z.Lon)
			if err != nil {
				return nil, nil, fmt.Errorf("zone %q: %w", z.ID, err)
			}
			if opts.Logger != nil {
				opts.Logger.Debug("zone snapped", "zone", z.ID, "vertex", v, "meters", dist)
			}
			access = append(access, v)
		}
		if _, err := b.AddZone(z.Lat, z.Lon, access); err != nil {
			return nil, nil, fmt.Errorf("zone %q: %w", z.ID, err)
		}
	}

	net, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return net, demand, nil
}
