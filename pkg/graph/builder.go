package graph

import (
	"slices"

	"github.com/paulmach/osm"

	osmparser "github.com/azybler/sltm/pkg/osm"
)

// Build creates a CSR Graph from parsed OSM links.
func Build(result *osmparser.ParseResult) *Graph {
	links := result.Links
	if len(links) == 0 {
		return &Graph{}
	}

	// Step 1: compact node numbering in first-seen order.
	nodeSet := make(map[osm.NodeID]uint32)
	var nodeIDs []osm.NodeID
	addNode := func(id osm.NodeID) uint32 {
		if idx, ok := nodeSet[id]; ok {
			return idx
		}
		idx := uint32(len(nodeIDs))
		nodeSet[id] = idx
		nodeIDs = append(nodeIDs, id)
		return idx
	}

	// Step 2: remap links onto compact indices.
	edges := make([]edge, len(links))
	for i, l := range links {
		edges[i] = edge{
			from:     addNode(l.FromNodeID),
			to:       addNode(l.ToNodeID),
			length:   l.Weight,
			link:     l.Link,
			capacity: l.Capacity,
			speed:    l.SpeedKmh,
			lanes:    l.Lanes,
		}
	}

	// Step 3: coordinates.
	numNodes := uint32(len(nodeIDs))
	nodeLat := make([]float64, numNodes)
	nodeLon := make([]float64, numNodes)
	for idx, id := range nodeIDs {
		nodeLat[idx] = result.NodeLat[id]
		nodeLon[idx] = result.NodeLon[id]
	}

	return assemble(numNodes, edges, nodeLat, nodeLon)
}

func sortEdges(edges []edge) {
	slices.SortFunc(edges, func(a, b edge) int {
		if a.from != b.from {
			return int(a.from) - int(b.from)
		}
		if a.to != b.to {
			return int(a.to) - int(b.to)
		}
		return int(a.link) - int(b.link)
	})
}
