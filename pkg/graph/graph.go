package graph

// Graph is the physical road network in CSR (Compressed Sparse Row) format.
// Every edge is one travel direction of a road link; the two directions of
// a two-way road share a Link id.
type Graph struct {
	NumNodes uint32
	NumEdges uint32
	FirstOut []uint32  // len: NumNodes + 1; FirstOut[i]..FirstOut[i+1] are edges from node i
	Head     []uint32  // len: NumEdges; target node for each edge
	Length   []uint32  // len: NumEdges; millimeters
	Link     []uint32  // len: NumEdges
	Capacity []float64 // len: NumEdges; PCU/h
	Speed    []float64 // len: NumEdges; km/h
	Lanes    []uint8   // len: NumEdges
	NodeLat  []float64 // len: NumNodes
	NodeLon  []float64 // len: NumNodes
}

// EdgesFrom returns the range of edge indices for edges originating from node u.
func (g *Graph) EdgesFrom(u uint32) (start, end uint32) {
	return g.FirstOut[u], g.FirstOut[u+1]
}

// edge is the flat form of a CSR edge used while (re)building graphs.
type edge struct {
	from, to uint32
	length   uint32
	link     uint32
	capacity float64
	speed    float64
	lanes    uint8
}

// assemble sorts edges by (from, to, link) and packs them into CSR arrays.
func assemble(numNodes uint32, edges []edge, nodeLat, nodeLon []float64) *Graph {
	sortEdges(edges)

	numEdges := uint32(len(edges))
	g := &Graph{
		NumNodes: numNodes,
		NumEdges: numEdges,
		FirstOut: make([]uint32, numNodes+1),
		Head:     make([]uint32, numEdges),
		Length:   make([]uint32, numEdges),
		Link:     make([]uint32, numEdges),
		Capacity: make([]float64, numEdges),
		Speed:    make([]float64, numEdges),
		Lanes:    make([]uint8, numEdges),
		NodeLat:  nodeLat,
		NodeLon:  nodeLon,
	}

	for i, e := range edges {
		g.FirstOut[e.from+1]++
		g.Head[i] = e.to
		g.Length[i] = e.length
		g.Link[i] = e.link
		g.Capacity[i] = e.capacity
		g.Speed[i] = e.speed
		g.Lanes[i] = e.lanes
	}
	for i := uint32(1); i <= numNodes; i++ {
		g.FirstOut[i] += g.FirstOut[i-1]
	}
	return g
}
