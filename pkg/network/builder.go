package network

import (
	"errors"
	"fmt"

	"github.com/azybler/sltm/pkg/graph"
)

var (
	ErrUnknownVertex = errors.New("unknown vertex")
	ErrNoAccess      = errors.New("zone has no access vertex")
	ErrEmptyNetwork  = errors.New("network has no zones")
)

// LinkAttrs describes one direction of a road link.
type LinkAttrs struct {
	LengthKm float64
	Capacity float64 // PCU/h
	SpeedKmh float64
	Lanes    uint8
}

// Builder accumulates vertices, links and zones and derives the turns.
type Builder struct {
	vertices []Vertex
	segments []Segment
	reverse  []SegmentID
	sources  []SegmentID
	sinks    []SegmentID
	nextLink int32
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddVertex adds a road node and returns its id.
func (b *Builder) AddVertex(lat, lon float64) VertexID {
	b.vertices = append(b.vertices, Vertex{Lat: lat, Lon: lon, Zone: -1})
	return VertexID(len(b.vertices) - 1)
}

// NumVertices returns the number of vertices added so far.
func (b *Builder) NumVertices() int { return len(b.vertices) }

// VertexAt returns a vertex added earlier.
func (b *Builder) VertexAt(v VertexID) Vertex { return b.vertices[v] }

func (b *Builder) addSegment(seg Segment) SegmentID {
	b.segments = append(b.segments, seg)
	b.reverse = append(b.reverse, NoSegment)
	return SegmentID(len(b.segments) - 1)
}

func (b *Builder) pair(x, y SegmentID) {
	b.reverse[x] = y
	b.reverse[y] = x
}

func (b *Builder) checkVertex(v VertexID) error {
	if int(v) >= len(b.vertices) {
		return fmt.Errorf("%w: %d", ErrUnknownVertex, v)
	}
	return nil
}

// AddLink adds a road link from -> to. A two-way link also gets the
// opposite segment, which is returned as bwd; otherwise bwd is NoSegment.
func (b *Builder) AddLink(from, to VertexID, attrs LinkAttrs, twoWay bool) (fwd, bwd SegmentID, err error) {
	if err := b.checkVertex(from); err != nil {
		return NoSegment, NoSegment, err
	}
	if err := b.checkVertex(to); err != nil {
		return NoSegment, NoSegment, err
	}

	link := b.nextLink
	b.nextLink++
	seg := Segment{
		From: from, To: to, Kind: Physical, Link: link, Zone: -1,
		LengthKm: attrs.LengthKm, Capacity: attrs.Capacity, SpeedKmh: attrs.SpeedKmh, Lanes: attrs.Lanes,
	}
	if seg.Capacity <= 0 {
		seg.Capacity = unconstrained
	}
	fwd = b.addSegment(seg)
	bwd = NoSegment
	if twoWay {
		seg.From, seg.To = to, from
		bwd = b.addSegment(seg)
		b.pair(fwd, bwd)
	}
	return fwd, bwd, nil
}

// AddGraph copies a physical road graph into the builder and returns the
// vertex id of graph node 0; node i maps to first+i. Edges sharing a graph
// link id in opposite directions become reverse segments of one link.
func (b *Builder) AddGraph(g *graph.Graph) VertexID {
	first := VertexID(len(b.vertices))
	for i := range g.NumNodes {
		b.AddVertex(g.NodeLat[i], g.NodeLon[i])
	}

	type linkEnd struct {
		seg      SegmentID
		from, to uint32
	}
	open := make(map[uint32]linkEnd)
	linkOf := make(map[uint32]int32)

	for u := range g.NumNodes {
		start, end := g.EdgesFrom(u)
		for e := start; e < end; e++ {
			v := g.Head[e]
			link, ok := linkOf[g.Link[e]]
			if !ok {
				link = b.nextLink
				b.nextLink++
				linkOf[g.Link[e]] = link
			}
			capacity := g.Capacity[e]
			if capacity <= 0 {
				capacity = unconstrained
			}
			s := b.addSegment(Segment{
				From: first + VertexID(u), To: first + VertexID(v), Kind: Physical, Link: link, Zone: -1,
				LengthKm: float64(g.Length[e]) / 1e6, Capacity: capacity, SpeedKmh: g.Speed[e], Lanes: g.Lanes[e],
			})
			if other, ok := open[g.Link[e]]; ok && other.from == v && other.to == u {
				b.pair(other.seg, s)
				delete(open, g.Link[e])
			} else {
				open[g.Link[e]] = linkEnd{seg: s, from: u, to: v}
			}
		}
	}
	return first
}

// AddZone adds a zone centroid at (lat, lon) connected to each access
// vertex by a pair of connectoids, and the zone's source and sink segments.
// It returns the zone index.
func (b *Builder) AddZone(lat, lon float64, access []VertexID) (int, error) {
	if len(access) == 0 {
		return -1, ErrNoAccess
	}
	for _, v := range access {
		if err := b.checkVertex(v); err != nil {
			return -1, err
		}
		if b.vertices[v].Zone >= 0 {
			return -1, fmt.Errorf("%w: %d is a centroid", ErrUnknownVertex, v)
		}
	}

	zone := len(b.sources)
	centroid := VertexID(len(b.vertices))
	b.vertices = append(b.vertices, Vertex{Lat: lat, Lon: lon, Zone: zone})

	for _, v := range access {
		link := b.nextLink
		b.nextLink++
		con := Segment{From: centroid, To: v, Kind: Connectoid, Link: link, Zone: zone, Capacity: unconstrained}
		out := b.addSegment(con)
		con.From, con.To = v, centroid
		in := b.addSegment(con)
		b.pair(out, in)
	}

	b.sources = append(b.sources, b.addSegment(Segment{
		From: NoVertex, To: centroid, Kind: Source, Link: -1, Zone: zone, Capacity: unconstrained,
	}))
	b.sinks = append(b.sinks, b.addSegment(Segment{
		From: centroid, To: NoVertex, Kind: Sink, Link: -1, Zone: zone, Capacity: unconstrained,
	}))
	return zone, nil
}

// allowedTurn applies the turn rules at vertex v. Centroids only connect
// their source to outgoing connectoids and incoming connectoids to their
// sink, so no traffic passes through a zone.
func allowedTurn(vertex Vertex, in, out *Segment) bool {
	if vertex.Zone >= 0 {
		return (in.Kind == Source && out.Kind == Connectoid) ||
			(in.Kind == Connectoid && out.Kind == Sink)
	}
	return in.Kind != Source && out.Kind != Sink
}

// Build derives the turns and freezes the network.
func (b *Builder) Build() (*Network, error) {
	if len(b.sources) == 0 {
		return nil, ErrEmptyNetwork
	}

	numVertices := len(b.vertices)
	numSegments := len(b.segments)

	// Step 1: segments entering and leaving each vertex.
	entering := make([][]SegmentID, numVertices)
	leaving := make([][]SegmentID, numVertices)
	for i := range b.segments {
		s := SegmentID(i)
		seg := &b.segments[i]
		if seg.To != NoVertex {
			entering[seg.To] = append(entering[seg.To], s)
		}
		if seg.From != NoVertex {
			leaving[seg.From] = append(leaving[seg.From], s)
		}
	}

	// Step 2: turns. U-turns onto the reverse segment are kept only on
	// road segments with no other way out.
	var turns []Turn
	candidates := make([]SegmentID, 0, 8)
	for v := range numVertices {
		vertex := b.vertices[v]
		for _, in := range entering[v] {
			candidates = candidates[:0]
			uturn := NoSegment
			for _, out := range leaving[v] {
				if !allowedTurn(vertex, &b.segments[in], &b.segments[out]) {
					continue
				}
				if out == b.reverse[in] {
					uturn = out
					continue
				}
				candidates = append(candidates, out)
			}
			if len(candidates) == 0 && uturn != NoSegment && b.segments[in].Kind == Physical {
				candidates = append(candidates, uturn)
			}
			for _, out := range candidates {
				turns = append(turns, Turn{In: in, Out: out, At: VertexID(v)})
			}
		}
	}

	// Step 3: CSR indices by entry and exit segment.
	n := &Network{
		vertices:  b.vertices,
		segments:  b.segments,
		turns:     turns,
		reverse:   b.reverse,
		sources:   b.sources,
		sinks:     b.sinks,
		turnIndex: make(map[uint64]TurnID, len(turns)),
	}
	n.outFirst, n.outTurns = turnCSR(numSegments, turns, func(t Turn) SegmentID { return t.In })
	n.inFirst, n.inTurns = turnCSR(numSegments, turns, func(t Turn) SegmentID { return t.Out })
	for i, t := range turns {
		n.turnIndex[turnKey(t.In, t.Out)] = TurnID(i)
	}

	*b = Builder{}
	return n, nil
}

// turnCSR groups turn ids by key segment, keeping id order within a group.
func turnCSR(numSegments int, turns []Turn, key func(Turn) SegmentID) ([]uint32, []TurnID) {
	first := make([]uint32, numSegments+1)
	for _, t := range turns {
		first[key(t)+1]++
	}
	for i := 1; i <= numSegments; i++ {
		first[i] += first[i-1]
	}
	ids := make([]TurnID, len(turns))
	pos := make([]uint32, numSegments)
	copy(pos, first[:numSegments])
	for i, t := range turns {
		k := key(t)
		ids[pos[k]] = TurnID(i)
		pos[k]++
	}
	return first, ids
}
