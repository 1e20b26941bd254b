// Package networktest builds small assignment networks for tests.
package networktest

import (
	"github.com/azybler/sltm/pkg/network"
)

// TwoRoutes is a single OD pair served by two parallel one-way links:
//
//	O ==c1==> A ---link1---> B ==c2==> D
//	           \---link2---/
type TwoRoutes struct {
	Net          *network.Network
	Origin, Dest int
	Link1, Link2 network.SegmentID
	C1, C2       network.SegmentID
	A, B         network.VertexID
}

// NewTwoRoutes builds the TwoRoutes network. Link lengths are in km and
// both links run at speed km/h, so free-flow times are length/speed hours.
func NewTwoRoutes(length1, length2, speed, capacity float64) *TwoRoutes {
	b := network.NewBuilder()
	a := b.AddVertex(1.300, 103.800)
	bv := b.AddVertex(1.300, 103.810)

	link1, _, err := b.AddLink(a, bv, network.LinkAttrs{LengthKm: length1, Capacity: capacity, SpeedKmh: speed, Lanes: 1}, false)
	must(err)
	link2, _, err := b.AddLink(a, bv, network.LinkAttrs{LengthKm: length2, Capacity: capacity, SpeedKmh: speed, Lanes: 1}, false)
	must(err)

	origin, err := b.AddZone(1.300, 103.795, []network.VertexID{a})
	must(err)
	dest, err := b.AddZone(1.300, 103.815, []network.VertexID{bv})
	must(err)

	net, err := b.Build()
	must(err)

	tr := &TwoRoutes{Net: net, Origin: origin, Dest: dest, Link1: link1, Link2: link2, A: a, B: bv}
	tr.C1 = tr.onlyTurnOut(net.Source(origin))
	tr.C2 = tr.onlyTurnIn(net.Sink(dest))
	return tr
}

func (tr *TwoRoutes) onlyTurnOut(s network.SegmentID) network.SegmentID {
	return tr.Net.Turn(tr.Net.OutTurns(s)[0]).Out
}

func (tr *TwoRoutes) onlyTurnIn(s network.SegmentID) network.SegmentID {
	return tr.Net.Turn(tr.Net.InTurns(s)[0]).In
}

// Turn returns the turn between two segments and panics if there is none.
func Turn(net *network.Network, in, out network.SegmentID) network.TurnID {
	t, ok := net.TurnBetween(in, out)
	if !ok {
		panic("networktest: no turn " + net.SegmentLabel(in) + " > " + net.SegmentLabel(out))
	}
	return t
}

// Path returns the turns along a segment sequence.
func Path(net *network.Network, segs ...network.SegmentID) []network.TurnID {
	path := make([]network.TurnID, 0, len(segs)-1)
	for i := 1; i < len(segs); i++ {
		path = append(path, Turn(net, segs[i-1], segs[i]))
	}
	return path
}

// SegmentBetween returns the first road segment from -> to.
func SegmentBetween(net *network.Network, from, to network.VertexID) network.SegmentID {
	for i := range net.NumSegments() {
		seg := net.Segment(network.SegmentID(i))
		if seg.IsPhysical() && seg.From == from && seg.To == to {
			return network.SegmentID(i)
		}
	}
	panic("networktest: no segment between vertices")
}

// Grid is a two-way 3x3 street grid with a zone in each corner:
//
//	0 - 1 - 2
//	|   |   |
//	3 - 4 - 5
//	|   |   |
//	6 - 7 - 8
//
// Zones 0..3 attach to vertices 0, 2, 6 and 8. Every link is 1 km.
type Grid struct {
	Net      *network.Network
	Vertices [9]network.VertexID
}

// Seg returns the road segment between two grid positions.
func (g *Grid) Seg(from, to int) network.SegmentID {
	return SegmentBetween(g.Net, g.Vertices[from], g.Vertices[to])
}

// NewGrid builds the Grid network.
func NewGrid(speed, capacity float64) *Grid {
	b := network.NewBuilder()
	g := &Grid{}
	for i := range g.Vertices {
		g.Vertices[i] = b.AddVertex(1.3+0.01*float64(i/3), 103.8+0.01*float64(i%3))
	}
	attrs := network.LinkAttrs{LengthKm: 1, Capacity: capacity, SpeedKmh: speed, Lanes: 1}
	for i := range 9 {
		if i%3 < 2 {
			_, _, err := b.AddLink(g.Vertices[i], g.Vertices[i+1], attrs, true)
			must(err)
		}
		if i < 6 {
			_, _, err := b.AddLink(g.Vertices[i], g.Vertices[i+3], attrs, true)
			must(err)
		}
	}
	for _, corner := range []int{0, 2, 6, 8} {
		v := b.VertexAt(g.Vertices[corner])
		_, err := b.AddZone(v.Lat, v.Lon, []network.VertexID{g.Vertices[corner]})
		must(err)
	}
	net, err := b.Build()
	must(err)
	g.Net = net
	return g
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
