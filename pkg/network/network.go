// Package network holds the immutable assignment network: vertices, link
// segments and the turns between them. Turns are the edges of the
// conjugate graph whose vertices are link segments.
package network

import (
	"fmt"
	"math"
)

// VertexID indexes a physical node or zone centroid.
type VertexID uint32

// SegmentID indexes a directed link segment (a conjugate vertex).
type SegmentID uint32

// TurnID indexes a turn (a conjugate edge).
type TurnID uint32

// Sentinels for missing ids.
const (
	NoVertex  VertexID  = ^VertexID(0)
	NoSegment SegmentID = ^SegmentID(0)
	NoTurn    TurnID    = ^TurnID(0)
)

// SegmentKind distinguishes road segments from the virtual segments that
// connect zones to the road network.
type SegmentKind uint8

const (
	Physical SegmentKind = iota
	Connectoid
	Source
	Sink
)

func (k SegmentKind) String() string {
	switch k {
	case Physical:
		return "physical"
	case Connectoid:
		return "connectoid"
	case Source:
		return "source"
	case Sink:
		return "sink"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Vertex is a road node or a zone centroid.
type Vertex struct {
	Lat, Lon float64
	Zone     int // -1 unless the vertex is a centroid
}

// Segment is one travel direction of a link. Source segments have no From
// vertex and sink segments have no To vertex.
type Segment struct {
	From, To VertexID
	Kind     SegmentKind
	Link     int32 // shared by both directions of a link
	Zone     int   // owning zone of virtual segments, -1 for physical
	LengthKm float64
	Capacity float64 // PCU/h; +Inf when unconstrained
	SpeedKmh float64
	Lanes    uint8
}

// IsPhysical reports whether the segment is a road segment.
func (s *Segment) IsPhysical() bool { return s.Kind == Physical }

// Turn is a movement from one segment into the next at a vertex.
type Turn struct {
	In, Out SegmentID
	At      VertexID
}

// Network is immutable once built. Per-iteration state lives in slices
// indexed by SegmentID or TurnID owned by the caller.
type Network struct {
	vertices []Vertex
	segments []Segment
	turns    []Turn
	reverse  []SegmentID

	outFirst []uint32 // CSR over turns by In segment
	outTurns []TurnID
	inFirst  []uint32 // CSR over turns by Out segment
	inTurns  []TurnID

	turnIndex map[uint64]TurnID
	sources   []SegmentID
	sinks     []SegmentID
}

// turnKey packs an (in, out) segment pair into a single map key.
func turnKey(in, out SegmentID) uint64 {
	return uint64(in)<<32 | uint64(out)
}

func (n *Network) NumVertices() int { return len(n.vertices) }
func (n *Network) NumSegments() int { return len(n.segments) }
func (n *Network) NumTurns() int { return len(n.turns) }
func (n *Network) NumZones() int { return len(n.sources) }

func (n *Network) Vertex(v VertexID) Vertex { return n.vertices[v] }
func (n *Network) Segment(s SegmentID) *Segment { return &n.segments[s] }
func (n *Network) Turn(t TurnID) Turn { return n.turns[t] }
func (n *Network) Reverse(s SegmentID) SegmentID { return n.reverse[s] }
func (n *Network) Source(zone int) SegmentID { return n.sources[zone] }
func (n *Network) Sink(zone int) SegmentID { return n.sinks[zone] }

// OutTurns returns the turns leaving segment s. The slice must not be modified.
func (n *Network) OutTurns(s SegmentID) []TurnID {
	return n.outTurns[n.outFirst[s]:n.outFirst[s+1]]
}

// InTurns returns the turns entering segment s. The slice must not be modified.
func (n *Network) InTurns(s SegmentID) []TurnID {
	return n.inTurns[n.inFirst[s]:n.inFirst[s+1]]
}

// TurnBetween looks up the turn from in to out.
func (n *Network) TurnBetween(in, out SegmentID) (TurnID, bool) {
	t, ok := n.turnIndex[turnKey(in, out)]
	return t, ok
}

// ReverseTurn returns the turn that traverses t in the opposite direction,
// from the reverse of t.Out into the reverse of t.In.
func (n *Network) ReverseTurn(t TurnID) (TurnID, bool) {
	turn := n.turns[t]
	rin, rout := n.reverse[turn.Out], n.reverse[turn.In]
	if rin == NoSegment || rout == NoSegment {
		return NoTurn, false
	}
	return n.TurnBetween(rin, rout)
}

// SegmentLabel renders a segment for logs and dumps.
func (n *Network) SegmentLabel(s SegmentID) string {
	if s == NoSegment || int(s) >= len(n.segments) {
		return "-"
	}
	seg := &n.segments[s]
	switch seg.Kind {
	case Source:
		return fmt.Sprintf("src[z%d]", seg.Zone)
	case Sink:
		return fmt.Sprintf("snk[z%d]", seg.Zone)
	case Connectoid:
		return fmt.Sprintf("con%d[%d->%d]", s, seg.From, seg.To)
	}
	return fmt.Sprintf("seg%d[%d->%d]", s, seg.From, seg.To)
}

// TurnLabel renders a turn for logs and dumps.
func (n *Network) TurnLabel(t TurnID) string {
	turn := n.turns[t]
	return n.SegmentLabel(turn.In) + ">" + n.SegmentLabel(turn.Out)
}

// FreeFlowHours returns the uncongested traversal time of s capped by
// maxSpeedKmh when it is positive.
func (n *Network) FreeFlowHours(s SegmentID, maxSpeedKmh float64) float64 {
	seg := &n.segments[s]
	speed := seg.SpeedKmh
	if maxSpeedKmh > 0 && (speed <= 0 || speed > maxSpeedKmh) {
		speed = maxSpeedKmh
	}
	if seg.LengthKm <= 0 || speed <= 0 {
		return 0
	}
	return seg.LengthKm / speed
}

var unconstrained = math.Inf(1)
