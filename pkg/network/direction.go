package network

// Direction selects how a search walks the turn graph. Origin-rooted
// searches follow turns downstream; destination-rooted searches walk them
// upstream. Flows are always stored in physical direction.
type Direction interface {
	// Inverted reports whether the search runs against traffic.
	Inverted() bool
	// Next returns the turns the search may take out of s.
	Next(n *Network, s SegmentID) []TurnID
	// Prev returns the turns through which the search reaches s.
	Prev(n *Network, s SegmentID) []TurnID
	// Head is the segment reached by traversing t.
	Head(t Turn) SegmentID
	// Tail is the segment left by traversing t.
	Tail(t Turn) SegmentID
}

var (
	// Downstream walks turns in traffic direction (origin bushes).
	Downstream Direction = downstream{}
	// Upstream walks turns against traffic direction (destination bushes).
	Upstream Direction = upstream{}
)

// DirectionFor returns Upstream when inverted is set.
func DirectionFor(inverted bool) Direction {
	if inverted {
		return Upstream
	}
	return Downstream
}

type downstream struct{}

func (downstream) Inverted() bool { return false }
func (downstream) Next(n *Network, s SegmentID) []TurnID { return n.OutTurns(s) }
func (downstream) Prev(n *Network, s SegmentID) []TurnID { return n.InTurns(s) }
func (downstream) Head(t Turn) SegmentID { return t.Out }
func (downstream) Tail(t Turn) SegmentID { return t.In }

type upstream struct{}

func (upstream) Inverted() bool { return true }
func (upstream) Next(n *Network, s SegmentID) []TurnID { return n.InTurns(s) }
func (upstream) Prev(n *Network, s SegmentID) []TurnID { return n.OutTurns(s) }
func (upstream) Head(t Turn) SegmentID { return t.In }
func (upstream) Tail(t Turn) SegmentID { return t.Out }
