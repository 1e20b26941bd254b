// Package pas maintains pairs of alternative segments: two turn sequences
// that leave the same diverge segment and reach the same merge segment,
// and the bushes whose flow may be moved from the costlier to the cheaper
// one.
package pas

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/azybler/sltm/pkg/bush"
	"github.com/azybler/sltm/pkg/network"
)

var (
	// ErrInvalidPas is returned when two turn sequences cannot form a PAS.
	ErrInvalidPas = errors.New("invalid pas")
)

// Side selects one of the two alternatives of a PAS.
type Side int

const (
	Low  Side = iota // s1, the cheaper side
	High             // s2, the costlier side
)

// Options bound which alternatives are worth tracking.
type Options struct {
	// A PAS is effective when its cost gap exceeds MinAbsoluteGap (hours)
	// or MinRelativeGap times the s2 cost.
	MinAbsoluteGap float64
	MinRelativeGap float64
	// An existing PAS is only reused for a bush when its gap is at least
	// EffectivenessFactor times the bush's reduced cost.
	EffectivenessFactor float64
	// Costs and derivatives within EqualityTolerance are equal.
	EqualityTolerance float64
}

// DefaultOptions returns the PAS defaults.
func DefaultOptions() Options {
	return Options{
		MinAbsoluteGap:      1e-6,
		MinRelativeGap:      1e-4,
		EffectivenessFactor: 0.5,
		EqualityTolerance:   1e-9,
	}
}

// PAS is a pair of alternative segments.
type PAS struct {
	id             int
	net            *network.Network
	sides          [2][]network.TurnID
	inner          [2][]network.SegmentID
	cost           [2]float64
	diverge, merge network.SegmentID

	bushes     []*bush.Bush
	registered map[*bush.Bush]struct{}
}

// New builds a PAS from two turn sequences in traffic order.
func New(id int, net *network.Network, s1, s2 []network.TurnID) (*PAS, error) {
	if len(s1) == 0 || len(s2) == 0 {
		return nil, fmt.Errorf("%w: empty side", ErrInvalidPas)
	}
	first1, first2 := net.Turn(s1[0]), net.Turn(s2[0])
	last1, last2 := net.Turn(s1[len(s1)-1]), net.Turn(s2[len(s2)-1])
	if first1.In != first2.In || last1.Out != last2.Out {
		return nil, fmt.Errorf("%w: sides do not share end points", ErrInvalidPas)
	}
	if slices.Equal(s1, s2) {
		return nil, fmt.Errorf("%w: identical sides", ErrInvalidPas)
	}

	p := &PAS{
		id:         id,
		net:        net,
		sides:      [2][]network.TurnID{s1, s2},
		diverge:    first1.In,
		merge:      last1.Out,
		registered: make(map[*bush.Bush]struct{}),
	}
	for side, turns := range p.sides {
		inner, err := innerSegments(net, turns)
		if err != nil {
			return nil, err
		}
		p.inner[side] = inner
	}
	return p, nil
}

// innerSegments lists the segments strictly between the ends of a side
// and checks that the side is a connected, loop-free sequence.
func innerSegments(net *network.Network, turns []network.TurnID) ([]network.SegmentID, error) {
	seen := map[network.SegmentID]bool{net.Turn(turns[0]).In: true}
	inner := make([]network.SegmentID, 0, len(turns)-1)
	for i, t := range turns {
		turn := net.Turn(t)
		if i > 0 && turn.In != net.Turn(turns[i-1]).Out {
			return nil, fmt.Errorf("%w: turn %s does not continue the side", ErrInvalidPas, net.TurnLabel(t))
		}
		if seen[turn.Out] {
			return nil, fmt.Errorf("%w: side revisits %s", ErrInvalidPas, net.SegmentLabel(turn.Out))
		}
		seen[turn.Out] = true
		if i < len(turns)-1 {
			inner = append(inner, turn.Out)
		}
	}
	return inner, nil
}

func (p *PAS) ID() int                          { return p.id }
func (p *PAS) S1() []network.TurnID             { return p.sides[Low] }
func (p *PAS) S2() []network.TurnID             { return p.sides[High] }
func (p *PAS) Side(s Side) []network.TurnID     { return p.sides[s] }
func (p *PAS) Inner(s Side) []network.SegmentID { return p.inner[s] }
func (p *PAS) Diverge() network.SegmentID       { return p.diverge }
func (p *PAS) Merge() network.SegmentID         { return p.merge }
func (p *PAS) Cost(s Side) float64              { return p.cost[s] }

// ReducedCost is the cost of s2 above s1.
func (p *PAS) ReducedCost() float64 { return p.cost[High] - p.cost[Low] }

// UpdateCost sums the segment costs between the diverge and the merge on
// both sides.
func (p *PAS) UpdateCost(costs []float64) {
	for side, inner := range p.inner {
		var c float64
		for _, s := range inner {
			c += costs[s]
		}
		p.cost[side] = c
	}
}

// swapSides makes s1 the cheaper side again after a cost update.
func (p *PAS) swapSides() {
	p.sides[Low], p.sides[High] = p.sides[High], p.sides[Low]
	p.inner[Low], p.inner[High] = p.inner[High], p.inner[Low]
	p.cost[Low], p.cost[High] = p.cost[High], p.cost[Low]
}

// RegisterBush adds b to the bushes using s2 and reports whether it was
// new.
func (p *PAS) RegisterBush(b *bush.Bush) bool {
	if _, ok := p.registered[b]; ok {
		return false
	}
	p.registered[b] = struct{}{}
	p.bushes = append(p.bushes, b)
	return true
}

// DeregisterBush removes b from the PAS.
func (p *PAS) DeregisterBush(b *bush.Bush) {
	if _, ok := p.registered[b]; !ok {
		return
	}
	delete(p.registered, b)
	for i, r := range p.bushes {
		if r == b {
			p.bushes = append(p.bushes[:i], p.bushes[i+1:]...)
			break
		}
	}
}

// Bushes returns the registered bushes in registration order.
func (p *PAS) Bushes() []*bush.Bush { return p.bushes }

func (p *PAS) HasRegisteredBushes() bool { return len(p.bushes) > 0 }

func (p *PAS) RemoveAllRegisteredBushes() {
	p.bushes = nil
	clear(p.registered)
}

// IsRegistered reports whether b is registered on the PAS.
func (p *PAS) IsRegistered(b *bush.Bush) bool {
	_, ok := p.registered[b]
	return ok
}

// Segments returns the segments between the diverge and merge of both
// sides. These are the segments whose flow a shift changes.
func (p *PAS) Segments() []network.SegmentID {
	segs := make([]network.SegmentID, 0, len(p.inner[Low])+len(p.inner[High]))
	segs = append(segs, p.inner[Low]...)
	return append(segs, p.inner[High]...)
}

// ContainsAny reports whether a segment between the ends of either side
// is in set.
func (p *PAS) ContainsAny(set map[network.SegmentID]struct{}) bool {
	for _, inner := range p.inner {
		for _, s := range inner {
			if _, ok := set[s]; ok {
				return true
			}
		}
	}
	return false
}

// IsEffective reports whether shifting along the PAS is worthwhile for a
// bush whose reduced cost at the anchor is reducedCost.
func (p *PAS) IsEffective(reducedCost float64, opts Options) bool {
	c1, c2 := p.cost[Low], p.cost[High]
	if !(c1 < c2) {
		return false
	}
	gap := c2 - c1
	if gap <= opts.MinAbsoluteGap && gap <= opts.MinRelativeGap*math.Abs(c2) {
		return false
	}
	return gap >= opts.EffectivenessFactor*reducedCost
}

// key identifies the pair of sides regardless of which one is cheaper.
func (p *PAS) key() string { return sidesKey(p.sides[Low], p.sides[High]) }

func sidesKey(a, b []network.TurnID) string {
	ka, kb := turnsKey(a), turnsKey(b)
	if kb < ka {
		ka, kb = kb, ka
	}
	return ka + "|" + kb
}

func turnsKey(turns []network.TurnID) string {
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%d", t)
	}
	return sb.String()
}

// String renders both sides for debugging.
func (p *PAS) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pas %d %s -> %s, %d bushes\n", p.id,
		p.net.SegmentLabel(p.diverge), p.net.SegmentLabel(p.merge), len(p.bushes))
	for side, name := range []string{"s1", "s2"} {
		fmt.Fprintf(&sb, "  %s (%.6f):", name, p.cost[side])
		for _, t := range p.sides[side] {
			sb.WriteString(" ")
			sb.WriteString(p.net.TurnLabel(t))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
