// Package cost turns loaded segment flows into travel times.
package cost

import (
	"math"

	"github.com/azybler/sltm/pkg/network"
)

// Mode is the single travel mode being assigned.
type Mode struct {
	Name        string
	PCU         float64 // passenger car units per vehicle
	MaxSpeedKmh float64 // 0 means no cap
}

// Car is the default mode.
var Car = Mode{Name: "car", PCU: 1, MaxSpeedKmh: 130}

// Model computes the cost of traversing a segment, in hours, and its
// derivative with respect to the segment inflow.
type Model interface {
	SegmentCost(m Mode, net *network.Network, s network.SegmentID, inflow, alpha float64) float64
	SegmentDerivative(m Mode, net *network.Network, s network.SegmentID, inflow, alpha float64) float64
}

// Physical is a cost model for road segments.
type Physical interface{ Model }

// Virtual is a cost model for connectoids, sources and sinks.
type Virtual interface{ Model }

// Evaluate fills costs and derivs (indexed by SegmentID) from the loaded
// inflows and flow acceptance factors.
func Evaluate(net *network.Network, m Mode, physical Physical, virtual Virtual, inflow, alpha, costs, derivs []float64) {
	for i := range net.NumSegments() {
		s := network.SegmentID(i)
		model := Model(virtual)
		if net.Segment(s).IsPhysical() {
			model = physical
		}
		costs[i] = model.SegmentCost(m, net, s, inflow[i], alpha[i])
		if derivs != nil {
			derivs[i] = model.SegmentDerivative(m, net, s, inflow[i], alpha[i])
		}
	}
}

// BPRParams are the parameters of the BPR congestion function.
type BPRParams struct {
	Alpha float64
	Beta  float64
}

// BPR is the Bureau of Public Roads link performance function,
// t0 * (1 + alpha * (v/C)^beta), plus a point-queue delay of
// period/2 * (1/a - 1) when only a fraction a of the demand to leave the
// segment is accepted downstream.
type BPR struct {
	Default     BPRParams
	PeriodHours float64
	overrides   map[network.SegmentID]BPRParams
}

// NewBPR returns a BPR model with the same parameters on every segment.
func NewBPR(alpha, beta, periodHours float64) *BPR {
	return &BPR{Default: BPRParams{Alpha: alpha, Beta: beta}, PeriodHours: periodHours}
}

// Override sets segment-specific parameters.
func (b *BPR) Override(s network.SegmentID, p BPRParams) {
	if b.overrides == nil {
		b.overrides = make(map[network.SegmentID]BPRParams)
	}
	b.overrides[s] = p
}

func (b *BPR) params(s network.SegmentID) BPRParams {
	if p, ok := b.overrides[s]; ok {
		return p
	}
	return b.Default
}

func (b *BPR) SegmentCost(m Mode, net *network.Network, s network.SegmentID, inflow, alpha float64) float64 {
	t0 := net.FreeFlowHours(s, m.MaxSpeedKmh)
	p := b.params(s)
	c := net.Segment(s).Capacity
	cost := t0
	if c > 0 && !math.IsInf(c, 1) && inflow > 0 {
		cost = t0 * (1 + p.Alpha*math.Pow(inflow/c, p.Beta))
	}
	if alpha > 0 && alpha < 1 {
		cost += b.PeriodHours / 2 * (1/alpha - 1)
	}
	return cost
}

func (b *BPR) SegmentDerivative(m Mode, net *network.Network, s network.SegmentID, inflow, alpha float64) float64 {
	t0 := net.FreeFlowHours(s, m.MaxSpeedKmh)
	p := b.params(s)
	c := net.Segment(s).Capacity
	if c <= 0 || math.IsInf(c, 1) || p.Alpha == 0 {
		return 0
	}
	if p.Beta == 1 {
		return t0 * p.Alpha / c
	}
	if inflow <= 0 {
		return 0
	}
	return t0 * p.Alpha * p.Beta * math.Pow(inflow, p.Beta-1) / math.Pow(c, p.Beta)
}

// FixedVirtual charges a constant cost on connectoids and nothing on
// sources and sinks.
type FixedVirtual struct {
	ConnectoidCost float64
}

func (f FixedVirtual) SegmentCost(_ Mode, net *network.Network, s network.SegmentID, _, _ float64) float64 {
	if net.Segment(s).Kind == network.Connectoid {
		return f.ConnectoidCost
	}
	return 0
}

func (FixedVirtual) SegmentDerivative(Mode, *network.Network, network.SegmentID, float64, float64) float64 {
	return 0
}
