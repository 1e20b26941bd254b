package pas

import (
	"math"

	"github.com/charmbracelet/log"

	"github.com/azybler/sltm/pkg/bush"
	"github.com/azybler/sltm/pkg/cost"
	"github.com/azybler/sltm/pkg/loading"
)

// FlowShiftExecutor moves flow between the two sides of one PAS for all
// its registered bushes.
type FlowShiftExecutor struct {
	pas    *PAS
	opts   Options
	logger *log.Logger

	flows  [2][]float64 // per side, aligned with pas.Bushes()
	totals [2]float64

	equalizing   bool
	needsEntropy bool
	moved        float64
}

// NewFlowShiftExecutor returns an executor for p.
func NewFlowShiftExecutor(p *PAS, opts Options, logger *log.Logger) *FlowShiftExecutor {
	return &FlowShiftExecutor{pas: p, opts: opts, logger: logger}
}

// PAS returns the executor's PAS.
func (e *FlowShiftExecutor) PAS() *PAS { return e.pas }

// Initialise computes the flow of every registered bush on both sides.
// Bushes left with no flow on either side are deregistered.
func (e *FlowShiftExecutor) Initialise() {
	for _, b := range append([]*bush.Bush(nil), e.pas.Bushes()...) {
		if b.SubpathSendingFlow(e.pas.S1()) <= bush.FlowEpsilon && b.SubpathSendingFlow(e.pas.S2()) <= bush.FlowEpsilon {
			e.pas.DeregisterBush(b)
		}
	}

	bushes := e.pas.Bushes()
	e.totals = [2]float64{}
	for side := range e.flows {
		e.flows[side] = make([]float64, len(bushes))
		for i, b := range bushes {
			f := b.SubpathSendingFlow(e.pas.Side(Side(side)))
			e.flows[side][i] = f
			e.totals[side] += f
		}
	}
}

// Flow returns the total flow of the registered bushes on a side, as of
// the last Initialise.
func (e *FlowShiftExecutor) Flow(s Side) float64 { return e.totals[s] }

// IsEqualizing reports whether the last Run redistributed flow between
// two equivalent sides instead of moving it toward the cheaper one.
func (e *FlowShiftExecutor) IsEqualizing() bool { return e.equalizing }

// NeedsEntropy reports whether the last Run found the split across the
// PAS undetermined by cost and had to change it.
func (e *FlowShiftExecutor) NeedsEntropy() bool { return e.needsEntropy }

// Moved returns the total flow moved by the last Run.
func (e *FlowShiftExecutor) Moved() float64 { return e.moved }

// RequiresEqualization reports whether two sides are indistinguishable:
// same cost and same cost derivative.
func (e *FlowShiftExecutor) RequiresEqualization(c1, c2, d1, d2 float64) bool {
	tol := e.opts.EqualityTolerance
	return math.Abs(c1-c2) <= tol*math.Max(1, math.Max(c1, c2)) &&
		math.Abs(d1-d2) <= tol*math.Max(1, math.Max(d1, d2))
}

// sideCost evaluates the cost and derivative of a side from the loaded
// flows.
func (e *FlowShiftExecutor) sideCost(s Side, mode cost.Mode, physical cost.Physical, virtual cost.Virtual, load *loading.Result) (c, d float64) {
	net := e.pas.net
	for _, seg := range e.pas.Inner(s) {
		model := cost.Model(virtual)
		if net.Segment(seg).IsPhysical() {
			model = physical
		}
		c += model.SegmentCost(mode, net, seg, load.Inflow[seg], load.Alpha[seg])
		d += model.SegmentDerivative(mode, net, seg, load.Inflow[seg], load.Alpha[seg])
	}
	return c, d
}

// Equivalent reports whether Run would only equalize the sides under
// load.
func (e *FlowShiftExecutor) Equivalent(mode cost.Mode, physical cost.Physical, virtual cost.Virtual, load *loading.Result) bool {
	c1, d1 := e.sideCost(Low, mode, physical, virtual, load)
	c2, d2 := e.sideCost(High, mode, physical, virtual, load)
	return e.RequiresEqualization(c1, c2, d1, d2)
}

// Run shifts flow from the costlier side toward the cheaper one with a
// damped Newton step and reports whether any flow moved. It returns
// false without changes when no flow is left on s2, which makes the PAS
// dead.
func (e *FlowShiftExecutor) Run(mode cost.Mode, physical cost.Physical, virtual cost.Virtual, load *loading.Result, step float64) bool {
	e.equalizing, e.needsEntropy, e.moved = false, false, 0
	if e.totals[High] <= bush.FlowEpsilon {
		return false
	}

	c1, d1 := e.sideCost(Low, mode, physical, virtual, load)
	c2, d2 := e.sideCost(High, mode, physical, virtual, load)

	if e.RequiresEqualization(c1, c2, d1, d2) {
		e.equalizing = true
		return e.equalize(load.Alpha)
	}

	// Step 1: Newton step toward equal cost, positive toward s1.
	var delta float64
	if d := d1 + d2; d > e.opts.EqualityTolerance {
		delta = step * (c2 - c1) / d
	} else if c2 > c1 {
		delta = e.totals[High]
	} else {
		delta = -e.totals[Low]
	}

	from, to := High, Low
	if delta < 0 {
		from, to, delta = Low, High, -delta
	}
	delta = math.Min(delta, e.totals[from])
	if delta <= bush.FlowEpsilon {
		return false
	}

	// Step 2: split over the bushes in proportion to their flow on the
	// side being emptied.
	for i, b := range e.pas.Bushes() {
		share := e.flows[from][i] / e.totals[from]
		if share <= 0 {
			continue
		}
		e.move(b, from, to, delta*share, load.Alpha)
	}

	e.logger.Debug("pas shifted", "pas", e.pas.id, "flow", e.moved, "c1", c1, "c2", c2)
	return e.moved > 0
}

// equalize splits every bush's flow evenly over the two sides.
func (e *FlowShiftExecutor) equalize(alpha []float64) bool {
	for i, b := range e.pas.Bushes() {
		f1, f2 := e.flows[Low][i], e.flows[High][i]
		target := (f1 + f2) / 2
		switch {
		case f2-target > bush.FlowEpsilon:
			e.move(b, High, Low, f2-target, alpha)
		case f1-target > bush.FlowEpsilon:
			e.move(b, Low, High, f1-target, alpha)
		}
	}
	e.needsEntropy = e.moved > 0
	return e.moved > 0
}

// move transfers amount, in units entering at the diverge, from one side
// of b to the other. Along a side the change on each turn is reduced by
// the acceptance factors of the segments before it.
func (e *FlowShiftExecutor) move(b *bush.Bush, from, to Side, amount float64, alpha []float64) {
	net := e.pas.net
	for _, side := range []struct {
		s      Side
		sign   float64
		remove bool
	}{{from, -1, true}, {to, 1, false}} {
		f := amount
		for _, t := range e.pas.Side(side.s) {
			if _, err := b.AddTurnSendingFlow(t, side.sign*f, side.remove); err != nil {
				e.logger.Warn("pas shift", "pas", e.pas.id, "err", err)
			}
			f *= alpha[net.Turn(t).In]
		}
	}
	e.moved += amount
}
