// Package loading is the capacity-constrained static network loading. It
// propagates bush demand with the bush splitting rates and finds, by fixed
// point iteration, the share of the flow leaving each segment that the
// downstream segments can accept.
package loading

import (
	"context"
	"math"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/azybler/sltm/pkg/bush"
	"github.com/azybler/sltm/pkg/network"
)

// Options configures the fixed point iteration.
type Options struct {
	MaxIterations         int
	Epsilon               float64 // max change of any acceptance factor
	ConservationTolerance float64 // PCU/h
}

// DefaultOptions returns the loading defaults.
func DefaultOptions() Options {
	return Options{MaxIterations: 100, Epsilon: 1e-7, ConservationTolerance: 1e-6}
}

// Tracked is anything with a diverge and a merge segment whose turn flows
// should be reported after loading.
type Tracked interface {
	Diverge() network.SegmentID
	Merge() network.SegmentID
}

// TrackingSource supplies segments to track on every load.
type TrackingSource interface {
	TrackedSegments() []network.SegmentID
}

// Result is the outcome of one loading, indexed by SegmentID.
type Result struct {
	// Alpha is the flow acceptance factor: the fraction of the flow
	// wanting to leave a segment that is accepted downstream.
	Alpha []float64
	// Inflow is the accepted flow entering each segment.
	Inflow []float64
	// Outflow is the accepted flow leaving each segment.
	Outflow []float64
	// Demand is the flow wanting to enter each segment.
	Demand []float64
	// TrackedTurns holds the accepted flow of every turn entering or
	// leaving a tracked segment.
	TrackedTurns map[network.TurnID]float64
	Iterations   int
	Converged    bool
}

// FlowAcceptanceFactor returns Alpha[s].
func (r *Result) FlowAcceptanceFactor(s network.SegmentID) float64 { return r.Alpha[s] }

// Loader runs the network loading over a set of bushes.
type Loader struct {
	net     *network.Network
	opts    Options
	logger  *log.Logger
	bushes  []*bush.Bush
	source  TrackingSource
	tracked map[network.SegmentID]struct{}
}

// New creates a Loader.
func New(net *network.Network, opts Options, logger *log.Logger) *Loader {
	return &Loader{net: net, opts: opts, logger: logger, tracked: make(map[network.SegmentID]struct{})}
}

// SetBushes sets the bushes whose demand is loaded.
func (l *Loader) SetBushes(bushes []*bush.Bush) { l.bushes = bushes }

// SetPasManager registers a source of tracked segments consulted on every load.
func (l *Loader) SetPasManager(src TrackingSource) { l.source = src }

// ActivateTrackingFor tracks the diverge and merge of p on the next
// load. Segments of the TrackingSource are tracked on every load.
func (l *Loader) ActivateTrackingFor(p Tracked) {
	l.tracked[p.Diverge()] = struct{}{}
	l.tracked[p.Merge()] = struct{}{}
}

// trackedSegments consumes the segments activated since the last load.
func (l *Loader) trackedSegments() []network.SegmentID {
	set := make(map[network.SegmentID]struct{}, len(l.tracked))
	for s := range l.tracked {
		set[s] = struct{}{}
	}
	clear(l.tracked)
	if l.source != nil {
		for _, s := range l.source.TrackedSegments() {
			set[s] = struct{}{}
		}
	}
	segs := make([]network.SegmentID, 0, len(set))
	for s := range set {
		segs = append(segs, s)
	}
	slices.Sort(segs)
	return segs
}

// Load runs the fixed point iteration. It only fails when ctx is done;
// bushes that cannot be ordered are logged and left out.
func (l *Loader) Load(ctx context.Context) (*Result, error) {
	n := l.net.NumSegments()
	alpha := make([]float64, n)
	for i := range alpha {
		alpha[i] = 1
	}

	sending := make([]float64, l.net.NumTurns())
	res := &Result{}
	skipped := make([]bool, len(l.bushes))

	for it := 1; ; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Step 1: propagate every bush with the current acceptance factors.
		clear(sending)
		for i, b := range l.bushes {
			if skipped[i] {
				continue
			}
			err := b.Propagate(alpha, func(t network.TurnID, f float64) { sending[t] += f })
			if err != nil {
				l.logger.Error("bush left out of loading", "bush", b.ID(), "err", err)
				skipped[i] = true
			}
		}

		// Step 2: node model. Each capacitated segment accepts at most its
		// capacity, and a segment's outflow is cut by its most
		// constrained downstream segment (FIFO).
		demand := make([]float64, n)
		for t, f := range sending {
			demand[l.net.Turn(network.TurnID(t)).Out] += f
		}
		phi := make([]float64, n)
		for s := range n {
			phi[s] = 1
			c := l.net.Segment(network.SegmentID(s)).Capacity
			if l.net.Segment(network.SegmentID(s)).IsPhysical() && demand[s] > c {
				phi[s] = c / demand[s]
			}
		}
		next := make([]float64, n)
		var change float64
		for s := range n {
			a := 1.0
			for _, t := range l.net.OutTurns(network.SegmentID(s)) {
				if sending[t] > 0 {
					a = math.Min(a, phi[l.net.Turn(t).Out])
				}
			}
			next[s] = a
			change = math.Max(change, math.Abs(a-alpha[s]))
		}

		res.Iterations = it
		if change <= l.opts.Epsilon {
			res.Converged = true
			break
		}
		if it >= l.opts.MaxIterations {
			l.logger.Warn("network loading did not converge", "iterations", it, "change", change)
			break
		}
		alpha = next
	}

	l.finish(res, alpha, sending)
	return res, nil
}

// finish derives the segment flows for the final acceptance factors.
func (l *Loader) finish(res *Result, alpha, sending []float64) {
	n := l.net.NumSegments()
	res.Alpha = alpha
	res.Inflow = make([]float64, n)
	res.Outflow = make([]float64, n)
	res.Demand = make([]float64, n)

	for _, b := range l.bushes {
		for _, s := range b.DemandSegments() {
			res.Inflow[s] += b.Demand(s)
			res.Demand[s] += b.Demand(s)
		}
	}
	sendingOut := make([]float64, n)
	for id, f := range sending {
		if f == 0 {
			continue
		}
		turn := l.net.Turn(network.TurnID(id))
		accepted := f * alpha[turn.In]
		sendingOut[turn.In] += f
		res.Outflow[turn.In] += accepted
		res.Inflow[turn.Out] += accepted
		res.Demand[turn.Out] += f
	}

	tracked := l.trackedSegments()
	if len(tracked) == 0 {
		return
	}
	res.TrackedTurns = make(map[network.TurnID]float64)
	for _, s := range tracked {
		for _, t := range l.net.InTurns(s) {
			res.TrackedTurns[t] = sending[t] * alpha[l.net.Turn(t).In]
		}
		for _, t := range l.net.OutTurns(s) {
			res.TrackedTurns[t] = sending[t] * alpha[s]
		}

		if kind := l.net.Segment(s).Kind; kind == network.Sink || kind == network.Source {
			continue
		}
		if diff := math.Abs(res.Inflow[s] - sendingOut[s]); diff > l.opts.ConservationTolerance*math.Max(1, res.Inflow[s]) {
			l.logger.Error("flow not conserved at tracked segment",
				"segment", l.net.SegmentLabel(s), "inflow", res.Inflow[s], "outflow", sendingOut[s])
		}
	}
}
