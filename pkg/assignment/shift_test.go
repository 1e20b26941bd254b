package assignment

import (
	"context"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azybler/sltm/pkg/bush"
	"github.com/azybler/sltm/pkg/cost"
	"github.com/azybler/sltm/pkg/network"
	"github.com/azybler/sltm/pkg/network/networktest"
	"github.com/azybler/sltm/pkg/pas"
)

// fixedCosts charges the mapped cost on a road segment, 1 elsewhere, with
// a constant derivative.
type fixedCosts map[network.SegmentID]float64

func (f fixedCosts) SegmentCost(_ cost.Mode, _ *network.Network, s network.SegmentID, _, _ float64) float64 {
	if c, ok := f[s]; ok {
		return c
	}
	return 1
}

func (fixedCosts) SegmentDerivative(cost.Mode, *network.Network, network.SegmentID, float64, float64) float64 {
	return 0.1
}

type noDemand int

func (n noDemand) NumZones() int       { return int(n) }
func (noDemand) Flow(_, _ int) float64 { return 0 }

// shiftGrid puts 100 from the top-left to the bottom-right corner of the
// grid, half through 0-1-4-5-8 and half through 0-3-4-5-8, so both routes
// share the link 4-5.
type shiftGrid struct {
	g      *networktest.Grid
	costs  fixedCosts
	s      *Strategy
	b      *bush.Bush
	top    [2][]network.TurnID // 0-1-2-5-8 and 0-1-4-5-8
	bottom [2][]network.TurnID // 0-3-6-7-8 and 0-3-4-5-8
}

func newShiftGrid(t *testing.T) *shiftGrid {
	t.Helper()
	g := networktest.NewGrid(50, 1000)
	net := g.Net
	costs := fixedCosts{}
	opts := DefaultOptions()
	opts.Physical = costs

	src, snk := net.Source(0), net.Sink(3)
	c0 := net.Turn(net.OutTurns(src)[0]).Out
	c8 := net.Turn(net.InTurns(snk)[0]).In

	b := bush.New(0, net, src, false, log.New(io.Discard))
	b.AddDemand(src, 100)
	for _, route := range [][]network.SegmentID{
		{src, c0, g.Seg(0, 1), g.Seg(1, 4), g.Seg(4, 5), g.Seg(5, 8), c8, snk},
		{src, c0, g.Seg(0, 3), g.Seg(3, 4), g.Seg(4, 5), g.Seg(5, 8), c8, snk},
	} {
		for _, id := range networktest.Path(net, route...) {
			_, err := b.AddTurnSendingFlow(id, 50, false)
			require.NoError(t, err)
		}
	}

	s := NewStrategy(net, noDemand(net.NumZones()), opts, log.New(io.Discard))
	s.bushes = []*bush.Bush{b}
	s.loader.SetBushes(s.bushes)

	sg := &shiftGrid{g: g, costs: costs, s: s, b: b}
	sg.top[pas.Low] = networktest.Path(net, g.Seg(0, 1), g.Seg(1, 2), g.Seg(2, 5), g.Seg(5, 8))
	sg.top[pas.High] = networktest.Path(net, g.Seg(0, 1), g.Seg(1, 4), g.Seg(4, 5), g.Seg(5, 8))
	sg.bottom[pas.Low] = networktest.Path(net, g.Seg(0, 3), g.Seg(3, 6), g.Seg(6, 7), g.Seg(7, 8), c8)
	sg.bottom[pas.High] = networktest.Path(net, g.Seg(0, 3), g.Seg(3, 4), g.Seg(4, 5), g.Seg(5, 8), c8)
	return sg
}

// price loads the network and prices the live PASs as an iteration does
// before discovery.
func (sg *shiftGrid) price(t *testing.T) {
	t.Helper()
	s := sg.s
	load, err := s.loader.Load(context.Background())
	require.NoError(t, err)
	s.load = load
	cost.Evaluate(s.net, s.opts.Mode, s.opts.Physical, s.opts.Virtual, load.Inflow, load.Alpha, s.costs, s.derivs)
	s.manager.UpdateCosts(s.costs)
}

func (sg *shiftGrid) create(t *testing.T, sides [2][]network.TurnID) *pas.PAS {
	t.Helper()
	p, err := sg.s.manager.CreateAndRegisterNewPas(sg.b, sides[pas.Low], sides[pas.High])
	require.NoError(t, err)
	return p
}

func TestShiftSkipsOverlappingPas(t *testing.T) {
	sg := newShiftGrid(t)
	sg.costs[sg.g.Seg(4, 5)] = 3
	sg.costs[sg.g.Seg(3, 4)] = 2

	top := sg.create(t, sg.top)
	sg.price(t)
	// Found after the costs were set, as discovery does.
	bottom := sg.create(t, sg.bottom)

	assert.InDelta(t, 2, top.ReducedCost(), 1e-12)
	assert.InDelta(t, 3, bottom.ReducedCost(), 1e-12)
	require.Equal(t, []*pas.PAS{bottom, top}, sg.s.manager.SortedByReducedCost())

	shifted, skipped, removed := sg.s.shift(map[*pas.PAS]struct{}{bottom: {}})
	assert.Equal(t, 1, shifted)
	assert.Equal(t, 1, skipped)
	assert.Zero(t, removed)
	assert.Equal(t, 2, sg.s.manager.Len())

	// 3 / (0.3 + 0.3) moved off the bottom square; top untouched.
	assert.InDelta(t, 45, sg.b.SubpathSendingFlow(bottom.S2()), 1e-9)
	assert.InDelta(t, 5, sg.b.SubpathSendingFlow(bottom.S1()), 1e-9)
	assert.InDelta(t, 50, sg.b.SubpathSendingFlow(top.S2()), 1e-9)
	assert.Zero(t, sg.b.SubpathSendingFlow(top.S1()))
}

func TestShiftEqualizesOverlappingPas(t *testing.T) {
	sg := newShiftGrid(t)
	sg.costs[sg.g.Seg(4, 5)] = 3
	sg.costs[sg.g.Seg(3, 4)] = 2
	sg.costs[sg.g.Seg(1, 2)] = 3

	top := sg.create(t, sg.top)
	bottom := sg.create(t, sg.bottom)
	sg.price(t)
	assert.Zero(t, top.ReducedCost())

	shifted, skipped, removed := sg.s.shift(nil)
	assert.Equal(t, 2, shifted)
	assert.Zero(t, skipped)
	assert.Zero(t, removed)

	assert.InDelta(t, 45, sg.b.SubpathSendingFlow(bottom.S2()), 1e-9)
	assert.InDelta(t, 25, sg.b.SubpathSendingFlow(top.S1()), 1e-9)
	assert.InDelta(t, 25, sg.b.SubpathSendingFlow(top.S2()), 1e-9)
	assert.Equal(t, 1, sg.s.EntropyPending())
}

func TestShiftRemovesDeadPas(t *testing.T) {
	sg := newShiftGrid(t)
	sg.costs[sg.g.Seg(3, 6)] = 2
	sg.price(t)

	// Priced on creation: the bottom square's unused side is the costlier
	// one, so no flow is left to move. The top square only equalizes.
	top := sg.create(t, sg.top)
	bottom := sg.create(t, sg.bottom)
	require.Equal(t, sg.bottom[pas.High], bottom.S1())
	assert.InDelta(t, 1, bottom.ReducedCost(), 1e-12)

	shifted, skipped, removed := sg.s.shift(map[*pas.PAS]struct{}{top: {}, bottom: {}})
	assert.Equal(t, 1, shifted)
	assert.Zero(t, skipped)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []*pas.PAS{top}, sg.s.manager.All())
	assert.False(t, bottom.HasRegisteredBushes())
	assert.InDelta(t, 25, sg.b.SubpathSendingFlow(top.S1()), 1e-9)
}
