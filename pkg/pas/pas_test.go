package pas_test

import (
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azybler/sltm/pkg/bush"
	"github.com/azybler/sltm/pkg/cost"
	"github.com/azybler/sltm/pkg/loading"
	"github.com/azybler/sltm/pkg/network"
	"github.com/azybler/sltm/pkg/network/networktest"
	"github.com/azybler/sltm/pkg/pas"
)

func quietLogger() *log.Logger { return log.New(io.Discard) }

type fixture struct {
	tr     *networktest.TwoRoutes
	b      *bush.Bush
	route1 []network.TurnID // c1 > link1 > c2
	route2 []network.TurnID // c1 > link2 > c2
}

// newFixture puts f1 on link1 and f2 on link2 of an origin bush.
func newFixture(t *testing.T, length1, length2, f1, f2 float64) *fixture {
	t.Helper()
	tr := networktest.NewTwoRoutes(length1, length2, 1, 200)
	net := tr.Net
	src, snk := net.Source(tr.Origin), net.Sink(tr.Dest)

	fx := &fixture{
		tr:     tr,
		b:      bush.New(0, net, src, false, quietLogger()),
		route1: networktest.Path(net, tr.C1, tr.Link1, tr.C2),
		route2: networktest.Path(net, tr.C1, tr.Link2, tr.C2),
	}
	fx.b.AddDemand(src, f1+f2)
	for _, leg := range []struct {
		flow float64
		link network.SegmentID
	}{{f1, tr.Link1}, {f2, tr.Link2}} {
		if leg.flow <= 0 {
			continue
		}
		for _, id := range networktest.Path(net, src, tr.C1, leg.link, tr.C2, snk) {
			_, err := fx.b.AddTurnSendingFlow(id, leg.flow, false)
			require.NoError(t, err)
		}
	}
	return fx
}

// load fakes a loading with every segment uncongested at the bush flows.
func (fx *fixture) load() *loading.Result {
	net := fx.tr.Net
	res := &loading.Result{
		Alpha:  make([]float64, net.NumSegments()),
		Inflow: make([]float64, net.NumSegments()),
	}
	for i := range res.Alpha {
		res.Alpha[i] = 1
	}
	for _, tf := range fx.b.TurnFlows() {
		res.Inflow[net.Turn(tf.Turn).Out] += tf.Flow
	}
	for _, s := range fx.b.DemandSegments() {
		res.Inflow[s] += fx.b.Demand(s)
	}
	return res
}

func (fx *fixture) costs(physical cost.Physical) []float64 {
	net := fx.tr.Net
	res := fx.load()
	costs := make([]float64, net.NumSegments())
	cost.Evaluate(net, cost.Car, physical, cost.FixedVirtual{}, res.Inflow, res.Alpha, costs, nil)
	return costs
}

func (fx *fixture) flow(link network.SegmentID) float64 {
	return fx.b.SendingFlow(networktest.Turn(fx.tr.Net, fx.tr.C1, link))
}

func TestNewValidatesSides(t *testing.T) {
	fx := newFixture(t, 10, 12, 100, 0)
	net := fx.tr.Net

	p, err := pas.New(0, net, fx.route2, fx.route1)
	require.NoError(t, err)
	assert.Equal(t, fx.tr.C1, p.Diverge())
	assert.Equal(t, fx.tr.C2, p.Merge())
	assert.Equal(t, []network.SegmentID{fx.tr.Link2}, p.Inner(pas.Low))
	assert.Equal(t, []network.SegmentID{fx.tr.Link2, fx.tr.Link1}, p.Segments())

	_, err = pas.New(0, net, nil, fx.route1)
	assert.ErrorIs(t, err, pas.ErrInvalidPas)
	_, err = pas.New(0, net, fx.route1, fx.route1)
	assert.ErrorIs(t, err, pas.ErrInvalidPas)

	snk := net.Sink(fx.tr.Dest)
	longer := networktest.Path(net, fx.tr.C1, fx.tr.Link1, fx.tr.C2, snk)
	_, err = pas.New(0, net, longer, fx.route2)
	assert.ErrorIs(t, err, pas.ErrInvalidPas)

	gapped := []network.TurnID{fx.route1[0], fx.route2[1]}
	_, err = pas.New(0, net, gapped, fx.route2)
	assert.ErrorIs(t, err, pas.ErrInvalidPas)
}

func TestCostAndEffectiveness(t *testing.T) {
	fx := newFixture(t, 10, 12, 100, 0)
	p, err := pas.New(0, fx.tr.Net, fx.route2, fx.route1)
	require.NoError(t, err)

	p.UpdateCost(fx.costs(cost.NewBPR(0.5, 1, 1)))
	assert.InDelta(t, 12, p.Cost(pas.Low), 1e-12)
	assert.InDelta(t, 12.5, p.Cost(pas.High), 1e-12)
	assert.InDelta(t, 0.5, p.ReducedCost(), 1e-12)

	opts := pas.DefaultOptions()
	assert.True(t, p.IsEffective(0.5, opts))
	assert.True(t, p.IsEffective(1, opts))
	assert.False(t, p.IsEffective(1.1, opts), "gap below half the reduced cost")

	opts.MinAbsoluteGap, opts.MinRelativeGap = 1, 0.1
	assert.False(t, p.IsEffective(0.5, opts))
	opts.MinRelativeGap = 0.01
	assert.True(t, p.IsEffective(0.5, opts))
}

func TestRegisterBush(t *testing.T) {
	fx := newFixture(t, 10, 12, 100, 0)
	p, err := pas.New(0, fx.tr.Net, fx.route2, fx.route1)
	require.NoError(t, err)

	assert.False(t, p.HasRegisteredBushes())
	assert.True(t, p.RegisterBush(fx.b))
	assert.False(t, p.RegisterBush(fx.b))
	assert.Len(t, p.Bushes(), 1)
	assert.True(t, p.IsRegistered(fx.b))

	p.RemoveAllRegisteredBushes()
	assert.False(t, p.HasRegisteredBushes())
	assert.False(t, p.IsRegistered(fx.b))
}

func TestContainsAny(t *testing.T) {
	fx := newFixture(t, 10, 12, 100, 0)
	p, err := pas.New(0, fx.tr.Net, fx.route2, fx.route1)
	require.NoError(t, err)

	assert.True(t, p.ContainsAny(map[network.SegmentID]struct{}{fx.tr.Link1: {}}))
	// Shifting never changes the flow through the end points.
	assert.False(t, p.ContainsAny(map[network.SegmentID]struct{}{fx.tr.C1: {}, fx.tr.C2: {}}))
	assert.False(t, p.ContainsAny(nil))
}

func TestManagerCreateAndFind(t *testing.T) {
	fx := newFixture(t, 10, 12, 100, 0)
	m := pas.NewManager(fx.tr.Net, false, pas.DefaultOptions(), quietLogger())

	p, err := m.CreateAndRegisterNewPas(fx.b, fx.route2, fx.route1)
	require.NoError(t, err)
	assert.True(t, p.IsRegistered(fx.b))
	assert.Equal(t, 1, m.Len())

	assert.Same(t, p, m.FindExistingPas(fx.route2, fx.route1))
	assert.Same(t, p, m.FindExistingPas(fx.route1, fx.route2))
	assert.Nil(t, m.FindExistingPas(fx.route1[:1], fx.route2[:1]))
	assert.Equal(t, []network.SegmentID{fx.tr.C1, fx.tr.C2}, m.TrackedSegments())

	_, err = m.CreateAndRegisterNewPas(fx.b, fx.route1, fx.route1)
	assert.ErrorIs(t, err, pas.ErrInvalidPas)
	assert.Equal(t, 1, m.Len())
}

func TestFindFirstSuitableExistingPas(t *testing.T) {
	fx := newFixture(t, 10, 12, 100, 0)
	m := pas.NewManager(fx.tr.Net, false, pas.DefaultOptions(), quietLogger())
	other := bush.New(1, fx.tr.Net, fx.tr.Net.Source(fx.tr.Origin), false, quietLogger())

	p, err := m.CreateAndRegisterNewPas(other, fx.route2, fx.route1)
	require.NoError(t, err)
	m.UpdateCosts(fx.costs(cost.NewBPR(0.5, 1, 1)))

	// Anchored at the merge for origin bushes.
	assert.Nil(t, m.FindFirstSuitableExistingPas(fx.b, fx.tr.C1, nil, 0.5))
	// Not worth it against a large reduced cost.
	assert.Nil(t, m.FindFirstSuitableExistingPas(fx.b, fx.tr.C2, nil, 5))
	assert.False(t, p.IsRegistered(fx.b))

	got := m.FindFirstSuitableExistingPas(fx.b, fx.tr.C2, nil, 0.5)
	assert.Same(t, p, got)
	assert.True(t, p.IsRegistered(fx.b))

	// A bush without flow on s2 gains nothing from the PAS.
	empty := bush.New(2, fx.tr.Net, fx.tr.Net.Source(fx.tr.Origin), false, quietLogger())
	assert.Nil(t, m.FindFirstSuitableExistingPas(empty, fx.tr.C2, nil, 0.5))
}

func TestManagerDestinationAnchor(t *testing.T) {
	fx := newFixture(t, 10, 12, 100, 0)
	m := pas.NewManager(fx.tr.Net, true, pas.DefaultOptions(), quietLogger())
	_, err := m.CreateAndRegisterNewPas(fx.b, fx.route2, fx.route1)
	require.NoError(t, err)
	m.UpdateCosts(fx.costs(cost.NewBPR(0.5, 1, 1)))

	assert.Nil(t, m.FindFirstSuitableExistingPas(fx.b, fx.tr.C2, nil, 0.5))
	assert.NotNil(t, m.FindFirstSuitableExistingPas(fx.b, fx.tr.C1, nil, 0.5))
}

func TestUpdateCostsSwapsSides(t *testing.T) {
	fx := newFixture(t, 10, 12, 100, 0)
	m := pas.NewManager(fx.tr.Net, false, pas.DefaultOptions(), quietLogger())

	// Registered the wrong way round.
	p, err := m.CreateAndRegisterNewPas(fx.b, fx.route1, fx.route2)
	require.NoError(t, err)
	m.UpdateCosts(fx.costs(cost.NewBPR(0.5, 1, 1)))

	assert.Equal(t, fx.route2, p.S1())
	assert.Equal(t, fx.route1, p.S2())
	assert.Greater(t, p.ReducedCost(), 0.0)
	assert.Same(t, p, m.FindExistingPas(fx.route1, fx.route2))
}

func TestSortedByReducedCostAndRemove(t *testing.T) {
	g := networktest.NewGrid(50, 1000)
	net := g.Net
	b := bush.New(0, net, net.Source(0), false, quietLogger())
	m := pas.NewManager(net, false, pas.DefaultOptions(), quietLogger())

	// Around the top-right square and around the bottom-left square.
	small, err := m.CreateAndRegisterNewPas(b,
		networktest.Path(net, g.Seg(0, 1), g.Seg(1, 4), g.Seg(4, 5), g.Seg(5, 8)),
		networktest.Path(net, g.Seg(0, 1), g.Seg(1, 2), g.Seg(2, 5), g.Seg(5, 8)))
	require.NoError(t, err)
	large, err := m.CreateAndRegisterNewPas(b,
		networktest.Path(net, g.Seg(0, 3), g.Seg(3, 6), g.Seg(6, 7), g.Seg(7, 8)),
		networktest.Path(net, g.Seg(0, 3), g.Seg(3, 4), g.Seg(4, 7), g.Seg(7, 8)))
	require.NoError(t, err)

	costs := make([]float64, net.NumSegments())
	costs[g.Seg(1, 4)], costs[g.Seg(4, 5)] = 1, 1
	costs[g.Seg(1, 2)], costs[g.Seg(2, 5)] = 1, 2
	costs[g.Seg(3, 6)], costs[g.Seg(6, 7)] = 1, 1
	costs[g.Seg(3, 4)], costs[g.Seg(4, 7)] = 1, 4
	m.UpdateCosts(costs)

	assert.InDelta(t, 1, small.ReducedCost(), 1e-12)
	assert.InDelta(t, 3, large.ReducedCost(), 1e-12)
	assert.Equal(t, []*pas.PAS{large, small}, m.SortedByReducedCost())
	assert.Equal(t, []*pas.PAS{small, large}, m.All())

	m.RemovePas(large)
	assert.Equal(t, []*pas.PAS{small}, m.SortedByReducedCost())
	assert.False(t, large.HasRegisteredBushes())
	assert.Nil(t, m.FindExistingPas(large.S1(), large.S2()))
	m.RemovePas(large)
	assert.Equal(t, 1, m.Len())
}

func TestNewPasIsPricedWithLastCosts(t *testing.T) {
	g := networktest.NewGrid(50, 1000)
	net := g.Net
	b := bush.New(0, net, net.Source(0), false, quietLogger())
	m := pas.NewManager(net, false, pas.DefaultOptions(), quietLogger())

	small, err := m.CreateAndRegisterNewPas(b,
		networktest.Path(net, g.Seg(0, 1), g.Seg(1, 4), g.Seg(4, 5), g.Seg(5, 8)),
		networktest.Path(net, g.Seg(0, 1), g.Seg(1, 2), g.Seg(2, 5), g.Seg(5, 8)))
	require.NoError(t, err)

	costs := make([]float64, net.NumSegments())
	costs[g.Seg(1, 4)], costs[g.Seg(4, 5)] = 1, 1
	costs[g.Seg(1, 2)], costs[g.Seg(2, 5)] = 1, 2
	costs[g.Seg(3, 6)], costs[g.Seg(6, 7)] = 1, 1
	costs[g.Seg(3, 4)], costs[g.Seg(4, 7)] = 1, 4
	m.UpdateCosts(costs)

	// Created after the costs were set, with its sides the wrong way round.
	cheap := networktest.Path(net, g.Seg(0, 3), g.Seg(3, 6), g.Seg(6, 7), g.Seg(7, 8))
	dear := networktest.Path(net, g.Seg(0, 3), g.Seg(3, 4), g.Seg(4, 7), g.Seg(7, 8))
	large, err := m.CreateAndRegisterNewPas(b, dear, cheap)
	require.NoError(t, err)

	assert.Equal(t, cheap, large.S1())
	assert.InDelta(t, 2, large.Cost(pas.Low), 1e-12)
	assert.InDelta(t, 5, large.Cost(pas.High), 1e-12)
	assert.InDelta(t, 3, large.ReducedCost(), 1e-12)
	assert.True(t, large.IsEffective(1, m.Options()))
	assert.Equal(t, []*pas.PAS{large, small}, m.SortedByReducedCost())
}

func TestNewPasBeforeAnyCostsIsUnpriced(t *testing.T) {
	fx := newFixture(t, 10, 12, 100, 0)
	m := pas.NewManager(fx.tr.Net, false, pas.DefaultOptions(), quietLogger())

	p, err := m.CreateAndRegisterNewPas(fx.b, fx.route1, fx.route2)
	require.NoError(t, err)
	assert.Equal(t, fx.route1, p.S1())
	assert.Zero(t, p.ReducedCost())
}

func TestFindExistingPasAndRegister(t *testing.T) {
	fx := newFixture(t, 10, 12, 100, 0)
	m := pas.NewManager(fx.tr.Net, false, pas.DefaultOptions(), quietLogger())
	other := bush.New(1, fx.tr.Net, fx.tr.Net.Source(fx.tr.Origin), false, quietLogger())

	p, err := m.CreateAndRegisterNewPas(other, fx.route2, fx.route1)
	require.NoError(t, err)

	assert.Nil(t, m.FindExistingPasAndRegister(fx.b, fx.route1[:1], fx.route2[:1]))
	assert.False(t, p.IsRegistered(fx.b))

	assert.Same(t, p, m.FindExistingPasAndRegister(fx.b, fx.route1, fx.route2))
	assert.True(t, p.IsRegistered(fx.b))
	assert.Same(t, p, m.FindExistingPasAndRegister(fx.b, fx.route2, fx.route1))
	assert.Len(t, p.Bushes(), 2)
}

func TestFindExistingPasAndRegisterConcurrently(t *testing.T) {
	fx := newFixture(t, 10, 12, 100, 0)
	net := fx.tr.Net
	m := pas.NewManager(net, false, pas.DefaultOptions(), quietLogger())
	p, err := m.CreateAndRegisterNewPas(fx.b, fx.route2, fx.route1)
	require.NoError(t, err)

	const n = 16
	bushes := make([]*bush.Bush, n)
	for i := range bushes {
		bushes[i] = bush.New(i+1, net, net.Source(fx.tr.Origin), false, quietLogger())
	}
	var wg sync.WaitGroup
	for _, b := range bushes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.FindExistingPasAndRegister(b, fx.route1, fx.route2)
			m.SortedByReducedCost()
		}()
	}
	wg.Wait()

	assert.Len(t, p.Bushes(), n+1)
	for _, b := range bushes {
		assert.True(t, p.IsRegistered(b))
	}
}
