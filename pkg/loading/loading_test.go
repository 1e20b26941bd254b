package loading_test

import (
	"context"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azybler/sltm/pkg/bush"
	"github.com/azybler/sltm/pkg/loading"
	"github.com/azybler/sltm/pkg/network"
	"github.com/azybler/sltm/pkg/network/networktest"
)

func quietLogger() *log.Logger { return log.New(io.Discard) }

func addPath(t *testing.T, b *bush.Bush, flow float64, segs ...network.SegmentID) {
	t.Helper()
	for _, id := range networktest.Path(b.Network(), segs...) {
		_, err := b.AddTurnSendingFlow(id, flow, false)
		require.NoError(t, err)
	}
}

func twoRoutesBush(t *testing.T, tr *networktest.TwoRoutes, inverted bool, f1, f2 float64) *bush.Bush {
	t.Helper()
	src, snk := tr.Net.Source(tr.Origin), tr.Net.Sink(tr.Dest)
	root := src
	if inverted {
		root = snk
	}
	b := bush.New(0, tr.Net, root, inverted, quietLogger())
	b.AddDemand(src, f1+f2)
	if f1 > 0 {
		addPath(t, b, f1, src, tr.C1, tr.Link1, tr.C2, snk)
	}
	if f2 > 0 {
		addPath(t, b, f2, src, tr.C1, tr.Link2, tr.C2, snk)
	}
	return b
}

type fakePas struct{ diverge, merge network.SegmentID }

func (p fakePas) Diverge() network.SegmentID { return p.diverge }
func (p fakePas) Merge() network.SegmentID   { return p.merge }

type fakeSource []network.SegmentID

func (f fakeSource) TrackedSegments() []network.SegmentID { return f }

func TestLoadUncongested(t *testing.T) {
	for _, inverted := range []bool{false, true} {
		tr := networktest.NewTwoRoutes(10, 12, 1, 200)
		l := loading.New(tr.Net, loading.DefaultOptions(), quietLogger())
		l.SetBushes([]*bush.Bush{twoRoutesBush(t, tr, inverted, 60, 40)})

		res, err := l.Load(context.Background())
		require.NoError(t, err)
		assert.True(t, res.Converged)
		assert.Equal(t, 1, res.Iterations)
		for s := range tr.Net.NumSegments() {
			assert.Equal(t, 1.0, res.FlowAcceptanceFactor(network.SegmentID(s)))
		}
		assert.InDelta(t, 60, res.Inflow[tr.Link1], 1e-9)
		assert.InDelta(t, 40, res.Inflow[tr.Link2], 1e-9)
		assert.InDelta(t, 100, res.Inflow[tr.C2], 1e-9)
		assert.InDelta(t, 100, res.Inflow[tr.Net.Sink(tr.Dest)], 1e-9)
		assert.InDelta(t, 100, res.Outflow[tr.C1], 1e-9)
		assert.Nil(t, res.TrackedTurns)
	}
}

func TestLoadCapacityConstrained(t *testing.T) {
	tr := networktest.NewTwoRoutes(10, 12, 1, 50)
	l := loading.New(tr.Net, loading.DefaultOptions(), quietLogger())
	l.SetBushes([]*bush.Bush{twoRoutesBush(t, tr, false, 100, 0)})

	res, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 2, res.Iterations)

	// link1 can take half of what c1 wants to send, so c1 is held back.
	assert.InDelta(t, 0.5, res.Alpha[tr.C1], 1e-12)
	assert.Equal(t, 1.0, res.Alpha[tr.Link1])
	assert.InDelta(t, 100, res.Demand[tr.Link1], 1e-9)
	assert.InDelta(t, 50, res.Inflow[tr.Link1], 1e-9)
	assert.InDelta(t, 50, res.Outflow[tr.C1], 1e-9)
	assert.InDelta(t, 50, res.Inflow[tr.C2], 1e-9)
	assert.InDelta(t, 50, res.Inflow[tr.Net.Sink(tr.Dest)], 1e-9)
}

func TestLoadTracking(t *testing.T) {
	tr := networktest.NewTwoRoutes(10, 12, 1, 200)
	l := loading.New(tr.Net, loading.DefaultOptions(), quietLogger())
	l.SetBushes([]*bush.Bush{twoRoutesBush(t, tr, false, 70, 30)})
	l.ActivateTrackingFor(fakePas{diverge: tr.C1, merge: tr.C2})
	l.SetPasManager(fakeSource{tr.Link1})

	res, err := l.Load(context.Background())
	require.NoError(t, err)

	in1 := networktest.Turn(tr.Net, tr.C1, tr.Link1)
	in2 := networktest.Turn(tr.Net, tr.C1, tr.Link2)
	out1 := networktest.Turn(tr.Net, tr.Link1, tr.C2)
	out2 := networktest.Turn(tr.Net, tr.Link2, tr.C2)
	assert.InDelta(t, 70, res.TrackedTurns[in1], 1e-9)
	assert.InDelta(t, 30, res.TrackedTurns[in2], 1e-9)
	assert.InDelta(t, 70, res.TrackedTurns[out1], 1e-9)
	assert.InDelta(t, 30, res.TrackedTurns[out2], 1e-9)
}

func TestLoadTrackingLastsOneLoad(t *testing.T) {
	tr := networktest.NewTwoRoutes(10, 12, 1, 200)
	l := loading.New(tr.Net, loading.DefaultOptions(), quietLogger())
	l.SetBushes([]*bush.Bush{twoRoutesBush(t, tr, false, 70, 30)})
	l.SetPasManager(fakeSource{tr.Link1})
	in1 := networktest.Turn(tr.Net, tr.C1, tr.Link1)
	in2 := networktest.Turn(tr.Net, tr.C1, tr.Link2)

	// Activated for a PAS that is gone by the second load.
	l.ActivateTrackingFor(fakePas{diverge: tr.C1, merge: tr.C2})
	res, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, res.TrackedTurns, in2)

	res, err = l.Load(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, res.TrackedTurns, in2)
	assert.InDelta(t, 70, res.TrackedTurns[in1], 1e-9)
	assert.Len(t, res.TrackedTurns, 2)
}

func TestLoadSkipsCyclicBush(t *testing.T) {
	g := networktest.NewGrid(50, 1000)
	src, snk := g.Net.Source(0), g.Net.Sink(3)
	good := bush.New(0, g.Net, src, false, quietLogger())
	good.AddDemand(src, 100)
	route := []network.SegmentID{src, g.Net.Turn(g.Net.OutTurns(src)[0]).Out,
		g.Seg(0, 1), g.Seg(1, 2), g.Seg(2, 5), g.Seg(5, 8)}
	route = append(route, g.Net.Turn(g.Net.InTurns(snk)[0]).In, snk)
	addPath(t, good, 100, route...)

	bad := bush.New(1, g.Net, g.Seg(0, 1), false, quietLogger())
	bad.AddDemand(g.Seg(0, 1), 10)
	addPath(t, bad, 10, g.Seg(0, 1), g.Seg(1, 4), g.Seg(4, 3), g.Seg(3, 0), g.Seg(0, 1))

	l := loading.New(g.Net, loading.DefaultOptions(), quietLogger())
	l.SetBushes([]*bush.Bush{bad, good})
	res, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 100, res.Inflow[snk], 1e-9)
	assert.InDelta(t, 100, res.Inflow[g.Seg(2, 5)], 1e-9)
	assert.Zero(t, res.Inflow[g.Seg(1, 4)])
}

func TestLoadCancelled(t *testing.T) {
	tr := networktest.NewTwoRoutes(10, 12, 1, 200)
	l := loading.New(tr.Net, loading.DefaultOptions(), quietLogger())
	l.SetBushes([]*bush.Bush{twoRoutesBush(t, tr, false, 100, 0)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
