package routing_test

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azybler/sltm/pkg/network"
	"github.com/azybler/sltm/pkg/network/networktest"
	"github.com/azybler/sltm/pkg/routing"
)

func TestMinHeapOrdersByDist(t *testing.T) {
	var h routing.MinHeap
	rng := rand.New(rand.NewPCG(1, 2))
	var want []float64
	for i := range 200 {
		d := rng.Float64() * 100
		want = append(want, d)
		h.Push(network.SegmentID(i), d)
	}
	slices.Sort(want)

	for _, d := range want {
		assert.Equal(t, d, h.Pop().Dist)
	}
	assert.Zero(t, h.Len())
}

func freeFlowCosts(net *network.Network) []float64 {
	costs := make([]float64, net.NumSegments())
	for i := range costs {
		costs[i] = net.FreeFlowHours(network.SegmentID(i), 0)
	}
	return costs
}

func TestShortestTreeDownstream(t *testing.T) {
	tr := networktest.NewTwoRoutes(10, 12, 1, 200)
	net := tr.Net
	src, snk := net.Source(tr.Origin), net.Sink(tr.Dest)

	tree := routing.ShortestTree(net, network.Downstream, src, freeFlowCosts(net))

	assert.Zero(t, tree.Dist[src])
	assert.InDelta(t, 10, tree.Dist[tr.Link1], 1e-12)
	assert.InDelta(t, 12, tree.Dist[tr.Link2], 1e-12)
	assert.InDelta(t, 10, tree.Dist[snk], 1e-12)

	path, err := tree.PathTo(snk)
	require.NoError(t, err)
	assert.Equal(t, networktest.Path(net, src, tr.C1, tr.Link1, tr.C2, snk), path)

	sub, err := tree.Subpath(tr.C1, tr.C2)
	require.NoError(t, err)
	assert.Equal(t, networktest.Path(net, tr.C1, tr.Link1, tr.C2), sub)

	assert.Equal(t, []network.SegmentID{tr.C2, tr.Link1, tr.C1, src}, tree.Segments(tr.C2))

	// The origin's own sink is behind a centroid and cannot be reached.
	assert.False(t, tree.Reachable(net.Sink(tr.Origin)))
	_, err = tree.PathTo(net.Sink(tr.Origin))
	assert.ErrorIs(t, err, routing.ErrNoRoute)
}

func TestShortestTreeUpstream(t *testing.T) {
	tr := networktest.NewTwoRoutes(12, 10, 1, 200)
	net := tr.Net
	src, snk := net.Source(tr.Origin), net.Sink(tr.Dest)

	tree := routing.ShortestTree(net, network.Upstream, snk, freeFlowCosts(net))

	assert.Zero(t, tree.Dist[snk])
	assert.InDelta(t, 10, tree.Dist[tr.C1], 1e-12)
	assert.InDelta(t, 10, tree.Dist[src], 1e-12)

	// Paths come back in traffic order even though the search ran upstream.
	path, err := tree.PathTo(src)
	require.NoError(t, err)
	assert.Equal(t, networktest.Path(net, src, tr.C1, tr.Link2, tr.C2, snk), path)

	sub, err := tree.Subpath(tr.C2, tr.C1)
	require.NoError(t, err)
	assert.Equal(t, networktest.Path(net, tr.C1, tr.Link2, tr.C2), sub)
}

func TestShortestTreeTiesKeepFirstRelaxed(t *testing.T) {
	tr := networktest.NewTwoRoutes(10, 10, 1, 200)
	net := tr.Net
	tree := routing.ShortestTree(net, network.Downstream, net.Source(tr.Origin), freeFlowCosts(net))

	assert.Equal(t, networktest.Turn(net, tr.Link1, tr.C2), tree.PredTurn[tr.C2])
}

func TestShortestTreeOnGrid(t *testing.T) {
	g := networktest.NewGrid(60, 1000)
	net := g.Net
	tree := routing.ShortestTree(net, network.Downstream, net.Source(0), freeFlowCosts(net))

	// Opposite corner: four 1 km links at 60 km/h.
	assert.InDelta(t, 4.0/60, tree.Dist[net.Sink(3)], 1e-12)
	path, err := tree.PathTo(net.Sink(3))
	require.NoError(t, err)
	// src > connectoid > four links > connectoid > sink is eight segments
	// joined by seven turns.
	require.Len(t, path, 7)
	assert.Equal(t, net.Source(0), net.Turn(path[0]).In)
	assert.Equal(t, net.Sink(3), net.Turn(path[6]).Out)
}
