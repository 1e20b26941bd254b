// Package routing computes one-to-all shortest path trees over the turn
// graph of an assignment network.
package routing

import (
	"errors"
	"math"
	"slices"

	"github.com/azybler/sltm/pkg/network"
)

// ErrNoRoute is returned when a segment is not reachable from the root.
var ErrNoRoute = errors.New("no route found")

// Tree is a shortest path tree rooted at one segment. For an upstream
// search the tree is rooted at a sink and PredTurn points downstream.
type Tree struct {
	Root      network.SegmentID
	Direction network.Direction
	Dist      []float64        // by SegmentID; +Inf when unreachable
	PredTurn  []network.TurnID // by SegmentID; turn through which the search reached it
	net       *network.Network
}

// ShortestTree runs Dijkstra from root. The cost of reaching a segment is
// the cost of the segment itself, so Dist[root] is zero and every other
// label sums the costs of the segments after the root.
func ShortestTree(net *network.Network, dir network.Direction, root network.SegmentID, costs []float64) *Tree {
	n := net.NumSegments()
	tree := &Tree{
		Root:      root,
		Direction: dir,
		Dist:      make([]float64, n),
		PredTurn:  make([]network.TurnID, n),
		net:       net,
	}
	for i := range tree.Dist {
		tree.Dist[i] = math.Inf(1)
		tree.PredTurn[i] = network.NoTurn
	}
	settled := make([]bool, n)

	var pq MinHeap
	tree.Dist[root] = 0
	pq.Push(root, 0)

	for pq.Len() > 0 {
		item := pq.Pop()
		u := item.Segment
		if settled[u] {
			continue
		}
		settled[u] = true

		for _, id := range dir.Next(net, u) {
			v := dir.Head(net.Turn(id))
			nd := item.Dist + costs[v]
			if nd < tree.Dist[v] {
				tree.Dist[v] = nd
				tree.PredTurn[v] = id
				pq.Push(v, nd)
			}
		}
	}
	return tree
}

// Reachable reports whether s has a finite label.
func (t *Tree) Reachable(s network.SegmentID) bool {
	return !math.IsInf(t.Dist[s], 1)
}

// PathTo returns the turns from the root to s in traffic order.
func (t *Tree) PathTo(s network.SegmentID) ([]network.TurnID, error) {
	return t.Subpath(t.Root, s)
}

// Subpath returns the tree turns between junction and s in traffic order.
// junction must lie on the tree path from the root to s.
func (t *Tree) Subpath(junction, s network.SegmentID) ([]network.TurnID, error) {
	if !t.Reachable(s) {
		return nil, ErrNoRoute
	}
	var path []network.TurnID
	for cur := s; cur != junction; {
		id := t.PredTurn[cur]
		if id == network.NoTurn {
			return nil, ErrNoRoute
		}
		path = append(path, id)
		cur = t.Direction.Tail(t.net.Turn(id))
	}
	if !t.Direction.Inverted() {
		slices.Reverse(path)
	}
	return path, nil
}

// Segments returns the segments on the tree path from the root to s,
// starting with s.
func (t *Tree) Segments(s network.SegmentID) []network.SegmentID {
	if !t.Reachable(s) {
		return nil
	}
	segs := []network.SegmentID{s}
	for cur := s; cur != t.Root; {
		id := t.PredTurn[cur]
		if id == network.NoTurn {
			break
		}
		cur = t.Direction.Tail(t.net.Turn(id))
		segs = append(segs, cur)
	}
	return segs
}
