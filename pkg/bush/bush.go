// Package bush implements bushes: acyclic sets of used turns rooted at an
// origin source segment or a destination sink segment, carrying the
// unlabelled turn sending flows of the demand that belongs to the root.
package bush

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/azybler/sltm/pkg/network"
)

var (
	// ErrCycle is returned when the bush turns do not form a DAG.
	ErrCycle = errors.New("bush contains a cycle")
	// ErrNoReconnection is returned when a backward search in the bush
	// finds no labelled segment.
	ErrNoReconnection = errors.New("no reconnection point in bush")
)

// Bush is the per-root state of the assignment. It is not safe for
// concurrent use; callers give each bush to one goroutine at a time.
type Bush struct {
	id     int
	net    *network.Network
	dir    network.Direction
	root   network.SegmentID
	flows  *TurnFlowStore
	demand map[network.SegmentID]float64
	logger *log.Logger

	dirty bool
	order []network.SegmentID // traffic-direction topological order
}

// New creates an empty bush. An inverted bush is rooted at a destination
// sink segment and collects the demand of many origins.
func New(id int, net *network.Network, root network.SegmentID, inverted bool, logger *log.Logger) *Bush {
	return &Bush{
		id:     id,
		net:    net,
		dir:    network.DirectionFor(inverted),
		root:   root,
		flows:  NewTurnFlowStore(logger),
		demand: make(map[network.SegmentID]float64),
		logger: logger,
		dirty:  true,
	}
}

func (b *Bush) ID() int { return b.id }
func (b *Bush) Root() network.SegmentID { return b.root }
func (b *Bush) Inverted() bool { return b.dir.Inverted() }
func (b *Bush) Direction() network.Direction { return b.dir }
func (b *Bush) Network() *network.Network { return b.net }
func (b *Bush) NumTurns() int { return b.flows.Len() }
func (b *Bush) ContainsTurn(t network.TurnID) bool { return b.flows.Contains(t) }
func (b *Bush) SendingFlow(t network.TurnID) float64 { return b.flows.Get(t) }

// AddDemand adds demand entering the network at a source segment.
func (b *Bush) AddDemand(source network.SegmentID, flow float64) {
	b.demand[source] += flow
	b.dirty = true
}

// Demand returns the demand injected at s.
func (b *Bush) Demand(s network.SegmentID) float64 { return b.demand[s] }

// TotalDemand sums the demand over all sources.
func (b *Bush) TotalDemand() float64 {
	var total float64
	for _, d := range b.demand {
		total += d
	}
	return total
}

// HasDemand reports whether any demand is attached to the bush.
func (b *Bush) HasDemand() bool { return b.TotalDemand() > 0 }

// DemandSegments returns the source segments carrying demand, sorted.
func (b *Bush) DemandSegments() []network.SegmentID {
	segs := make([]network.SegmentID, 0, len(b.demand))
	for s, d := range b.demand {
		if d > 0 {
			segs = append(segs, s)
		}
	}
	slices.Sort(segs)
	return segs
}

// AddTurnSendingFlow changes the sending flow of t by delta and returns
// the new flow. Inserting a turn whose reverse is already in the bush is
// allowed but logged, since it may introduce a cycle.
func (b *Bush) AddTurnSendingFlow(t network.TurnID, delta float64, allowRemoval bool) (float64, error) {
	existed := b.flows.Contains(t)
	if !existed && delta > 0 {
		if rt, ok := b.net.ReverseTurn(t); ok && b.flows.Contains(rt) {
			b.logger.Warn("adding turn whose reverse is in the bush",
				"bush", b.id, "turn", b.net.TurnLabel(t))
		}
	}

	flow, removed, err := b.flows.Add(t, delta, allowRemoval)
	if removed || (!existed && b.flows.Contains(t)) {
		b.dirty = true
	}
	if err != nil {
		return flow, fmt.Errorf("bush %d turn %s: %w", b.id, b.net.TurnLabel(t), err)
	}
	return flow, nil
}

// RemoveTurn drops t from the bush.
func (b *Bush) RemoveTurn(t network.TurnID) {
	if b.flows.Contains(t) {
		b.flows.Remove(t)
		b.dirty = true
	}
}

// outflow sums the sending flows of the bush turns leaving s.
func (b *Bush) outflow(s network.SegmentID) (total float64, used int) {
	for _, t := range b.net.OutTurns(s) {
		if f, ok := b.flows.flows[t]; ok {
			total += f
			used++
		}
	}
	return total, used
}

// SplittingRate returns the share of the flow leaving t.In that takes t.
// It is computed from the current flows on every call.
func (b *Bush) SplittingRate(t network.TurnID) float64 {
	f, ok := b.flows.flows[t]
	if !ok {
		return 0
	}
	total, _ := b.outflow(b.net.Turn(t).In)
	if total <= 0 {
		return 0
	}
	return f / total
}

// SplittingRates returns the splitting rates at s aligned with
// network.OutTurns(s). They sum to one, or are all zero when no flow
// leaves s in this bush.
func (b *Bush) SplittingRates(s network.SegmentID) []float64 {
	outs := b.net.OutTurns(s)
	rates := make([]float64, len(outs))
	total, _ := b.outflow(s)
	if total <= 0 {
		return rates
	}
	for i, t := range outs {
		rates[i] = b.flows.Get(t) / total
	}
	return rates
}

// Segments returns the segments touched by the bush, sorted.
func (b *Bush) Segments() []network.SegmentID {
	seen := map[network.SegmentID]struct{}{b.root: {}}
	for s := range b.demand {
		seen[s] = struct{}{}
	}
	for t := range b.flows.flows {
		turn := b.net.Turn(t)
		seen[turn.In] = struct{}{}
		seen[turn.Out] = struct{}{}
	}
	segs := make([]network.SegmentID, 0, len(seen))
	for s := range seen {
		segs = append(segs, s)
	}
	slices.Sort(segs)
	return segs
}

// TopologicalOrder returns the bush segments in traffic-direction
// topological order. The order is cached until the bush changes shape.
func (b *Bush) TopologicalOrder() ([]network.SegmentID, error) {
	if !b.dirty && b.order != nil {
		return b.order, nil
	}

	segs := b.Segments()
	indeg := make(map[network.SegmentID]int, len(segs))
	for t := range b.flows.flows {
		indeg[b.net.Turn(t).Out]++
	}

	queue := make([]network.SegmentID, 0, len(segs))
	for _, s := range segs {
		if indeg[s] == 0 {
			queue = append(queue, s)
		}
	}

	order := make([]network.SegmentID, 0, len(segs))
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		order = append(order, s)
		for _, t := range b.net.OutTurns(s) {
			if !b.flows.Contains(t) {
				continue
			}
			out := b.net.Turn(t).Out
			indeg[out]--
			if indeg[out] == 0 {
				queue = append(queue, out)
			}
		}
	}

	if len(order) != len(segs) {
		b.order = nil
		return nil, fmt.Errorf("bush %d: %w (%d of %d segments ordered)", b.id, ErrCycle, len(order), len(segs))
	}
	b.order = order
	b.dirty = false
	return order, nil
}

// searchOrder is the topological order in search direction.
func (b *Bush) searchOrder() ([]network.SegmentID, error) {
	order, err := b.TopologicalOrder()
	if err != nil || !b.dir.Inverted() {
		return order, err
	}
	rev := slices.Clone(order)
	slices.Reverse(rev)
	return rev, nil
}

// propagate pushes the bush demand through the bush in topological order.
// At each segment the splitting rates are captured before any of its turn
// flows are touched; visit then receives the sending flow of every bush
// turn. Flow accepted into the next segment is scaled by alpha of the
// segment it leaves. When write is set the sending flows are stored.
func (b *Bush) propagate(alpha []float64, write bool, visit func(t network.TurnID, sending float64)) error {
	order, err := b.TopologicalOrder()
	if err != nil {
		return err
	}

	inflow := make(map[network.SegmentID]float64, len(order))
	for s, d := range b.demand {
		inflow[s] += d
	}

	var used []network.TurnID
	var rates []float64
	for _, s := range order {
		in := inflow[s]

		// Phase 1: capture rates.
		used, rates = used[:0], rates[:0]
		var total float64
		for _, t := range b.net.OutTurns(s) {
			if f, ok := b.flows.flows[t]; ok {
				used = append(used, t)
				rates = append(rates, f)
				total += f
			}
		}
		if len(used) == 0 {
			continue
		}
		for i := range rates {
			if total > 0 {
				rates[i] /= total
			} else {
				rates[i] = 1 / float64(len(rates))
			}
		}

		// Phase 2: overwrite.
		a := 1.0
		if alpha != nil {
			a = alpha[s]
		}
		for i, t := range used {
			sending := in * rates[i]
			if write {
				b.flows.Set(t, sending)
			}
			if visit != nil {
				visit(t, sending)
			}
			inflow[b.net.Turn(t).Out] += sending * a
		}
	}
	return nil
}

// Propagate reports the sending flow of every bush turn implied by the
// bush demand, the current splitting rates and the flow acceptance
// factors, without changing the bush.
func (b *Bush) Propagate(alpha []float64, visit func(t network.TurnID, sending float64)) error {
	return b.propagate(alpha, false, visit)
}

// UpdateTurnFlows overwrites the turn sending flows with the flows implied
// by the current splitting rates and the flow acceptance factors.
func (b *Bush) UpdateTurnFlows(alpha []float64) error {
	return b.propagate(alpha, true, nil)
}

// TurnFlow is one entry of a bush.
type TurnFlow struct {
	Turn network.TurnID
	Flow float64
}

// TurnFlows lists the bush entries in ascending turn order.
func (b *Bush) TurnFlows() []TurnFlow {
	turns := b.flows.Turns()
	out := make([]TurnFlow, len(turns))
	for i, t := range turns {
		out[i] = TurnFlow{Turn: t, Flow: b.flows.Get(t)}
	}
	return out
}

// SubpathSendingFlow returns the flow, in units entering at the first
// turn, that follows the whole path: the sending flow of the first turn
// times the splitting rates of the rest. It is zero if any turn is not in
// the bush.
func (b *Bush) SubpathSendingFlow(path []network.TurnID) float64 {
	if len(path) == 0 {
		return 0
	}
	flow, ok := b.flows.flows[path[0]]
	if !ok {
		return 0
	}
	for _, t := range path[1:] {
		if flow <= 0 {
			return 0
		}
		flow *= b.SplittingRate(t)
	}
	return flow
}

// Labels are the minimum and maximum path costs from the bush root to
// every bush segment, along any bush turn and along used turns
// respectively. Unreachable segments hold +Inf and -Inf.
type Labels struct {
	Min, Max         []float64
	MinPred, MaxPred []network.TurnID
}

// ComputeMinMaxPaths labels the bush segments in search order using the
// given segment costs.
func (b *Bush) ComputeMinMaxPaths(costs []float64) (*Labels, error) {
	order, err := b.searchOrder()
	if err != nil {
		return nil, err
	}

	n := b.net.NumSegments()
	l := &Labels{
		Min:     make([]float64, n),
		Max:     make([]float64, n),
		MinPred: make([]network.TurnID, n),
		MaxPred: make([]network.TurnID, n),
	}
	for i := range n {
		l.Min[i], l.Max[i] = math.Inf(1), math.Inf(-1)
		l.MinPred[i], l.MaxPred[i] = network.NoTurn, network.NoTurn
	}
	l.Min[b.root], l.Max[b.root] = 0, 0

	for _, s := range order {
		if s == b.root {
			continue
		}
		for _, t := range b.dir.Prev(b.net, s) {
			f, ok := b.flows.flows[t]
			if !ok {
				continue
			}
			u := b.dir.Tail(b.net.Turn(t))
			if c := l.Min[u] + costs[s]; c < l.Min[s] {
				l.Min[s], l.MinPred[s] = c, t
			}
			if f > FlowEpsilon && !math.IsInf(l.Max[u], -1) {
				if c := l.Max[u] + costs[s]; c > l.Max[s] {
					l.Max[s], l.MaxPred[s] = c, t
				}
			}
		}
	}
	return l, nil
}

// FindAlternativeSubpath searches the used bush turns from ref toward the
// root, breadth first, for the first segment labelled -1. It returns that
// junction and the bush turns between the junction and ref in traffic
// order.
func (b *Bush) FindAlternativeSubpath(ref network.SegmentID, labels map[network.SegmentID]int8) (network.SegmentID, []network.TurnID, error) {
	visited := map[network.SegmentID]bool{ref: true}
	via := make(map[network.SegmentID]network.TurnID)
	queue := []network.SegmentID{ref}

	for len(queue) > 0 {
		x := queue[0]
		queue = queue[1:]
		for _, t := range b.dir.Prev(b.net, x) {
			if b.flows.Get(t) <= FlowEpsilon {
				continue
			}
			y := b.dir.Tail(b.net.Turn(t))
			if labels[y] == -1 {
				path := []network.TurnID{t}
				for cur := x; cur != ref; {
					id := via[cur]
					path = append(path, id)
					cur = b.dir.Head(b.net.Turn(id))
				}
				if b.dir.Inverted() {
					slices.Reverse(path)
				}
				return y, path, nil
			}
			if visited[y] {
				continue
			}
			visited[y] = true
			via[y] = t
			queue = append(queue, y)
		}
	}
	return network.NoSegment, nil, fmt.Errorf("bush %d at %s: %w", b.id, b.net.SegmentLabel(ref), ErrNoReconnection)
}

// IntroducesCycle reports the first candidate turn whose insertion would
// close a cycle with the bush turns and the other candidates.
func (b *Bush) IntroducesCycle(candidate []network.TurnID) (network.TurnID, bool) {
	extra := make(map[network.TurnID]struct{}, len(candidate))
	for _, t := range candidate {
		if !b.flows.Contains(t) {
			extra[t] = struct{}{}
		}
	}

	for _, t := range candidate {
		if b.flows.Contains(t) {
			continue
		}
		if rt, ok := b.net.ReverseTurn(t); ok && b.flows.Contains(rt) {
			return t, true
		}
		turn := b.net.Turn(t)
		if b.reaches(turn.Out, turn.In, extra) {
			return t, true
		}
	}
	return network.NoTurn, false
}

// reaches runs a depth-first search in traffic direction over the bush
// turns plus extra.
func (b *Bush) reaches(from, to network.SegmentID, extra map[network.TurnID]struct{}) bool {
	visited := map[network.SegmentID]bool{from: true}
	stack := []network.SegmentID{from}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if s == to {
			return true
		}
		for _, t := range b.net.OutTurns(s) {
			if _, ok := extra[t]; !ok && !b.flows.Contains(t) {
				continue
			}
			if out := b.net.Turn(t).Out; !visited[out] {
				visited[out] = true
				stack = append(stack, out)
			}
		}
	}
	return false
}

// String renders the bush for debugging.
func (b *Bush) String() string {
	var sb strings.Builder
	kind := "origin"
	if b.dir.Inverted() {
		kind = "destination"
	}
	fmt.Fprintf(&sb, "bush %d (%s, root %s, demand %.3f, %d turns)\n",
		b.id, kind, b.net.SegmentLabel(b.root), b.TotalDemand(), b.flows.Len())
	for _, tf := range b.TurnFlows() {
		fmt.Fprintf(&sb, "  %s: %.6f (rate %.4f)\n", b.net.TurnLabel(tf.Turn), tf.Flow, b.SplittingRate(tf.Turn))
	}
	return sb.String()
}
