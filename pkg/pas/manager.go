package pas

import (
	"cmp"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/azybler/sltm/pkg/bush"
	"github.com/azybler/sltm/pkg/network"
)

// Manager owns the live PASs. They are indexed by their sides and by
// their anchor: the merge segment for origin bushes and the diverge
// segment for destination bushes, which is where discovery finds them.
type Manager struct {
	mu       sync.Mutex
	net      *network.Network
	inverted bool
	opts     Options
	logger   *log.Logger

	nextID   int
	byKey    map[string]*PAS
	byAnchor map[network.SegmentID][]*PAS
	costs    []float64 // of the last UpdateCosts, prices new PASs
}

// NewManager returns an empty manager for bushes of the given direction.
func NewManager(net *network.Network, inverted bool, opts Options, logger *log.Logger) *Manager {
	return &Manager{
		net:      net,
		inverted: inverted,
		opts:     opts,
		logger:   logger,
		byKey:    make(map[string]*PAS),
		byAnchor: make(map[network.SegmentID][]*PAS),
	}
}

// Options returns the manager's PAS options.
func (m *Manager) Options() Options { return m.opts }

func (m *Manager) anchor(p *PAS) network.SegmentID {
	if m.inverted {
		return p.diverge
	}
	return p.merge
}

// Len returns the number of live PASs.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

// FindFirstSuitableExistingPas returns the first PAS anchored at v that b
// uses on its costlier side, whose cheaper side b can adopt without a
// cycle, and which is effective for reducedCost. The bush is registered
// on the match.
func (m *Manager) FindFirstSuitableExistingPas(b *bush.Bush, v network.SegmentID, alpha []float64, reducedCost float64) *PAS {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.byAnchor[v] {
		if !p.IsEffective(reducedCost, m.opts) {
			continue
		}
		if deliveredFlow(b, p.S2(), alpha) <= bush.FlowEpsilon {
			continue
		}
		if _, cyclic := b.IntroducesCycle(p.S1()); cyclic {
			continue
		}
		p.RegisterBush(b)
		return p
	}
	return nil
}

// deliveredFlow is the flow of b along path that is accepted into the
// last segment.
func deliveredFlow(b *bush.Bush, path []network.TurnID, alpha []float64) float64 {
	f := b.SubpathSendingFlow(path)
	if alpha == nil {
		return f
	}
	net := b.Network()
	for _, t := range path {
		f *= alpha[net.Turn(t).In]
	}
	return f
}

// CreateAndRegisterNewPas adds a PAS with cheaper side s1 and costlier
// side s2 and registers b on it. Once costs have been set by UpdateCosts
// the new PAS is priced with them straight away, so it ranks among the
// older ones in SortedByReducedCost.
func (m *Manager) CreateAndRegisterNewPas(b *bush.Bush, s1, s2 []network.TurnID) (*PAS, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := New(m.nextID, m.net, slices.Clone(s1), slices.Clone(s2))
	if err != nil {
		return nil, err
	}
	m.nextID++
	m.byKey[p.key()] = p
	a := m.anchor(p)
	m.byAnchor[a] = append(m.byAnchor[a], p)
	p.RegisterBush(b)
	if m.costs != nil {
		m.price(p)
	}

	m.logger.Debug("pas created", "pas", p.id, "bush", b.ID(),
		"diverge", m.net.SegmentLabel(p.diverge), "merge", m.net.SegmentLabel(p.merge))
	return p, nil
}

// FindExistingPas returns the PAS made of the sides s1 and s2, in either
// order.
func (m *Manager) FindExistingPas(s1, s2 []network.TurnID) *PAS {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byKey[sidesKey(s1, s2)]
}

// FindExistingPasAndRegister is FindExistingPas that also registers b on
// the PAS found, under the manager lock.
func (m *Manager) FindExistingPasAndRegister(b *bush.Bush, s1, s2 []network.TurnID) *PAS {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byKey[sidesKey(s1, s2)]
	if p != nil {
		p.RegisterBush(b)
	}
	return p
}

// RemovePas drops p from the indices and releases its bushes.
func (m *Manager) RemovePas(p *PAS) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byKey[p.key()] != p {
		return
	}
	delete(m.byKey, p.key())
	a := m.anchor(p)
	list := m.byAnchor[a]
	for i, q := range list {
		if q == p {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.byAnchor, a)
	} else {
		m.byAnchor[a] = list
	}
	p.RemoveAllRegisteredBushes()
}

// All returns the live PASs in creation order.
func (m *Manager) All() []*PAS {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked(func(a, b *PAS) int { return cmp.Compare(a.id, b.id) })
}

// SortedByReducedCost returns the live PASs, largest cost gap first.
func (m *Manager) SortedByReducedCost() []*PAS {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked(func(a, b *PAS) int {
		if c := cmp.Compare(b.ReducedCost(), a.ReducedCost()); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
}

func (m *Manager) sortedLocked(less func(a, b *PAS) int) []*PAS {
	out := make([]*PAS, 0, len(m.byKey))
	for _, p := range m.byKey {
		out = append(out, p)
	}
	slices.SortFunc(out, less)
	return out
}

// UpdateCosts refreshes the cost of every PAS and swaps the sides of
// those whose s1 became the costlier one. The costs are kept to price
// PASs created before the next call; the caller must not modify them
// until then.
func (m *Manager) UpdateCosts(costs []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costs = costs
	for _, p := range m.byKey {
		m.price(p)
	}
}

func (m *Manager) price(p *PAS) {
	p.UpdateCost(m.costs)
	if p.cost[Low] > p.cost[High] {
		p.swapSides()
	}
}

// TrackedSegments returns the diverge and merge segments of every PAS,
// for the network loading to report turn flows at.
func (m *Manager) TrackedSegments() []network.SegmentID {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[network.SegmentID]struct{}, 2*len(m.byKey))
	for _, p := range m.byKey {
		set[p.diverge] = struct{}{}
		set[p.merge] = struct{}{}
	}
	segs := make([]network.SegmentID, 0, len(set))
	for s := range set {
		segs = append(segs, s)
	}
	slices.Sort(segs)
	return segs
}
