// Package assignment drives the bush based equilibration: it loads the
// network, prices it, synchronises the bushes, discovers PASs and shifts
// flow along them until the duality gap closes.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/azybler/sltm/pkg/bush"
	"github.com/azybler/sltm/pkg/cost"
	"github.com/azybler/sltm/pkg/loading"
	"github.com/azybler/sltm/pkg/network"
	"github.com/azybler/sltm/pkg/pas"
	"github.com/azybler/sltm/pkg/routing"
)

var (
	// ErrIterationFailed wraps a panic raised inside an iteration.
	ErrIterationFailed = errors.New("assignment iteration failed")
	// ErrNoDemand is returned when no OD pair has positive demand.
	ErrNoDemand = errors.New("no demand to assign")
)

// Demand is an origin-destination matrix over the network zones, in PCU/h.
type Demand interface {
	NumZones() int
	Flow(origin, destination int) float64
}

// IterationResult summarises one iteration.
type IterationResult struct {
	Iteration         int
	Gap               float64
	Converged         bool
	LoadingIterations int
	LivePas           int
	NewPas            int
	MatchedPas        int
	Shifted           int
	Skipped           int // overlapping PASs left for the next iteration
	Removed           int
	EntropyPending    int
	Duration          time.Duration
}

// Strategy is the iteration driver.
type Strategy struct {
	net    *network.Network
	demand Demand
	opts   Options
	logger *log.Logger

	bushes  []*bush.Bush
	manager *pas.Manager
	loader  *loading.Loader

	load    *loading.Result
	costs   []float64
	derivs  []float64
	gap     DualityGap
	entropy map[*pas.PAS]struct{}

	iteration int
	history   []IterationResult

	// OnIteration, when set, is called after every completed iteration.
	OnIteration func(IterationResult)
}

// NewStrategy returns a driver for demand on net. Options are validated
// by Run.
func NewStrategy(net *network.Network, demand Demand, opts Options, logger *log.Logger) *Strategy {
	s := &Strategy{
		net:     net,
		demand:  demand,
		opts:    opts,
		logger:  logger,
		manager: pas.NewManager(net, opts.Inverted, opts.Pas, logger),
		loader:  loading.New(net, opts.Loading, logger),
		costs:   make([]float64, net.NumSegments()),
		derivs:  make([]float64, net.NumSegments()),
		entropy: make(map[*pas.PAS]struct{}),
	}
	s.loader.SetPasManager(s.manager)
	return s
}

func (s *Strategy) Network() *network.Network { return s.net }
func (s *Strategy) Bushes() []*bush.Bush      { return s.bushes }
func (s *Strategy) Manager() *pas.Manager     { return s.manager }
func (s *Strategy) Options() Options          { return s.opts }

// Costs returns the segment costs of the last iteration.
func (s *Strategy) Costs() []float64 { return s.costs }

// LastLoad returns the network loading of the last iteration.
func (s *Strategy) LastLoad() *loading.Result { return s.load }

// History returns the completed iterations.
func (s *Strategy) History() []IterationResult { return s.history }

// EntropyPending returns the number of PASs whose split was still being
// redistributed in the last iteration.
func (s *Strategy) EntropyPending() int { return len(s.entropy) }

// InitialiseBushes creates one bush per zone and loads it with the
// demand along free-flow shortest paths. Zones without demand keep an
// empty bush so bush indices match zone indices.
func (s *Strategy) InitialiseBushes() error {
	n := s.net.NumZones()
	if s.demand.NumZones() != n {
		return fmt.Errorf("demand has %d zones, network has %d", s.demand.NumZones(), n)
	}

	inflow := make([]float64, s.net.NumSegments())
	alpha := make([]float64, s.net.NumSegments())
	for i := range alpha {
		alpha[i] = 1
	}
	free := make([]float64, s.net.NumSegments())
	cost.Evaluate(s.net, s.opts.Mode, s.opts.Physical, s.opts.Virtual, inflow, alpha, free, nil)

	dir := network.DirectionFor(s.opts.Inverted)
	s.bushes = make([]*bush.Bush, n)
	var total float64
	for zone := range n {
		root := s.net.Source(zone)
		if s.opts.Inverted {
			root = s.net.Sink(zone)
		}
		b := bush.New(zone, s.net, root, s.opts.Inverted, s.logger)
		s.bushes[zone] = b

		tree := routing.ShortestTree(s.net, dir, root, free)
		for other := range n {
			origin, dest := zone, other
			if s.opts.Inverted {
				origin, dest = other, zone
			}
			flow := s.demand.Flow(origin, dest)
			if origin == dest || flow <= 0 {
				continue
			}
			end := s.net.Sink(dest)
			if s.opts.Inverted {
				end = s.net.Source(origin)
			}
			path, err := tree.PathTo(end)
			if err != nil {
				s.logger.Warn("demand dropped", "origin", origin, "destination", dest, "flow", flow, "err", err)
				continue
			}
			b.AddDemand(s.net.Source(origin), flow)
			for _, t := range path {
				if _, err := b.AddTurnSendingFlow(t, flow, false); err != nil {
					return err
				}
			}
			total += flow
		}
	}
	if total <= 0 {
		return ErrNoDemand
	}
	s.loader.SetBushes(s.bushes)
	s.logger.Info("bushes initialised", "bushes", n, "demand", total, "inverted", s.opts.Inverted)
	return nil
}

// Run initialises the bushes and iterates until convergence, the
// iteration limit, or cancellation of ctx, which is checked between
// iterations.
func (s *Strategy) Run(ctx context.Context) (*Result, error) {
	if err := s.opts.Validate(); err != nil {
		return nil, err
	}
	if err := s.InitialiseBushes(); err != nil {
		return nil, err
	}

	converged := false
	for !converged && s.iteration < s.opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return s.Result(), err
		}
		ir, err := s.PerformIteration(ctx)
		if err != nil {
			s.logger.Error("assignment aborted", "iteration", s.iteration, "err", err)
			return s.Result(), err
		}
		s.logger.Info("iteration", "n", ir.Iteration, "gap", ir.Gap, "pas", ir.LivePas,
			"new", ir.NewPas, "shifted", ir.Shifted, "elapsed", ir.Duration.Round(time.Millisecond))
		converged = ir.Converged
	}
	if !converged {
		s.logger.Warn("assignment did not converge", "iterations", s.iteration, "gap", s.gap.Value())
	}
	return s.Result(), nil
}

// PerformIteration runs one equilibration iteration. A panic inside the
// iteration is returned as ErrIterationFailed.
func (s *Strategy) PerformIteration(ctx context.Context) (ir IterationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("iteration panic", "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrIterationFailed, r)
		}
	}()

	start := time.Now()
	s.iteration++
	ir.Iteration = s.iteration
	mode, physical, virtual := s.opts.Mode, s.opts.Physical, s.opts.Virtual

	// Step 1: load the network with the current splitting rates.
	for _, p := range s.manager.All() {
		s.loader.ActivateTrackingFor(p)
	}
	load, err := s.loader.Load(ctx)
	if err != nil {
		return ir, err
	}
	s.load = load
	ir.LoadingIterations = load.Iterations

	// Step 2: costs and the duality gap over the live PASs.
	cost.Evaluate(s.net, mode, physical, virtual, load.Inflow, load.Alpha, s.costs, s.derivs)
	s.manager.UpdateCosts(s.costs)
	s.gap.Reset()
	for _, p := range s.manager.All() {
		e := pas.NewFlowShiftExecutor(p, s.opts.Pas, s.logger)
		e.Initialise()
		s.gap.Add(p.Cost(pas.Low), e.Flow(pas.Low), p.Cost(pas.High), e.Flow(pas.High))
	}
	ir.Gap = s.gap.Value()

	// Step 3: synchronise the bush flows with what the network accepted.
	if err := s.eachBush(ctx, func(b *bush.Bush) {
		if err := b.UpdateTurnFlows(load.Alpha); err != nil {
			s.logger.Error("bush not synchronised", "bush", b.ID(), "err", err)
		}
	}); err != nil {
		return ir, err
	}

	// Step 4: PAS discovery.
	created, matched, err := s.discover(ctx)
	if err != nil {
		return ir, err
	}
	ir.NewPas, ir.MatchedPas = len(created), matched

	// Step 5: shift flow, most attractive PAS first.
	ir.Shifted, ir.Skipped, ir.Removed = s.shift(created)
	ir.LivePas = s.manager.Len()
	ir.EntropyPending = len(s.entropy)

	// Step 6: convergence.
	ir.Converged = ir.Gap < s.opts.GapEpsilon && ir.NewPas == 0 &&
		(!s.opts.RequireEntropyConvergence || ir.EntropyPending == 0)
	ir.Duration = time.Since(start)

	s.history = append(s.history, ir)
	if s.OnIteration != nil {
		s.OnIteration(ir)
	}
	return ir, nil
}

// eachBush runs fn on every bush with demand, at most Workers at a time.
func (s *Strategy) eachBush(ctx context.Context, fn func(b *bush.Bush)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.opts.Workers))
	for _, b := range s.bushes {
		if !b.HasDemand() {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(b)
			return nil
		})
	}
	return g.Wait()
}

// discover labels every bush and its network shortest path tree in
// parallel, then matches or creates PASs bush by bush. It returns the
// PASs created.
func (s *Strategy) discover(ctx context.Context) (map[*pas.PAS]struct{}, int, error) {
	type search struct {
		labels *bush.Labels
		tree   *routing.Tree
	}
	searches := make([]search, len(s.bushes))
	err := s.eachBush(ctx, func(b *bush.Bush) {
		labels, err := b.ComputeMinMaxPaths(s.costs)
		if err != nil {
			s.logger.Error("bush skipped in pas discovery", "bush", b.ID(), "err", err)
			return
		}
		searches[b.ID()] = search{
			labels: labels,
			tree:   routing.ShortestTree(s.net, b.Direction(), b.Root(), s.costs),
		}
	})
	if err != nil {
		return nil, 0, err
	}

	created := make(map[*pas.PAS]struct{})
	matched := 0
	for i, b := range s.bushes {
		if searches[i].labels == nil {
			continue
		}
		for _, v := range b.Segments() {
			switch p, isNew := s.discoverAt(b, v, searches[i].labels, searches[i].tree); {
			case p == nil:
			case isNew:
				created[p] = struct{}{}
			default:
				matched++
			}
		}
	}
	return created, matched, nil
}

// discoverAt looks for a PAS at v that lets b move flow from its costliest
// used path onto the network shortest path.
func (s *Strategy) discoverAt(b *bush.Bush, v network.SegmentID, labels *bush.Labels, tree *routing.Tree) (*pas.PAS, bool) {
	if v == b.Root() || !tree.Reachable(v) || math.IsInf(labels.Max[v], -1) {
		return nil, false
	}
	reduced := labels.Max[v] - tree.Dist[v]
	if reduced <= s.opts.Pas.MinAbsoluteGap {
		return nil, false
	}
	sp := tree.PredTurn[v]
	if sp == network.NoTurn || b.ContainsTurn(sp) {
		return nil, false
	}
	if rt, ok := s.net.ReverseTurn(sp); ok && b.ContainsTurn(rt) {
		return nil, false
	}

	if p := s.manager.FindFirstSuitableExistingPas(b, v, s.load.Alpha, reduced); p != nil {
		return p, false
	}

	marks := make(map[network.SegmentID]int8)
	for _, seg := range tree.Segments(v) {
		marks[seg] = -1
	}
	marks[v] = 1
	junction, s2, err := b.FindAlternativeSubpath(v, marks)
	if err != nil {
		s.logger.Warn("no pas at segment", "bush", b.ID(), "segment", s.net.SegmentLabel(v), "err", err)
		return nil, false
	}
	s1, err := tree.Subpath(junction, v)
	if err != nil {
		s.logger.Warn("no pas at segment", "bush", b.ID(), "segment", s.net.SegmentLabel(v), "err", err)
		return nil, false
	}
	if t, cyclic := b.IntroducesCycle(s1); cyclic {
		s.logger.Debug("pas candidate would close a cycle", "bush", b.ID(), "turn", s.net.TurnLabel(t))
		return nil, false
	}

	if p := s.manager.FindExistingPasAndRegister(b, s1, s2); p != nil {
		return p, false
	}
	p, err := s.manager.CreateAndRegisterNewPas(b, s1, s2)
	if err != nil {
		s.logger.Warn("pas not created", "bush", b.ID(), "segment", s.net.SegmentLabel(v), "err", err)
		return nil, false
	}
	return p, true
}

// shift runs the flow shift on every live PAS in descending order of
// reduced cost. A PAS touching a segment already shifted this iteration
// waits for the next one unless it only equalizes. Dead PASs and new
// PASs that moved nothing are removed.
func (s *Strategy) shift(created map[*pas.PAS]struct{}) (shifted, skipped, removed int) {
	mode, physical, virtual := s.opts.Mode, s.opts.Physical, s.opts.Virtual
	used := make(map[network.SegmentID]struct{})

	for _, p := range s.manager.SortedByReducedCost() {
		e := pas.NewFlowShiftExecutor(p, s.opts.Pas, s.logger)
		e.Initialise()

		moved := false
		switch {
		case e.Flow(pas.High) <= bush.FlowEpsilon:
		case p.ContainsAny(used) && !e.Equivalent(mode, physical, virtual, s.load):
			skipped++
			continue
		default:
			moved = e.Run(mode, physical, virtual, s.load, s.opts.StepFactor)
			if e.NeedsEntropy() {
				s.entropy[p] = struct{}{}
			} else {
				delete(s.entropy, p)
			}
			if moved && !e.IsEqualizing() {
				for _, seg := range p.Segments() {
					used[seg] = struct{}{}
				}
			}
		}
		if moved {
			shifted++
			e.Initialise()
		}

		_, isNew := created[p]
		if e.Flow(pas.High) <= bush.FlowEpsilon || !p.HasRegisteredBushes() || (isNew && !moved) {
			s.manager.RemovePas(p)
			delete(s.entropy, p)
			removed++
		}
	}
	return shifted, skipped, removed
}
