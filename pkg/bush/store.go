package bush

import (
	"errors"
	"math"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/azybler/sltm/pkg/network"
)

// FlowEpsilon is the flow (PCU/h) at or below which a turn counts as unused.
const FlowEpsilon = 1e-9

// ErrFlowClamped is reported when a flow update would make a turn flow
// negative and removal was not allowed.
var ErrFlowClamped = errors.New("negative turn flow clamped to zero")

// TurnFlowStore maps turns to sending flows in PCU/h.
type TurnFlowStore struct {
	flows  map[network.TurnID]float64
	logger *log.Logger
}

// NewTurnFlowStore returns an empty store.
func NewTurnFlowStore(logger *log.Logger) *TurnFlowStore {
	return &TurnFlowStore{flows: make(map[network.TurnID]float64), logger: logger}
}

// Get returns the flow on t, zero when t has no entry.
func (s *TurnFlowStore) Get(t network.TurnID) float64 { return s.flows[t] }

// Contains reports whether t has an entry.
func (s *TurnFlowStore) Contains(t network.TurnID) bool {
	_, ok := s.flows[t]
	return ok
}

// Len returns the number of entries.
func (s *TurnFlowStore) Len() int { return len(s.flows) }

// Turns returns the turns with an entry in ascending id order.
func (s *TurnFlowStore) Turns() []network.TurnID {
	turns := make([]network.TurnID, 0, len(s.flows))
	for t := range s.flows {
		turns = append(turns, t)
	}
	slices.Sort(turns)
	return turns
}

// Set overwrites the flow on t, creating the entry if needed.
func (s *TurnFlowStore) Set(t network.TurnID, flow float64) {
	if math.IsNaN(flow) {
		s.logger.Error("NaN turn flow reset to zero", "turn", t)
		flow = 0
	}
	s.flows[t] = max(flow, 0)
}

// Remove deletes the entry of t.
func (s *TurnFlowStore) Remove(t network.TurnID) { delete(s.flows, t) }

// Add changes the flow on t by delta and returns the new flow. A result at
// or below FlowEpsilon removes the entry when allowRemoval is set;
// otherwise the entry is kept and a negative result is clamped to zero
// and reported with ErrFlowClamped. A zero delta changes nothing.
func (s *TurnFlowStore) Add(t network.TurnID, delta float64, allowRemoval bool) (newFlow float64, removed bool, err error) {
	cur, exists := s.flows[t]
	if delta == 0 {
		return cur, false, nil
	}

	newFlow = cur + delta
	if math.IsNaN(newFlow) {
		s.logger.Error("NaN turn flow reset to zero", "turn", t, "previous", cur, "delta", delta)
		newFlow = 0
	}

	if newFlow <= FlowEpsilon {
		if allowRemoval {
			if exists {
				delete(s.flows, t)
			}
			return 0, exists, nil
		}
		if newFlow < -FlowEpsilon {
			s.logger.Warn("negative turn flow clamped", "turn", t, "flow", newFlow)
			err = ErrFlowClamped
		}
		newFlow = max(newFlow, 0)
	}

	s.flows[t] = newFlow
	return newFlow, false, err
}
