package api

import (
	"sync"

	"github.com/azybler/sltm/pkg/assignment"
)

// Run states reported by the API.
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StateConverged = "converged"
	StateStopped   = "stopped"
	StateFailed    = "failed"
)

// Store holds the latest published assignment state. The assignment
// goroutine publishes, handlers read.
type Store struct {
	mu     sync.RWMutex
	state  string
	result *assignment.Result
	pas    []PasJSON
}

// NewStore returns an idle store.
func NewStore() *Store {
	return &Store{state: StateIdle}
}

// Publish replaces the snapshot. The result must not be modified afterwards.
func (s *Store) Publish(r *assignment.Result, pas []PasJSON) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result, s.pas = r, pas
	switch {
	case r.Converged:
		s.state = StateConverged
	case s.state == StateIdle:
		s.state = StateRunning
	}
}

// SetState overrides the run state.
func (s *Store) SetState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Snapshot returns the current state and the last published result, nil
// before the first publish.
func (s *Store) Snapshot() (string, *assignment.Result, []PasJSON) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.result, s.pas
}
