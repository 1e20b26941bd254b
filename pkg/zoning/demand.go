// Package zoning describes the traffic zones of a scenario, the demand
// between them and how they attach to the road network.
package zoning

import (
	"errors"
	"fmt"
)

// ErrUnknownZone is returned for demand between zones that do not exist.
var ErrUnknownZone = errors.New("unknown zone")

// Matrix is an origin-destination demand matrix in PCU/h.
type Matrix struct {
	n     int
	flows []float64
}

// NewMatrix returns an all-zero matrix over n zones.
func NewMatrix(n int) *Matrix {
	return &Matrix{n: n, flows: make([]float64, n*n)}
}

func (m *Matrix) NumZones() int { return m.n }

// Flow returns the demand from origin to destination.
func (m *Matrix) Flow(origin, destination int) float64 {
	return m.flows[origin*m.n+destination]
}

// Add adds flow to an OD pair. Flow must be non-negative.
func (m *Matrix) Add(origin, destination int, flow float64) error {
	if origin < 0 || origin >= m.n || destination < 0 || destination >= m.n {
		return fmt.Errorf("%w: %d -> %d", ErrUnknownZone, origin, destination)
	}
	if flow < 0 {
		return fmt.Errorf("negative demand %g from %d to %d", flow, origin, destination)
	}
	m.flows[origin*m.n+destination] += flow
	return nil
}

// Total returns the sum of all demand.
func (m *Matrix) Total() float64 {
	var total float64
	for _, f := range m.flows {
		total += f
	}
	return total
}
