package api

import (
	"github.com/azybler/sltm/pkg/assignment"
	"github.com/azybler/sltm/pkg/network"
	"github.com/azybler/sltm/pkg/pas"
)

// ErrorResponse is the JSON response for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// StatsResponse is the JSON response for GET /api/v1/stats.
type StatsResponse struct {
	NumSegments    int     `json:"num_segments"`
	NumTurns       int     `json:"num_turns"`
	NumZones       int     `json:"num_zones"`
	State          string  `json:"state"`
	Iterations     int     `json:"iterations"`
	Converged      bool    `json:"converged"`
	Gap            float64 `json:"gap"`
	LivePas        int     `json:"live_pas"`
	EntropyPending int     `json:"entropy_pending"`
}

// HealthResponse is the JSON response for GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

// SegmentsResponse is the JSON response for GET /api/v1/segments.
type SegmentsResponse struct {
	Iteration int                      `json:"iteration"`
	Segments  []assignment.SegmentFlow `json:"segments"`
}

// PasJSON describes one live PAS.
type PasJSON struct {
	ID          int      `json:"id"`
	Cheap       []string `json:"cheap"`
	Expensive   []string `json:"expensive"`
	CheapCost   float64  `json:"cheap_cost_hours"`
	CostlyCost  float64  `json:"expensive_cost_hours"`
	ReducedCost float64  `json:"reduced_cost_hours"`
	Bushes      int      `json:"bushes"`
}

// PasResponse is the JSON response for GET /api/v1/pas.
type PasResponse struct {
	Iteration int       `json:"iteration"`
	Pas       []PasJSON `json:"pas"`
}

// SummarizePas describes every live PAS of m, most attractive first.
// Call it between iterations.
func SummarizePas(net *network.Network, m *pas.Manager) []PasJSON {
	all := m.SortedByReducedCost()
	out := make([]PasJSON, len(all))
	for i, p := range all {
		out[i] = PasJSON{
			ID:          p.ID(),
			Cheap:       turnLabels(net, p.S1()),
			Expensive:   turnLabels(net, p.S2()),
			CheapCost:   p.Cost(pas.Low),
			CostlyCost:  p.Cost(pas.High),
			ReducedCost: p.ReducedCost(),
			Bushes:      len(p.Bushes()),
		}
	}
	return out
}

func turnLabels(net *network.Network, turns []network.TurnID) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = net.TurnLabel(t)
	}
	return out
}
