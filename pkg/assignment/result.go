package assignment

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/azybler/sltm/pkg/network"
)

// SegmentFlow is the loaded state of one segment.
type SegmentFlow struct {
	Segment  network.SegmentID `json:"segment"`
	Label    string            `json:"label"`
	Kind     string            `json:"kind"`
	Link     int32             `json:"link"`
	Capacity float64           `json:"capacity"` // zero when unconstrained
	Inflow   float64           `json:"inflow"`
	Outflow  float64           `json:"outflow"`
	Alpha    float64           `json:"alpha"`
	Cost     float64           `json:"cost_hours"`
}

// Result is the outcome of a run.
type Result struct {
	Iterations     int               `json:"iterations"`
	Converged      bool              `json:"converged"`
	Gap            float64           `json:"gap"`
	LivePas        int               `json:"live_pas"`
	EntropyPending int               `json:"entropy_pending"`
	History        []IterationResult `json:"history"`
	Segments       []SegmentFlow     `json:"segments"`
}

// Result collects the state of the last iteration.
func (s *Strategy) Result() *Result {
	r := &Result{
		Iterations:     s.iteration,
		LivePas:        s.manager.Len(),
		EntropyPending: len(s.entropy),
		History:        s.history,
	}
	if n := len(s.history); n > 0 {
		r.Converged = s.history[n-1].Converged
		r.Gap = s.history[n-1].Gap
	}
	if s.load == nil {
		return r
	}
	r.Segments = make([]SegmentFlow, s.net.NumSegments())
	for i := range r.Segments {
		id := network.SegmentID(i)
		seg := s.net.Segment(id)
		capacity := seg.Capacity
		if math.IsInf(capacity, 1) {
			capacity = 0
		}
		r.Segments[i] = SegmentFlow{
			Segment:  id,
			Label:    s.net.SegmentLabel(id),
			Kind:     seg.Kind.String(),
			Link:     seg.Link,
			Capacity: capacity,
			Inflow:   s.load.Inflow[i],
			Outflow:  s.load.Outflow[i],
			Alpha:    s.load.Alpha[i],
			Cost:     s.costs[i],
		}
	}
	return r
}

// WriteCSV writes the physical segment flows.
func (r *Result) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"segment", "link", "capacity", "inflow", "outflow", "alpha", "cost_hours"}); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	for _, sf := range r.Segments {
		if sf.Kind != network.Physical.String() {
			continue
		}
		err := cw.Write([]string{
			strconv.Itoa(int(sf.Segment)), strconv.Itoa(int(sf.Link)),
			f(sf.Capacity), f(sf.Inflow), f(sf.Outflow), f(sf.Alpha), f(sf.Cost),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
