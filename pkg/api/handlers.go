package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/azybler/sltm/pkg/assignment"
	"github.com/azybler/sltm/pkg/network"
)

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	net   *network.Network
	store *Store
}

// NewHandlers creates handlers reading from store.
func NewHandlers(net *network.Network, store *Store) *Handlers {
	return &Handlers{net: net, store: store}
}

// HandleHealth handles GET /api/v1/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	state, _, _ := h.store.Snapshot()
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", State: state})
}

// HandleStats handles GET /api/v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	state, res, _ := h.store.Snapshot()
	resp := StatsResponse{
		NumSegments: h.net.NumSegments(),
		NumTurns:    h.net.NumTurns(),
		NumZones:    h.net.NumZones(),
		State:       state,
	}
	if res != nil {
		resp.Iterations = res.Iterations
		resp.Converged = res.Converged
		resp.Gap = res.Gap
		resp.LivePas = res.LivePas
		resp.EntropyPending = res.EntropyPending
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSegments handles GET /api/v1/segments. Optional query parameters:
// kind (physical, connectoid, source, sink) and max_alpha, which keeps only
// segments whose flow acceptance factor is at or below it.
func (h *Handlers) HandleSegments(w http.ResponseWriter, r *http.Request) {
	_, res, _ := h.store.Snapshot()
	if res == nil || res.Segments == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "")
		return
	}

	q := r.URL.Query()
	kind := q.Get("kind")
	switch kind {
	case "", "physical", "connectoid", "source", "sink":
	default:
		writeError(w, http.StatusBadRequest, "invalid_parameter", "kind")
		return
	}
	maxAlpha := math.Inf(1)
	if v := q.Get("max_alpha"); v != "" {
		a, err := parseFraction(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_parameter", "max_alpha")
			return
		}
		maxAlpha = a
	}

	resp := SegmentsResponse{Iteration: res.Iterations, Segments: []assignment.SegmentFlow{}}
	for _, sf := range res.Segments {
		if kind != "" && sf.Kind != kind {
			continue
		}
		if sf.Alpha > maxAlpha {
			continue
		}
		resp.Segments = append(resp.Segments, sf)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSegment handles GET /api/v1/segments/{id}.
func (h *Handlers) HandleSegment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "id")
		return
	}
	_, res, _ := h.store.Snapshot()
	if res == nil || res.Segments == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "")
		return
	}
	if id >= uint64(len(res.Segments)) {
		writeError(w, http.StatusNotFound, "segment_not_found", "id")
		return
	}
	writeJSON(w, http.StatusOK, res.Segments[id])
}

// HandlePas handles GET /api/v1/pas.
func (h *Handlers) HandlePas(w http.ResponseWriter, r *http.Request) {
	_, res, pas := h.store.Snapshot()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "")
		return
	}
	if pas == nil {
		pas = []PasJSON{}
	}
	writeJSON(w, http.StatusOK, PasResponse{Iteration: res.Iterations, Pas: pas})
}

func parseFraction(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || f < 0 || f > 1 {
		return 0, errors.New("fraction out of range")
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, field string) {
	writeJSON(w, status, ErrorResponse{Error: code, Field: field})
}
