// Package metrics exposes assignment progress and API traffic as
// Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/azybler/sltm/pkg/assignment"
)

const namespace = "sltm"

// Metrics holds every collector. Create one per registry.
type Metrics struct {
	Iterations        prometheus.Counter
	Gap               prometheus.Gauge
	LivePas           prometheus.Gauge
	EntropyPending    prometheus.Gauge
	Converged         prometheus.Gauge
	PasEvents         *prometheus.CounterVec
	LoadingIterations prometheus.Histogram
	IterationDuration prometheus.Histogram

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Iterations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "iterations_total",
			Help:      "Completed equilibration iterations",
		}),
		Gap: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "relative_gap",
			Help:      "Relative duality gap of the last iteration",
		}),
		LivePas: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "live_pas",
			Help:      "PASs held by the manager",
		}),
		EntropyPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "entropy_pending_pas",
			Help:      "PASs whose split was redistributed in the last iteration",
		}),
		Converged: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "converged",
			Help:      "1 once the run has converged",
		}),
		PasEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pas",
			Name:      "events_total",
			Help:      "PAS lifecycle events by kind",
		}, []string{"event"}),
		LoadingIterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loading",
			Name:      "iterations",
			Help:      "Fixed point iterations per network loading",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50, 100},
		}),
		IterationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "iteration_duration_seconds",
			Help:      "Wall time per equilibration iteration",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route and status code",
		}, []string{"route", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Observe records one iteration. It fits Strategy.OnIteration.
func (m *Metrics) Observe(r assignment.IterationResult) {
	m.Iterations.Inc()
	m.Gap.Set(r.Gap)
	m.LivePas.Set(float64(r.LivePas))
	m.EntropyPending.Set(float64(r.EntropyPending))
	if r.Converged {
		m.Converged.Set(1)
	} else {
		m.Converged.Set(0)
	}
	m.PasEvents.WithLabelValues("created").Add(float64(r.NewPas))
	m.PasEvents.WithLabelValues("matched").Add(float64(r.MatchedPas))
	m.PasEvents.WithLabelValues("shifted").Add(float64(r.Shifted))
	m.PasEvents.WithLabelValues("skipped").Add(float64(r.Skipped))
	m.PasEvents.WithLabelValues("removed").Add(float64(r.Removed))
	m.LoadingIterations.Observe(float64(r.LoadingIterations))
	m.IterationDuration.Observe(r.Duration.Seconds())
}

// ObserveRequest records one API request.
func (m *Metrics) ObserveRequest(route, code string, d time.Duration) {
	m.Requests.WithLabelValues(route, code).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}
