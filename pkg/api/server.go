package api

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/azybler/sltm/pkg/metrics"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxConcurrent int
	CORSOrigin    string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(addr string) ServerConfig {
	return ServerConfig{
		Addr:          addr,
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		MaxConcurrent: runtime.NumCPU() * 2,
	}
}

// NewServer creates an HTTP server with all routes and middleware. The
// registry is served on /metrics and m records request metrics; both may
// be nil.
func NewServer(cfg ServerConfig, handlers *Handlers, reg *prometheus.Registry, m *metrics.Metrics, logger *log.Logger) *http.Server {
	mux := http.NewServeMux()
	sem := make(chan struct{}, max(cfg.MaxConcurrent, 1))
	mw := middleware{cfg: cfg, sem: sem, metrics: m, logger: logger}

	mux.HandleFunc("GET /api/v1/health", mw.wrap(handlers.HandleHealth))
	mux.HandleFunc("GET /api/v1/stats", mw.wrap(handlers.HandleStats))
	mux.HandleFunc("GET /api/v1/segments", mw.wrap(handlers.HandleSegments))
	mux.HandleFunc("GET /api/v1/segments/{id}", mw.wrap(handlers.HandleSegment))
	mux.HandleFunc("GET /api/v1/pas", mw.wrap(handlers.HandlePas))
	if reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// ListenAndServe starts the server and blocks until ctx is done, then
// shuts down gracefully.
func ListenAndServe(ctx context.Context, srv *http.Server, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type middleware struct {
	cfg     ServerConfig
	sem     chan struct{}
	metrics *metrics.Metrics
	logger  *log.Logger
}

// statusRecorder captures the status code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// wrap adds logging, recovery, security headers and concurrency limiting.
func (m middleware) wrap(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Security headers.
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")

		// CORS.
		if m.cfg.CORSOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", m.cfg.CORSOrigin)
		}

		// Concurrency limiter.
		select {
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
		default:
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", "")
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				m.logger.Error("handler panic", "path", r.URL.Path, "panic", p)
				writeError(rec, http.StatusInternalServerError, "internal_error", "")
			}
			elapsed := time.Since(start)
			if m.metrics != nil {
				m.metrics.ObserveRequest(r.Pattern, strconv.Itoa(rec.status), elapsed)
			}
			m.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
				"status", rec.status, "elapsed", elapsed.Round(time.Microsecond))
		}()

		handler(rec, r)
	}
}
