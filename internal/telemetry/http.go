package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether a dependency (usually the database) is usable.
type HealthCheck func(ctx context.Context) error

// healthTimeout bounds a single health probe.
const healthTimeout = 2 * time.Second

// Router serves /healthz and /metrics.
func (m *Metrics) Router(check HealthCheck) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(req.Context(), healthTimeout)
			defer cancel()
			if err := check(ctx); err != nil {
				http.Error(w, "unavailable: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))

	return r
}

// Middleware records request counts and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		// pattern is only known after routing
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		m.httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		m.httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Server wraps the metrics router in an http.Server bound to addr.
func (m *Metrics) Server(addr string, check HealthCheck) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           m.Router(check),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
