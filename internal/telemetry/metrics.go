// Package telemetry exposes engine and HTTP metrics to prometheus and serves
// them, together with a health probe, over a small chi router.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/solatis/cascade/internal/rules"
	"github.com/solatis/cascade/internal/types"
)

// Metrics owns a private registry so tests and embedded engines do not
// collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	resolves    *prometheus.CounterVec
	resolveDur  *prometheus.HistogramVec
	passes      *prometheus.HistogramVec
	exhaustions *prometheus.CounterVec
	ruleCount   *prometheus.GaugeVec

	httpReqs *prometheus.CounterVec
	httpDur  *prometheus.HistogramVec

	grpcReqs *prometheus.CounterVec
	grpcDur  *prometheus.HistogramVec
}

var _ rules.Observer = (*Metrics)(nil)

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		resolves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_resolves_total",
				Help: "Total rule set resolutions",
			},
			[]string{"mode", "converged"},
		),
		resolveDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cascade_resolve_duration_seconds",
				Help:    "Rule set resolution duration in seconds",
				Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
			},
			[]string{"mode"},
		),
		passes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cascade_resolve_passes",
				Help:    "Cascade passes per resolution",
				Buckets: []float64{1, 2, 3, 5, 10, 25, 50, 100},
			},
			[]string{"mode"},
		),
		exhaustions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_pass_budget_exhausted_total",
				Help: "Resolutions that stopped without reaching a fixed point",
			},
			[]string{"mode"},
		),
		ruleCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cascade_last_rule_count",
				Help: "Rule count of the most recent resolution",
			},
			[]string{"mode"},
		),
		httpReqs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		grpcReqs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grpc_requests_total",
				Help: "Total gRPC requests",
			},
			[]string{"method", "code"},
		),
		grpcDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grpc_request_duration_seconds",
				Help:    "gRPC request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	m.registry.MustRegister(
		m.resolves, m.resolveDur, m.passes, m.exhaustions, m.ruleCount,
		m.httpReqs, m.httpDur,
		m.grpcReqs, m.grpcDur,
	)
	return m
}

// Registry returns the registry backing /metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveResolve records one engine resolution.
func (m *Metrics) ObserveResolve(mode rules.Mode, ruleCount int, state types.DerivedState, elapsed time.Duration) {
	label := string(mode)
	m.resolves.WithLabelValues(label, strconv.FormatBool(state.Converged)).Inc()
	m.resolveDur.WithLabelValues(label).Observe(elapsed.Seconds())
	m.passes.WithLabelValues(label).Observe(float64(state.Passes))
	m.ruleCount.WithLabelValues(label).Set(float64(ruleCount))
	if !state.Converged {
		m.exhaustions.WithLabelValues(label).Inc()
	}
}
