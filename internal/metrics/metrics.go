// Package metrics exports gateway events as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eventbus "github.com/hanpama/fedgraph/internal/eventbus"
	events "github.com/hanpama/fedgraph/internal/events"
)

const namespace = "fedgraph"

// Metrics contains the gateway metrics and the registry exposing them.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	PlanSteps         prometheus.Histogram
	SubgraphFetches   *prometheus.CounterVec
	SubgraphDuration  *prometheus.HistogramVec
	Compositions      *prometheus.CounterVec
	ComposedSubgraphs prometheus.Gauge
}

// New creates the metrics on a fresh registry. withRuntime adds the Go and
// process collectors.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by status code",
			},
			[]string{"code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"code"},
		),
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graphql",
				Name:      "operations_total",
				Help:      "Total number of GraphQL operations by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "graphql",
				Name:      "operation_duration_seconds",
				Help:      "GraphQL operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		PlanSteps: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "graphql",
				Name:      "plan_steps",
				Help:      "Number of fetch steps per query plan",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
			},
		),
		SubgraphFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "subgraph",
				Name:      "fetches_total",
				Help:      "Total number of subgraph requests by subgraph and outcome",
			},
			[]string{"subgraph", "outcome"},
		),
		SubgraphDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "subgraph",
				Name:      "fetch_duration_seconds",
				Help:      "Subgraph request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"subgraph"},
		),
		Compositions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "composition",
				Name:      "attempts_total",
				Help:      "Total number of composition attempts by outcome",
			},
			[]string{"outcome"},
		),
		ComposedSubgraphs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "composition",
				Name:      "subgraphs",
				Help:      "Number of subgraphs in the live supergraph",
			},
		),
	}
	m.registry.MustRegister(
		m.HTTPRequests, m.HTTPDuration,
		m.Operations, m.OperationDuration, m.PlanSteps,
		m.SubgraphFetches, m.SubgraphDuration,
		m.Compositions, m.ComposedSubgraphs,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Attach subscribes m to the global event bus.
func (m *Metrics) Attach() (detach func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
			code := strconv.Itoa(e.Status)
			m.HTTPRequests.WithLabelValues(code).Inc()
			m.HTTPDuration.WithLabelValues(code).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GraphQLFinish) {
			typ := e.OperationType
			if typ == "" {
				typ = "unknown"
			}
			m.Operations.WithLabelValues(typ, outcome(e.Err == nil && e.ErrorCount == 0)).Inc()
			m.OperationDuration.WithLabelValues(typ).Observe(e.Duration.Seconds())
			if e.Steps > 0 {
				m.PlanSteps.Observe(float64(e.Steps))
			}
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.SubgraphFetchFinish) {
			m.SubgraphFetches.WithLabelValues(e.Subgraph, outcome(e.Err == nil)).Inc()
			m.SubgraphDuration.WithLabelValues(e.Subgraph).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.CompositionFinish) {
			m.Compositions.WithLabelValues(outcome(e.Err == nil)).Inc()
			if e.Err == nil {
				m.ComposedSubgraphs.Set(float64(len(e.Subgraphs)))
			}
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
