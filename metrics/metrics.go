// Package metrics exposes Prometheus instrumentation for question answering
// runs and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all metrics on its own registry, so several collectors can
// coexist in one process (tests, embedded use). A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	graphRows     prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector creates a collector under namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Question answering runs by terminal outcome",
		},
		[]string{"outcome"},
	)

	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each chain stage in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	stageErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Failed stage invocations",
		},
		[]string{"stage"},
	)

	graphRows := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_rows",
			Help:      "Rows returned by graph queries before truncation",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	registry.MustRegister(
		runs,
		stageDuration,
		stageErrors,
		graphRows,
		httpRequests,
		httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Collector{
		registry:      registry,
		runs:          runs,
		stageDuration: stageDuration,
		stageErrors:   stageErrors,
		graphRows:     graphRows,
		httpRequests:  httpRequests,
		httpDuration:  httpDuration,
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RecordRun(outcome string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordStage(stage string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if err != nil {
		c.stageErrors.WithLabelValues(stage).Inc()
	}
}

func (c *Collector) RecordGraphRows(n int) {
	if c == nil {
		return
	}
	c.graphRows.Observe(float64(n))
}

func (c *Collector) RecordHTTP(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
