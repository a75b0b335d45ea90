// Package metrics exposes Prometheus collectors for the query cache, the
// command dispatcher and the stub API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/pipewatch/internal/model"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "pipewatch"

// Collector owns a private registry. It satisfies query.Observer and
// dispatch.Observer.
type Collector struct {
	registry *prometheus.Registry

	CacheHits         *prometheus.CounterVec
	Fetches           *prometheus.CounterVec
	FetchDuration     *prometheus.HistogramVec
	DiscardedResults  *prometheus.CounterVec
	RunCommands       *prometheus.CounterVec
	RunCommandLatency *prometheus.HistogramVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New creates a Collector. An empty namespace uses DefaultNamespace.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "cache_hits_total",
			Help:      "Queries answered from a fresh cached value",
		}, []string{"op"}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "fetches_total",
			Help:      "Backend fetches by operation and outcome",
		}, []string{"op", "status"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of backend fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		DiscardedResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "discarded_results_total",
			Help:      "Fetch results dropped because their key was evicted",
		}, []string{"op"}),
		RunCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "run_commands_total",
			Help:      "Run trigger commands by trigger kind and outcome",
		}, []string{"kind", "status"}),
		RunCommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "run_command_duration_seconds",
			Help:      "Duration of run trigger commands in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served",
		}, []string{"method", "route", "status_code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.CacheHits,
		c.Fetches,
		c.FetchDuration,
		c.DiscardedResults,
		c.RunCommands,
		c.RunCommandLatency,
		c.HTTPRequests,
		c.HTTPDuration,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) CacheHit(op string) {
	c.CacheHits.WithLabelValues(op).Inc()
}

// FetchStarted is a no-op; fetches are counted when they finish.
func (c *Collector) FetchStarted(string) {}

func (c *Collector) FetchFinished(op string, err error, elapsed time.Duration) {
	c.Fetches.WithLabelValues(op, outcome(err)).Inc()
	c.FetchDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (c *Collector) ResultDiscarded(op string) {
	c.DiscardedResults.WithLabelValues(op).Inc()
}

func (c *Collector) RunDispatched(kind model.TriggerKind, err error, elapsed time.Duration) {
	c.RunCommands.WithLabelValues(kind.String(), outcome(err)).Inc()
	c.RunCommandLatency.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
