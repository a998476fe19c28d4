// Package metrics exposes Prometheus metrics for the relay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meshrelay"

// Collector owns a private registry so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	predictionsCreated *prometheus.CounterVec
	predictionsFailed  *prometheus.CounterVec
	predictionStatus   *prometheus.CounterVec
	uploadBytes        prometheus.Histogram
	cacheLookups       *prometheus.CounterVec
	idempotentReplays  prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c := &Collector{registry: reg}

	c.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	c.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	c.predictionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_created_total",
			Help:      "Predictions submitted to the provider",
		},
		[]string{"model"},
	)
	c.predictionsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_errors_total",
			Help:      "Prediction submissions or fetches that returned an error, by kind",
		},
		[]string{"operation", "kind"},
	)
	c.predictionStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_terminal_total",
			Help:      "Predictions observed reaching a terminal status",
		},
		[]string{"model", "status"},
	)
	c.uploadBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upload_size_bytes",
		Help:      "Size of relayed input uploads",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
	})
	c.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_cache_lookups_total",
			Help:      "Result cache lookups by outcome",
		},
		[]string{"result"},
	)
	c.idempotentReplays = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "idempotent_replays_total",
		Help:      "Submissions answered from an earlier Idempotency-Key",
	})

	reg.MustRegister(
		c.httpRequestsTotal,
		c.httpRequestDuration,
		c.predictionsCreated,
		c.predictionsFailed,
		c.predictionStatus,
		c.uploadBytes,
		c.cacheLookups,
		c.idempotentReplays,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) PredictionCreated(model string) {
	if c == nil {
		return
	}
	c.predictionsCreated.WithLabelValues(model).Inc()
}

func (c *Collector) PredictionError(operation, kind string) {
	if c == nil {
		return
	}
	c.predictionsFailed.WithLabelValues(operation, kind).Inc()
}

func (c *Collector) PredictionTerminal(model, status string) {
	if c == nil {
		return
	}
	c.predictionStatus.WithLabelValues(model, status).Inc()
}

func (c *Collector) UploadStored(size int64) {
	if c == nil {
		return
	}
	c.uploadBytes.Observe(float64(size))
}

func (c *Collector) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

func (c *Collector) IdempotentReplay() {
	if c == nil {
		return
	}
	c.idempotentReplays.Inc()
}
