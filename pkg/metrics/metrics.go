package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the publisher's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	publishOutcomes *prometheus.CounterVec
	policyDenials   *prometheus.CounterVec
	adapterDuration *prometheus.HistogramVec
	sweepItems      *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

func New(serviceName string) *Metrics {
	prefix := strings.ReplaceAll(serviceName, "-", "_")
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		publishOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_publish_outcomes_total",
				Help: "Per-platform publish outcomes",
			},
			[]string{"platform", "outcome"},
		),
		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_policy_denials_total",
				Help: "Publishes skipped by rate limits or paused accounts",
			},
			[]string{"platform", "reason"},
		),
		adapterDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_adapter_duration_seconds",
				Help:    "Time spent in platform adapter calls",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"platform"},
		),
		sweepItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_sweep_items_total",
				Help: "Content rows touched by periodic sweeps",
			},
			[]string{"sweep", "result"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
	}

	registry.MustRegister(
		m.publishOutcomes,
		m.policyDenials,
		m.adapterDuration,
		m.sweepItems,
		m.httpRequests,
		collectors.NewGoCollector(),
	)

	return m
}

func (m *Metrics) PublishOutcome(platform, outcome string) {
	m.publishOutcomes.WithLabelValues(platform, outcome).Inc()
}

func (m *Metrics) PolicyDenied(platform, reason string) {
	m.policyDenials.WithLabelValues(platform, reason).Inc()
}

func (m *Metrics) ObserveAdapter(platform string, d time.Duration) {
	m.adapterDuration.WithLabelValues(platform).Observe(d.Seconds())
}

func (m *Metrics) SweepItem(sweep, result string) {
	m.sweepItems.WithLabelValues(sweep, result).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware counts requests by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
