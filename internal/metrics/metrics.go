package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/boxes"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "boxboard"

const unmatchedRoute = "unmatched"

// Metrics holds the application collectors and the registry they are exposed from.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	boxEvents     *prometheus.CounterVec
	linkOutcomes  *prometheus.CounterVec
	rateLimited   prometheus.Counter
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	sseSubscriber prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
		boxEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "boxes",
			Name:      "events_total",
			Help:      "Box mutations by kind.",
		}, []string{"kind"}),
		linkOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discord",
			Name:      "link_outcomes_total",
			Help:      "Discord link callbacks by outcome code.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discord",
			Name:      "rate_limited_total",
			Help:      "Discord auth requests rejected by the rate limiter.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs.",
		}, []string{"job", "success"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_run_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"job"}),
		sseSubscriber: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Open box event streams.",
		}),
	}
	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.boxEvents,
		m.linkOutcomes,
		m.rateLimited,
		m.jobRuns,
		m.jobDuration,
		m.sseSubscriber,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := strings.ToUpper(c.Request.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// Publish counts a box event. Metrics satisfies boxes.Notifier.
func (m *Metrics) Publish(event boxes.BoxEvent) {
	m.boxEvents.WithLabelValues(string(event.Kind)).Inc()
}

// RecordLinkOutcome counts a Discord callback result; "linked" marks success.
func (m *Metrics) RecordLinkOutcome(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.linkOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRateLimited counts a rejected Discord auth request.
func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

// RecordJobRun records one scheduled job execution.
func (m *Metrics) RecordJobRun(job string, duration time.Duration, success bool) {
	if job == "" {
		job = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	m.jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// SubscriberOpened and SubscriberClosed track open event streams.
func (m *Metrics) SubscriberOpened() {
	m.sseSubscriber.Inc()
}

func (m *Metrics) SubscriberClosed() {
	m.sseSubscriber.Dec()
}
