package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the server's Prometheus metrics and implements the
// observer hooks of the limiter, executor and audit logger.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Rate limiting
	rateLimitDecisions *prometheus.CounterVec

	// Remote command execution
	rconExecutions *prometheus.CounterVec
	rconPolls      prometheus.Histogram
	rconDuration   prometheus.Histogram

	// Audit
	auditWrites *prometheus.CounterVec
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockhaven_http_requests_total",
			Help: "Total HTTP requests by route and status code",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blockhaven_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockhaven_ratelimit_decisions_total",
			Help: "Rate limit decisions by endpoint and result",
		}, []string{"endpoint", "result"}),
		rconExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockhaven_rcon_executions_total",
			Help: "Console command executions by command and outcome",
		}, []string{"command", "outcome"}),
		rconPolls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockhaven_rcon_poll_attempts",
			Help:    "Status polls needed per console command",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		rconDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockhaven_rcon_duration_seconds",
			Help:    "Time from submission to final status of console commands",
			Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 20},
		}),
		auditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockhaven_audit_writes_total",
			Help: "Audit record writes by action and result",
		}, []string{"action", "result"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requestsTotal,
		c.requestDuration,
		c.rateLimitDecisions,
		c.rconExecutions,
		c.rconPolls,
		c.rconDuration,
		c.auditWrites,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveDecision records one rate limit decision.
func (c *Collector) ObserveDecision(endpoint string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	c.rateLimitDecisions.WithLabelValues(endpoint, result).Inc()
}

// ObserveExecution records the outcome of one console command.
func (c *Collector) ObserveExecution(command, outcome string, polls int, elapsed time.Duration) {
	c.rconExecutions.WithLabelValues(command, outcome).Inc()
	if polls > 0 {
		c.rconPolls.Observe(float64(polls))
	}
	c.rconDuration.Observe(elapsed.Seconds())
}

// ObserveAuditWrite records one audit store write.
func (c *Collector) ObserveAuditWrite(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.auditWrites.WithLabelValues(action, result).Inc()
}

// GinMiddleware records request counts and latency by matched route.
func (c *Collector) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method
		c.requestsTotal.WithLabelValues(method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
