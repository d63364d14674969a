package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's RED metrics (rate, errors, duration).
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     *prometheus.CounterVec
	AuthFailures    *prometheus.CounterVec
}

// NewMetrics registers the gateway metrics on the default registry.
func NewMetrics(serviceName string) *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer, serviceName)
}

// NewMetricsWithRegistry registers the gateway metrics on the given
// registry. Tests pass their own registry to avoid duplicate registration.
func NewMetricsWithRegistry(reg prometheus.Registerer, serviceName string) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "Histogram of HTTP request latency",
				ConstLabels: prometheus.Labels{"service": serviceName},
				Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "gateway_rate_limited_total",
				Help:        "Total number of requests rejected by rate limiting",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"tenant"},
		),
		AuthFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "gateway_auth_failures_total",
				Help:        "Total number of rejected authentication attempts",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"path"},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.RateLimited, m.AuthFailures)
	return m
}

// Middleware records request counts and latencies per method/path/status.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		m.RequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())

		switch c.Writer.Status() {
		case 429:
			tenantID, _ := GetTenantID(c)
			m.RateLimited.WithLabelValues(tenantID).Inc()
		case 401:
			m.AuthFailures.WithLabelValues(path).Inc()
		}
	}
}
