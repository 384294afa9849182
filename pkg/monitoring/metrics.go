package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector owns the HTTP metrics for a service.
type MetricsCollector struct {
	serviceName string
	registerer  prometheus.Registerer
	gatherer    prometheus.Gatherer

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	activeConnections   prometheus.Gauge
	serviceInfo         *prometheus.GaugeVec
}

// NewMetricsCollector registers with the default Prometheus registry.
func NewMetricsCollector(serviceName, version, commit string) *MetricsCollector {
	return NewMetricsCollectorWithRegistry(serviceName, version, commit, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func NewMetricsCollectorWithRegistry(serviceName, version, commit string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *MetricsCollector {
	// Prometheus names cannot carry hyphens
	sanitized := strings.ReplaceAll(serviceName, "-", "_")

	mc := &MetricsCollector{
		serviceName: sanitized,
		registerer:  reg,
		gatherer:    gatherer,
	}

	mc.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: sanitized + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	mc.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    sanitized + "_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	mc.activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: sanitized + "_active_connections",
			Help: "Number of active connections",
		},
	)
	mc.serviceInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: sanitized + "_service_info",
			Help: "Service information",
		},
		[]string{"version", "commit"},
	)

	reg.MustRegister(mc.httpRequestsTotal, mc.httpRequestDuration, mc.activeConnections, mc.serviceInfo)
	mc.serviceInfo.WithLabelValues(version, commit).Set(1)

	return mc
}

// MetricsMiddleware records request counts and latency by route template.
func (mc *MetricsCollector) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		mc.activeConnections.Inc()
		defer mc.activeConnections.Dec()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())

		mc.httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		mc.httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(mc.gatherer, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
