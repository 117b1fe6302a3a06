package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	obscontext "github.com/smallbiznis/greenhouse/internal/observability/context"
)

// HTTPMetrics records requests and latency per endpoint. API routes report
// under their sensor data operation, other routes under their path.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics registers the HTTP collectors on registerer.
func NewHTTPMetrics(registerer prometheus.Registerer, cfg Config) (*HTTPMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)
	if cfg.StorageBackend != "" {
		labels["backend"] = cfg.StorageBackend
	}

	requests, err := registerCollector(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "greenhouse_http_requests_total",
		Help:        "HTTP requests by endpoint and status code.",
		ConstLabels: labels,
	}, []string{"endpoint", "status_code"}))
	if err != nil {
		return nil, err
	}
	duration, err := registerCollector(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "greenhouse_http_request_duration_seconds",
		Help:        "HTTP request latency by endpoint.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		ConstLabels: labels,
	}, []string{"endpoint"}))
	if err != nil {
		return nil, err
	}
	return &HTTPMetrics{requests: requests, duration: duration}, nil
}

// GinMiddleware observes every request after the handler chain finishes.
func (m *HTTPMetrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		endpoint := obscontext.OperationFromContext(c.Request.Context())
		if endpoint == "" {
			endpoint = c.FullPath()
		}
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.requests.WithLabelValues(endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func constLabels(cfg Config) prometheus.Labels {
	labels := prometheus.Labels{"service": "greenhouse", "env": "unknown"}
	if cfg.ServiceName != "" {
		labels["service"] = cfg.ServiceName
	}
	if cfg.Environment != "" {
		labels["env"] = cfg.Environment
	}
	return labels
}

// registerCollector returns the collector already registered under the same
// descriptor, so building the collectors twice in one process is harmless.
func registerCollector[T prometheus.Collector](registerer prometheus.Registerer, collector T) (T, error) {
	err := registerer.Register(collector)
	if err == nil {
		return collector, nil
	}
	if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return collector, err
}
