package preview

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the preview request metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "frond").
	Namespace string

	// Subsystem is the metrics subsystem (default: "preview").
	Subsystem string

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the preview request metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Metrics holds the Prometheus collectors updated by a Handler.
type Metrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	assetBytes    prometheus.Counter
	includeErrors *prometheus.CounterVec
}

// NewMetrics registers the preview collectors with the configured registry.
//
// Metrics collected:
//   - frond_preview_requests_total: requests by kind and status code
//   - frond_preview_request_duration_seconds: routing time by kind
//   - frond_preview_in_flight_requests: requests currently being routed
//   - frond_preview_asset_bytes_total: bytes of remote assets served
//   - frond_preview_include_errors_total: template failures by reason
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := MetricsConfig{
		Namespace: "frond",
		Subsystem: "preview",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "requests_total",
			Help:      "Total number of preview requests",
		}, []string{"kind", "code"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "request_duration_seconds",
			Help:      "Preview request routing duration in seconds",
			Buckets:   config.Buckets,
		}, []string{"kind"}),

		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "in_flight_requests",
			Help:      "Number of preview requests being routed",
		}),

		assetBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "asset_bytes_total",
			Help:      "Total bytes of remote assets served",
		}),

		includeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "include_errors_total",
			Help:      "Total number of template assembly failures by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) observe(o Outcome) {
	if m == nil {
		return
	}
	kind := o.Kind.String()
	m.requests.WithLabelValues(kind, strconv.Itoa(o.Status)).Inc()
	m.duration.WithLabelValues(kind).Observe(o.Duration.Seconds())
	if o.Kind == KindAsset && o.Err == nil {
		m.assetBytes.Add(float64(o.Bytes))
	}
	if o.Kind == KindPage && o.Err != nil {
		switch label := outcomeLabel(o.Err); label {
		case "include_cycle", "include_too_deep", "include_not_found", "template_too_large":
			m.includeErrors.WithLabelValues(label).Inc()
		}
	}
}

func (m *Metrics) enter() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) leave() {
	if m != nil {
		m.inFlight.Dec()
	}
}
