package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hivewarden-like/idpguard/internal/ports"
)

// PrometheusCollector implements ports.MetricsCollector, registering one
// CounterVec/HistogramVec/GaugeVec at construction, each labelled by
// metric name, so callers can pass arbitrary names without
// pre-declaring them.
type PrometheusCollector struct {
	registry  *prometheus.Registry
	counters  *prometheus.CounterVec
	timers    *prometheus.HistogramVec
	gauges    *prometheus.GaugeVec
}

// NewPrometheusCollector registers its vectors against registry.
func NewPrometheusCollector(registry *prometheus.Registry) *PrometheusCollector {
	counters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idpguard",
		Name:      "events_total",
		Help:      "Count of named idpguard events.",
	}, []string{"name"})
	timers := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "idpguard",
		Name:      "operation_duration_seconds",
		Help:      "Duration of named idpguard operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"name"})
	gauges := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "idpguard",
		Name:      "gauge",
		Help:      "Current value of named idpguard gauges.",
	}, []string{"name"})

	registry.MustRegister(counters, timers, gauges)

	return &PrometheusCollector{registry: registry, counters: counters, timers: timers, gauges: gauges}
}

func (p *PrometheusCollector) RecordCounter(name string, n float64) {
	p.counters.WithLabelValues(name).Add(n)
}

func (p *PrometheusCollector) RecordTimer(name string, d time.Duration) {
	p.timers.WithLabelValues(name).Observe(d.Seconds())
}

func (p *PrometheusCollector) RecordGauge(name string, v float64) {
	p.gauges.WithLabelValues(name).Set(v)
}

var _ ports.MetricsCollector = (*PrometheusCollector)(nil)
