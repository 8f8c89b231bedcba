package registry

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "tenantrouter"
	subsystem = "registry"
)

// Metrics tracks connection handle lifecycle.
type Metrics struct {
	HandlesOpen          prometheus.Gauge
	Constructions        prometheus.Counter
	ConstructionFailures prometheus.Counter
	Invalidations        *prometheus.CounterVec
	AcquireDuration      prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		HandlesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handles_open",
			Help:      "Number of tenant connection handles currently registered",
		}),
		Constructions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "constructions_total",
			Help:      "Number of tenant connection handles built",
		}),
		ConstructionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "construction_failures_total",
			Help:      "Number of failed tenant connection handle builds",
		}),
		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "invalidations_total",
			Help:      "Number of handles removed from the registry, by reason",
		}, []string{"reason"}),
		AcquireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "acquire_duration_seconds",
			Help:      "Histogram of time spent acquiring a tenant handle",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 5, 8),
		}),
	}
}

// PrometheusCollectors satisfies the prometheus collector set used by the server.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.HandlesOpen,
		m.Constructions,
		m.ConstructionFailures,
		m.Invalidations,
		m.AcquireDuration,
	}
}
