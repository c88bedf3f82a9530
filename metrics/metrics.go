// Package metrics - Prometheus instruments for performance query results.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nvr-ai/go-gpuperf/perfquery"
)

const namespace = "gpuperf"

// DurationBuckets are the histogram buckets in milliseconds: 10µs to ~330ms.
var DurationBuckets = prometheus.ExponentialBuckets(0.01, 2, 16)

// Metrics holds every instrument. It implements perfquery.Observer.
type Metrics struct {
	QueryDuration *prometheus.HistogramVec // per-label GPU durations
	ResolvedTotal *prometheus.CounterVec   // resolved measurements per label
	DroppedTotal  *prometheus.CounterVec   // measurements dropped on pool exhaustion
	DeviceLosses  prometheus.Counter
	QueriesActive prometheus.Gauge // undrained measurements

	gatherer prometheus.Gatherer
}

var _ perfquery.Observer = (*Metrics)(nil)

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the metrics registered on the default Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return defaultMetrics
}

// New registers a fresh set of instruments on reg.
func New(reg *prometheus.Registry) *Metrics {
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		QueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_milliseconds",
				Help:      "GPU time between the start and end timestamps of a measurement.",
				Buckets:   DurationBuckets,
			},
			[]string{"label"},
		),
		ResolvedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_resolved_total",
				Help:      "Measurements reported to the caller.",
			},
			[]string{"label"},
		),
		DroppedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_dropped_total",
				Help:      "Measurements dropped because the timer pool was exhausted.",
			},
			[]string{"label"},
		),
		DeviceLosses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_lost_total",
			Help:      "Device loss events that discarded pending measurements.",
		}),
		QueriesActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queries_in_flight",
			Help:      "Measurements started but not yet reported or discarded.",
		}),
		gatherer: g,
	}
}

// Resolved implements perfquery.Observer.
func (m *Metrics) Resolved(label string, millis float64) {
	m.QueryDuration.WithLabelValues(label).Observe(millis)
	m.ResolvedTotal.WithLabelValues(label).Inc()
}

// Dropped implements perfquery.Observer.
func (m *Metrics) Dropped(label string) {
	m.DroppedTotal.WithLabelValues(label).Inc()
}

// InFlight implements perfquery.Observer.
func (m *Metrics) InFlight(n int) {
	m.QueriesActive.Set(float64(n))
}

// DeviceLost implements perfquery.Observer.
func (m *Metrics) DeviceLost() {
	m.DeviceLosses.Inc()
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
