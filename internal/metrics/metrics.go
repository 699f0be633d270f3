// Package metrics exposes dispatcher activity as prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/jaywantadh/xferstream/internal/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "xferstream"

// Metrics implements transfer.Observer.
type Metrics struct {
	registry *prometheus.Registry

	started  prometheus.Counter
	finished *prometheus.CounterVec
	active   prometheus.Gauge
	duration prometheus.Histogram
	bytes    *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_started_total",
			Help:      "Transfers handed to the engine.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_finished_total",
			Help:      "Finished transfers by result code.",
		}, []string{"code"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfers_active",
			Help:      "Transfers currently registered with the dispatcher.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Wall time from start to completion.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
		}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Body bytes moved by finished transfers.",
		}, []string{"direction"}),
	}
	m.registry.MustRegister(m.started, m.finished, m.active, m.duration, m.bytes)
	return m
}

func (m *Metrics) TransferStarted() {
	m.started.Inc()
	m.active.Inc()
}

func (m *Metrics) TransferFinished(code engine.Code, elapsed time.Duration, uploaded, downloaded int64) {
	m.active.Dec()
	m.finished.WithLabelValues(code.String()).Inc()
	m.duration.Observe(elapsed.Seconds())
	m.bytes.WithLabelValues("up").Add(float64(uploaded))
	m.bytes.WithLabelValues("down").Add(float64(downloaded))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
