package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the prometheus collectors exported by the watcher. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	handshakes *prometheus.CounterVec
	fetches    *prometheus.CounterVec
	changes    prometheus.Counter
	sweeps     prometheus.Histogram
	watched    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poodle",
			Name:      "handshakes_total",
			Help:      "SSO handshake attempts by result.",
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poodle",
			Name:      "fetches_total",
			Help:      "Course page fetches by result.",
		}, []string{"result"}),
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "poodle",
			Name:      "changes_total",
			Help:      "Change events emitted.",
		}),
		sweeps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "poodle",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one poll sweep over every watched resource.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		watched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "poodle",
			Name:      "watched_resources",
			Help:      "Watched resources seen during the last sweep.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.handshakes, m.fetches, m.changes, m.sweeps, m.watched} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) Handshake(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) Fetch(result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
}

func (m *Metrics) Change() {
	if m == nil {
		return
	}
	m.changes.Inc()
}

func (m *Metrics) Sweep(d time.Duration, watched int) {
	if m == nil {
		return
	}
	m.sweeps.Observe(d.Seconds())
	m.watched.Set(float64(watched))
}
