// Package metrics exposes Prometheus instruments for the polling engine.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "usagebar"

// Fetch outcomes used as the "outcome" label.
const (
	OutcomeSuccess = "success"
)

type Recorder struct {
	fetchTotal       *prometheus.CounterVec
	fetchDuration    prometheus.Histogram
	retriesScheduled prometheus.Counter
	reauthTotal      prometheus.Counter
	notifications    prometheus.Counter
	utilization      *prometheus.GaugeVec
	networkAvailable prometheus.Gauge
	lastSuccess      prometheus.Gauge
}

// NewRecorder builds the instruments and registers them with reg when reg is
// not nil.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_total",
				Help:      "Total number of usage fetch attempts by outcome",
			},
			[]string{"outcome"},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Usage fetch duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		retriesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Total number of scheduled fetch retries",
		}),
		reauthTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reauthentications_total",
			Help:      "Total number of token refreshes after an unauthorized response",
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of usage warnings delivered",
		}),
		utilization: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "utilization_percent",
				Help:      "Last reported utilization per limit",
			},
			[]string{"limit"},
		),
		networkAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_available",
			Help:      "1 when the network is reachable",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful fetch",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			r.fetchTotal,
			r.fetchDuration,
			r.retriesScheduled,
			r.reauthTotal,
			r.notifications,
			r.utilization,
			r.networkAvailable,
			r.lastSuccess,
		)
	}
	return r
}

func (r *Recorder) ObserveFetch(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.fetchTotal.WithLabelValues(outcome).Inc()
	r.fetchDuration.Observe(d.Seconds())
}

func (r *Recorder) RetryScheduled() {
	if r == nil {
		return
	}
	r.retriesScheduled.Inc()
}

func (r *Recorder) Reauthenticated() {
	if r == nil {
		return
	}
	r.reauthTotal.Inc()
}

func (r *Recorder) Notified() {
	if r == nil {
		return
	}
	r.notifications.Inc()
}

func (r *Recorder) SetUtilization(limit string, value float64) {
	if r == nil {
		return
	}
	r.utilization.WithLabelValues(limit).Set(value)
}

// ClearUtilization drops a limit that is no longer reported.
func (r *Recorder) ClearUtilization(limit string) {
	if r == nil {
		return
	}
	r.utilization.DeleteLabelValues(limit)
}

func (r *Recorder) SetNetworkAvailable(available bool) {
	if r == nil {
		return
	}
	if available {
		r.networkAvailable.Set(1)
		return
	}
	r.networkAvailable.Set(0)
}

func (r *Recorder) SetLastSuccess(t time.Time) {
	if r == nil {
		return
	}
	r.lastSuccess.Set(float64(t.Unix()))
}
