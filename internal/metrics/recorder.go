// Package metrics exposes ingestion counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orderpoll"

type Recorder struct {
	messages    *prometheus.CounterVec
	cycles      *prometheus.CounterVec
	duration    prometheus.Histogram
	tokenExpiry prometheus.Gauge
	restarts    prometheus.Counter
	skipped     prometheus.Counter
}

// New registers the collectors on reg. Use a fresh registry per process or test.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Order messages handled, by outcome.",
		}, []string{"outcome"}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Ingestion cycles finished, by result.",
		}, []string{"result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of ingestion cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		tokenExpiry: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "token_expiry_timestamp_seconds",
			Help:      "Expiry of the current OAuth access token.",
		}),
		restarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restart_requests_total",
			Help:      "Restart requests raised by the token watchdog.",
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_skipped_total",
			Help:      "Triggers dropped because a cycle was already running.",
		}),
	}
}

func (r *Recorder) MessageOutcome(outcome string) {
	r.messages.WithLabelValues(outcome).Inc()
}

func (r *Recorder) CycleFinished(result string, d time.Duration) {
	r.cycles.WithLabelValues(result).Inc()
	r.duration.Observe(d.Seconds())
}

func (r *Recorder) CycleSkipped() { r.skipped.Inc() }

func (r *Recorder) TokenExpiry(t time.Time) {
	if t.IsZero() {
		r.tokenExpiry.Set(0)
		return
	}
	r.tokenExpiry.Set(float64(t.Unix()))
}

func (r *Recorder) RestartRequested() { r.restarts.Inc() }
