// Package metrics exposes replay pacing counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tickreplay"

// Collector holds the server's replay metrics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	sessionsActive prometheus.Gauge
	sessionsTotal  *prometheus.CounterVec
	groupsSent     prometheus.Counter
	recordsSent    prometheus.Counter
	lagged         prometheus.Counter
	latency        prometheus.Histogram
}

// Session outcomes used as the "outcome" label.
const (
	OutcomeFinished     = "finished"
	OutcomeDisconnected = "disconnected"
	OutcomeLoadError    = "load_error"
	OutcomeError        = "error"
	OutcomeRejected     = "rejected"
)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Replay sessions currently connected.",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Replay sessions by outcome.",
		}, []string{"outcome"}),
		groupsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_groups_sent_total",
			Help:      "Tick groups released to consumers.",
		}),
		recordsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_sent_total",
			Help:      "Data records sent to consumers.",
		}),
		lagged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_groups_lagged_total",
			Help:      "Tick groups released after their target send time.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_latency_seconds",
			Help:      "Delay between a group's target send time and its release.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		}),
	}
	reg.MustRegister(c.sessionsActive, c.sessionsTotal, c.groupsSent, c.recordsSent, c.lagged, c.latency)
	return c
}

// SessionStarted marks a connection as active.
func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
}

// SessionEnded marks a connection as closed with the given outcome.
func (c *Collector) SessionEnded(outcome string) {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
	c.sessionsTotal.WithLabelValues(outcome).Inc()
}

// SessionRejected counts a connection refused before it became a session.
func (c *Collector) SessionRejected() {
	if c == nil {
		return
	}
	c.sessionsTotal.WithLabelValues(OutcomeRejected).Inc()
}

// GroupSent records one released tick group.
func (c *Collector) GroupSent(records int, latency time.Duration, lagging bool) {
	if c == nil {
		return
	}
	c.groupsSent.Inc()
	c.recordsSent.Add(float64(records))
	c.latency.Observe(latency.Seconds())
	if lagging {
		c.lagged.Inc()
	}
}
