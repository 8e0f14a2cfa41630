// Package hubmetrics exposes the Hub's Prometheus collectors: command
// throughput, vote latency, and Sentinel liveness.
package hubmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "starlight_hub"

// Metrics holds every collector the Hub registers. A nil *Metrics is a
// valid no-op sink, so callers that don't care about metrics (tests,
// throwaway tools) can pass nil without branching.
type Metrics struct {
	commandsTotal  *prometheus.CounterVec
	voteLatency    *prometheus.HistogramVec
	sentinelsReady prometheus.Gauge
	hijacksTotal   prometheus.Counter
	forceClears    prometheus.Counter
}

// New builds and registers the Hub's collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the
// process-global DefaultRegisterer across parallel test runs.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "commands_total",
			Help:      "Commands dispatched, labeled by kind and outcome.",
		}, []string{"kind", "outcome"}),
		voteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "vote_latency_seconds",
			Help:      "Time from pre-check fan-out to a Sentinel's vote, labeled by verdict.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"verdict"}),
		sentinelsReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "sentinels_ready",
			Help:      "Number of Sentinels currently in the READY state.",
		}),
		hijacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "hijacks_total",
			Help:      "Total number of commands preempted by a Sentinel hijack.",
		}),
		forceClears: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "force_clears_total",
			Help:      "Total number of commands force-cleared after exceeding the veto cap.",
		}),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.commandsTotal, m.voteLatency, m.sentinelsReady, m.hijacksTotal, m.forceClears)
	return m
}

// ObserveCommand records a terminal command outcome.
func (m *Metrics) ObserveCommand(kind string, outcome string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveVote records how long a Sentinel took to respond to a pre-check.
func (m *Metrics) ObserveVote(verdict string, latency time.Duration) {
	if m == nil {
		return
	}
	m.voteLatency.WithLabelValues(verdict).Observe(latency.Seconds())
}

// SetSentinelsReady sets the current READY Sentinel count.
func (m *Metrics) SetSentinelsReady(n int) {
	if m == nil {
		return
	}
	m.sentinelsReady.Set(float64(n))
}

// IncHijack records one more command preempted by a hijack.
func (m *Metrics) IncHijack() {
	if m == nil {
		return
	}
	m.hijacksTotal.Inc()
}

// IncForceClear records one more veto-cap force-clear.
func (m *Metrics) IncForceClear() {
	if m == nil {
		return
	}
	m.forceClears.Inc()
}
