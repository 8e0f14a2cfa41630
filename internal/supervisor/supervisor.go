// Package supervisor ages Sentinels out on missed heartbeats: silent
// past the heartbeat timeout is DEGRADED, past twice the timeout the
// record is removed and its pending votes are dropped.
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/starlight-protocol/starlight/internal/hubmetrics"
	"github.com/starlight-protocol/starlight/internal/registry"
)

// TraceEmitter is the subset of the Trace Recorder the Supervisor needs;
// kept as an interface so supervisor does not import the trace package's
// full surface.
type TraceEmitter interface {
	Emit(kind string, commandID int64, payload any)
}

type Supervisor struct {
	reg      *registry.Registry
	timeout  time.Duration
	trace    TraceEmitter
	log      zerolog.Logger
	metrics  *hubmetrics.Metrics
}

func New(reg *registry.Registry, heartbeatTimeout time.Duration, trace TraceEmitter, log zerolog.Logger) *Supervisor {
	return &Supervisor{reg: reg, timeout: heartbeatTimeout, trace: trace, log: log.With().Str("subsystem", "supervisor").Logger()}
}

// WithMetrics attaches a Prometheus sink for the sentinels_ready gauge.
func (sv *Supervisor) WithMetrics(m *hubmetrics.Metrics) *Supervisor {
	sv.metrics = m
	return sv
}

// Run sweeps the registry every timeout/2 until ctx is cancelled.
func (sv *Supervisor) Run(ctx context.Context) {
	tick := sv.timeout / 2
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sv.sweep()
		}
	}
}

func (sv *Supervisor) sweep() {
	defer sv.metrics.SetSentinelsReady(len(sv.reg.Ready()))

	now := time.Now()
	for _, s := range sv.reg.All() {
		state := s.State()
		if state != registry.Ready && state != registry.Degraded {
			continue
		}

		silence := now.Sub(s.LastHeartbeat())
		switch {
		case silence >= 2*sv.timeout:
			sv.log.Warn().Str("layer", s.Layer).Dur("silence", silence).Msg("sentinel heartbeat timeout, removing")
			s.MarkGone()
			sv.reg.Remove(s.AssignedID)
			sv.trace.Emit("heartbeat_gone", 0, map[string]any{"layer": s.Layer})
		case silence >= sv.timeout && state == registry.Ready:
			sv.log.Warn().Str("layer", s.Layer).Dur("silence", silence).Msg("sentinel heartbeat stale, marking degraded")
			s.MarkDegraded()
			sv.trace.Emit("heartbeat_degraded", 0, map[string]any{"layer": s.Layer})
		}
	}
}
