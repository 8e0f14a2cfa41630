// Package pulse implements the pulse capability profile: a Sentinel
// that votes on temporal stability - has the page gone quiet long
// enough, or is continuous noise just a rhythmic CSS animation that
// should be tolerated.
package pulse

import (
	"sync"
	"time"

	"github.com/starlight-protocol/starlight/internal/sentinelrt"
	"github.com/starlight-protocol/starlight/internal/wire"
)

// phase names the profile's analysis state.
type phase string

const (
	phaseIdle      phase = "IDLE"
	phaseAnalyzing phase = "ANALYZING"
	phaseVetoing   phase = "VETOING"
	phaseCleared   phase = "CLEARED"
)

// Config configures a pulse Sentinel's identity and timing knobs.
type Config struct {
	Layer            string
	Priority         int
	SettlementWindow time.Duration
	MaxVetoCount     int
}

// metrics is the profile's running counters, reported to the Sovereign
// Context Store on every pre-check.
type metrics struct {
	PreChecks  int `json:"pre_checks"`
	Vetoes     int `json:"vetoes"`
	Clearances int `json:"clearances"`
}

// Pulse holds the capability profile's state across callback
// invocations. All fields are guarded by mu since OnEntropy and
// OnPreCheck may be invoked from the same read loop but pulse keeps
// its own lock rather than relying on that serialization.
type Pulse struct {
	layer            string
	settlementWindow time.Duration
	maxVetoCount     int

	mu              sync.Mutex
	state           phase
	entropyHistory  []time.Time
	lastEntropyTime time.Time
	currentCmdKey   string
	vetoCount       int
	metrics         metrics
}

// New builds a Pulse and the Hooks an sentinelrt.Client needs.
func New(cfg Config) (*Pulse, sentinelrt.Identity, sentinelrt.Hooks) {
	window := cfg.SettlementWindow
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	maxVeto := cfg.MaxVetoCount
	if maxVeto <= 0 {
		maxVeto = 3
	}

	p := &Pulse{
		layer:            cfg.Layer,
		settlementWindow: window,
		maxVetoCount:     maxVeto,
		state:            phaseIdle,
		lastEntropyTime:  time.Now(),
	}

	id := sentinelrt.Identity{
		Layer:        cfg.Layer,
		Priority:     cfg.Priority,
		Capabilities: []string{"temporal-stability", "settling", "network-idle"},
		Version:      "2.8.0",
	}
	hooks := sentinelrt.Hooks{
		OnEntropy:  p.onEntropy,
		OnPreCheck: p.onPreCheck,
	}
	return p, id, hooks
}

// onEntropy records a noise event and resets to IDLE if the
// environment had been CLEARED - fresh noise means it's no longer
// settled.
func (p *Pulse) onEntropy(c *sentinelrt.Client, ev wire.EntropyStreamParams) {
	if !ev.Entropy {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.lastEntropyTime = now

	p.entropyHistory = append(p.entropyHistory, now)
	if len(p.entropyHistory) > 10 {
		p.entropyHistory = p.entropyHistory[1:]
	}

	p.state = phaseIdle
}

// isRhythmicAnimation reports whether the last 10 entropy events
// arrived at a near-constant interval - a continuous CSS animation
// loop rather than genuine page churn. Average interval under 100ms is
// noise, not animation; variance under 0.005s^2 marks a steady beat
// worth tolerating.
func (p *Pulse) isRhythmicAnimation() bool {
	if len(p.entropyHistory) < 5 {
		return false
	}

	intervals := make([]float64, 0, len(p.entropyHistory)-1)
	for i := 1; i < len(p.entropyHistory); i++ {
		intervals = append(intervals, p.entropyHistory[i].Sub(p.entropyHistory[i-1]).Seconds())
	}

	var sum float64
	for _, iv := range intervals {
		sum += iv
	}
	avg := sum / float64(len(intervals))
	if avg < 0.1 {
		return false
	}

	var variance float64
	for _, iv := range intervals {
		d := iv - avg
		variance += d * d
	}
	variance /= float64(len(intervals))

	return variance < 0.005
}

// cmdKey derives a stable identifier for a command that survives
// retries, preferring the most specific hint the Hub included in the
// command descriptor.
func cmdKey(cmd wire.CommandDescriptor, url string) string {
	if cmd.Target != "" {
		return cmd.Target
	}
	if url != "" {
		return url
	}
	return cmd.Kind
}

// onPreCheck runs the dynamic settlement check and votes clear, wait,
// or (past the veto cap) a tolerant force-clear.
func (p *Pulse) onPreCheck(c *sentinelrt.Client, params wire.PreCheckParams) {
	p.mu.Lock()

	p.state = phaseAnalyzing
	p.metrics.PreChecks++

	key := cmdKey(params.Command, params.URL)
	if key != p.currentCmdKey {
		p.vetoCount = 0
		p.currentCmdKey = key
	}

	dynamicWindow := p.settlementWindow
	if params.StabilityHintMs > 0 {
		hint := time.Duration(params.StabilityHintMs) * time.Millisecond
		candidate := hint + 100*time.Millisecond
		if candidate > 2*time.Second {
			candidate = 2 * time.Second
		}
		if candidate > dynamicWindow {
			dynamicWindow = candidate
		}
	}

	rhythmic := p.isRhythmicAnimation()
	silence := time.Since(p.lastEntropyTime)

	settled := silence >= dynamicWindow
	if settled || rhythmic {
		p.state = phaseCleared
	}

	var action string
	var waitMs int64

	switch {
	case p.state == phaseCleared:
		p.vetoCount = 0
		p.metrics.Clearances++
		action = "clear"
	case p.vetoCount >= p.maxVetoCount:
		p.vetoCount = 0
		p.state = phaseCleared
		action = "clear"
	default:
		p.state = phaseVetoing
		p.vetoCount++
		p.metrics.Vetoes++
		action = "wait"
		remaining := dynamicWindow - silence
		if remaining < 200*time.Millisecond {
			remaining = 200 * time.Millisecond
		}
		waitMs = remaining.Milliseconds()
	}

	snapshot := p.metrics
	state := p.state
	p.mu.Unlock()

	_ = c.ContextUpdate(map[string]any{
		"pulse_telemetry": map[string]any{
			"state":   string(state),
			"metrics": snapshot,
			"layer":   p.layer,
		},
	})

	switch action {
	case "clear":
		_ = c.Clear(1.0)
	case "wait":
		_ = c.Wait(waitMs, 0.5)
	}
}
