// Package entropy implements the Entropy Monitor: an advisory
// silence/stability signal the Orchestrator polls while a command sits
// in AWAITING_SETTLEMENT. The monitor never blocks anything itself.
package entropy

import (
	"math"
	"sync"
	"time"
)

const (
	rhythmicSampleSize = 10
	rhythmicEpsilonMs  = 15.0
	rhythmicMeanFloor  = 100 * time.Millisecond
)

// Decision is the result of a stability check, carrying the reason so
// the trace can explain why a command settled (or didn't).
type Decision struct {
	Stable bool
	Reason string
}

// Monitor aggregates entropy events (DOM mutation, network activity,
// navigation, and the heartbeat-reported entropy flag) into silence
// duration and a rhythmic-tolerance judgment.
type Monitor struct {
	mu         sync.Mutex
	lastEvent  time.Time
	intervals  []time.Duration
}

func New() *Monitor {
	return &Monitor{lastEvent: time.Now()}
}

// RecordEvent registers an entropy event observed at ts (DOM mutation,
// network activity, navigation, or a Sentinel heartbeat flagging entropy).
func (m *Monitor) RecordEvent(ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastEvent.IsZero() {
		interval := ts.Sub(m.lastEvent)
		m.intervals = append(m.intervals, interval)
		if len(m.intervals) > rhythmicSampleSize {
			m.intervals = m.intervals[len(m.intervals)-rhythmicSampleSize:]
		}
	}
	m.lastEvent = ts
}

// Silence returns the wall time since the last recorded entropy event.
func (m *Monitor) Silence() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.lastEvent)
}

// Evaluate reports stable iff silence is at least the effective
// window, OR the last rhythmicSampleSize inter-arrival intervals look
// like a repeating animation (low variance, mean above
// rhythmicMeanFloor) - a periodic pattern is not real activity.
func (m *Monitor) Evaluate(window time.Duration) Decision {
	m.mu.Lock()
	silence := time.Since(m.lastEvent)
	intervals := append([]time.Duration(nil), m.intervals...)
	m.mu.Unlock()

	if silence >= window {
		return Decision{Stable: true, Reason: "silence"}
	}

	if isRhythmic(intervals) {
		return Decision{Stable: true, Reason: "rhythmic_tolerance"}
	}

	return Decision{Stable: false, Reason: "active"}
}

// isRhythmic reports whether intervals looks like a steady animation:
// at least rhythmicSampleSize samples, a standard deviation below
// rhythmicEpsilonMs (variance below its square, in ms^2), and mean above
// rhythmicMeanFloor.
func isRhythmic(intervals []time.Duration) bool {
	if len(intervals) < rhythmicSampleSize {
		return false
	}

	var sum float64
	for _, d := range intervals {
		sum += float64(d.Milliseconds())
	}
	mean := sum / float64(len(intervals))

	var variance float64
	for _, d := range intervals {
		diff := float64(d.Milliseconds()) - mean
		variance += diff * diff
	}
	variance /= float64(len(intervals))

	meanDur := time.Duration(mean) * time.Millisecond
	return variance < rhythmicEpsilonMs*rhythmicEpsilonMs && meanDur > rhythmicMeanFloor
}

// EffectiveWindow clamps a per-command stability hint (ms) into
// [base, 2s]. A hint of 0 means "no hint supplied" and base is used
// unclamped.
func EffectiveWindow(hintMs int64, base time.Duration) time.Duration {
	if hintMs <= 0 {
		return base
	}
	hint := time.Duration(hintMs) * time.Millisecond
	lo, hi := base, 2*time.Second
	return time.Duration(math.Max(float64(lo), math.Min(float64(hi), float64(hint))))
}
