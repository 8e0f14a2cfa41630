// Package janitor implements the janitor capability profile: a
// Sentinel specialized in detecting and dismissing blocking overlay
// elements (modals, popups, cookie banners) that obstruct the command
// target.
package janitor

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/starlight-protocol/starlight/internal/sentinelrt"
	"github.com/starlight-protocol/starlight/internal/wire"
)

// state names one of this Sentinel's own local phases; distinct from
// but subordinate to the Hub's command state machine.
type state int32

const (
	stateIdle state = iota
	stateHijacking
)

// DefaultPatterns are the CSS class/id fragments that mark an element
// as a blocking overlay when no pattern set is configured.
var DefaultPatterns = []string{"modal", "popup", "overlay"}

// Config configures a janitor Sentinel's identity and pattern set.
type Config struct {
	Layer        string
	Priority     int
	Patterns     []string
	SettleDelay  time.Duration
}

// Janitor holds the capability profile's state across the Client's
// callback invocations.
type Janitor struct {
	patterns    []string
	settleDelay time.Duration

	phase atomic.Int32
}

// New builds a Janitor and the Hooks it needs wired into an
// sentinelrt.Client.
func New(cfg Config) (*Janitor, sentinelrt.Identity, sentinelrt.Hooks) {
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	settle := cfg.SettleDelay
	if settle <= 0 {
		settle = 1500 * time.Millisecond
	}

	j := &Janitor{patterns: patterns, settleDelay: settle}
	j.phase.Store(int32(stateIdle))

	id := sentinelrt.Identity{
		Layer:        cfg.Layer,
		Priority:     cfg.Priority,
		Selectors:    patterns,
		Capabilities: []string{"hijack", "blocking-element-dismissal"},
		Version:      "1.0.0",
	}
	hooks := sentinelrt.Hooks{OnPreCheck: j.onPreCheck}
	return j, id, hooks
}

// matchPattern reports whether a Rect's className contains, or its id
// equals, one of the janitor's known blocking patterns, and if so returns the most
// specific selector to target: the Rect's own Selector if the Hub sent
// one, otherwise the bare pattern.
func (j *Janitor) matchPattern(r wire.Rect) (string, bool) {
	for _, p := range j.patterns {
		if strings.Contains(r.ClassName, p) || r.ElementID == p {
			if r.Selector != "" {
				return r.Selector, true
			}
			return "." + p, true
		}
	}
	return "", false
}

// onPreCheck audits the blocking elements the Hub's pre-check reported
// and, on a match, hijacks to dismiss the obstacle; otherwise votes
// clear. The profile only acts on the Hub's pre-check fan-out - the
// Hub, not each Sentinel, owns DOM observation.
func (j *Janitor) onPreCheck(c *sentinelrt.Client, p wire.PreCheckParams) {
	if state(j.phase.Load()) == stateHijacking {
		return
	}

	for _, b := range p.Blocking {
		if b.Selector != "" || b.ClassName != "" || b.ElementID != "" {
			if selector, ok := j.matchPattern(b); ok {
				j.hijack(c, selector)
				return
			}
		}
	}

	_ = c.Clear(1.0)
}

// hijack runs the claim, click-close, settle, resume sequence. The
// phase field is the re-entrancy guard.
func (j *Janitor) hijack(c *sentinelrt.Client, selector string) {
	if !j.phase.CompareAndSwap(int32(stateIdle), int32(stateHijacking)) {
		return
	}
	defer j.phase.Store(int32(stateIdle))

	if err := c.Hijack("detected visible blocking element: " + selector); err != nil {
		return
	}

	closeTarget := selector
	if !strings.Contains(selector, "close") {
		closeTarget = ".close-btn"
	}
	_ = c.Action(wire.ActionParams{Action: "click", Selector: closeTarget})

	time.Sleep(j.settleDelay)

	_ = c.Resume(true)
}
