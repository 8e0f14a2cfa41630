// Package stealth implements the stealth capability profile: a
// Sentinel that scans pre-check page text for anti-bot system
// signatures (Cloudflare, Akamai, PerimeterX, DataDome and generic
// challenge pages) and either waits a solvable challenge out via a
// hijack or flags the site as actively blocked through the Sovereign
// Context Store.
package stealth

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starlight-protocol/starlight/internal/sentinelrt"
	"github.com/starlight-protocol/starlight/internal/wire"
)

// signature pairs a detection pattern with the system it identifies.
type signature struct {
	re     *regexp.Regexp
	system string
}

var signatures = []signature{
	{regexp.MustCompile(`(?i)cloudflare|ray id|checking your browser|just a moment|ddos protection`), "Cloudflare"},
	{regexp.MustCompile(`(?i)akamai|access[\s-]?denied|reference[\s-]?#?\d+`), "Akamai"},
	{regexp.MustCompile(`(?i)perimeterx|px-captcha|press & hold|human verification`), "PerimeterX"},
	{regexp.MustCompile(`(?i)datadome`), "DataDome"},
	{regexp.MustCompile(`(?i)bot detected|automated access|access blocked|javascript required|enable cookies`), "Generic"},
}

// waitingPhrases mark a "please wait" interstitial that may resolve on
// its own, as opposed to a hard block.
var waitingPhrases = []string{
	"just a moment",
	"checking your browser",
	"please wait",
	"verifying",
	"one moment",
}

// Config configures a stealth Sentinel's identity and patience.
type Config struct {
	Layer         string
	Priority      int
	ChallengeWait time.Duration
	MaxDetections int
}

// phase names one of this profile's own local states, subordinate to
// the Hub's command state machine.
type phase int32

const (
	phaseWatching phase = iota
	phaseHolding        // inside a hijack, waiting the challenge out
)

// Stealth holds the profile's detection state across callbacks.
type Stealth struct {
	challengeWait time.Duration
	maxDetections int

	phase atomic.Int32

	mu             sync.Mutex
	detectionCount int
	lastDetection  string
}

// New builds a Stealth and the Hooks an sentinelrt.Client needs.
func New(cfg Config) (*Stealth, sentinelrt.Identity, sentinelrt.Hooks) {
	wait := cfg.ChallengeWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	maxDet := cfg.MaxDetections
	if maxDet <= 0 {
		maxDet = 3
	}

	st := &Stealth{challengeWait: wait, maxDetections: maxDet}

	id := sentinelrt.Identity{
		Layer:        cfg.Layer,
		Priority:     cfg.Priority,
		Capabilities: []string{"stealth", "anti-bot", "evasion", "vision"},
		Version:      "1.0.0",
	}
	hooks := sentinelrt.Hooks{
		OnPreCheck: st.onPreCheck,
		OnEntropy:  st.onEntropy,
	}
	return st, id, hooks
}

// detect returns the name of the anti-bot system whose signature the
// page text matches, or "" when the page looks clean.
func detect(pageText string) string {
	for _, sig := range signatures {
		if m := sig.re.FindString(pageText); m != "" {
			if sig.system == "Generic" {
				if len(m) > 30 {
					m = m[:30]
				}
				return "Generic (" + m + ")"
			}
			return sig.system
		}
	}
	return ""
}

// isWaitingChallenge reports whether the page is a challenge
// interstitial likely to resolve if given time.
func isWaitingChallenge(pageText string) bool {
	lower := strings.ToLower(pageText)
	for _, p := range waitingPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// onPreCheck scans the page text for anti-bot signatures. A solvable
// challenge is hijacked and waited out with a re-check; a persistent
// block is reported to the constellation and cleared so the mission
// can fail honestly instead of stalling forever.
func (st *Stealth) onPreCheck(c *sentinelrt.Client, p wire.PreCheckParams) {
	if phase(st.phase.Load()) == phaseHolding {
		return
	}

	if p.PageText == "" {
		_ = c.Clear(1.0)
		return
	}

	system := detect(p.PageText)
	if system == "" {
		_ = c.Clear(1.0)
		return
	}

	st.mu.Lock()
	st.detectionCount++
	st.lastDetection = system
	count := st.detectionCount
	st.mu.Unlock()

	switch {
	case isWaitingChallenge(p.PageText) && count <= st.maxDetections:
		st.waitOutChallenge(c, system)
	case count > st.maxDetections:
		_ = c.ContextUpdate(map[string]any{
			"anti_bot": map[string]any{
				"detected":        true,
				"system":          system,
				"detection_count": count,
				"status":          "BLOCKED",
			},
		})
		_ = c.Clear(0.3)
	default:
		_ = c.ContextUpdate(map[string]any{
			"anti_bot": map[string]any{
				"detected":        true,
				"system":          system,
				"detection_count": count,
				"status":          "WARNING",
			},
		})
		_ = c.Clear(0.7)
	}
}

// waitOutChallenge hijacks the command slot, sleeps through the
// challenge's resolution window, and resumes with a re-check so the
// Hub sees the post-challenge page before dispatching.
func (st *Stealth) waitOutChallenge(c *sentinelrt.Client, system string) {
	if !st.phase.CompareAndSwap(int32(phaseWatching), int32(phaseHolding)) {
		return
	}
	defer st.phase.Store(int32(phaseWatching))

	if err := c.Hijack("anti-bot challenge: " + system); err != nil {
		return
	}

	time.Sleep(st.challengeWait)

	_ = c.Resume(true)
}

// onEntropy resets the detection counter on navigation: a new page
// gets a fresh allowance of challenge attempts.
func (st *Stealth) onEntropy(c *sentinelrt.Client, ev wire.EntropyStreamParams) {
	if !ev.Navigation {
		return
	}
	st.mu.Lock()
	st.detectionCount = 0
	st.lastDetection = ""
	st.mu.Unlock()
}
