package janitor

import (
	"testing"

	"github.com/starlight-protocol/starlight/internal/wire"
)

func TestMatchPatternByClassName(t *testing.T) {
	j := &Janitor{patterns: DefaultPatterns}
	selector, ok := j.matchPattern(wire.Rect{ClassName: "newsletter-modal active"})
	if !ok {
		t.Fatal("expected a modal class to match")
	}
	if selector != ".modal" {
		t.Errorf("expected fallback selector .modal, got %s", selector)
	}
}

func TestMatchPatternPrefersProvidedSelector(t *testing.T) {
	j := &Janitor{patterns: DefaultPatterns}
	selector, ok := j.matchPattern(wire.Rect{ClassName: "popup-banner", Selector: "#cookie-popup"})
	if !ok {
		t.Fatal("expected a popup class to match")
	}
	if selector != "#cookie-popup" {
		t.Errorf("expected the Hub-supplied selector to be preferred, got %s", selector)
	}
}

func TestMatchPatternByElementID(t *testing.T) {
	j := &Janitor{patterns: []string{"overlay"}}
	selector, ok := j.matchPattern(wire.Rect{ElementID: "overlay"})
	if !ok {
		t.Fatal("expected an exact id match")
	}
	if selector != ".overlay" {
		t.Errorf("expected fallback selector .overlay, got %s", selector)
	}
}

func TestMatchPatternNoMatch(t *testing.T) {
	j := &Janitor{patterns: DefaultPatterns}
	if _, ok := j.matchPattern(wire.Rect{ClassName: "nav-bar"}); ok {
		t.Fatal("did not expect nav-bar to match any blocking pattern")
	}
}

func TestNewWiresIdentityAndHooks(t *testing.T) {
	j, id, hooks := New(Config{Layer: "Janitor", Priority: 5, SettleDelay: 0})
	if id.Layer != "Janitor" || id.Priority != 5 {
		t.Fatalf("expected identity to reflect the given config, got %+v", id)
	}
	if hooks.OnPreCheck == nil {
		t.Fatal("expected OnPreCheck hook to be wired")
	}
	if len(j.patterns) == 0 {
		t.Fatal("expected default patterns to be populated when none are configured")
	}
}

func TestHijackPhaseGuardPreventsReentry(t *testing.T) {
	j := &Janitor{patterns: DefaultPatterns}
	j.phase.Store(int32(stateHijacking))
	if j.phase.CompareAndSwap(int32(stateIdle), int32(stateHijacking)) {
		t.Fatal("hijack should not acquire the phase a second time while already hijacking")
	}
}
