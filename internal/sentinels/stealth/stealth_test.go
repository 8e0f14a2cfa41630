package stealth

import (
	"testing"

	"github.com/starlight-protocol/starlight/internal/wire"
)

func TestDetectCloudflare(t *testing.T) {
	got := detect("Just a moment... Checking your browser before accessing example.com. Ray ID: 8a2f")
	if got != "Cloudflare" {
		t.Errorf("expected Cloudflare, got %q", got)
	}
}

func TestDetectAkamai(t *testing.T) {
	got := detect("Access Denied. You don't have permission. Reference #18.4d24")
	if got != "Akamai" {
		t.Errorf("expected Akamai, got %q", got)
	}
}

func TestDetectPerimeterX(t *testing.T) {
	got := detect("Please verify you are human. Press & Hold to confirm.")
	if got != "PerimeterX" {
		t.Errorf("expected PerimeterX, got %q", got)
	}
}

func TestDetectGenericIncludesMatch(t *testing.T) {
	got := detect("Our systems have flagged automated access from your network segment")
	if got != "Generic (automated access)" {
		t.Errorf("expected generic detection naming the match, got %q", got)
	}
}

func TestDetectCleanPage(t *testing.T) {
	if got := detect("Welcome to the product catalog. 500 items in stock."); got != "" {
		t.Errorf("expected no detection on a clean page, got %q", got)
	}
}

func TestIsWaitingChallenge(t *testing.T) {
	if !isWaitingChallenge("Just a moment while we check your connection") {
		t.Error("expected a Cloudflare interstitial to read as a waiting challenge")
	}
	if isWaitingChallenge("Access denied. Contact the site owner.") {
		t.Error("a hard block is not a waiting challenge")
	}
}

func TestNewWiresIdentityAndHooks(t *testing.T) {
	st, id, hooks := New(Config{Layer: "StealthSentinel", Priority: 7})
	if id.Layer != "StealthSentinel" || id.Priority != 7 {
		t.Fatalf("expected identity to reflect the given config, got %+v", id)
	}
	if hooks.OnPreCheck == nil || hooks.OnEntropy == nil {
		t.Fatal("expected pre-check and entropy hooks to be wired")
	}
	if st.maxDetections != 3 {
		t.Errorf("expected default detection allowance of 3, got %d", st.maxDetections)
	}
}

func TestNavigationResetsDetectionCount(t *testing.T) {
	st, _, _ := New(Config{Layer: "StealthSentinel", Priority: 7})
	st.detectionCount = 2
	st.lastDetection = "Cloudflare"

	st.onEntropy(nil, wire.EntropyStreamParams{Entropy: true, Navigation: true})

	if st.detectionCount != 0 || st.lastDetection != "" {
		t.Errorf("expected navigation to reset detection state, got count=%d last=%q", st.detectionCount, st.lastDetection)
	}
}

func TestNonNavigationEntropyKeepsDetectionCount(t *testing.T) {
	st, _, _ := New(Config{Layer: "StealthSentinel", Priority: 7})
	st.detectionCount = 2

	st.onEntropy(nil, wire.EntropyStreamParams{Entropy: true})

	if st.detectionCount != 2 {
		t.Errorf("expected plain entropy to keep the detection count, got %d", st.detectionCount)
	}
}

func TestHoldPhaseGuardPreventsReentry(t *testing.T) {
	st, _, _ := New(Config{Layer: "StealthSentinel", Priority: 7})
	st.phase.Store(int32(phaseHolding))
	if st.phase.CompareAndSwap(int32(phaseWatching), int32(phaseHolding)) {
		t.Fatal("a second challenge hold must not start while one is in flight")
	}
}
