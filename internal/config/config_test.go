package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenConfigMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hub.Port != 5678 {
		t.Errorf("expected default port 5678, got %d", cfg.Hub.Port)
	}
	if cfg.Hub.MissionTimeout != 180*time.Second {
		t.Errorf("expected default mission timeout 180s, got %v", cfg.Hub.MissionTimeout)
	}
	if cfg.Sentinel.MaxVetoCount != 3 {
		t.Errorf("expected default max veto count 3, got %d", cfg.Sentinel.MaxVetoCount)
	}
	if cfg.PII.Mode != "alert" {
		t.Errorf("expected default PII mode alert, got %s", cfg.PII.Mode)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"hub": {"port": 9000}, "sentinel": {"maxVetoCount": 7}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hub.Port != 9000 {
		t.Errorf("expected overridden port 9000, got %d", cfg.Hub.Port)
	}
	if cfg.Sentinel.MaxVetoCount != 7 {
		t.Errorf("expected overridden max veto count 7, got %d", cfg.Sentinel.MaxVetoCount)
	}
}

func TestLoadBindsAuthTokenFromEnv(t *testing.T) {
	t.Setenv("STARLIGHT_AUTH_TOKEN", "env-secret")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hub.Security.AuthToken != "env-secret" {
		t.Errorf("expected STARLIGHT_AUTH_TOKEN to bind into hub.security.authToken, got %q", cfg.Hub.Security.AuthToken)
	}
}

func TestHubURLEnvOverride(t *testing.T) {
	t.Setenv("HUB_URL", "ws://override:1234/starlight/ws")
	if got := HubURL("ws://default/starlight/ws"); got != "ws://override:1234/starlight/ws" {
		t.Errorf("expected HUB_URL override, got %q", got)
	}
}

func TestHubURLDefault(t *testing.T) {
	if got := HubURL("ws://default/starlight/ws"); got != "ws://default/starlight/ws" {
		t.Errorf("expected the default to pass through when HUB_URL is unset, got %q", got)
	}
}
