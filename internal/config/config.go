// Package config loads config.json and binds the HUB_URL /
// STARLIGHT_AUTH_TOKEN environment overrides. The value is threaded
// explicitly through component constructors and treated as read-only
// after Load.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Hub holds hub.* keys.
type Hub struct {
	Port              int           `mapstructure:"port"`
	SyncBudget        time.Duration `mapstructure:"syncBudget"`
	MissionTimeout    time.Duration `mapstructure:"missionTimeout"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeatTimeout"`
	LockTTL           time.Duration `mapstructure:"lockTTL"`
	EntropyThrottle   time.Duration `mapstructure:"entropyThrottle"`
	ScreenshotMaxAge  time.Duration `mapstructure:"screenshotMaxAge"`
	TraceMaxEvents    int           `mapstructure:"traceMaxEvents"`
	Security          Security      `mapstructure:"security"`
}

// Security holds hub.security.* keys.
type Security struct {
	AuthToken string `mapstructure:"authToken"`
}

// Aura holds aura.* keys - the entropy/settlement tuning knobs.
type Aura struct {
	PredictiveWaitMs int `mapstructure:"predictiveWaitMs"`
	BucketSizeMs     int `mapstructure:"bucketSizeMs"`
}

// Sentinel holds sentinel.* keys - defaults handed to Sentinel Runtime processes.
type Sentinel struct {
	SettlementWindow  time.Duration `mapstructure:"settlementWindow"`
	MaxVetoCount      int           `mapstructure:"maxVetoCount"`
	ReconnectDelay    time.Duration `mapstructure:"reconnectDelay"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
}

// Janitor holds janitor.* keys, consumed by the example janitor Sentinel.
type Janitor struct {
	ExplorationDelayMs  int `mapstructure:"explorationDelayMs"`
	RemediationDelayMs  int `mapstructure:"remediationDelayMs"`
}

// Vision holds vision.* keys for the opaque vision-model RPC endpoint.
type Vision struct {
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	OllamaURL string        `mapstructure:"ollamaUrl"`
}

// PII holds pii.* keys.
type PII struct {
	Mode     string   `mapstructure:"mode"`
	Patterns []string `mapstructure:"patterns"`
}

// Chaos holds network.chaos.* keys - fault injection for resilience
// testing. Disabled by default.
type Chaos struct {
	Enabled       bool     `mapstructure:"enabled"`
	LatencyMs     int      `mapstructure:"latencyMs"`
	BlockPatterns []string `mapstructure:"blockPatterns"`
}

// Network holds network.* keys.
type Network struct {
	Chaos Chaos `mapstructure:"chaos"`
}

// Config is the root of config.json.
type Config struct {
	Hub      Hub      `mapstructure:"hub"`
	Aura     Aura     `mapstructure:"aura"`
	Sentinel Sentinel `mapstructure:"sentinel"`
	Janitor  Janitor  `mapstructure:"janitor"`
	Vision   Vision   `mapstructure:"vision"`
	PII      PII      `mapstructure:"pii"`
	Network  Network  `mapstructure:"network"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("hub.port", 5678)
	v.SetDefault("hub.syncBudget", "30s")
	v.SetDefault("hub.missionTimeout", "180s")
	v.SetDefault("hub.heartbeatTimeout", "5s")
	v.SetDefault("hub.lockTTL", "5s")
	v.SetDefault("hub.entropyThrottle", "50ms")
	v.SetDefault("hub.screenshotMaxAge", "2s")
	v.SetDefault("hub.traceMaxEvents", 5000)
	v.SetDefault("aura.predictiveWaitMs", 400)
	v.SetDefault("aura.bucketSizeMs", 100)
	v.SetDefault("sentinel.settlementWindow", "500ms")
	v.SetDefault("sentinel.maxVetoCount", 3)
	v.SetDefault("sentinel.reconnectDelay", "2s")
	v.SetDefault("sentinel.heartbeatInterval", "2s")
	v.SetDefault("janitor.explorationDelayMs", 250)
	v.SetDefault("janitor.remediationDelayMs", 1500)
	v.SetDefault("pii.mode", "alert")
	v.SetDefault("network.chaos.enabled", false)
	v.SetDefault("network.chaos.latencyMs", 0)
}

// Load reads path (config.json) if present, falls back to defaults
// otherwise, and binds HUB_URL / STARLIGHT_AUTH_TOKEN as overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	defaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	_ = v.BindEnv("hub.security.authToken", "STARLIGHT_AUTH_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// HubURL resolves the Sentinel Runtime's target address, honoring the
// HUB_URL environment override.
func HubURL(defaultURL string) string {
	v := viper.New()
	v.SetDefault("url", defaultURL)
	_ = v.BindEnv("url", "HUB_URL")
	return v.GetString("url")
}
