// Command sentinel runs one Sentinel Runtime process hosting a
// capability profile (janitor, pulse or stealth), connecting to a Hub
// over WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/starlight-protocol/starlight/internal/config"
	"github.com/starlight-protocol/starlight/internal/obslog"
	"github.com/starlight-protocol/starlight/internal/sentinels/janitor"
	"github.com/starlight-protocol/starlight/internal/sentinels/pulse"
	"github.com/starlight-protocol/starlight/internal/sentinels/stealth"
	"github.com/starlight-protocol/starlight/internal/sentinelrt"
)

func main() {
	var (
		profile     string
		hubURL      string
		configPath  string
		memoryDir   string
		layerName   string
		priority    int
		jsonMode    bool
	)

	rootCmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Starlight Sentinel Runtime process",
		Long:  "sentinel runs one capability profile (janitor, pulse or stealth) against a Starlight Hub, voting on pre-checks and remediating blocking elements.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(profile, hubURL, configPath, memoryDir, layerName, priority, jsonMode)
		},
	}

	rootCmd.PersistentFlags().StringVar(&profile, "profile", "pulse", "capability profile to run: janitor, pulse or stealth")
	rootCmd.PersistentFlags().StringVar(&hubURL, "hub-url", "ws://localhost:5678/starlight/ws", "Hub WebSocket URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to config.json")
	rootCmd.PersistentFlags().StringVar(&memoryDir, "memory-dir", "./sentinel-memory", "directory for this Sentinel's persistent memory file")
	rootCmd.PersistentFlags().StringVar(&layerName, "layer", "", "override the profile's default layer name")
	rootCmd.PersistentFlags().IntVar(&priority, "priority", -1, "override the profile's default priority (-1 keeps the default)")
	rootCmd.PersistentFlags().BoolVar(&jsonMode, "json", false, "structured JSON logging (console output moves to stderr)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(profile, hubURL, configPath, memoryDir, layerOverride string, priorityOverride int, jsonMode bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	resolvedHubURL := config.HubURL(hubURL)

	var id sentinelrt.Identity
	var hooks sentinelrt.Hooks

	switch profile {
	case "janitor":
		_, id, hooks = janitor.New(janitor.Config{
			Layer:       "JanitorSentinel",
			Priority:    5,
			SettleDelay: time.Duration(cfg.Janitor.RemediationDelayMs) * time.Millisecond,
		})
	case "pulse":
		_, id, hooks = pulse.New(pulse.Config{
			Layer:            "PulseSentinel",
			Priority:         1,
			SettlementWindow: cfg.Sentinel.SettlementWindow,
			MaxVetoCount:     cfg.Sentinel.MaxVetoCount,
		})
	case "stealth":
		_, id, hooks = stealth.New(stealth.Config{
			Layer:    "StealthSentinel",
			Priority: 7,
		})
	default:
		return fmt.Errorf("unknown profile %q: want janitor, pulse or stealth", profile)
	}

	if layerOverride != "" {
		id.Layer = layerOverride
	}
	if priorityOverride >= 0 {
		id.Priority = priorityOverride
	}
	id.AuthToken = cfg.Hub.Security.AuthToken

	log, err := obslog.New("./logs", id.Layer, jsonMode)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer log.Close()

	memory, err := sentinelrt.OpenMemory(memoryDir, id.Layer)
	if err != nil {
		return fmt.Errorf("opening memory file: %w", err)
	}
	defer memory.Close()

	client := sentinelrt.New(id, sentinelrt.Config{
		HubURL:            resolvedHubURL,
		ReconnectDelay:    cfg.Sentinel.ReconnectDelay,
		HeartbeatInterval: cfg.Sentinel.HeartbeatInterval,
	}, hooks, log, memory)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutdown signal received")
		cancel()
	}()

	log.Info("starting %s profile as layer %s, connecting to %s", profile, id.Layer, resolvedHubURL)
	client.Run(ctx)

	return client.Shutdown()
}
