// Command hub runs the Starlight coordination-plane server: the
// registry, orchestrator, sovereign context store, side-talk router,
// trace recorder and security guards, served over HTTP/WebSocket.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/starlight-protocol/starlight/internal/config"
	starlightcontext "github.com/starlight-protocol/starlight/internal/context"
	"github.com/starlight-protocol/starlight/internal/entropy"
	"github.com/starlight-protocol/starlight/internal/hubmetrics"
	"github.com/starlight-protocol/starlight/internal/hubserver"
	"github.com/starlight-protocol/starlight/internal/obslog"
	"github.com/starlight-protocol/starlight/internal/orchestrator"
	"github.com/starlight-protocol/starlight/internal/registry"
	"github.com/starlight-protocol/starlight/internal/security"
	"github.com/starlight-protocol/starlight/internal/sidetalk"
	"github.com/starlight-protocol/starlight/internal/supervisor"
	"github.com/starlight-protocol/starlight/internal/trace"
	"github.com/starlight-protocol/starlight/internal/wire"
)

// driverAdapter answers every dispatch with success, standing in for
// the browser driver process until one is wired over its own transport
// (IPC/CDP) by the operator.
type driverAdapter struct{}

func (driverAdapter) Dispatch(ctx context.Context, kind string, action wire.ActionParams) (orchestrator.Outcome, error) {
	return orchestrator.Outcome{Success: true}, nil
}

func main() {
	var configPath string
	var jsonMode bool

	rootCmd := &cobra.Command{
		Use:   "hub",
		Short: "Starlight coordination-plane Hub",
		Long:  "hub runs the Sentinel registry, command orchestrator, and side-channel services for the Starlight browser-automation coordination plane.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, jsonMode)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to config.json")
	rootCmd.PersistentFlags().BoolVar(&jsonMode, "json", false, "structured JSON logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, jsonMode bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := obslog.NewHub("hub", jsonMode)

	reg := registry.New(cfg.Hub.Security.AuthToken)
	rec := trace.New(cfg.Hub.TraceMaxEvents)
	monitor := entropy.New()
	piiGuard := security.NewGuard(security.Mode(cfg.PII.Mode), cfg.PII.Patterns)
	ctxStore := starlightcontext.New(reg)
	sideRouter := sidetalk.New(reg)
	metrics := hubmetrics.New(nil)

	orch := orchestrator.New(reg, monitor, rec, piiGuard, driverAdapter{}, orchestrator.Config{
		SyncBudget:       cfg.Hub.SyncBudget,
		MissionTimeout:   cfg.Hub.MissionTimeout,
		BucketSize:       time.Duration(cfg.Aura.BucketSizeMs) * time.Millisecond,
		PredictiveWait:   time.Duration(cfg.Aura.PredictiveWaitMs) * time.Millisecond,
		MaxVetoCount:     cfg.Sentinel.MaxVetoCount,
		BaseSettlement:   cfg.Sentinel.SettlementWindow,
		LockTTL:          cfg.Hub.LockTTL,
		ScreenshotMaxAge: cfg.Hub.ScreenshotMaxAge,
	}, log).WithMetrics(metrics)

	srv := hubserver.New(reg, orch, ctxStore, sideRouter, rec, monitor, log).
		WithEntropyThrottle(cfg.Hub.EntropyThrottle).
		WithChaos(hubserver.ChaosConfig{
			Enabled:   cfg.Network.Chaos.Enabled,
			LatencyMs: cfg.Network.Chaos.LatencyMs,
		})

	sup := supervisor.New(reg, cfg.Hub.HeartbeatTimeout, rec, log).WithMetrics(metrics)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	addr := fmt.Sprintf(":%d", cfg.Hub.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Router}

	go func() {
		log.Info().Str("addr", addr).Msg("hub listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("hub server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	srv.BroadcastShutdown()
	if err := rec.WriteFile("mission_trace.json"); err != nil {
		log.Warn().Err(err).Msg("failed to persist mission trace")
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}
