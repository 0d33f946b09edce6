// FX trade copier — a reconciliation engine that mirrors positions and
// pending orders from one or more donor brokerage accounts onto a single
// client account, enforcing best-execution (no-worse-than-donor) price
// dominance on every copied order.
//
// Architecture:
//
//	main.go                        — entry point: loads config, wires gateways and donor sources, starts the engine, waits for SIGINT/SIGTERM
//	internal/engine/engine.go      — orchestrator: the single-threaded cooperative reconciliation loop
//	internal/gateway/gateway.go    — Broker Gateway: per-account isolated worker serializing one broker session
//	internal/donor                — Donor Source polymorphism (in-process, socket MT4/MT5) and the Donor Aggregator
//	internal/monitor/monitor.go    — Position Monitor: new/closed/volume-changed detection
//	internal/matcher/matcher.go    — Position Matcher: restores correspondence on restart
//	internal/planner               — Order Planner: open/close copy, pending-order mirroring, close-by protocol
//	internal/pricing/pricing.go    — Price Calculator: best-execution dominance and retry classification
//	internal/correspondence/map.go — Correspondence Map: the donor<->client linkage invariant
//	internal/persist/persistor.go  — State Persistor: sync_state.json
//	internal/status                — optional read-only status server and disconnect webhook
//	internal/brokersession         — the broker terminal library wiring point (deployment-supplied)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fx-copier/internal/brokersession"
	"fx-copier/internal/config"
	"fx-copier/internal/donor"
	"fx-copier/internal/donorconfig"
	"fx-copier/internal/engine"
	"fx-copier/internal/gateway"
	"fx-copier/pkg/types"
)

func main() {
	appConfigPath := "configs/app_config.json"
	if p := os.Getenv("COPIER_APP_CONFIG"); p != "" {
		appConfigPath = p
	}
	donorConfigPath := "configs/donors_config.json"
	if p := os.Getenv("COPIER_DONOR_CONFIG"); p != "" {
		donorConfigPath = p
	}
	statePath := "sync_state.json"
	if p := os.Getenv("COPIER_STATE_PATH"); p != "" {
		statePath = p
	}

	cfg, err := config.Load(appConfigPath)
	if err != nil {
		slog.Error("failed to load app config", "error", err, "path", appConfigPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid app config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	donors, err := donorconfig.Load(donorConfigPath, logger)
	if err != nil {
		logger.Error("failed to load donor config", "error", err, "path", donorConfigPath)
		os.Exit(1)
	}

	clientSession, err := brokersession.Dial(cfg.ClientAccount.AccountNumber)
	if err != nil {
		logger.Error("failed to open client terminal session", "error", err)
		os.Exit(1)
	}
	clientGW := gateway.New("client", clientSession, logger)
	clientGW.Start(context.Background())

	sources := make([]donor.Source, 0, len(donors))
	donorMeta := make(map[types.SourceID]engine.DonorMeta, len(donors))
	for _, d := range donors {
		sourceID := types.SourceID(d.ID)
		donorMeta[sourceID] = engine.DonorMeta{Type: string(d.Type), Description: d.Description}

		switch d.Type {
		case donorconfig.SocketMT4, donorconfig.SocketMT5:
			label := "MT4"
			if d.Type == donorconfig.SocketMT5 {
				label = "MT5"
			}
			sources = append(sources, donor.NewSocketFeed(sourceID, label, d.Host, d.Port, logger))
		case donorconfig.PythonAPI:
			session, err := brokersession.Dial(d.AccountNumber)
			if err != nil {
				logger.Error("failed to open donor terminal session, skipping donor", "donor", d.ID, "error", err)
				continue
			}
			gw := gateway.New(d.ID, session, logger)
			gw.Start(context.Background())
			sources = append(sources, donor.NewInProcess(sourceID, gw))
		}
	}

	eng, err := engine.New(*cfg, sources, clientGW, statePath, logger, donorMeta)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	statusMsg := "disabled"
	if cfg.Status.Enabled {
		statusMsg = fmt.Sprintf("http://localhost:%d", cfg.Status.Port)
	}
	logger.Info("fx copier started",
		"client_account", cfg.ClientAccount.AccountNumber,
		"donors", len(sources),
		"copy_style", cfg.CopyStyle,
		"check_interval", cfg.CheckInterval,
		"status_server", statusMsg,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
