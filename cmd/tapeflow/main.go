package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rmonteiro-dev/tapeflow/api"
	"github.com/rmonteiro-dev/tapeflow/internal/config"
	"github.com/rmonteiro-dev/tapeflow/internal/events"
	"github.com/rmonteiro-dev/tapeflow/internal/feed"
	"github.com/rmonteiro-dev/tapeflow/internal/mlclient"
	"github.com/rmonteiro-dev/tapeflow/internal/orchestrator"
	"github.com/rmonteiro-dev/tapeflow/internal/position"
	"github.com/rmonteiro-dev/tapeflow/internal/tape"
	"github.com/rmonteiro-dev/tapeflow/internal/telemetry"
	"github.com/rmonteiro-dev/tapeflow/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	notifier := events.NewNotifier()

	tapeEngine := tape.NewEngine(cfg.Tape, zapLogger.Named("tape"), notifier)

	manager := position.NewManager(cfg.Risk, zapLogger.Named("position"), notifier)
	manager.Start()
	defer manager.Stop()

	var predictor orchestrator.Predictor
	if cfg.ML.BaseURL != "" {
		predictor = mlclient.NewClient(cfg.ML)
	}

	orch := orchestrator.New(cfg.Orchestrator, cfg.Feed.Symbol,
		zapLogger.Named("orchestrator"), tapeEngine, manager, predictor, notifier)

	sink := telemetry.NewSink(cfg.Redis, cfg.Risk.SnapshotRetention,
		zapLogger.Named("telemetry"), notifier)
	defer sink.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sink.Run(ctx)
	go orch.Run(ctx)

	wsFeed := feed.NewWSFeed(cfg.Feed, zapLogger.Named("feed"), orch)
	go func() {
		if err := wsFeed.Run(ctx); err != nil && ctx.Err() == nil {
			zapLogger.Error("feed stopped", zap.Error(err))
		}
	}()

	server := api.NewServer(zapLogger.Named("http"), tapeEngine, manager)
	go func() {
		if err := server.Run(cfg.Server.Addr); err != nil {
			zapLogger.Fatal("http server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("tapeflow started",
		zap.String("symbol", cfg.Feed.Symbol),
		zap.String("addr", cfg.Server.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down")
	cancel()
	manager.EmergencyCloseAll("shutdown")
}
