package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"margin_monitor/internal/alert"
	"margin_monitor/internal/config"
	"margin_monitor/internal/core"
	"margin_monitor/internal/server"
	"margin_monitor/internal/store"
	"margin_monitor/internal/watcher"
	"margin_monitor/pkg/concurrency"
	"margin_monitor/pkg/logging"
	"margin_monitor/pkg/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/monitor.yaml", "Path to configuration file")
	port := flag.String("port", "", "Server port (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("monitor_server version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	logger.Info("Starting monitor_server",
		"version", version,
		"port", cfg.Server.Port,
		"positions", len(cfg.Positions),
	)

	var tel *telemetry.Telemetry
	if cfg.Telemetry.EnableMetrics {
		tel, err = telemetry.Setup("margin_monitor")
		if err != nil {
			logger.Warn("Failed to initialize telemetry", "error", err)
		} else {
			logger.Info("Telemetry initialized")
		}
	}

	st, err := newStore(cfg)
	if err != nil {
		logger.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	alerts := alert.NewAlertManager(logger)
	if url := cfg.Alerts.SlackWebhook.Value(); url != "" {
		alerts.AddChannel(alert.NewSlackChannel(url))
	}
	if token := cfg.Alerts.TelegramToken.Value(); token != "" {
		alerts.AddChannel(alert.NewTelegramChannel(token, cfg.Alerts.TelegramChatID))
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "EvaluationPool",
		MaxWorkers:  4,
		MaxCapacity: 100,
	}, logger)
	defer pool.Stop()

	targets := make([]decimal.Decimal, 0, len(cfg.Watch.Targets))
	for _, t := range cfg.Watch.Targets {
		targets = append(targets, decimal.NewFromFloat(t))
	}

	w := watcher.NewWatcher(st, alerts, pool, logger, watcher.Config{
		Interval:         time.Duration(cfg.Watch.IntervalSeconds) * time.Second,
		Targets:          targets,
		MinAlertSeverity: cfg.MinAlertSeverity(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	book, err := cfg.ToBook()
	if err != nil {
		logger.Error("Invalid book configuration", "error", err)
		os.Exit(1)
	}
	if err := w.SetBook(ctx, "default", book); err != nil {
		logger.Error("Failed to register book", "error", err)
		os.Exit(1)
	}

	if cfg.Watch.InitialRate > 0 {
		if err := w.SetRate(decimal.NewFromFloat(cfg.Watch.InitialRate)); err != nil {
			logger.Error("Invalid initial rate", "error", err)
			os.Exit(1)
		}
	}

	if cfg.Watch.Enabled {
		w.Start()
		defer w.Stop()
	}

	hub := server.NewHub(logger)

	scanMin, scanMax, scanStep := cfg.ScanGrid()
	loanTerms, deductionPlan, err := cfg.ToLoan()
	if err != nil {
		logger.Error("Invalid loan configuration", "error", err)
		os.Exit(1)
	}

	srv := server.NewServer(hub, w, logger, server.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxConnections: cfg.Server.MaxConnections,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		Production:     cfg.Server.Production,
		ScanMin:        scanMin,
		ScanMax:        scanMax,
		ScanStep:       scanStep,
		LoanTerms:      loanTerms,
		DeductionPlan:  deductionPlan,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		srv.PumpSnapshots(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.Start(gctx, ":"+cfg.Server.Port)
	})

	logger.Info("monitor_server is running",
		"api_url", fmt.Sprintf("http://localhost:%s/api/margin", cfg.Server.Port),
		"websocket_url", fmt.Sprintf("ws://localhost:%s/ws", cfg.Server.Port),
		"health_url", fmt.Sprintf("http://localhost:%s/health", cfg.Server.Port),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
	logger.Info("Received shutdown signal, gracefully shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", "error", err)
	}

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", "error", err)
	}

	if tel != nil {
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}

	logger.Info("monitor_server stopped")
}

func newStore(cfg *config.Config) (core.IStore, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Storage.Path)
	default:
		return store.NewMemoryStore(), nil
	}
}
