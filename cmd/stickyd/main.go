package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/egresskit/stickyd/internal/config"
	"github.com/egresskit/stickyd/internal/engine"
	"github.com/egresskit/stickyd/internal/health"
	"github.com/egresskit/stickyd/internal/metrics"
	"github.com/egresskit/stickyd/internal/model"
	"github.com/egresskit/stickyd/internal/probe"
	"github.com/egresskit/stickyd/internal/selector"
	"github.com/egresskit/stickyd/internal/server"
	"github.com/egresskit/stickyd/internal/store"
	"github.com/egresskit/stickyd/internal/verify"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("endpoint", cfg.Provider.Endpoint),
		zap.Int("pool_size", len(cfg.Pool)),
		zap.Int("probe_targets", len(cfg.Probes)),
		zap.String("data_dir", cfg.Lease.DataDir))

	if err := os.MkdirAll(cfg.Lease.DataDir, 0o755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	// Metrics registry with process and runtime collectors.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry, hostnameOrDefault())

	pool := make([]model.CandidateTarget, 0, len(cfg.Pool))
	for _, target := range cfg.Pool {
		pool = append(pool, model.CandidateTarget{Country: "us", Region: target.Region, City: target.City})
	}

	sel, err := selector.NewSelector(selector.Provider{
		Endpoint: cfg.Provider.Endpoint,
		Username: cfg.Provider.Username,
		Password: cfg.Provider.Password,
	}, pool, logger)
	if err != nil {
		logger.Fatal("Failed to initialize selector", zap.Error(err))
	}

	probeTargets := make([]probe.Target, 0, len(cfg.Probes))
	for _, t := range cfg.Probes {
		probeTargets = append(probeTargets, probe.Target{Name: t.Name, URL: t.URL, Timeout: t.Timeout})
	}
	prober := probe.NewProber(&probe.Config{
		Targets: probeTargets,
		Logger:  logger,
		Metrics: m,
	})

	verifier := verify.NewVerifier(&verify.Config{
		Logger:  logger,
		Metrics: m,
	})

	leases := store.NewFileLeaseStore(filepath.Join(cfg.Lease.DataDir, "leases.json"), logger)
	ledger := store.NewFileUsageLedger(filepath.Join(cfg.Lease.DataDir, "usage_history.json"), cfg.Lease.HistoryCap, logger)

	eng := engine.New(&engine.Config{
		CallCeiling:       cfg.Lease.CallCeiling,
		ConsistencyWindow: cfg.Lease.ConsistencyWindow,
	}, sel, prober, verifier, leases, ledger, logger, m)

	checker := health.NewChecker(cfg.Lease.DataDir, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go checker.Start(ctx, 0)

	revalidator := engine.NewRevalidator(&engine.RevalidatorConfig{
		Interval: cfg.Revalidate.Interval,
		Workers:  cfg.Revalidate.Workers,
	}, eng, logger)
	go revalidator.Run(ctx)

	adminServer := server.NewServer(cfg, eng, checker, logger)

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- adminServer.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil {
			logger.Error("Admin server failed", zap.Error(err))
		}
	}

	// Stop taking traffic, then drain.
	checker.SetReadiness(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin server shutdown failed", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", zap.Error(err))
		}
	}
	if err := revalidator.Stop(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("Revalidator did not drain in time", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

// initLogger builds the zap logger from the logging config.
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zap.AtomicLevel
	switch cfg.Level {
	case "debug":
		level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = level
	return zapCfg.Build()
}

func hostnameOrDefault() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "stickyd"
	}
	return hostname
}
