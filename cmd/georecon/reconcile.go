package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/georecon/pkg/gazetteer"
	"github.com/hazyhaar/georecon/pkg/reconcile"
	"github.com/hazyhaar/georecon/pkg/runlock"
)

func cmdReconcile(args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	input := fs.String("input", "", "gazetteer extract (.txt, .zip, .gz, .bz2); overrides config")
	resume := fs.Bool("resume", false, "skip levels already checkpointed for this input")
	workers := fs.Int("workers", 0, "matching goroutines; overrides config")
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics on this address during the run")
	reportPath := fs.String("report", "", "write the YAML run report to this file; overrides config")
	fs.Parse(args)

	cfg, logger, err := loadConfig(*cfgPath)
	if err != nil {
		return 1
	}
	if *input != "" {
		cfg.Input = *input
	}
	if *workers > 0 {
		cfg.Reconcile.Workers = *workers
	}
	if *metricsAddr != "" {
		cfg.HTTP.MetricsAddr = *metricsAddr
	}
	if *reportPath != "" {
		cfg.Reconcile.Report = *reportPath
	}
	if cfg.Input == "" {
		logger.Error("no input: set -input, input in config or GEORECON_INPUT")
		return 1
	}

	ecfg, err := cfg.EngineConfig()
	if err != nil {
		logger.Error("invalid config", "error", err)
		return 1
	}
	ecfg.Resume = *resume

	// SIGINT/SIGTERM cancel the run; committed batches stay committed.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return 1
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.HTTP.MetricsAddr != "" {
		srv := serveMetrics(cfg.HTTP.MetricsAddr, reg, logger)
		defer srv.Shutdown(context.Background())
	}

	locker := runlock.Open(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix, cfg.Redis.LockTTL)
	if cfg.Redis.Addr != "" {
		logger.Info("run lock", "redis", cfg.Redis.Addr)
	}

	eng := reconcile.New(st, ecfg, logger,
		reconcile.WithMetrics(reconcile.NewMetrics(reg)),
		reconcile.WithLocker(locker),
	)
	rep, runErr := eng.Run(ctx, gazetteer.Source{Path: cfg.Input})

	if rep != nil && cfg.Reconcile.Report != "" {
		if err := rep.WriteFile(cfg.Reconcile.Report); err != nil {
			logger.Error("write report", "path", cfg.Reconcile.Report, "error", err)
		} else {
			logger.Info("report written", "path", cfg.Reconcile.Report)
		}
	}

	var fe *reconcile.FatalError
	switch {
	case runErr == nil:
		return 0
	case errors.Is(runErr, runlock.ErrHeld):
		logger.Error("another run holds the lock", "error", runErr)
		return 1
	case errors.As(runErr, &fe):
		logger.Error("run aborted", "op", fe.Op, "error", fe.Err)
		return 1
	default:
		logger.Error("run failed", "error", runErr)
		return 1
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", "error", err)
		}
	}()
	return srv
}
