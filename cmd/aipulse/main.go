package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"aipulse/config"
	"aipulse/ingest"
	"aipulse/mirror"
	"aipulse/normalize"
	"aipulse/runlog"
	"aipulse/scheduler"
	"aipulse/server"
	"aipulse/source"
	"aipulse/store"
)

func main() {
	// Structured JSON logging to stdout
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfgPath := "./config.yaml"
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setLogLevel(cfg.LogLevel)
	slog.Info("config loaded",
		"sources", len(cfg.Sources),
		"lookback_hours", cfg.LookbackHours,
		"port", cfg.HTTPPort)

	// Local store and run journal
	local := store.New(cfg.StorePath)
	storeExisted := fileExists(cfg.StorePath)

	runs, err := runlog.New(cfg.RunLogPath)
	if err != nil {
		slog.Error("failed to open run journal", "error", err)
		os.Exit(1)
	}
	defer runs.Close()

	// Remote mirror, best effort. A bad DSN at startup is fatal; a dead
	// remote later is not.
	agent := mirror.NewDisabled()
	if cfg.Mirror.Enabled() {
		db, err := mirror.Open(cfg.Mirror.DSN)
		if err != nil {
			slog.Error("failed to open mirror connection", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		agent = mirror.New(db, cfg.Mirror)
		if err := agent.EnsureSchema(context.Background()); err != nil {
			slog.Warn("mirror schema check failed, continuing", "error", err)
		}
		slog.Info("mirror enabled", "batch_size", cfg.Mirror.BatchSize)
	} else {
		slog.Info("mirror disabled, local store only")
	}
	agent.Start()

	// Ingestion pipeline
	fetchers, err := source.FromConfig(&cfg)
	if err != nil {
		slog.Error("failed to build fetchers", "error", err)
		os.Exit(1)
	}
	runner := ingest.NewRunner(
		fetchers,
		normalize.New(cfg.Lookback()),
		local,
		runs,
		agent,
		filepath.Join(cfg.DataDir, "raw"),
	)

	// First boot: populate the store before serving an empty dashboard.
	if !storeExisted {
		slog.Info("no local data found, running initial ingestion")
		if _, err := runner.Run(context.Background()); err != nil {
			slog.Error("initial ingestion failed", "error", err)
		}
	}

	sched := scheduler.New()
	if err := sched.Schedule(cfg.RefreshCron, func() {
		if _, err := runner.Run(context.Background()); err != nil {
			slog.Error("scheduled ingestion failed", "error", err)
		}
	}); err != nil {
		slog.Error("failed to schedule refresh", "error", err)
		os.Exit(1)
	}
	sched.Start()

	srv := server.New(local, runs, runner, agent, sched, &cfg)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: srv.Router(),
	}

	go func() {
		slog.Info("dashboard listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	sched.Stop()
	agent.Stop()
	slog.Info("shutdown complete")
}

func setLogLevel(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
