// Package main runs the ingestion orchestrator daemon.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pricedock/pricedock/internal/config"
	"github.com/pricedock/pricedock/internal/fetch"
	"github.com/pricedock/pricedock/internal/filestore"
	"github.com/pricedock/pricedock/internal/metrics"
	"github.com/pricedock/pricedock/internal/orchestrator"
	"github.com/pricedock/pricedock/internal/store"
)

func main() {
	cfg := config.Load()
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()
	slog.SetDefault(logger)

	logger.Info("starting pricedockd", "addr", cfg.OrchestratorAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := store.NewClient(ctx, store.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	cancel()
	if err != nil {
		logger.Error("failed to connect to state store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			logger.Error("failed to close state store", "error", err)
		}
	}()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	err = st.InitSchema(ctx)
	cancel()
	if err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	files, err := filestore.New(cfg.FileStoreRoot, cfg.MaxFileSize)
	if err != nil {
		logger.Error("failed to open file store", "error", err)
		os.Exit(1)
	}

	// The Drive exporter needs application default credentials; hosted-sheet
	// sources stay unavailable without them.
	var exporter fetch.SheetExporter
	if drv, err := fetch.NewDriveExporter(context.Background()); err != nil {
		logger.Warn("drive exporter unavailable, hosted-spreadsheet sources disabled", "error", err)
	} else {
		exporter = drv
	}

	collector := metrics.NewCollector()
	fetcher := fetch.New(files, exporter, logger)
	analyzerClient := orchestrator.NewAnalyzerClient(cfg.AnalyzerURL)

	orch := orchestrator.New(st, files, fetcher, analyzerClient, orchestrator.Config{
		WorkerSlots:    cfg.WorkerSlots,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		JobTTL:         cfg.JobTTL,
	}, collector, logger)

	if err := orch.Resume(context.Background()); err != nil {
		logger.Error("failed to resume unfinished jobs", "error", err)
	}

	watchdog := orchestrator.NewWatchdog(st, files, cfg.StaleJobTimeout, cfg.SidecarMaxAge, logger)
	if err := watchdog.Start(); err != nil {
		logger.Error("failed to start watchdog", "error", err)
		os.Exit(1)
	}
	defer watchdog.Stop()

	srv := &http.Server{
		Addr:    cfg.OrchestratorAddr,
		Handler: orchestrator.NewRouter(orch, collector, logger),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()
	logger.Info("pricedockd listening", "addr", cfg.OrchestratorAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}
