// Package main runs the analysis worker daemon.
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

	"github.com/pricedock/pricedock/internal/analyzer"
	"github.com/pricedock/pricedock/internal/config"
	"github.com/pricedock/pricedock/internal/filestore"
	"github.com/pricedock/pricedock/internal/llm"
	"github.com/pricedock/pricedock/internal/match"
	"github.com/pricedock/pricedock/internal/metrics"
	"github.com/pricedock/pricedock/internal/parse"
	"github.com/pricedock/pricedock/internal/store"
)

func main() {
	cfg := config.Load()
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()
	slog.SetDefault(logger)

	logger.Info("starting analyzerd",
		"addr", cfg.AnalyzerAddr,
		"provider", cfg.LLMProvider,
		"model", cfg.LLMModel)

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

	files, err := filestore.New(cfg.FileStoreRoot, cfg.MaxFileSize)
	if err != nil {
		logger.Error("failed to open file store", "error", err)
		os.Exit(1)
	}

	model, err := llm.NewModel(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to create inference backend", "error", err)
		os.Exit(1)
	}

	// Name-similarity matching needs a local embedding model; without one,
	// matching degrades to exact SKU comparison.
	var embedder match.TextEmbedder
	if emb, err := llm.NewEmbedder(cfg); err != nil {
		logger.Warn("embedder unavailable, similarity matching disabled", "error", err)
	} else {
		embedder = emb
	}

	engine := parse.NewEngine(model, parse.Config{
		SampleRows:          cfg.SampleRows,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		StageARetries:       cfg.StageARetries,
	}, logger)

	matcher := match.New(embedder, match.Config{
		MatchThreshold:  cfg.MatchThreshold,
		ReviewThreshold: cfg.ReviewThreshold,
	}, logger)

	collector := metrics.NewCollector()
	svc := analyzer.New(st, files, engine, matcher, model, collector, logger)

	srv := &http.Server{
		Addr:    cfg.AnalyzerAddr,
		Handler: analyzer.NewRouter(svc, collector, logger),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()
	logger.Info("analyzerd listening", "addr", cfg.AnalyzerAddr)

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
