// Package main wires together the novel archive service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/novelarc/novelarc/internal/api"
	"github.com/novelarc/novelarc/internal/clock/system"
	"github.com/novelarc/novelarc/internal/config"
	"github.com/novelarc/novelarc/internal/controller"
	"github.com/novelarc/novelarc/internal/id/uuid"
	"github.com/novelarc/novelarc/internal/logging"
	"github.com/novelarc/novelarc/internal/metrics"
	"github.com/novelarc/novelarc/internal/novel"
	"github.com/novelarc/novelarc/internal/progress"
	"github.com/novelarc/novelarc/internal/progress/sinks"
	"github.com/novelarc/novelarc/internal/provider/gemini"
	"github.com/novelarc/novelarc/internal/store/githubstore"
	"github.com/novelarc/novelarc/internal/store/memory"
	"github.com/novelarc/novelarc/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		logger.Fatal("metrics init failed", zap.Error(err))
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	)

	clock := system.New()
	idGen := uuid.New()

	var sessions novel.SessionStore
	if cfg.DB.DSN != "" {
		pgStore, err := postgres.NewSessionStore(ctx, postgres.SessionStoreConfig{
			DSN:             cfg.DB.DSN,
			MaxConns:        int32(cfg.DB.MaxConns),
			MaxConnLifetime: cfg.DB.ConnLifetime(),
		})
		if err != nil {
			logger.Fatal("postgres session store init failed", zap.Error(err))
		}
		defer pgStore.Close()
		sessions = pgStore
		logger.Info("session store: postgres")
	} else {
		sessions = memory.NewSessionStore()
		logger.Info("session store: memory")
	}

	provider := gemini.New(gemini.Config{
		APIKey:  cfg.Gemini.APIKey,
		BaseURL: cfg.Gemini.BaseURL,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.Gemini.Timeout(),
	}, logger.Named("gemini"))

	fileStore := githubstore.New(githubstore.Config{
		BaseURL: cfg.GitHub.BaseURL,
		Token:   cfg.GitHub.Token,
		Owner:   cfg.GitHub.Owner,
		Repo:    cfg.GitHub.Repo,
		Timeout: cfg.GitHub.Timeout(),
	}, logger.Named("github"))

	ctrl := controller.New(provider, fileStore, sessions, hub, clock, controller.Config{
		PathPrefix:   cfg.GitHub.PathPrefix,
		Delay:        cfg.Controller.Delay(),
		InitialDelay: cfg.Controller.InitialDelay(),
		OutboundRPS:  cfg.Controller.OutboundRPS,
	}, logger.Named("controller"))

	httpMetrics, err := metrics.NewHTTP(registry)
	if err != nil {
		logger.Fatal("http metrics init failed", zap.Error(err))
	}
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	apiServer := api.NewServer(sessions, fileStore, provider, ctrl, idGen, clock, metricsHandler, httpMetrics, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := ctrl.StopAll(shutdownCtx); err != nil {
		logger.Error("controller shutdown error", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
