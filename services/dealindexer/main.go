package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"safedeal/observability/logging"
	telemetry "safedeal/observability/otel"
	"safedeal/services/dealindexer/config"
	"safedeal/services/dealindexer/server"
	"safedeal/services/dealindexer/storage"
	"safedeal/services/dealindexer/watcher"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/dealindexer/config.yaml", "path to dealindexer configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("dealindexer: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("SAFEDEAL_ENV"))
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service: "dealindexer",
		Env:     env,
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv(telemetry.Config{
		ServiceName: "dealindexer",
		Environment: env,
	}))
	if err != nil {
		log.Fatalf("dealindexer: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("dealindexer: open storage: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	store := storage.NewStore(db)
	logger.Info("storage ready",
		slog.Bool("postgres", cfg.Database.IsPostgres()),
		slog.String("dsn", logging.MaskDSN(cfg.Database.DSN)))

	secret := cfg.AdminSecret()
	if secret == "" {
		logger.Warn("admin api disabled; signing secret not set", slog.String("env", cfg.Admin.JWTSecretEnv))
	}
	api := server.New(server.Config{
		Store:       store,
		Logger:      logger,
		AdminSecret: secret,
		AdminIssuer: cfg.Admin.Issuer,
		ExportDir:   cfg.Export.Directory,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node := watcher.NewRPCNodeClient(cfg.Node.URL, cfg.Node.Timeout.Duration)
	w := watcher.New(node, store, logger).
		WithPollInterval(cfg.Node.PollInterval.Duration).
		WithBatchSize(cfg.Node.BatchSize)
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		w.Run(rootCtx)
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("dealindexer listening", slog.String("addr", cfg.ListenAddress), slog.String("node", cfg.Node.URL))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.Any("error", err))
			stop()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	stop()
	<-watcherDone
	api.Wait()
	logger.Info("dealindexer stopped")
}
