package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"taskboard/api/internal/app"
	"taskboard/api/internal/config"
	"taskboard/api/internal/events"
	"taskboard/api/internal/logging"
	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	var dataStore app.DataStore
	switch cfg.StoreBackend {
	case "postgres":
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		dataStore = store.NewPostgresStore(db)
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		dataStore = store.NewMemoryStore()
	}

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer sessions.Close()

	broadcaster, err := events.NewBroadcaster(cfg.RedisURL, cfg.EventChannel)
	if err != nil {
		logger.Fatal("event broadcaster failed", zap.Error(err))
	}
	defer broadcaster.Close()

	service := app.New(cfg, dataStore, sessions, broadcaster, logger)
	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap failed, will retry on next restart", zap.Error(err))
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("taskboard api listening", zap.String("addr", cfg.Addr), zap.String("store", cfg.StoreBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
