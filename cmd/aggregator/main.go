package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/user/price-aggregator/internal/api"
	"github.com/user/price-aggregator/internal/browser"
	"github.com/user/price-aggregator/internal/config"
	"github.com/user/price-aggregator/internal/monitoring"
	"github.com/user/price-aggregator/internal/resolution"
	"github.com/user/price-aggregator/internal/scheduler"
	"github.com/user/price-aggregator/internal/storage"
)

func main() {
	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("could not load config", zap.Error(err))
	}

	// Initialize Storage Layer
	pgStore, err := storage.NewPostgresStore(cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	redisStore := storage.NewRedisStore(cfg.RedisAddr)

	// Initialize Monitoring
	metrics := monitoring.NewMetrics()

	// Browser session pool, shared by every source that needs rendering
	pool := browser.NewPool(browser.PoolConfig{
		Capacity:           cfg.PoolSize,
		MaxPagesPerSession: cfg.MaxPagesPerSession,
		PageTimeout:        cfg.PageTimeout(),
		ProxyURL:           cfg.ProxyURL,
		ProxyUser:          cfg.ProxyUser,
		ProxyPassword:      cfg.ProxyPassword,
	}, logger, metrics)

	// Source crawlers + mass-crawl scheduler
	crawlers := buildCrawlers(cfg, pool, pgStore, pgStore, metrics, logger)
	sched := scheduler.NewScheduler(crawlers, pgStore, redisStore, scheduler.Config{
		Workers:          cfg.SourceWorkers,
		FreshnessWindow:  cfg.FreshnessWindow(),
		IdleCooldown:     cfg.IdleCooldown(),
		InterTargetSleep: time.Duration(cfg.InterTargetSleepSec) * time.Second,
	}, logger)

	// Entity resolution engine + coordinator
	engine := resolution.NewEngine(pgStore, pgStore, nil, logger, metrics)
	coordinator := resolution.NewCoordinator(engine, pgStore, redisStore, logger, metrics)

	// The scheduler idles until sources are started through the API.
	schedCtx, stopSched := context.WithCancel(context.Background())
	schedDone := make(chan struct{})
	go func() {
		sched.Run(schedCtx, nil)
		close(schedDone)
	}()

	// Initialize API Server
	server := api.NewServer(cfg, sched, coordinator, pgStore, pgStore, pgStore, redisStore, logger)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()

	logger.Info("server started", zap.String("port", cfg.ServerPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Order matters: stop producing work, then tear down the browsers the
	// crawlers were using, then stop serving.
	stopSched()
	coordinator.Stop()
	select {
	case <-schedDone:
	case <-ctx.Done():
	}
	pool.CloseAll()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	pgStore.Close()
	redisStore.Close()
	logger.Info("server exiting")
}
