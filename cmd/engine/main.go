package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/archive"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/cache"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/config"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/engine"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/hub"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/metrics"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/queue"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/router"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/server"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/storage"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/storage/memory"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/storage/postgres"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/toggles"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/venue"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func loadEnv(logger *logrus.Logger) {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	envPath := filepath.Join(projectRoot, ".env")

	if err := godotenv.Load(envPath); err != nil {
		logger.Debugf("no .env file at %s, using system environment", envPath)
	} else {
		logger.Infof("loaded .env from %s", envPath)
	}
}

// main wires the execution engine: store, redis queue and cache, venue
// drivers, router, hub, workers and the HTTP transport, then runs until a
// shutdown signal drains everything in order.
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	loadEnv(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Redis backs the queue, the hot cache and the venue toggles.
	rclient := redis.NewClient(&redis.Options{
		Addr:     cfg.QueueAddr,
		Password: cfg.QueuePassword,
		DB:       0,
	})
	if err := rclient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Fatal("failed to connect to Redis")
	}

	// Order store: Postgres when configured, in-memory otherwise.
	var store storage.OrderStore
	if cfg.StoreURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.StoreURL)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to Postgres")
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			logger.WithError(err).Fatal("failed to apply orders schema")
		}
		store = postgres.NewOrderStore(pool)
		logger.Info("using postgres order store")
	} else {
		store = memory.NewOrderStore()
		logger.Warn("STORE_URL not set, using in-memory order store")
	}
	defer store.Close()

	orderCache, err := cache.NewOrderCache(rclient, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to create order cache")
	}

	toggleStore, err := toggles.NewStore(rclient)
	if err != nil {
		logger.WithError(err).Fatal("failed to create venue toggles store")
	}

	jobQueue, err := queue.New(rclient, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to create job queue")
	}

	venueOpts := func(fee float64) venue.VenueOptions {
		return venue.VenueOptions{
			FeeRate:  fee,
			DelayMin: cfg.ExecutionDelayMin,
			DelayMax: cfg.ExecutionDelayMax,
		}
	}
	drivers := []venue.Driver{
		venue.NewRaydium(venueOpts(cfg.VenueFeeRaydium)),
		venue.NewMeteora(venueOpts(cfg.VenueFeeMeteora)),
	}

	orderRouter := router.New(drivers, toggleStore, logger)
	orderHub := hub.New(logger)
	engineMetrics := metrics.New()
	orderHub.SetActiveGauge(engineMetrics.ActiveSinks)

	// Mirror queue depths into the scrape gauges.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depths, err := jobQueue.Depths(ctx)
				if err != nil {
					if ctx.Err() == nil {
						logger.WithError(err).Warn("queue depth gauges not updated")
					}
					continue
				}
				engineMetrics.QueueDepth.WithLabelValues("pending").Set(float64(depths.Pending))
				engineMetrics.QueueDepth.WithLabelValues("processing").Set(float64(depths.Processing))
				engineMetrics.QueueDepth.WithLabelValues("delayed").Set(float64(depths.Delayed))
			}
		}
	}()

	// Optional ClickHouse execution archive.
	var archiver engine.Archiver
	if cfg.ClickHouseAddr != "" {
		ch, err := archive.NewStore(ctx, archive.Config{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			logger.WithError(err).Warn("execution archive unavailable, continuing without it")
		} else {
			archiver = ch
			defer ch.Close()
		}
	}

	processor := engine.NewProcessor(engine.ProcessorDeps{
		Store:       store,
		Cache:       orderCache,
		Router:      orderRouter,
		Hub:         orderHub,
		Archiver:    archiver,
		Metrics:     engineMetrics,
		MaxAttempts: cfg.MaxRetryAttempts,
		Logger:      logger,
	})

	pool := queue.NewPool(jobQueue, processor, queue.PoolConfig{
		Concurrency:   cfg.QueueConcurrency,
		RatePerMinute: cfg.QueueRateLimit,
		MaxAttempts:   cfg.MaxRetryAttempts,
	}, logger)

	eng, err := engine.New(engine.Deps{
		Store:   store,
		Cache:   orderCache,
		Queue:   jobQueue,
		Pool:    pool,
		Hub:     orderHub,
		Metrics: engineMetrics,
		Logger:  logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create engine")
	}

	h := &server.Handlers{
		Engine:  eng,
		Store:   store,
		Hub:     orderHub,
		Queue:   jobQueue,
		Toggles: toggleStore,
		Metrics: engineMetrics.Handler(),
		DevMode: cfg.DevMode,
		Logger:  logger,
	}

	srv, err := server.NewServer(server.ServerDeps{
		Handlers: h,
		Config: server.ServerConfig{
			Addr:    cfg.Addr(),
			DevMode: cfg.DevMode,
			APIKey:  cfg.APIKey,
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create http server")
	}

	eng.Start(ctx)

	// Shutdown order: stop dequeues, drain workers, close subscriptions,
	// then the transport and stores.
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
		eng.Stop()
		_ = srv.Shutdown(context.Background())
	}()

	logger.WithField("addr", cfg.Addr()).Info("execution engine starting")
	if err := srv.Start(); err != nil {
		if err.Error() == "http: Server closed" {
			_ = srv.WaitClosed(context.Background())
			return
		}
		logger.WithError(err).Fatal("http server failed")
	}
}
