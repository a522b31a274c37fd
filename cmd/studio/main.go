package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"inkstudio/internal/app"
	"inkstudio/internal/config"
	"inkstudio/internal/ratelimit"
	"inkstudio/internal/server"
	"inkstudio/internal/util"
	"inkstudio/pkg/analysis"
	"inkstudio/pkg/events"
	"inkstudio/pkg/payment"
	"inkstudio/pkg/queue"
	"inkstudio/pkg/storage"
	"inkstudio/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var dataStore store.Store
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init database: %v", err)
		}
		dataStore = gormStore
	} else {
		slog.Warn("no databaseURL configured, using in-memory store")
		dataStore = store.NewMemoryStore()
	}

	tokens := store.NewRedisReportTokenStore(cfg.RedisAddr, cfg.RedisPassword)

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		objects = minioStore
	} else {
		slog.Warn("no minioEndpoint configured, using in-memory object store")
		objects = storage.NewMemoryObjectStore()
	}

	jobQueue, err := queue.NewRedisAnalysisQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueStream,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
	})
	if err != nil {
		log.Fatalf("failed to init analysis queue: %v", err)
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.AMQPURL != "" {
		rabbit, err := events.NewRabbitPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
		defer rabbit.Close()
		publisher = rabbit
	}

	appCore := app.New(app.Options{
		Logger:   logger,
		Store:    dataStore,
		Tokens:   tokens,
		Objects:  objects,
		Queue:    jobQueue,
		Engine:   analysis.NewMockEngine(),
		Payments: payment.NewMockProcessor(),
		Events:   publisher,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	jobQueue.Start(ctx, cfg.QueueConcurrency, appCore.HandleAnalysisJob)

	window := time.Minute
	shareLimiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "inkstudio:ratelimit:share", cfg.RateLimitPerMinute, window)
	if err != nil {
		log.Fatalf("failed to init share rate limiter: %v", err)
	}
	uploadLimiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "inkstudio:ratelimit:upload", cfg.UploadLimitPerMinute, window)
	if err != nil {
		log.Fatalf("failed to init upload rate limiter: %v", err)
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		MaxUploadBytes: int64(cfg.MaxUploadMB) << 20,
		Limiter:        shareLimiter,
		UploadLimiter:  uploadLimiter,
		TrustedProxies: proxies,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("studio server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
