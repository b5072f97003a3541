package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadhub_backend/internal/adapters/storage"
	"leadhub_backend/internal/capture"
	"leadhub_backend/internal/distribution"
	"leadhub_backend/internal/events"
	apphttp "leadhub_backend/internal/http"
	"leadhub_backend/internal/http/router"
	"leadhub_backend/internal/leadstore"
	"leadhub_backend/internal/notify"
	"leadhub_backend/internal/scheduler"
	"leadhub_backend/internal/sources"
	"leadhub_backend/platform/config"
	"leadhub_backend/platform/db"
	"leadhub_backend/platform/logger"
	"leadhub_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	// Background queue client. Optional: without Redis the worker's outbox
	// sweep is the only notification dispatcher and cluster repair is off.
	schedClient := initSchedulerClient(cfg, log)
	if schedClient != nil {
		defer func() { _ = schedClient.Close() }()
		schedClient.SubscribeToEvents(eventBus)
	}

	// Raw payload archive (MinIO). Optional.
	var archiver capture.PayloadArchiver
	if cfg.IsMinIOEnabled() {
		storageSvc, err := storage.NewMinIOService(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		ensureBucket(ctx, log, storageSvc, "raw-payloads", cfg.GetMinIOBucketRawPayloads())
		archiver = storage.NewPayloadArchive(storageSvc, cfg.GetMinIOBucketRawPayloads())
	} else {
		log.Warn("MINIO_ENDPOINT not configured; raw payload archiving disabled")
	}

	// Rapid-resubmission cache (Redis). Optional.
	var suppressor *capture.Suppressor
	if cfg.GetRedisURL() != "" {
		opt, err := redis.ParseURL(cfg.GetRedisURL())
		if err != nil {
			log.Error("failed to parse REDIS_URL", "error", err)
			panic("failed to parse REDIS_URL: " + err.Error())
		}
		suppressor = capture.NewSuppressor(redis.NewClient(opt), cfg.GetSuppressionWindow(), log)
	} else {
		log.Warn("REDIS_URL not configured; rapid-resubmission suppression disabled")
	}

	// ========================================================================
	// Module Wiring
	// ========================================================================

	leadsClient := leadstore.New(cfg, log)

	distributionModule := distribution.NewModule(pool, eventBus, val, log)
	sourcesModule := sources.NewModule(pool, eventBus, val, log)

	captureModule := capture.NewModule(
		pool,
		leadsClient,
		sourcesModule.Detector(),
		distributionModule.Service(),
		suppressor,
		archiver,
		eventBus,
		val,
		log,
	)

	var notifier notify.Notifier
	if wh := notify.NewWebhookNotifier(cfg, log); wh != nil {
		notifier = wh
	}
	var mailer notify.EmailSender
	if m := notify.NewMailer(cfg); m != nil {
		mailer = m
	}
	var enqueuer notify.DispatchEnqueuer
	if schedClient != nil {
		enqueuer = schedClient
	}

	outbox := notify.NewOutboxRepository(pool)
	notifyService := notify.NewService(outbox, notifier, mailer, enqueuer, log)
	notifyService.SubscribeToEvents(eventBus)
	notifyModule := notify.NewModule(notifyService, outbox, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			captureModule,
			sourcesModule,
			distributionModule,
			notifyModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdownCtx
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initSchedulerClient(cfg config.SchedulerConfig, log *logger.Logger) *scheduler.Client {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; background queue disabled")
		return nil
	}

	client, err := scheduler.NewClient(cfg, log)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		return nil
	}
	return client
}

// ensureBucket wraps the retry logic for verifying a MinIO bucket exists.
func ensureBucket(ctx context.Context, log *logger.Logger, store storage.ObjectStore, name, bucket string) {
	if err := withRetry(ctx, log, "ensure "+name+" bucket", 5, 2*time.Second, func() error {
		return store.EnsureBucketExists(ctx, bucket)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", bucket)
		panic("failed to ensure storage bucket exists: " + err.Error())
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
