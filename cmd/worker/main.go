package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadhub_backend/internal/events"
	"leadhub_backend/internal/notify"
	"leadhub_backend/internal/scheduler"
	"leadhub_backend/internal/sources"
	"leadhub_backend/platform/config"
	"leadhub_backend/platform/db"
	"leadhub_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

const sweepInterval = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env, "queue", cfg.AsynqQueueName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)

	// Delivery collaborators. The worker dispatches directly, so it needs no
	// enqueuer of its own.
	var notifier notify.Notifier
	if wh := notify.NewWebhookNotifier(cfg, log); wh != nil {
		notifier = wh
	}
	var mailer notify.EmailSender
	if m := notify.NewMailer(cfg); m != nil {
		mailer = m
	}

	outbox := notify.NewOutboxRepository(pool)
	notifyService := notify.NewService(outbox, notifier, mailer, nil, log)

	detector := sources.NewDetector(sources.NewRepository(pool), eventBus, log)

	worker, err := scheduler.NewWorker(cfg, notifyService, detector, log)
	if err != nil {
		log.Error("failed to initialize worker", "error", err)
		panic("failed to initialize worker: " + err.Error())
	}

	sweeper := scheduler.NewOutboxSweeper(notifyService, sweepInterval, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("worker stopped", "error", err)
		panic("worker stopped: " + err.Error())
	}
	log.Info("worker shut down")
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
