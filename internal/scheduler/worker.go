package scheduler

import (
	"context"
	"fmt"

	"leadhub_backend/internal/notify"
	"leadhub_backend/internal/sources"
	"leadhub_backend/platform/config"
	"leadhub_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	notify   *notify.Service
	detector *sources.Detector
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, notifySvc *notify.Service, detector *sources.Detector, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:   server,
		mux:      mux,
		notify:   notifySvc,
		detector: detector,
		log:      log,
	}

	mux.HandleFunc(TaskNotifyDispatch, w.handleNotifyDispatch)
	mux.HandleFunc(TaskSourcesRelink, w.handleSourcesRelink)

	return w, nil
}

func (w *Worker) handleNotifyDispatch(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseNotifyDispatchPayload(task)
	if err != nil {
		return err
	}

	outboxID, err := uuid.Parse(payload.OutboxID)
	if err != nil {
		return err
	}

	return w.notify.DispatchByID(ctx, outboxID)
}

func (w *Worker) handleSourcesRelink(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseSourcesRelinkPayload(task)
	if err != nil {
		return err
	}

	orgID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		return err
	}

	return w.detector.Relink(ctx, orgID, payload.Email, payload.Phone)
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
