package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"leadhub_backend/internal/events"
	"leadhub_backend/platform/config"
	"leadhub_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// relinkDelay leaves room for concurrently ingested records to land before
// the cluster is recomputed.
const relinkDelay = 30 * time.Second

type Client struct {
	client *asynq.Client
	queue  string
	log    *logger.Logger
}

func NewClient(cfg config.SchedulerConfig, log *logger.Logger) (*Client, error) {
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

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
		log:    log,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueNotifyDispatch schedules delivery of one outbox record.
func (c *Client) EnqueueNotifyDispatch(ctx context.Context, outboxID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewNotifyDispatchTask(NotifyDispatchPayload{OutboxID: outboxID.String()})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(5))
	return err
}

// EnqueueSourcesRelink schedules a duplicate-cluster repair for one identity.
// Tasks for the same identity inside the delay window collapse into one.
func (c *Client) EnqueueSourcesRelink(ctx context.Context, orgID uuid.UUID, email, phone string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if email == "" && phone == "" {
		return nil
	}

	task, err := NewSourcesRelinkTask(SourcesRelinkPayload{
		OrganizationID: orgID.String(),
		Email:          email,
		Phone:          phone,
	})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.ProcessIn(relinkDelay),
		asynq.Unique(2*relinkDelay),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// SubscribeToEvents enqueues a relink repair after every captured lead that
// carries an identity, bounding the concurrent-originals window.
func (c *Client) SubscribeToEvents(bus events.Bus) {
	bus.Subscribe(events.LeadCaptured{}.EventName(), events.HandlerFunc(
		func(ctx context.Context, event events.Event) error {
			captured, ok := event.(events.LeadCaptured)
			if !ok {
				return fmt.Errorf("unexpected event type %T", event)
			}
			if err := c.EnqueueSourcesRelink(ctx, captured.OrganizationID, captured.Email, captured.Phone); err != nil {
				c.log.Warn("failed to enqueue relink task",
					"organization_id", captured.OrganizationID, "error", err)
			}
			return nil
		}))
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
