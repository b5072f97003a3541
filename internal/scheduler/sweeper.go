package scheduler

import (
	"context"
	"time"

	"leadhub_backend/internal/notify"
	"leadhub_backend/platform/logger"
)

// OutboxSweeper periodically delivers pending notifications that missed
// their immediate dispatch (lost enqueue, worker restart, reschedules).
type OutboxSweeper struct {
	notify   *notify.Service
	interval time.Duration
	log      *logger.Logger
}

func NewOutboxSweeper(notifySvc *notify.Service, interval time.Duration, log *logger.Logger) *OutboxSweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &OutboxSweeper{notify: notifySvc, interval: interval, log: log}
}

func (s *OutboxSweeper) Run(ctx context.Context) {
	if s == nil || s.notify == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := s.notify.DispatchDue(ctx, 50); err != nil {
			s.log.Warn("outbox sweep failed", "error", err)
		}
	}
}
