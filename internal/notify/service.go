package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadhub_backend/internal/events"
	"leadhub_backend/platform/logger"

	"github.com/google/uuid"
)

const maxDeliveryAttempts = 5

// Outbox is the persistence surface the service needs.
// Satisfied by *OutboxRepository.
type Outbox interface {
	Insert(ctx context.Context, orgID uuid.UUID, payload any) (uuid.UUID, error)
	ClaimByID(ctx context.Context, id uuid.UUID) (OutboxRecord, bool, error)
	ClaimPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, lastError string, delay time.Duration) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
}

// Notifier posts a notification to the external collaborator.
// Satisfied by *WebhookNotifier.
type Notifier interface {
	Notify(ctx context.Context, notification AssignmentNotification) error
}

// EmailSender delivers the assignment email. Satisfied by *Mailer.
type EmailSender interface {
	SendAssignmentEmail(ctx context.Context, notification AssignmentNotification) error
}

// DispatchEnqueuer schedules an out-of-band dispatch for one outbox record.
// Satisfied by the scheduler client. Optional; without it the periodic sweep
// is the only dispatcher.
type DispatchEnqueuer interface {
	EnqueueNotifyDispatch(ctx context.Context, outboxID uuid.UUID) error
}

// Service turns LeadAssigned events into durable notifications and delivers
// them. Delivery is at-least-once: the collaborator must tolerate replays.
type Service struct {
	outbox   Outbox
	notifier Notifier
	mailer   EmailSender
	enqueuer DispatchEnqueuer
	log      *logger.Logger
}

func NewService(outbox Outbox, notifier Notifier, mailer EmailSender, enqueuer DispatchEnqueuer, log *logger.Logger) *Service {
	return &Service{
		outbox:   outbox,
		notifier: notifier,
		mailer:   mailer,
		enqueuer: enqueuer,
		log:      log,
	}
}

// SubscribeToEvents registers the service on the event bus.
func (s *Service) SubscribeToEvents(bus events.Bus) {
	bus.Subscribe(events.LeadAssigned{}.EventName(), events.HandlerFunc(s.handleLeadAssigned))
}

func (s *Service) handleLeadAssigned(ctx context.Context, event events.Event) error {
	assigned, ok := event.(events.LeadAssigned)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	notification := AssignmentNotification{
		LeadID:         assigned.LeadID,
		AssignedTo:     assigned.AssigneeID,
		OrganizationID: assigned.OrganizationID,
		UnitKey:        assigned.UnitKey,
		LeadSummary:    assigned.LeadSummary,
	}

	outboxID, err := s.outbox.Insert(ctx, assigned.OrganizationID, notification)
	if err != nil {
		return fmt.Errorf("insert notification outbox: %w", err)
	}

	// Enqueue an immediate dispatch for latency; the periodic sweep picks
	// the record up anyway if the enqueue is lost.
	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueNotifyDispatch(ctx, outboxID); err != nil {
			s.log.Warn("failed to enqueue notification dispatch", "outbox_id", outboxID, "error", err)
		}
	}
	return nil
}

// DispatchByID delivers one claimed outbox record. An already-handled record
// is a silent no-op, so redundant enqueues and sweeps coexist safely.
func (s *Service) DispatchByID(ctx context.Context, outboxID uuid.UUID) error {
	rec, claimed, err := s.outbox.ClaimByID(ctx, outboxID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	return s.deliver(ctx, rec)
}

// DispatchDue delivers every due pending notification. Run periodically.
func (s *Service) DispatchDue(ctx context.Context, limit int) error {
	records, err := s.outbox.ClaimPending(ctx, limit)
	if err != nil {
		return err
	}

	var firstErr error
	for _, rec := range records {
		if err := s.deliver(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Service) deliver(ctx context.Context, rec OutboxRecord) error {
	var notification AssignmentNotification
	if err := json.Unmarshal(rec.Payload, &notification); err != nil {
		// Undeliverable forever; don't keep retrying a corrupt payload.
		_ = s.outbox.MarkFailed(ctx, rec.ID, "corrupt payload: "+err.Error())
		return err
	}

	var errs []error
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, notification); err != nil {
			errs = append(errs, fmt.Errorf("webhook: %w", err))
		}
	}
	if s.mailer != nil {
		if err := s.mailer.SendAssignmentEmail(ctx, notification); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	if len(errs) == 0 {
		if err := s.outbox.MarkSucceeded(ctx, rec.ID); err != nil {
			return err
		}
		s.log.Info("notification delivered",
			"outbox_id", rec.ID, "lead_id", notification.LeadID, "assignee_id", notification.AssignedTo)
		return nil
	}

	deliveryErr := errors.Join(errs...)
	if rec.Attempts >= maxDeliveryAttempts {
		s.log.Error("notification delivery exhausted",
			"outbox_id", rec.ID, "attempts", rec.Attempts, "error", deliveryErr)
		return s.outbox.MarkFailed(ctx, rec.ID, deliveryErr.Error())
	}

	delay := time.Duration(rec.Attempts) * time.Minute
	s.log.Warn("notification delivery failed, rescheduling",
		"outbox_id", rec.ID, "attempts", rec.Attempts, "delay", delay, "error", deliveryErr)
	if err := s.outbox.Reschedule(ctx, rec.ID, deliveryErr.Error(), delay); err != nil {
		return err
	}
	return deliveryErr
}
