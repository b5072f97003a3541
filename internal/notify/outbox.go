// Package notify delivers assignment notifications to the external notifier
// collaborator and an email inbox. Deliveries go through a Postgres outbox
// so a notifier outage never loses a notification.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

var ErrOutboxRecordNotFound = errors.New("outbox record not found")

// OutboxRecord is one notification awaiting delivery.
type OutboxRecord struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Payload        json.RawMessage
	RunAt          time.Time
	Status         Status
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
}

// OutboxRepository provides data access for the notification outbox.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

const outboxColumns = `id, organization_id, payload, run_at, status, attempts, last_error, created_at`

func scanOutbox(row pgx.Row) (OutboxRecord, error) {
	var rec OutboxRecord
	var status string
	err := row.Scan(&rec.ID, &rec.OrganizationID, &rec.Payload, &rec.RunAt,
		&status, &rec.Attempts, &rec.LastError, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return OutboxRecord{}, ErrOutboxRecordNotFound
	}
	if err != nil {
		return OutboxRecord{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}

// Insert stores a pending notification.
func (r *OutboxRepository) Insert(ctx context.Context, orgID uuid.UUID, payload any) (uuid.UUID, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}

	var id uuid.UUID
	err = r.pool.QueryRow(ctx, `
		INSERT INTO notification_outbox (organization_id, payload, run_at, status)
		VALUES ($1, $2, now(), 'pending')
		RETURNING id
	`, orgID, payloadBytes).Scan(&id)
	return id, err
}

// GetByID returns a single outbox record.
func (r *OutboxRepository) GetByID(ctx context.Context, id uuid.UUID) (OutboxRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+outboxColumns+` FROM notification_outbox WHERE id = $1
	`, id)
	return scanOutbox(row)
}

// ClaimPending atomically moves due pending records to processing and returns
// them. Concurrent workers skip each other's rows.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		WITH due AS (
			SELECT id
			FROM notification_outbox
			WHERE status = 'pending' AND run_at <= now()
			ORDER BY run_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE notification_outbox o
		SET status = 'processing', attempts = attempts + 1
		FROM due
		WHERE o.id = due.id
		RETURNING `+prefixedOutboxColumns("o")+`
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ClaimByID moves one pending record to processing. Returns ok=false when
// the record is gone or another worker already claimed it.
func (r *OutboxRepository) ClaimByID(ctx context.Context, id uuid.UUID) (OutboxRecord, bool, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE notification_outbox
		SET status = 'processing', attempts = attempts + 1
		WHERE id = $1 AND status = 'pending'
		RETURNING `+outboxColumns+`
	`, id)
	rec, err := scanOutbox(row)
	if errors.Is(err, ErrOutboxRecordNotFound) {
		return OutboxRecord{}, false, nil
	}
	if err != nil {
		return OutboxRecord{}, false, err
	}
	return rec, true, nil
}

// MarkSucceeded finalizes a delivered notification.
func (r *OutboxRepository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_outbox
		SET status = 'succeeded', last_error = NULL
		WHERE id = $1
	`, id)
	return err
}

// Reschedule puts a failed delivery back in the queue with a delay.
func (r *OutboxRepository) Reschedule(ctx context.Context, id uuid.UUID, lastError string, delay time.Duration) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_outbox
		SET status = 'pending', last_error = $2, run_at = now() + $3
		WHERE id = $1
	`, id, lastError, delay)
	return err
}

// MarkFailed gives up on a notification after exhausting retries.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_outbox
		SET status = 'failed', last_error = $2
		WHERE id = $1
	`, id, lastError)
	return err
}

// ListByOrganization returns recent outbox records, newest first.
func (r *OutboxRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID, limit int) ([]OutboxRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM notification_outbox
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func prefixedOutboxColumns(alias string) string {
	return alias + ".id, " + alias + ".organization_id, " + alias + ".payload, " +
		alias + ".run_at, " + alias + ".status, " + alias + ".attempts, " +
		alias + ".last_error, " + alias + ".created_at"
}
