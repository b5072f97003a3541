package sources

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

var ErrRecordNotFound = errors.New("lead source record not found")

// Repository provides data access for lead source records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new sources repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, lead_id, organization_id, source, unit_key, source_details,
	name, email, phone, custom_fields, is_duplicate, duplicate_of, duplicate_ids,
	processed, processed_at, created_at`

func scanRecord(row pgx.Row) (LeadSourceRecord, error) {
	var (
		rec         LeadSourceRecord
		detailsJSON []byte
		fieldsJSON  []byte
	)
	err := row.Scan(
		&rec.ID, &rec.LeadID, &rec.OrganizationID, &rec.Source, &rec.UnitKey, &detailsJSON,
		&rec.Name, &rec.Email, &rec.Phone, &fieldsJSON, &rec.IsDuplicate, &rec.DuplicateOf,
		&rec.DuplicateIDs, &rec.Processed, &rec.ProcessedAt, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadSourceRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return LeadSourceRecord{}, err
	}

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &rec.SourceDetails); err != nil {
			return LeadSourceRecord{}, fmt.Errorf("decode source details: %w", err)
		}
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &rec.CustomFields); err != nil {
			return LeadSourceRecord{}, fmt.Errorf("decode custom fields: %w", err)
		}
	}
	return rec, nil
}

// Insert stores a new lead source record.
func (r *Repository) Insert(ctx context.Context, rec LeadSourceRecord) (LeadSourceRecord, error) {
	detailsJSON, err := json.Marshal(rec.SourceDetails)
	if err != nil {
		return LeadSourceRecord{}, fmt.Errorf("encode source details: %w", err)
	}
	fieldsJSON, err := json.Marshal(rec.CustomFields)
	if err != nil {
		return LeadSourceRecord{}, fmt.Errorf("encode custom fields: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO lead_source_records
			(lead_id, organization_id, source, unit_key, source_details, name, email, phone,
			 custom_fields, is_duplicate, duplicate_of, duplicate_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+recordColumns+`
	`, rec.LeadID, rec.OrganizationID, rec.Source, rec.UnitKey, detailsJSON,
		rec.Name, rec.Email, rec.Phone, fieldsJSON,
		rec.IsDuplicate, rec.DuplicateOf, nonNilIDs(rec.DuplicateIDs))
	return scanRecord(row)
}

// nonNilIDs coalesces a nil id slice to an empty one. pgx encodes a nil
// slice as SQL NULL, which the NOT NULL array columns reject.
func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

// FindByIdentity returns records in the organization sharing a non-empty
// email OR a non-empty phone with the given identity, oldest first.
func (r *Repository) FindByIdentity(ctx context.Context, orgID uuid.UUID, email, phone string) ([]LeadSourceRecord, error) {
	if email == "" && phone == "" {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM lead_source_records
		WHERE organization_id = $1
		  AND (($2 <> '' AND email = $2) OR ($3 <> '' AND phone = $3))
		ORDER BY created_at ASC
	`, orgID, email, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []LeadSourceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AppendDuplicateLink adds newID to the record's cluster members and marks it
// a duplicate. Appending the same id twice is a no-op.
func (r *Repository) AppendDuplicateLink(ctx context.Context, recordID, newID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE lead_source_records
		SET is_duplicate = true,
		    duplicate_ids = array_append(duplicate_ids, $2)
		WHERE id = $1 AND NOT ($2 = ANY(duplicate_ids))
	`, recordID, newID)
	return err
}

// ReplaceLinks rewrites a record's duplicate-linking fields. Used by the
// out-of-band cluster repair task.
func (r *Repository) ReplaceLinks(ctx context.Context, recordID uuid.UUID, isDuplicate bool, duplicateOf *uuid.UUID, duplicateIDs []uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE lead_source_records
		SET is_duplicate = $2, duplicate_of = $3, duplicate_ids = $4
		WHERE id = $1
	`, recordID, isDuplicate, duplicateOf, duplicateIDs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkProcessed flags a record as fully processed by the pipeline.
func (r *Repository) MarkProcessed(ctx context.Context, recordID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE lead_source_records
		SET processed = true, processed_at = $2
		WHERE id = $1
	`, recordID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// GetByID returns a single record scoped to an organization.
func (r *Repository) GetByID(ctx context.Context, orgID, recordID uuid.UUID) (LeadSourceRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM lead_source_records
		WHERE organization_id = $1 AND id = $2
	`, orgID, recordID)
	return scanRecord(row)
}

// ListByOrganization returns the newest records for an organization.
func (r *Repository) ListByOrganization(ctx context.Context, orgID uuid.UUID, limit int) ([]LeadSourceRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM lead_source_records
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []LeadSourceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
