package sources

import (
	"context"

	"leadhub_backend/internal/events"
	"leadhub_backend/platform/logger"

	"github.com/google/uuid"
)

// RecordStore is the persistence surface the detector needs.
// Satisfied by *Repository.
type RecordStore interface {
	Insert(ctx context.Context, rec LeadSourceRecord) (LeadSourceRecord, error)
	FindByIdentity(ctx context.Context, orgID uuid.UUID, email, phone string) ([]LeadSourceRecord, error)
	AppendDuplicateLink(ctx context.Context, recordID, newID uuid.UUID) error
	ReplaceLinks(ctx context.Context, recordID uuid.UUID, isDuplicate bool, duplicateOf *uuid.UUID, duplicateIDs []uuid.UUID) error
	MarkProcessed(ctx context.Context, recordID uuid.UUID) error
}

// Detector persists lead source records and maintains the bidirectional
// duplicate-link graph.
//
// Known race (see DESIGN.md): two leads with the same identity arriving
// concurrently can each observe an empty match set and both land as
// originals. Detection stays read-then-write and fail-open so ingestion
// never blocks on it; the Relink repair pass closes the gap out-of-band.
type Detector struct {
	store RecordStore
	bus   events.Bus
	log   *logger.Logger
}

// NewDetector creates a new duplicate detector.
func NewDetector(store RecordStore, bus events.Bus, log *logger.Logger) *Detector {
	return &Detector{store: store, bus: bus, log: log}
}

// Record persists the new record with its duplicate links resolved against
// existing records in the same organization. A failed duplicate lookup is
// logged and treated as "no duplicates" (fail open): lead capture is never
// blocked by detector unavailability.
func (d *Detector) Record(ctx context.Context, rec LeadSourceRecord) (LeadSourceRecord, error) {
	var matches []LeadSourceRecord
	if rec.HasIdentity() {
		found, err := d.store.FindByIdentity(ctx, rec.OrganizationID, rec.Email, rec.Phone)
		if err != nil {
			d.log.Warn("duplicate lookup unavailable, failing open",
				"organization_id", rec.OrganizationID, "error", err)
		} else {
			matches = found
		}
	}

	if len(matches) > 0 {
		root := matches[0].ClusterRoot()
		rec.IsDuplicate = true
		rec.DuplicateOf = &root
		rec.DuplicateIDs = recordIDs(matches)
	} else {
		// Never hand a nil slice to the store: duplicate_ids is NOT NULL
		// and a nil slice binds as SQL NULL.
		rec.DuplicateIDs = []uuid.UUID{}
	}

	stored, err := d.store.Insert(ctx, rec)
	if err != nil {
		return LeadSourceRecord{}, err
	}

	// Back-link every matched record. The first record of a cluster turns
	// into a duplicate here; its own DuplicateOf stays nil.
	linked := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		if err := d.store.AppendDuplicateLink(ctx, m.ID, stored.ID); err != nil {
			d.log.Error("failed to back-link duplicate record",
				"record_id", m.ID, "new_record_id", stored.ID, "error", err)
			continue
		}
		linked = append(linked, m.ID)
	}

	if len(linked) > 0 {
		d.bus.Publish(ctx, events.DuplicateLinked{
			BaseEvent:      events.NewBaseEvent(),
			SourceRecordID: stored.ID,
			OrganizationID: stored.OrganizationID,
			DuplicateOf:    *stored.DuplicateOf,
			LinkedRecords:  linked,
		})
	}

	return stored, nil
}

// Relink recomputes the full cluster for an identity and rewrites every
// member's links so the graph is symmetric and transitively closed. Run
// out-of-band to repair the concurrent-originals race.
func (d *Detector) Relink(ctx context.Context, orgID uuid.UUID, email, phone string) error {
	cluster, err := d.store.FindByIdentity(ctx, orgID, email, phone)
	if err != nil {
		return err
	}
	if len(cluster) < 2 {
		return nil
	}

	root := cluster[0].ID
	for _, member := range cluster {
		others := make([]uuid.UUID, 0, len(cluster)-1)
		for _, o := range cluster {
			if o.ID != member.ID {
				others = append(others, o.ID)
			}
		}

		var duplicateOf *uuid.UUID
		if member.ID != root {
			r := root
			duplicateOf = &r
		}

		if err := d.store.ReplaceLinks(ctx, member.ID, true, duplicateOf, others); err != nil {
			return err
		}
	}
	return nil
}

// MarkProcessed flags a record as fully processed.
func (d *Detector) MarkProcessed(ctx context.Context, recordID uuid.UUID) error {
	return d.store.MarkProcessed(ctx, recordID)
}

func recordIDs(records []LeadSourceRecord) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}
