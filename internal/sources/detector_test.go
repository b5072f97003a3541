package sources

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"leadhub_backend/internal/events"
	"leadhub_backend/platform/logger"

	"github.com/google/uuid"
)

// fakeRecordStore keeps records in insertion order in memory.
type fakeRecordStore struct {
	records    []LeadSourceRecord
	clock      time.Time
	lookupErr  error
	insertErr  error
	linkErrFor map[uuid.UUID]error
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{clock: time.Unix(1700000000, 0)}
}

func (s *fakeRecordStore) Insert(_ context.Context, rec LeadSourceRecord) (LeadSourceRecord, error) {
	if s.insertErr != nil {
		return LeadSourceRecord{}, s.insertErr
	}
	rec.ID = uuid.New()
	s.clock = s.clock.Add(time.Second)
	rec.CreatedAt = s.clock
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *fakeRecordStore) FindByIdentity(_ context.Context, orgID uuid.UUID, email, phone string) ([]LeadSourceRecord, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	if email == "" && phone == "" {
		return nil, nil
	}
	var out []LeadSourceRecord
	for _, r := range s.records {
		if r.OrganizationID != orgID {
			continue
		}
		if (email != "" && r.Email == email) || (phone != "" && r.Phone == phone) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeRecordStore) AppendDuplicateLink(_ context.Context, recordID, newID uuid.UUID) error {
	if err := s.linkErrFor[recordID]; err != nil {
		return err
	}
	for i := range s.records {
		if s.records[i].ID != recordID {
			continue
		}
		for _, existing := range s.records[i].DuplicateIDs {
			if existing == newID {
				return nil
			}
		}
		s.records[i].IsDuplicate = true
		s.records[i].DuplicateIDs = append(s.records[i].DuplicateIDs, newID)
		return nil
	}
	return ErrRecordNotFound
}

func (s *fakeRecordStore) ReplaceLinks(_ context.Context, recordID uuid.UUID, isDuplicate bool, duplicateOf *uuid.UUID, duplicateIDs []uuid.UUID) error {
	for i := range s.records {
		if s.records[i].ID == recordID {
			s.records[i].IsDuplicate = isDuplicate
			s.records[i].DuplicateOf = duplicateOf
			s.records[i].DuplicateIDs = duplicateIDs
			return nil
		}
	}
	return ErrRecordNotFound
}

func (s *fakeRecordStore) MarkProcessed(_ context.Context, recordID uuid.UUID) error {
	for i := range s.records {
		if s.records[i].ID == recordID {
			now := time.Now()
			s.records[i].Processed = true
			s.records[i].ProcessedAt = &now
			return nil
		}
	}
	return ErrRecordNotFound
}

func (s *fakeRecordStore) get(id uuid.UUID) LeadSourceRecord {
	for _, r := range s.records {
		if r.ID == id {
			return r
		}
	}
	return LeadSourceRecord{}
}

func newTestDetector(store RecordStore) *Detector {
	log := logger.New("development")
	return NewDetector(store, events.NewInMemoryBus(log), log)
}

func lead(orgID uuid.UUID, email, phone string) LeadSourceRecord {
	return LeadSourceRecord{
		LeadID:         uuid.New(),
		OrganizationID: orgID,
		Source:         "webform",
		UnitKey:        "form-1",
		Email:          email,
		Phone:          phone,
	}
}

func TestRecord_ThreeIdenticalEmails_BuildOneCluster(t *testing.T) {
	store := newFakeRecordStore()
	detector := newTestDetector(store)
	orgID := uuid.New()
	ctx := context.Background()

	first, err := detector.Record(ctx, lead(orgID, "dup@test.com", ""))
	if err != nil {
		t.Fatalf("first record failed: %v", err)
	}
	if first.IsDuplicate || first.DuplicateOf != nil {
		t.Fatal("first record must not be a duplicate")
	}

	second, err := detector.Record(ctx, lead(orgID, "dup@test.com", ""))
	if err != nil {
		t.Fatalf("second record failed: %v", err)
	}
	if !second.IsDuplicate || second.DuplicateOf == nil || *second.DuplicateOf != first.ID {
		t.Fatalf("second record must point at the first, got %+v", second)
	}

	third, err := detector.Record(ctx, lead(orgID, "dup@test.com", ""))
	if err != nil {
		t.Fatalf("third record failed: %v", err)
	}
	if !third.IsDuplicate || *third.DuplicateOf != first.ID {
		t.Fatal("third record must point at the cluster root, not the second record")
	}

	// The first record became a duplicate through back-linking but keeps a
	// nil DuplicateOf, and now references both later records.
	storedFirst := store.get(first.ID)
	if !storedFirst.IsDuplicate {
		t.Fatal("first record must be marked duplicate once a match arrives")
	}
	if storedFirst.DuplicateOf != nil {
		t.Fatal("cluster root keeps a nil duplicateOf")
	}
	if !containsID(storedFirst.DuplicateIDs, second.ID) || !containsID(storedFirst.DuplicateIDs, third.ID) {
		t.Fatalf("first record must link both later records, got %v", storedFirst.DuplicateIDs)
	}
}

func TestRecord_MatchesOnPhoneAlone(t *testing.T) {
	store := newFakeRecordStore()
	detector := newTestDetector(store)
	orgID := uuid.New()
	ctx := context.Background()

	first, _ := detector.Record(ctx, lead(orgID, "a@test.com", "+14155550100"))
	second, err := detector.Record(ctx, lead(orgID, "different@test.com", "+14155550100"))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if !second.IsDuplicate || *second.DuplicateOf != first.ID {
		t.Fatal("a shared phone alone must link the records (email OR phone)")
	}
}

func TestRecord_DifferentOrganizationsNeverMatch(t *testing.T) {
	store := newFakeRecordStore()
	detector := newTestDetector(store)
	ctx := context.Background()

	_, _ = detector.Record(ctx, lead(uuid.New(), "shared@test.com", ""))
	second, err := detector.Record(ctx, lead(uuid.New(), "shared@test.com", ""))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if second.IsDuplicate {
		t.Fatal("duplicate matching must be organization-scoped")
	}
}

func TestRecord_LookupFailure_FailsOpen(t *testing.T) {
	store := newFakeRecordStore()
	detector := newTestDetector(store)
	orgID := uuid.New()
	ctx := context.Background()

	if _, err := detector.Record(ctx, lead(orgID, "dup@test.com", "")); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	store.lookupErr = errors.New("storage unavailable")
	rec, err := detector.Record(ctx, lead(orgID, "dup@test.com", ""))
	if err != nil {
		t.Fatalf("lookup failure must not block ingestion, got %v", err)
	}
	if rec.IsDuplicate {
		t.Fatal("fail-open record must land as a non-duplicate original")
	}
}

func TestRecord_FirstOfCluster_StoresEmptyDuplicateIDs(t *testing.T) {
	store := newFakeRecordStore()
	detector := newTestDetector(store)
	ctx := context.Background()

	rec, err := detector.Record(ctx, lead(uuid.New(), "solo@test.com", ""))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	// A nil slice reaches the database as SQL NULL and violates the
	// NOT NULL duplicate_ids column, so the no-match path must hand the
	// store an allocated empty slice.
	stored := store.get(rec.ID)
	if stored.DuplicateIDs == nil {
		t.Fatal("non-duplicate record must carry an empty, non-nil duplicateIDs slice")
	}
	if len(stored.DuplicateIDs) != 0 {
		t.Fatalf("non-duplicate record must carry no links, got %v", stored.DuplicateIDs)
	}
}

func TestRecord_NoIdentity_SkipsLookup(t *testing.T) {
	store := newFakeRecordStore()
	store.lookupErr = errors.New("must not be called")
	detector := newTestDetector(store)

	rec, err := detector.Record(context.Background(), lead(uuid.New(), "", ""))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if rec.IsDuplicate {
		t.Fatal("identity-less record cannot be a duplicate")
	}
}

func TestRecord_ClusterGraphIsSymmetric_PropertyTest(t *testing.T) {
	store := newFakeRecordStore()
	detector := newTestDetector(store)
	orgID := uuid.New()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	// A small email pool forces collisions.
	emails := []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"}
	for i := 0; i < 60; i++ {
		email := emails[rng.Intn(len(emails))]
		if _, err := detector.Record(ctx, lead(orgID, email, "")); err != nil {
			t.Fatalf("record %d failed: %v", i, err)
		}
	}

	assertClusterInvariants(t, store.records)
}

func TestRelink_RepairsConcurrentOriginals(t *testing.T) {
	store := newFakeRecordStore()
	detector := newTestDetector(store)
	orgID := uuid.New()
	ctx := context.Background()

	// Simulate the documented race: two identical leads both inserted as
	// originals because each saw an empty match set.
	first, _ := store.Insert(ctx, lead(orgID, "race@test.com", ""))
	second, _ := store.Insert(ctx, lead(orgID, "race@test.com", ""))
	if first.IsDuplicate || second.IsDuplicate {
		t.Fatal("precondition: both records landed as originals")
	}

	if err := detector.Relink(ctx, orgID, "race@test.com", ""); err != nil {
		t.Fatalf("relink failed: %v", err)
	}

	repairedFirst := store.get(first.ID)
	repairedSecond := store.get(second.ID)
	if repairedFirst.DuplicateOf != nil {
		t.Fatal("earliest record stays the cluster root")
	}
	if repairedSecond.DuplicateOf == nil || *repairedSecond.DuplicateOf != first.ID {
		t.Fatal("later record must point at the earliest record")
	}
	assertClusterInvariants(t, store.records)
}

// assertClusterInvariants checks the duplicate graph is symmetric and
// transitively closed within every cluster.
func assertClusterInvariants(t *testing.T, records []LeadSourceRecord) {
	t.Helper()

	byID := make(map[uuid.UUID]LeadSourceRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	for _, r := range records {
		for _, other := range r.DuplicateIDs {
			o, ok := byID[other]
			if !ok {
				t.Fatalf("record %s links unknown record %s", r.ID, other)
			}
			if !containsID(o.DuplicateIDs, r.ID) {
				t.Fatalf("asymmetric link: %s -> %s but not back", r.ID, other)
			}
		}

		// Every non-root member points at the same root, and the cluster is
		// closed: a member links every other member.
		if r.DuplicateOf != nil {
			root, ok := byID[*r.DuplicateOf]
			if !ok {
				t.Fatalf("record %s has unknown root %s", r.ID, *r.DuplicateOf)
			}
			if root.DuplicateOf != nil {
				t.Fatalf("root %s must have nil duplicateOf", root.ID)
			}
			if !containsID(root.DuplicateIDs, r.ID) {
				t.Fatalf("root %s does not link member %s", root.ID, r.ID)
			}
			for _, sibling := range root.DuplicateIDs {
				if sibling == r.ID {
					continue
				}
				if !containsID(r.DuplicateIDs, sibling) {
					t.Fatalf("cluster not transitively closed: %s missing sibling %s", r.ID, sibling)
				}
			}
		}
	}
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
