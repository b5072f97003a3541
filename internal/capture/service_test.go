package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"leadhub_backend/internal/distribution"
	"leadhub_backend/internal/events"
	"leadhub_backend/internal/leadstore"
	"leadhub_backend/internal/sources"
	"leadhub_backend/platform/apperr"
	"leadhub_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type fakeLeads struct {
	mu         sync.Mutex
	createErr  error
	assignErr  error
	created    []leadstore.CreateLeadRequest
	assigned   []uuid.UUID
	nextLeadID uuid.UUID
}

func (f *fakeLeads) CreateLead(_ context.Context, req leadstore.CreateLeadRequest) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return uuid.Nil, f.createErr
	}
	f.created = append(f.created, req)
	if f.nextLeadID == uuid.Nil {
		f.nextLeadID = uuid.New()
	}
	return f.nextLeadID, nil
}

func (f *fakeLeads) AssignLead(_ context.Context, leadID uuid.UUID, _ leadstore.AssignLeadRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignErr != nil {
		return f.assignErr
	}
	f.assigned = append(f.assigned, leadID)
	return nil
}

type fakeDetector struct {
	recordErr error
	recorded  []sources.LeadSourceRecord
	processed []uuid.UUID
	duplicate bool
}

func (f *fakeDetector) Record(_ context.Context, rec sources.LeadSourceRecord) (sources.LeadSourceRecord, error) {
	if f.recordErr != nil {
		return sources.LeadSourceRecord{}, f.recordErr
	}
	rec.ID = uuid.New()
	rec.IsDuplicate = f.duplicate
	f.recorded = append(f.recorded, rec)
	return rec, nil
}

func (f *fakeDetector) MarkProcessed(_ context.Context, recordID uuid.UUID) error {
	f.processed = append(f.processed, recordID)
	return nil
}

type fakeAssigner struct {
	err    error
	result distribution.AssignmentResult
	calls  int
}

func (f *fakeAssigner) Assign(_ context.Context, _ uuid.UUID, _ string) (distribution.AssignmentResult, error) {
	f.calls++
	if f.err != nil {
		return distribution.AssignmentResult{}, f.err
	}
	return f.result, nil
}

type fakeArchiver struct {
	err      error
	payloads [][]byte
}

func (f *fakeArchiver) ArchivePayload(_ context.Context, _, _ uuid.UUID, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

// recordingBus captures published events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) byName(name string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

type pipelineFixture struct {
	service  *Service
	leads    *fakeLeads
	detector *fakeDetector
	assigner *fakeAssigner
	archiver *fakeArchiver
	bus      *recordingBus
}

func newPipeline(t *testing.T) *pipelineFixture {
	t.Helper()
	assignee := uuid.New()
	f := &pipelineFixture{
		leads:    &fakeLeads{},
		detector: &fakeDetector{},
		assigner: &fakeAssigner{result: distribution.AssignmentResult{
			Assigned:   true,
			AssigneeID: &assignee,
			Algorithm:  distribution.AlgorithmRoundRobin,
		}},
		archiver: &fakeArchiver{},
		bus:      &recordingBus{},
	}
	f.service = NewService(f.leads, f.detector, f.assigner, nil, f.archiver, f.bus, logger.New("development"))
	return f
}

func ingestRequest(orgID uuid.UUID) IngestRequest {
	return IngestRequest{
		OrganizationID: orgID,
		UnitKey:        "form-1",
		RawFields: map[string]any{
			"fullName": "Jane Doe",
			"email":    "jane@test.com",
			"budget":   "50000",
		},
		Metadata:   ChannelMetadata{Source: "webform", Page: "/contact", IP: "203.0.113.9"},
		RawPayload: []byte(`{"fullName":"Jane Doe"}`),
	}
}

func TestIngest_HappyPath(t *testing.T) {
	f := newPipeline(t)
	orgID := uuid.New()

	result, err := f.service.Ingest(context.Background(), ingestRequest(orgID))
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if result.LeadID == uuid.Nil || result.SourceRecordID == uuid.Nil {
		t.Fatalf("expected lead and record ids, got %+v", result)
	}
	if !result.Assigned || result.AssigneeID == nil {
		t.Fatalf("expected assignment, got %+v", result)
	}

	if len(f.leads.created) != 1 {
		t.Fatalf("expected one lead creation, got %d", len(f.leads.created))
	}
	created := f.leads.created[0]
	if created.Name != "Jane Doe" || created.Email != "jane@test.com" {
		t.Fatalf("identity not normalized into create request: %+v", created)
	}
	if created.CustomFields["budget"] != "50000" {
		t.Fatalf("custom fields not forwarded: %v", created.CustomFields)
	}

	if len(f.detector.recorded) != 1 {
		t.Fatal("expected one source record")
	}
	if f.detector.recorded[0].LeadID != result.LeadID {
		t.Fatal("source record must reference the created lead")
	}
	if len(f.leads.assigned) != 1 || f.leads.assigned[0] != result.LeadID {
		t.Fatal("assignment must be recorded on the lead store")
	}
	if len(f.detector.processed) != 1 || f.detector.processed[0] != result.SourceRecordID {
		t.Fatal("source record must be marked processed")
	}
	if len(f.archiver.payloads) != 1 {
		t.Fatal("raw payload must be archived")
	}

	if got := f.bus.byName("capture.lead.captured"); len(got) != 1 {
		t.Fatalf("expected one LeadCaptured event, got %d", len(got))
	}
	assignedEvents := f.bus.byName("distribution.lead.assigned")
	if len(assignedEvents) != 1 {
		t.Fatalf("expected one LeadAssigned event, got %d", len(assignedEvents))
	}
	assigned := assignedEvents[0].(events.LeadAssigned)
	if assigned.LeadSummary != "Jane Doe <jane@test.com>" {
		t.Fatalf("unexpected lead summary %q", assigned.LeadSummary)
	}
}

func TestIngest_LeadStoreDown_FailsTheAttempt(t *testing.T) {
	f := newPipeline(t)
	f.leads.createErr = apperr.Unavailable("lead store unavailable")

	_, err := f.service.Ingest(context.Background(), ingestRequest(uuid.New()))
	if err == nil {
		t.Fatal("expected error when the lead store is down")
	}
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable kind, got %v", err)
	}
	if len(f.detector.recorded) != 0 || f.assigner.calls != 0 {
		t.Fatal("nothing downstream may run without a durable lead")
	}
}

func TestIngest_DetectorFailure_DegradesGracefully(t *testing.T) {
	f := newPipeline(t)
	f.detector.recordErr = errors.New("database down")

	result, err := f.service.Ingest(context.Background(), ingestRequest(uuid.New()))
	if err != nil {
		t.Fatalf("detector failure must not fail ingestion: %v", err)
	}
	if result.LeadID == uuid.Nil {
		t.Fatal("lead must still be persisted")
	}
	if result.SourceRecordID != uuid.Nil {
		t.Fatal("no source record exists after a detector failure")
	}
	if !result.Assigned {
		t.Fatal("assignment must still be attempted")
	}
}

func TestIngest_AssignerError_DegradesToUnassigned(t *testing.T) {
	f := newPipeline(t)
	f.assigner.err = errors.New("lock timeout")

	result, err := f.service.Ingest(context.Background(), ingestRequest(uuid.New()))
	if err != nil {
		t.Fatalf("assigner failure must not fail ingestion: %v", err)
	}
	if result.Assigned {
		t.Fatal("lead must stay unassigned")
	}
	if result.Reason != ReasonAssignmentFailed {
		t.Fatalf("expected reason %q, got %q", ReasonAssignmentFailed, result.Reason)
	}
	if len(f.bus.byName("distribution.lead.assigned")) != 0 {
		t.Fatal("no LeadAssigned event without an assignment")
	}
}

func TestIngest_NoEligibleUsers_IsNonFatal(t *testing.T) {
	f := newPipeline(t)
	f.assigner.result = distribution.AssignmentResult{
		Reason:    distribution.ReasonNoEligibleUsers,
		Algorithm: distribution.AlgorithmRoundRobin,
	}

	result, err := f.service.Ingest(context.Background(), ingestRequest(uuid.New()))
	if err != nil {
		t.Fatalf("empty eligible set must not be an error: %v", err)
	}
	if result.Assigned {
		t.Fatal("expected unassigned outcome")
	}
	if result.Reason != distribution.ReasonNoEligibleUsers {
		t.Fatalf("expected policy reason to pass through, got %q", result.Reason)
	}
}

func TestIngest_AssignLeadWriteFailure_IsBestEffort(t *testing.T) {
	f := newPipeline(t)
	f.leads.assignErr = errors.New("store timeout")

	result, err := f.service.Ingest(context.Background(), ingestRequest(uuid.New()))
	if err != nil {
		t.Fatalf("assignment write failure must not fail ingestion: %v", err)
	}
	if !result.Assigned {
		t.Fatal("the local assignment decision stands")
	}
	if len(f.bus.byName("distribution.lead.assigned")) != 1 {
		t.Fatal("LeadAssigned must still be published for notification")
	}
}

func TestIngest_ArchiverFailure_IsBestEffort(t *testing.T) {
	f := newPipeline(t)
	f.archiver.err = errors.New("bucket unavailable")

	result, err := f.service.Ingest(context.Background(), ingestRequest(uuid.New()))
	if err != nil {
		t.Fatalf("archiver failure must not fail ingestion: %v", err)
	}
	if result.LeadID == uuid.Nil || !result.Assigned {
		t.Fatalf("pipeline must complete, got %+v", result)
	}
}

func TestIngest_SuppressesRapidResubmission(t *testing.T) {
	f := newPipeline(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	f.service.suppressor = NewSuppressor(rdb, 60*time.Second, logger.New("development"))

	orgID := uuid.New()
	first, err := f.service.Ingest(context.Background(), ingestRequest(orgID))
	if err != nil || first.Suppressed {
		t.Fatalf("first submission must pass: result=%+v err=%v", first, err)
	}

	second, err := f.service.Ingest(context.Background(), ingestRequest(orgID))
	if err != nil {
		t.Fatalf("suppressed submission must not error: %v", err)
	}
	if !second.Suppressed {
		t.Fatal("identical resubmission inside the window must be suppressed")
	}
	if len(f.leads.created) != 1 {
		t.Fatalf("suppressed submission must not create a lead, got %d", len(f.leads.created))
	}
}
