package capture

import (
	"context"
	"time"

	"leadhub_backend/internal/distribution"
	"leadhub_backend/internal/events"
	"leadhub_backend/internal/leadstore"
	"leadhub_backend/internal/sources"
	"leadhub_backend/platform/logger"

	"github.com/google/uuid"
)

// Reasons for unassigned outcomes added by the pipeline itself, on top of
// the distribution service's policy reasons.
const (
	ReasonAssignmentFailed = "assignment_failed"
)

// Per-stage deadlines. The lead store gets the longest budget because the
// whole attempt fails without it; every later stage degrades gracefully.
const (
	leadStoreTimeout = 5 * time.Second
	stageTimeout     = 3 * time.Second
)

// LeadCreator is the external lead store surface the pipeline needs.
type LeadCreator interface {
	CreateLead(ctx context.Context, req leadstore.CreateLeadRequest) (uuid.UUID, error)
	AssignLead(ctx context.Context, leadID uuid.UUID, req leadstore.AssignLeadRequest) error
}

// DuplicateRecorder persists source records with duplicate links resolved.
type DuplicateRecorder interface {
	Record(ctx context.Context, rec sources.LeadSourceRecord) (sources.LeadSourceRecord, error)
	MarkProcessed(ctx context.Context, recordID uuid.UUID) error
}

// Assigner selects the next assignee for a distribution unit.
type Assigner interface {
	Assign(ctx context.Context, orgID uuid.UUID, unitKey string) (distribution.AssignmentResult, error)
}

// PayloadArchiver stores the raw channel payload for audit. Optional.
type PayloadArchiver interface {
	ArchivePayload(ctx context.Context, orgID, recordID uuid.UUID, payload []byte) error
}

// ChannelMetadata describes where a submission came from.
type ChannelMetadata struct {
	Source    string            `json:"source"`
	FormID    string            `json:"formId,omitempty"`
	Page      string            `json:"page,omitempty"`
	UTM       map[string]string `json:"utm,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
}

// IngestRequest is one inbound lead submission, already scoped to an
// organization by API key auth.
type IngestRequest struct {
	OrganizationID uuid.UUID
	UnitKey        string
	RawFields      map[string]any
	Metadata       ChannelMetadata
	RawPayload     []byte
}

// IngestResult is what the channel adapter gets back.
type IngestResult struct {
	LeadID         uuid.UUID
	SourceRecordID uuid.UUID
	Suppressed     bool
	IsDuplicate    bool
	Assigned       bool
	AssigneeID     *uuid.UUID
	Reason         string // set when Assigned is false
}

// Service is the ingestion coordinator. Each lead moves through the stages
// normalize, suppress-check, persist, duplicate-check, assign, notify. A
// failure after the lead is durably persisted degrades that lead instead of
// failing the submission; only lead store unavailability aborts.
type Service struct {
	leads      LeadCreator
	detector   DuplicateRecorder
	assigner   Assigner
	suppressor *Suppressor
	archiver   PayloadArchiver
	bus        events.Bus
	log        *logger.Logger
}

func NewService(
	leads LeadCreator,
	detector DuplicateRecorder,
	assigner Assigner,
	suppressor *Suppressor,
	archiver PayloadArchiver,
	bus events.Bus,
	log *logger.Logger,
) *Service {
	return &Service{
		leads:      leads,
		detector:   detector,
		assigner:   assigner,
		suppressor: suppressor,
		archiver:   archiver,
		bus:        bus,
		log:        log,
	}
}

// Ingest runs the full pipeline for one submission.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	orgStr := req.OrganizationID.String()

	identity := Normalize(req.RawFields)
	s.log.IngestStage("normalized", orgStr, req.UnitKey, true, "")

	if s.suppressor.SeenRecently(ctx, req.OrganizationID, req.UnitKey, identity.Email, identity.Phone) {
		s.log.IngestStage("suppressed", orgStr, req.UnitKey, true, "recent identical submission")
		return IngestResult{Suppressed: true}, nil
	}

	// Persist the lead in the external store. Nothing downstream may run
	// without a durable lead, so this is the one fatal stage.
	storeCtx, cancel := context.WithTimeout(ctx, leadStoreTimeout)
	leadID, err := s.leads.CreateLead(storeCtx, leadstore.CreateLeadRequest{
		OrganizationID: req.OrganizationID,
		Name:           identity.Name,
		Email:          identity.Email,
		Phone:          identity.Phone,
		Source:         req.Metadata.Source,
		CustomFields:   identity.CustomFields,
	})
	cancel()
	if err != nil {
		s.log.IngestStage("persisted", orgStr, req.UnitKey, false, err.Error())
		return IngestResult{}, err
	}
	s.log.IngestStage("persisted", orgStr, req.UnitKey, true, "")

	result := IngestResult{LeadID: leadID}

	record := s.recordSources(ctx, req, identity, leadID, &result)
	s.assign(ctx, req, identity, leadID, &result)

	s.bus.Publish(ctx, events.LeadCaptured{
		BaseEvent:      events.NewBaseEvent(),
		LeadID:         leadID,
		SourceRecordID: result.SourceRecordID,
		OrganizationID: req.OrganizationID,
		UnitKey:        req.UnitKey,
		Source:         req.Metadata.Source,
		Name:           identity.Name,
		Email:          identity.Email,
		Phone:          identity.Phone,
		IsDuplicate:    result.IsDuplicate,
	})

	s.archive(ctx, req, result.SourceRecordID)

	if record != nil {
		if err := s.detector.MarkProcessed(ctx, record.ID); err != nil {
			s.log.Warn("failed to mark source record processed",
				"record_id", record.ID, "error", err)
		}
	}

	return result, nil
}

// recordSources runs the duplicate-check stage. Returns nil when the stage
// failed; the lead stays persisted and unlinked.
func (s *Service) recordSources(ctx context.Context, req IngestRequest, identity Identity, leadID uuid.UUID, result *IngestResult) *sources.LeadSourceRecord {
	stageCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	record, err := s.detector.Record(stageCtx, sources.LeadSourceRecord{
		LeadID:         leadID,
		OrganizationID: req.OrganizationID,
		Source:         req.Metadata.Source,
		UnitKey:        req.UnitKey,
		SourceDetails:  metadataDetails(req.Metadata),
		Name:           identity.Name,
		Email:          identity.Email,
		Phone:          identity.Phone,
		CustomFields:   identity.CustomFields,
	})
	if err != nil {
		s.log.IngestStage("duplicate_checked", req.OrganizationID.String(), req.UnitKey, false, err.Error())
		return nil
	}

	result.SourceRecordID = record.ID
	result.IsDuplicate = record.IsDuplicate
	s.log.IngestStage("duplicate_checked", req.OrganizationID.String(), req.UnitKey, true, "")
	return &record
}

// assign runs the assignment stage. Failures degrade to an unassigned lead.
func (s *Service) assign(ctx context.Context, req IngestRequest, identity Identity, leadID uuid.UUID, result *IngestResult) {
	stageCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	assignment, err := s.assigner.Assign(stageCtx, req.OrganizationID, req.UnitKey)
	if err != nil {
		result.Reason = ReasonAssignmentFailed
		s.log.IngestStage("assignment_attempted", req.OrganizationID.String(), req.UnitKey, false, err.Error())
		return
	}

	result.Assigned = assignment.Assigned
	result.AssigneeID = assignment.AssigneeID
	result.Reason = assignment.Reason
	s.log.IngestStage("assignment_attempted", req.OrganizationID.String(), req.UnitKey, true, assignment.Reason)

	if !assignment.Assigned {
		return
	}

	// Record the assignment on the stored lead. Best-effort: the local
	// decision already happened and notification carries the assignee.
	if err := s.leads.AssignLead(stageCtx, leadID, leadstore.AssignLeadRequest{AssigneeID: *assignment.AssigneeID}); err != nil {
		s.log.Warn("failed to record assignment on lead store",
			"lead_id", leadID, "assignee_id", *assignment.AssigneeID, "error", err)
	}

	s.bus.Publish(ctx, events.LeadAssigned{
		BaseEvent:      events.NewBaseEvent(),
		LeadID:         leadID,
		OrganizationID: req.OrganizationID,
		UnitKey:        req.UnitKey,
		AssigneeID:     *assignment.AssigneeID,
		Algorithm:      string(assignment.Algorithm),
		LeadSummary:    leadSummary(identity),
	})
}

// archive stores the raw payload when an archiver is configured. Best-effort.
func (s *Service) archive(ctx context.Context, req IngestRequest, recordID uuid.UUID) {
	if s.archiver == nil || len(req.RawPayload) == 0 || recordID == uuid.Nil {
		return
	}
	stageCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	if err := s.archiver.ArchivePayload(stageCtx, req.OrganizationID, recordID, req.RawPayload); err != nil {
		s.log.Warn("failed to archive raw payload", "record_id", recordID, "error", err)
	}
}

func metadataDetails(m ChannelMetadata) map[string]any {
	details := map[string]any{"source": m.Source}
	if m.FormID != "" {
		details["formId"] = m.FormID
	}
	if m.Page != "" {
		details["page"] = m.Page
	}
	if len(m.UTM) > 0 {
		details["utm"] = m.UTM
	}
	if m.IP != "" {
		details["ip"] = m.IP
	}
	if m.UserAgent != "" {
		details["userAgent"] = m.UserAgent
	}
	return details
}

// leadSummary renders the short human-readable line used in notifications.
func leadSummary(identity Identity) string {
	switch {
	case identity.Name != "" && identity.Email != "":
		return identity.Name + " <" + identity.Email + ">"
	case identity.Name != "":
		return identity.Name
	case identity.Email != "":
		return identity.Email
	case identity.Phone != "":
		return identity.Phone
	}
	return "unknown lead"
}
