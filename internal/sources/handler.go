package sources

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"leadhub_backend/platform/apperr"
	"leadhub_backend/platform/httpkit"
	"leadhub_backend/platform/logger"
	"leadhub_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler exposes the admin read surface over lead source records.
type Handler struct {
	repo     *Repository
	detector *Detector
	val      *validator.Validator
	log      *logger.Logger
}

func NewHandler(repo *Repository, detector *Detector, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{repo: repo, detector: detector, val: val, log: log}
}

// RecordResponse is the wire shape of a lead source record.
type RecordResponse struct {
	ID             uuid.UUID      `json:"id"`
	LeadID         uuid.UUID      `json:"leadId"`
	OrganizationID uuid.UUID      `json:"organizationId"`
	Source         string         `json:"source"`
	UnitKey        string         `json:"unitKey"`
	SourceDetails  map[string]any `json:"sourceDetails,omitempty"`
	Name           string         `json:"name"`
	Email          string         `json:"email"`
	Phone          string         `json:"phone"`
	CustomFields   map[string]any `json:"customFields,omitempty"`
	IsDuplicate    bool           `json:"isDuplicate"`
	DuplicateOf    *uuid.UUID     `json:"duplicateOf,omitempty"`
	DuplicateIDs   []uuid.UUID    `json:"duplicateIds"`
	Processed      bool           `json:"processed"`
	ProcessedAt    *time.Time     `json:"processedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

func toRecordResponse(rec LeadSourceRecord) RecordResponse {
	ids := rec.DuplicateIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return RecordResponse{
		ID:             rec.ID,
		LeadID:         rec.LeadID,
		OrganizationID: rec.OrganizationID,
		Source:         rec.Source,
		UnitKey:        rec.UnitKey,
		SourceDetails:  rec.SourceDetails,
		Name:           rec.Name,
		Email:          rec.Email,
		Phone:          rec.Phone,
		CustomFields:   rec.CustomFields,
		IsDuplicate:    rec.IsDuplicate,
		DuplicateOf:    rec.DuplicateOf,
		DuplicateIDs:   ids,
		Processed:      rec.Processed,
		ProcessedAt:    rec.ProcessedAt,
		CreatedAt:      rec.CreatedAt,
	}
}

// RelinkRequest asks for a cluster repair over one identity.
type RelinkRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,e164"`
}

func (h *Handler) HandleListRecords(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.repo.ListByOrganization(c.Request.Context(), orgID, limit)
	if err != nil {
		h.log.DatabaseError("list_source_records", err)
		httpkit.HandleError(c, apperr.Internal("failed to list source records"))
		return
	}

	out := make([]RecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}
	httpkit.OK(c, gin.H{"records": out})
}

func (h *Handler) HandleGetRecord(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}

	recordID, err := uuid.Parse(c.Param("recordId"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid record id"))
		return
	}

	rec, err := h.repo.GetByID(c.Request.Context(), orgID, recordID)
	if errors.Is(err, ErrRecordNotFound) {
		httpkit.HandleError(c, apperr.NotFound("source record not found"))
		return
	}
	if err != nil {
		h.log.DatabaseError("get_source_record", err)
		httpkit.HandleError(c, apperr.Internal("failed to load source record"))
		return
	}

	httpkit.OK(c, toRecordResponse(rec))
}

func (h *Handler) HandleRelink(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}

	var req RelinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}
	if req.Email == "" && req.Phone == "" {
		httpkit.HandleError(c, apperr.Validation("email or phone is required"))
		return
	}

	if err := h.detector.Relink(c.Request.Context(), orgID, req.Email, req.Phone); err != nil {
		h.log.DatabaseError("relink_source_records", err)
		httpkit.HandleError(c, apperr.Internal("failed to relink records"))
		return
	}

	c.Status(http.StatusNoContent)
}
