package capture

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"leadhub_backend/platform/apperr"
	"leadhub_backend/platform/httpkit"
	"leadhub_backend/platform/logger"
	"leadhub_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// maxPayloadBytes bounds the raw body we are willing to buffer per submission.
const maxPayloadBytes = 256 * 1024

// Handler exposes the public capture endpoint and admin key management.
type Handler struct {
	service *Service
	keys    *APIKeyRepository
	val     *validator.Validator
	log     *logger.Logger
}

func NewHandler(service *Service, keys *APIKeyRepository, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{service: service, keys: keys, val: val, log: log}
}

// SubmitLeadRequest is the normalized form every channel adapter posts.
type SubmitLeadRequest struct {
	DistributionUnitKey string          `json:"distributionUnitKey" validate:"required,max=255"`
	RawFields           map[string]any  `json:"rawFields" validate:"required"`
	ChannelMetadata     ChannelMetadata `json:"channelMetadata"`
}

// SubmitLeadResponse reports the pipeline outcome to the channel.
type SubmitLeadResponse struct {
	LeadID         *uuid.UUID `json:"leadId,omitempty"`
	SourceRecordID *uuid.UUID `json:"sourceRecordId,omitempty"`
	Suppressed     bool       `json:"suppressed"`
	IsDuplicate    bool       `json:"isDuplicate"`
	Assigned       bool       `json:"assigned"`
	AssigneeUserID *uuid.UUID `json:"assigneeUserId,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

func (h *Handler) HandleSubmitLead(c *gin.Context) {
	orgID, ok := CaptureOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}

	rawPayload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("unreadable request body"))
		return
	}

	var req SubmitLeadRequest
	if err := json.Unmarshal(rawPayload, &req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}
	if req.ChannelMetadata.Source == "" {
		req.ChannelMetadata.Source = "webform"
	}
	req.ChannelMetadata.IP = c.ClientIP()
	req.ChannelMetadata.UserAgent = c.Request.UserAgent()

	result, err := h.service.Ingest(c.Request.Context(), IngestRequest{
		OrganizationID: orgID,
		UnitKey:        req.DistributionUnitKey,
		RawFields:      req.RawFields,
		Metadata:       req.ChannelMetadata,
		RawPayload:     rawPayload,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	resp := SubmitLeadResponse{
		Suppressed:  result.Suppressed,
		IsDuplicate: result.IsDuplicate,
		Assigned:    result.Assigned,
		Reason:      result.Reason,
	}
	if result.LeadID != uuid.Nil {
		id := result.LeadID
		resp.LeadID = &id
	}
	if result.SourceRecordID != uuid.Nil {
		id := result.SourceRecordID
		resp.SourceRecordID = &id
	}
	resp.AssigneeUserID = result.AssigneeID

	httpkit.JSON(c, http.StatusAccepted, resp)
}

// CreateKeyRequest creates a new capture API key.
type CreateKeyRequest struct {
	Name           string   `json:"name" validate:"required,max=255"`
	AllowedDomains []string `json:"allowedDomains" validate:"omitempty,dive,max=255"`
}

// KeyResponse is the wire shape of a capture API key. PlaintextKey is only
// set on creation.
type KeyResponse struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	KeyID          string     `json:"keyId"`
	AllowedDomains []string   `json:"allowedDomains,omitempty"`
	IsActive       bool       `json:"isActive"`
	LastUsedAt     *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	PlaintextKey   string     `json:"plaintextKey,omitempty"`
}

func toKeyResponse(key APIKey) KeyResponse {
	return KeyResponse{
		ID:             key.ID,
		Name:           key.Name,
		KeyID:          key.KeyID,
		AllowedDomains: key.AllowedDomains,
		IsActive:       key.IsActive,
		LastUsedAt:     key.LastUsedAt,
		CreatedAt:      key.CreatedAt,
	}
}

func (h *Handler) HandleCreateKey(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}

	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	plaintext, keyID, secretHash, err := GenerateAPIKey()
	if err != nil {
		h.log.Error("failed to generate api key", "error", err)
		httpkit.HandleError(c, apperr.Internal("failed to generate key"))
		return
	}

	key, err := h.keys.Create(c.Request.Context(), orgID, req.Name, keyID, secretHash, req.AllowedDomains)
	if err != nil {
		h.log.DatabaseError("create_capture_api_key", err)
		httpkit.HandleError(c, apperr.Internal("failed to store key"))
		return
	}

	resp := toKeyResponse(key)
	resp.PlaintextKey = plaintext
	httpkit.Created(c, resp)
}

func (h *Handler) HandleListKeys(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}

	keys, err := h.keys.ListByOrganization(c.Request.Context(), orgID)
	if err != nil {
		h.log.DatabaseError("list_capture_api_keys", err)
		httpkit.HandleError(c, apperr.Internal("failed to list keys"))
		return
	}

	out := make([]KeyResponse, 0, len(keys))
	for _, key := range keys {
		out = append(out, toKeyResponse(key))
	}
	httpkit.OK(c, gin.H{"keys": out})
}

func (h *Handler) HandleRevokeKey(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}

	keyID, err := uuid.Parse(c.Param("keyId"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid key id"))
		return
	}

	err = h.keys.Revoke(c.Request.Context(), orgID, keyID)
	if errors.Is(err, ErrAPIKeyNotFound) {
		httpkit.HandleError(c, apperr.NotFound("api key not found"))
		return
	}
	if err != nil {
		h.log.DatabaseError("revoke_capture_api_key", err)
		httpkit.HandleError(c, apperr.Internal("failed to revoke key"))
		return
	}

	c.Status(http.StatusNoContent)
}
