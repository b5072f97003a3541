package distribution

import (
	"net/http"
	"time"

	"leadhub_backend/platform/httpkit"
	"leadhub_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errNoOrgContext   = "no organization context"
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
)

// Handler handles distribution admin HTTP requests.
type Handler struct {
	service *Service
	val     *validator.Validator
}

// NewHandler creates a new distribution handler.
func NewHandler(service *Service, val *validator.Validator) *Handler {
	return &Handler{service: service, val: val}
}

// EligibleUserDTO mirrors one entry of a policy's assignee list.
type EligibleUserDTO struct {
	UserID   uuid.UUID `json:"userId" validate:"required"`
	Weight   int       `json:"weight" validate:"min=1,max=10"`
	IsActive bool      `json:"isActive"`
}

// UpdateUnitRequest is the request body for creating or updating a unit policy.
type UpdateUnitRequest struct {
	Channel        string            `json:"channel" validate:"required,min=1,max=50"`
	Enabled        bool              `json:"enabled"`
	Mode           string            `json:"mode" validate:"required,oneof=auto manual specific"`
	Algorithm      string            `json:"algorithm" validate:"required,oneof=round_robin weighted_round_robin least_assigned random"`
	SpecificUserID *uuid.UUID        `json:"specificUserId"`
	EligibleUsers  []EligibleUserDTO `json:"eligibleUsers" validate:"max=100,dive"`
}

// RotationStateDTO exposes the persisted rotation state to administrators.
type RotationStateDTO struct {
	LastAssignedIndex  int        `json:"lastAssignedIndex"`
	LastAssignedUserID *uuid.UUID `json:"lastAssignedUserId,omitempty"`
	LastAssignedAt     *time.Time `json:"lastAssignedAt,omitempty"`
}

// UnitResponse is the representation of a distribution unit.
type UnitResponse struct {
	UnitKey        string            `json:"unitKey"`
	Channel        string            `json:"channel"`
	Enabled        bool              `json:"enabled"`
	Mode           string            `json:"mode"`
	Algorithm      string            `json:"algorithm"`
	SpecificUserID *uuid.UUID        `json:"specificUserId,omitempty"`
	EligibleUsers  []EligibleUserDTO `json:"eligibleUsers"`
	RotationState  RotationStateDTO  `json:"rotationState"`
	UpdatedAt      string            `json:"updatedAt"`
}

// PreviewResponse is the read-only next-assignment preview.
type PreviewResponse struct {
	Assigned   bool       `json:"assigned"`
	AssigneeID *uuid.UUID `json:"assigneeUserId,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// HandleListUnits lists all distribution units for the caller's organization.
// GET /api/v1/admin/distribution/units
func (h *Handler) HandleListUnits(c *gin.Context) {
	orgID, ok := h.orgID(c)
	if !ok {
		return
	}

	units, err := h.service.ListUnits(c.Request.Context(), orgID)
	if httpkit.HandleError(c, err) {
		return
	}

	resp := make([]UnitResponse, 0, len(units))
	for _, unit := range units {
		resp = append(resp, toUnitResponse(unit))
	}
	httpkit.OK(c, resp)
}

// HandleGetUnit returns one unit's policy.
// GET /api/v1/admin/distribution/units/:unitKey
func (h *Handler) HandleGetUnit(c *gin.Context) {
	orgID, ok := h.orgID(c)
	if !ok {
		return
	}

	unit, err := h.service.GetUnit(c.Request.Context(), orgID, c.Param("unitKey"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toUnitResponse(unit))
}

// HandleUpdateUnit creates or updates a unit's policy.
// PUT /api/v1/admin/distribution/units/:unitKey
func (h *Handler) HandleUpdateUnit(c *gin.Context) {
	orgID, ok := h.orgID(c)
	if !ok {
		return
	}

	var req UpdateUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, err.Error())
		return
	}

	eligible := make([]EligibleUser, 0, len(req.EligibleUsers))
	for _, u := range req.EligibleUsers {
		eligible = append(eligible, EligibleUser{UserID: u.UserID, Weight: u.Weight, IsActive: u.IsActive})
	}

	unit := DistributionUnit{
		OrganizationID: orgID,
		Channel:        req.Channel,
		UnitKey:        c.Param("unitKey"),
		Policy: AssignmentPolicy{
			Enabled:        req.Enabled,
			Mode:           Mode(req.Mode),
			Algorithm:      Algorithm(req.Algorithm),
			SpecificUserID: req.SpecificUserID,
			EligibleUsers:  eligible,
		},
	}

	stored, err := h.service.UpdatePolicy(c.Request.Context(), unit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toUnitResponse(stored))
}

// HandlePreview reports the next assignee without mutating rotation state.
// GET /api/v1/admin/distribution/units/:unitKey/preview
func (h *Handler) HandlePreview(c *gin.Context) {
	orgID, ok := h.orgID(c)
	if !ok {
		return
	}

	result, err := h.service.Preview(c.Request.Context(), orgID, c.Param("unitKey"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, PreviewResponse{
		Assigned:   result.Assigned,
		AssigneeID: result.AssigneeID,
		Reason:     result.Reason,
	})
}

// HandleResetRotation zeroes a unit's rotation state.
// POST /api/v1/admin/distribution/units/:unitKey/reset
func (h *Handler) HandleResetRotation(c *gin.Context) {
	orgID, ok := h.orgID(c)
	if !ok {
		return
	}

	var resetBy uuid.UUID
	if raw, exists := c.Get(httpkit.ContextUserIDKey); exists {
		if id, isUUID := raw.(uuid.UUID); isUUID {
			resetBy = id
		}
	}

	err := h.service.ResetRotation(c.Request.Context(), orgID, c.Param("unitKey"), resetBy)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"status": "reset"})
}

func (h *Handler) orgID(c *gin.Context) (uuid.UUID, bool) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusForbidden, errNoOrgContext, nil)
		return uuid.Nil, false
	}
	return orgID, true
}

func toUnitResponse(unit DistributionUnit) UnitResponse {
	eligible := make([]EligibleUserDTO, 0, len(unit.Policy.EligibleUsers))
	for _, u := range unit.Policy.EligibleUsers {
		eligible = append(eligible, EligibleUserDTO{UserID: u.UserID, Weight: u.Weight, IsActive: u.IsActive})
	}
	return UnitResponse{
		UnitKey:        unit.UnitKey,
		Channel:        unit.Channel,
		Enabled:        unit.Policy.Enabled,
		Mode:           string(unit.Policy.Mode),
		Algorithm:      string(unit.Policy.Algorithm),
		SpecificUserID: unit.Policy.SpecificUserID,
		EligibleUsers:  eligible,
		RotationState: RotationStateDTO{
			LastAssignedIndex:  unit.Policy.Rotation.LastAssignedIndex,
			LastAssignedUserID: unit.Policy.Rotation.LastAssignedUserID,
			LastAssignedAt:     unit.Policy.Rotation.LastAssignedAt,
		},
		UpdatedAt: unit.UpdatedAt.Format(time.RFC3339),
	}
}
