package notify

import (
	"encoding/json"
	"strconv"
	"time"

	apphttp "leadhub_backend/internal/http"
	"leadhub_backend/platform/apperr"
	"leadhub_backend/platform/httpkit"
	"leadhub_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Module wires the notification bounded context.
type Module struct {
	service *Service
	outbox  *OutboxRepository
	log     *logger.Logger
}

func NewModule(service *Service, outbox *OutboxRepository, log *logger.Logger) *Module {
	return &Module{service: service, outbox: outbox, log: log}
}

func (m *Module) Name() string { return "notify" }

// Service exposes the dispatcher to the background worker.
func (m *Module) Service() *Service { return m.service }

// OutboxResponse is the wire shape of an outbox record.
type OutboxResponse struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organizationId"`
	Payload        json.RawMessage `json:"payload"`
	RunAt          time.Time       `json:"runAt"`
	Status         Status          `json:"status"`
	Attempts       int             `json:"attempts"`
	LastError      *string         `json:"lastError,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Admin.GET("/notifications/outbox", m.handleListOutbox)
}

func (m *Module) handleListOutbox(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := m.outbox.ListByOrganization(c.Request.Context(), orgID, limit)
	if err != nil {
		m.log.DatabaseError("list_notification_outbox", err)
		httpkit.HandleError(c, apperr.Internal("failed to list outbox"))
		return
	}

	out := make([]OutboxResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, OutboxResponse{
			ID:             rec.ID,
			OrganizationID: rec.OrganizationID,
			Payload:        rec.Payload,
			RunAt:          rec.RunAt,
			Status:         rec.Status,
			Attempts:       rec.Attempts,
			LastError:      rec.LastError,
			CreatedAt:      rec.CreatedAt,
		})
	}
	httpkit.OK(c, gin.H{"outbox": out})
}
