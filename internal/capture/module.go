package capture

import (
	"leadhub_backend/internal/events"
	apphttp "leadhub_backend/internal/http"
	"leadhub_backend/platform/logger"
	"leadhub_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module wires the capture bounded context.
type Module struct {
	service *Service
	keys    *APIKeyRepository
	handler *Handler
}

// NewModule assembles the ingestion pipeline from its collaborators. The
// suppressor and archiver may be nil when Redis or MinIO is not configured.
func NewModule(
	pool *pgxpool.Pool,
	leads LeadCreator,
	detector DuplicateRecorder,
	assigner Assigner,
	suppressor *Suppressor,
	archiver PayloadArchiver,
	bus events.Bus,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	keys := NewAPIKeyRepository(pool)
	service := NewService(leads, detector, assigner, suppressor, archiver, bus, log)
	return &Module{
		service: service,
		keys:    keys,
		handler: NewHandler(service, keys, val, log),
	}
}

func (m *Module) Name() string { return "capture" }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	public := ctx.V1.Group("/capture")
	public.Use(ctx.CaptureRateLimiter.RateLimit(), APIKeyAuth(m.keys))
	{
		public.POST("/leads", m.handler.HandleSubmitLead)
	}

	keys := ctx.Admin.Group("/capture/keys")
	{
		keys.POST("", m.handler.HandleCreateKey)
		keys.GET("", m.handler.HandleListKeys)
		keys.DELETE("/:keyId", m.handler.HandleRevokeKey)
	}
}
