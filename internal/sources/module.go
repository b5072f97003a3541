package sources

import (
	"leadhub_backend/internal/events"
	apphttp "leadhub_backend/internal/http"
	"leadhub_backend/platform/logger"
	"leadhub_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module wires the sources bounded context.
type Module struct {
	repo     *Repository
	detector *Detector
	handler  *Handler
}

func NewModule(pool *pgxpool.Pool, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	detector := NewDetector(repo, bus, log)
	return &Module{
		repo:     repo,
		detector: detector,
		handler:  NewHandler(repo, detector, val, log),
	}
}

func (m *Module) Name() string { return "sources" }

// Detector exposes the duplicate detector to the ingestion pipeline.
func (m *Module) Detector() *Detector { return m.detector }

// Repository exposes record persistence to background tasks.
func (m *Module) Repository() *Repository { return m.repo }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	records := ctx.Admin.Group("/sources/records")
	{
		records.GET("", m.handler.HandleListRecords)
		records.GET("/:recordId", m.handler.HandleGetRecord)
	}
	ctx.Admin.POST("/sources/relink", m.handler.HandleRelink)
}
