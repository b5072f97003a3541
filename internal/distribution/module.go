// Package distribution provides the lead distribution bounded context module.
// This file defines the module that encapsulates setup and route registration.
package distribution

import (
	"leadhub_backend/internal/events"
	apphttp "leadhub_backend/internal/http"
	"leadhub_backend/platform/logger"
	"leadhub_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the distribution bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	service *Service
}

// NewModule creates and initializes the distribution module with all its dependencies.
func NewModule(pool *pgxpool.Pool, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	service := NewService(repo, bus, log)
	handler := NewHandler(service, val)

	return &Module{
		handler: handler,
		service: service,
	}
}

// Service exposes the assignment service to the ingestion coordinator.
func (m *Module) Service() *Service {
	return m.service
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "distribution"
}

// RegisterRoutes mounts distribution admin routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	units := ctx.Admin.Group("/distribution/units")
	units.GET("", m.handler.HandleListUnits)
	units.GET("/:unitKey", m.handler.HandleGetUnit)
	units.PUT("/:unitKey", m.handler.HandleUpdateUnit)
	units.GET("/:unitKey/preview", m.handler.HandlePreview)
	units.POST("/:unitKey/reset", m.handler.HandleResetRotation)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
