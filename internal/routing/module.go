// Package routing provides the routing bounded context module: the decision
// ladder engine and its HTTP surface.
package routing

import (
	"leadscore_backend/internal/events"
	apphttp "leadscore_backend/internal/http"
	"leadscore_backend/internal/routing/handler"
	"leadscore_backend/internal/routing/repository"
	"leadscore_backend/internal/routing/service"
	rulestore "leadscore_backend/internal/rules/store"
	"leadscore_backend/platform/logger"
	"leadscore_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the routing bounded context module implementing http.Module.
type Module struct {
	engine  *service.Engine
	handler *handler.Handler
}

// NewModule creates and initializes the routing module.
func NewModule(pool *pgxpool.Pool, rules *rulestore.Store, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	engine := service.NewEngine(repo, rules, bus, log)
	return &Module{
		engine:  engine,
		handler: handler.New(engine, val),
	}
}

// Name returns the module name for logging and diagnostics.
func (m *Module) Name() string { return "routing" }

// RegisterRoutes mounts the routing endpoints.
func (m *Module) RegisterRoutes(rc *apphttp.RouterContext) {
	m.handler.RegisterRoutes(rc.API)
}

// Engine exposes the routing engine to the automation collaborators and the
// worker sweep.
func (m *Module) Engine() *service.Engine {
	return m.engine
}

var _ apphttp.Module = (*Module)(nil)
