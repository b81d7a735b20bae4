// Package scoring provides the scoring bounded context module: the event
// scoring engine, the score ledger, and their HTTP surface.
package scoring

import (
	"leadscore_backend/internal/events"
	apphttp "leadscore_backend/internal/http"
	rulestore "leadscore_backend/internal/rules/store"
	"leadscore_backend/internal/scoring/handler"
	"leadscore_backend/internal/scoring/repository"
	"leadscore_backend/internal/scoring/service"
	"leadscore_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the scoring bounded context module implementing http.Module.
type Module struct {
	engine  *service.Engine
	handler *handler.Handler
}

// NewModule creates and initializes the scoring module.
func NewModule(pool *pgxpool.Pool, rules *rulestore.Store, bus events.Bus, log *logger.Logger) *Module {
	repo := repository.New(pool)
	engine := service.NewEngine(repo, rules, bus, log)
	return &Module{
		engine:  engine,
		handler: handler.New(engine, repo),
	}
}

// Name returns the module name for logging and diagnostics.
func (m *Module) Name() string { return "scoring" }

// RegisterRoutes mounts the scoring endpoints.
func (m *Module) RegisterRoutes(rc *apphttp.RouterContext) {
	m.handler.RegisterRoutes(rc.API)
}

// Engine exposes the scoring engine to the ingest pipeline and the worker.
func (m *Module) Engine() *service.Engine {
	return m.engine
}

var _ apphttp.Module = (*Module)(nil)
