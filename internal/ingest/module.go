// Package ingest provides the event intake bounded context module: the
// webhook endpoint, event-identity deduplication, and the pipeline that
// feeds scoring and automation.
package ingest

import (
	autosvc "leadscore_backend/internal/automation/service"
	"leadscore_backend/internal/events"
	apphttp "leadscore_backend/internal/http"
	"leadscore_backend/internal/ingest/handler"
	"leadscore_backend/internal/ingest/service"
	leadsrepo "leadscore_backend/internal/leads/repository"
	scoringsvc "leadscore_backend/internal/scoring/service"
	"leadscore_backend/platform/config"
	"leadscore_backend/platform/logger"
	"leadscore_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the ingest bounded context module implementing http.Module.
type Module struct {
	service *service.Service
	dedup   *service.RedisDeduper
	handler *handler.Handler
}

// NewModule creates and initializes the ingest module. The queue may be nil
// in worker deployments that only need the processing pipeline.
func NewModule(
	cfg config.DedupConfig,
	pool *pgxpool.Pool,
	scoring *scoringsvc.Engine,
	automation *autosvc.Engine,
	bus events.Bus,
	queue handler.EventQueue,
	val *validator.Validator,
	log *logger.Logger,
) (*Module, error) {
	dedup, err := service.NewRedisDeduper(cfg)
	if err != nil {
		return nil, err
	}

	svc := service.New(dedup, leadsrepo.New(pool), scoring, automation, bus, log)

	m := &Module{
		service: svc,
		dedup:   dedup,
	}
	if queue != nil {
		m.handler = handler.New(queue, val)
	}
	return m, nil
}

// Name returns the module name for logging and diagnostics.
func (m *Module) Name() string { return "ingest" }

// RegisterRoutes mounts the event intake endpoint.
func (m *Module) RegisterRoutes(rc *apphttp.RouterContext) {
	if m.handler != nil {
		m.handler.RegisterRoutes(rc.API)
	}
}

// Service exposes the processing pipeline to the queue worker.
func (m *Module) Service() *service.Service {
	return m.service
}

// Close releases the dedup store connection.
func (m *Module) Close() error {
	return m.dedup.Close()
}

var _ apphttp.Module = (*Module)(nil)
