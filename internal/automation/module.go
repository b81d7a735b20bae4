// Package automation provides the automation bounded context module: the
// trigger engine, its audit log surface, and the bus subscriptions that feed
// score, intent, and stage triggers into it.
package automation

import (
	"context"

	"leadscore_backend/internal/automation/handler"
	"leadscore_backend/internal/automation/repository"
	"leadscore_backend/internal/automation/service"
	"leadscore_backend/internal/events"
	apphttp "leadscore_backend/internal/http"
	leadsrepo "leadscore_backend/internal/leads/repository"
	"leadscore_backend/internal/rules/domain"
	rulestore "leadscore_backend/internal/rules/store"
	"leadscore_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the automation bounded context module implementing http.Module.
type Module struct {
	engine  *service.Engine
	logs    *repository.Repository
	leads   *leadsrepo.Repository
	handler *handler.Handler
	log     *logger.Logger
}

// NewModule creates and initializes the automation module and subscribes
// its trigger feeds on the bus. The dispatcher is injected because the queue
// client lives in the composition root.
func NewModule(pool *pgxpool.Pool, rules *rulestore.Store, bus events.Bus, dispatcher service.Dispatcher, log *logger.Logger) *Module {
	logs := repository.New(pool)
	leads := leadsrepo.New(pool)
	engine := service.NewEngine(rules, logs, dispatcher, leads, log)

	m := &Module{
		engine:  engine,
		logs:    logs,
		leads:   leads,
		handler: handler.New(logs),
		log:     log,
	}
	m.subscribe(bus)
	return m
}

// subscribe wires the bus events that fire triggers: score changes feed
// score_threshold, intent detections feed intent_detected, stage moves feed
// stage_change. Event triggers are fired directly by the ingest pipeline.
func (m *Module) subscribe(bus events.Bus) {
	bus.Subscribe(events.LeadScoreChanged{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadScoreChanged)
		if !ok {
			return nil
		}
		tctx := service.TriggerContext{
			LeadID:   e.LeadID,
			OldScore: e.OldTotal,
			NewScore: e.NewTotal,
			OldTier:  e.OldTier,
			NewTier:  e.NewTier,
		}
		m.fillLeadScope(ctx, &tctx)
		_, err := m.engine.OnTrigger(ctx, domain.TriggerScoreThreshold, tctx)
		return err
	}))

	bus.Subscribe(events.LeadIntentDetected{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadIntentDetected)
		if !ok {
			return nil
		}
		tctx := service.TriggerContext{
			LeadID:           e.LeadID,
			Intent:           e.Intent,
			IntentConfidence: e.Confidence,
		}
		m.fillLeadScope(ctx, &tctx)
		_, err := m.engine.OnTrigger(ctx, domain.TriggerIntentDetected, tctx)
		return err
	}))

	bus.Subscribe(events.LeadStageChanged{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadStageChanged)
		if !ok {
			return nil
		}
		dealID := e.DealID
		pipelineID := e.PipelineID
		stageID := e.NewStageID
		_, err := m.engine.OnTrigger(ctx, domain.TriggerStageChange, service.TriggerContext{
			LeadID:     e.LeadID,
			DealID:     &dealID,
			PipelineID: &pipelineID,
			StageID:    &stageID,
			FromStage:  e.OldStage,
			ToStage:    e.NewStage,
		})
		return err
	}))
}

// fillLeadScope adds the lead's pipeline and stage so scoped rules can
// match. A lookup failure leaves the context unscoped rather than failing
// the trigger.
func (m *Module) fillLeadScope(ctx context.Context, tctx *service.TriggerContext) {
	lead, err := m.leads.GetByID(ctx, tctx.LeadID)
	if err != nil {
		m.log.Error("lead scope lookup failed", "lead_id", tctx.LeadID, "error", err)
		return
	}
	tctx.PipelineID = lead.PipelineID
	tctx.StageID = lead.StageID
}

// Name returns the module name for logging and diagnostics.
func (m *Module) Name() string { return "automation" }

// RegisterRoutes mounts the automation endpoints.
func (m *Module) RegisterRoutes(rc *apphttp.RouterContext) {
	m.handler.RegisterRoutes(rc.API)
}

// Engine exposes the trigger engine to the ingest pipeline and the worker.
func (m *Module) Engine() *service.Engine {
	return m.engine
}

// Logs exposes the log store to the queue action handler.
func (m *Module) Logs() *repository.Repository {
	return m.logs
}

// Leads exposes the lead repository to action collaborators wired in the
// composition root.
func (m *Module) Leads() *leadsrepo.Repository {
	return m.leads
}

var _ apphttp.Module = (*Module)(nil)
