package scheduler

import (
	"context"
	"fmt"
	"time"

	autosvc "leadscore_backend/internal/automation/service"
	dealsrepo "leadscore_backend/internal/deals/repository"
	ingestsvc "leadscore_backend/internal/ingest/service"
	"leadscore_backend/internal/rules/domain"
	routingsvc "leadscore_backend/internal/routing/service"
	scoringsvc "leadscore_backend/internal/scoring/service"
	"leadscore_backend/platform/config"
	"leadscore_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const staleSweepBatch = 500

// Deps are the engines the worker drives. All are required.
type Deps struct {
	Ingest   *ingestsvc.Service
	Executor *autosvc.Executor
	Auto     *autosvc.Engine
	Scoring  *scoringsvc.Engine
	Routing  *routingsvc.Engine
	Deals    *dealsrepo.Repository
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	deps   Deps
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, deps Deps, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		deps:   deps,
		log:    log,
	}

	mux.HandleFunc(TaskEventIngest, w.handleEventIngest)
	mux.HandleFunc(TaskAutomationAction, w.handleAutomationAction)
	mux.HandleFunc(TaskScoringDecaySweep, w.handleScoringDecaySweep)
	mux.HandleFunc(TaskTimeInStageSweep, w.handleTimeInStageSweep)
	mux.HandleFunc(TaskRoutingOverdueSweep, w.handleRoutingOverdueSweep)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleEventIngest(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseEventIngestPayload(task)
	if err != nil {
		return err
	}

	result, err := w.deps.Ingest.Process(ctx, payload.Event)
	if err != nil {
		return err
	}

	if result.LeadFound {
		w.log.Info("event processed",
			"event_id", payload.Event.ID,
			"event_type", payload.Event.EventType,
			"lead_id", result.LeadID.String(),
			"rules_matched", result.Score.Matched,
			"actions_matched", result.Automation.Matched,
		)
	}
	return nil
}

func (w *Worker) handleAutomationAction(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAutomationActionPayload(task)
	if err != nil {
		return err
	}

	logID, err := uuid.Parse(payload.LogID)
	if err != nil {
		return err
	}
	ruleID, err := uuid.Parse(payload.RuleID)
	if err != nil {
		return err
	}

	rule := domain.AutomationRule{
		ID:           ruleID,
		Name:         payload.RuleName,
		ActionType:   domain.ActionType(payload.ActionType),
		ActionConfig: payload.ActionConfig,
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	lastAttempt := retried >= maxRetry

	return w.deps.Executor.RunFinal(ctx, logID, rule, payload.Trigger, lastAttempt)
}

func (w *Worker) handleScoringDecaySweep(ctx context.Context, task *asynq.Task) error {
	expired, err := w.deps.Scoring.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if expired > 0 {
		w.log.Info("decay sweep expired entries", "leads", expired)
	}
	return nil
}

// handleTimeInStageSweep fires the time_in_stage trigger for every deal that
// has sat in its stage for at least a day. Rules decide their own day
// thresholds; duplicate firings are suppressed by the trigger log.
func (w *Worker) handleTimeInStageSweep(ctx context.Context, task *asynq.Task) error {
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	stale, err := w.deps.Deals.ListStale(ctx, cutoff, staleSweepBatch)
	if err != nil {
		return err
	}

	var failed int
	for _, deal := range stale {
		dealID := deal.DealID
		pipelineID := deal.PipelineID
		stageID := deal.StageID
		enteredAt := deal.StageEnteredAt

		_, err := w.deps.Auto.OnTrigger(ctx, domain.TriggerTimeInStage, autosvc.TriggerContext{
			LeadID:         deal.LeadID,
			DealID:         &dealID,
			PipelineID:     &pipelineID,
			StageID:        &stageID,
			ToStage:        deal.StageName,
			DaysInStage:    deal.DaysInStage,
			StageEnteredAt: &enteredAt,
		})
		if err != nil {
			failed++
			w.log.Warn("time in stage trigger failed",
				"deal_id", deal.DealID.String(),
				"error", err,
			)
		}
	}

	if len(stale) > 0 {
		w.log.Info("time in stage sweep finished", "deals", len(stale), "failed", failed)
	}
	return nil
}

func (w *Worker) handleRoutingOverdueSweep(ctx context.Context, task *asynq.Task) error {
	routed, err := w.deps.Routing.SweepOverdue(ctx)
	if err != nil {
		return err
	}
	if routed > 0 {
		w.log.Info("overdue sweep routed leads", "leads", routed)
	}
	return nil
}
