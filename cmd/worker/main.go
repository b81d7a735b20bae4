package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"leadscore_backend/internal/automation"
	"leadscore_backend/internal/automation/actions"
	autosvc "leadscore_backend/internal/automation/service"
	dealsrepo "leadscore_backend/internal/deals/repository"
	dealsvc "leadscore_backend/internal/deals/service"
	"leadscore_backend/internal/events"
	"leadscore_backend/internal/ingest"
	"leadscore_backend/internal/moco"
	"leadscore_backend/internal/notify"
	notifyrepo "leadscore_backend/internal/notify/repository"
	"leadscore_backend/internal/routing"
	routingrepo "leadscore_backend/internal/routing/repository"
	"leadscore_backend/internal/rules"
	"leadscore_backend/internal/rules/domain"
	"leadscore_backend/internal/scheduler"
	"leadscore_backend/internal/scoring"
	tasksrepo "leadscore_backend/internal/tasks/repository"
	"leadscore_backend/platform/config"
	"leadscore_backend/platform/db"
	"leadscore_backend/platform/logger"
	"leadscore_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

const rulesReloadInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	queueClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize queue client", "error", err)
		panic("failed to initialize queue client: " + err.Error())
	}
	defer func() { _ = queueClient.Close() }()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	rulesModule, err := rules.NewModule(ctx, pool, val, log)
	if err != nil {
		log.Error("failed to initialize rules module", "error", err)
		panic("failed to initialize rules module: " + err.Error())
	}

	scoringModule := scoring.NewModule(pool, rulesModule.Store(), eventBus, log)
	routingModule := routing.NewModule(pool, rulesModule.Store(), eventBus, val, log)

	// Triggers matched on the worker go back through the queue so retries
	// and backoff apply uniformly.
	dispatcher := scheduler.NewQueueDispatcher(queueClient)
	automationModule := automation.NewModule(pool, rulesModule.Store(), eventBus, dispatcher, log)

	ingestModule, err := ingest.NewModule(cfg, pool, scoringModule.Engine(), automationModule.Engine(), eventBus, nil, val, log)
	if err != nil {
		log.Error("failed to initialize ingest module", "error", err)
		panic("failed to initialize ingest module: " + err.Error())
	}
	defer func() { _ = ingestModule.Close() }()

	// ========================================================================
	// Action Collaborators
	// ========================================================================

	dealsrepository := dealsrepo.New(pool)
	dealsService := dealsvc.New(dealsrepository, eventBus, log)

	var emailSender notify.EmailSender
	if cfg.GetEmailEnabled() {
		emailSender = notify.NewSMTPSender(cfg)
		log.Info("email sender initialized", "host", cfg.GetSMTPHost())
	}
	notifyService := notify.New(notifyrepo.New(pool), emailSender, log)

	executor := autosvc.NewExecutor(automationModule.Logs(), log)
	executor.Register(domain.ActionMoveToStage, actions.NewStageMover(dealsService, dealsrepository))
	executor.Register(domain.ActionAssignOwner, actions.NewOwnerAssigner(automationModule.Leads(), routingrepo.New(pool), rulesModule.Store()))
	executor.Register(domain.ActionSendNotification, actions.NewNotifier(notifyService))
	executor.Register(domain.ActionCreateTask, actions.NewTaskCreator(tasksrepo.New(pool)))
	executor.Register(domain.ActionRouteToPipeline, actions.NewPipelineRouter(routingModule.Engine()))

	if cfg.IsMocoEnabled() {
		mocoClient := moco.NewClient(cfg.GetMocoAPIURL(), cfg.GetMocoAPIKey(), cfg.GetMocoRateLimitRPS())
		executor.Register(domain.ActionSyncMoco, actions.NewMocoSyncer(mocoClient, automationModule.Leads()))
		log.Info("moco sync enabled", "url", cfg.GetMocoAPIURL())
	}

	// ========================================================================
	// Queue Worker
	// ========================================================================

	worker, err := scheduler.NewWorker(cfg, scheduler.Deps{
		Ingest:   ingestModule.Service(),
		Executor: executor,
		Auto:     automationModule.Engine(),
		Scoring:  scoringModule.Engine(),
		Routing:  routingModule.Engine(),
		Deals:    dealsrepository,
	}, log)
	if err != nil {
		log.Error("failed to initialize queue worker", "error", err)
		panic("failed to initialize queue worker: " + err.Error())
	}

	sweeper := scheduler.NewSweepScheduler(queueClient, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		reloadRules(gctx, rulesModule, log)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("worker stopped", "error", err)
	}
}

// reloadRules refreshes the rule snapshot so edits made through the API
// process become visible to worker-side triggers.
func reloadRules(ctx context.Context, rulesModule *rules.Module, log *logger.Logger) {
	ticker := time.NewTicker(rulesReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rulesModule.Store().Load(ctx); err != nil {
				log.Warn("rule snapshot reload failed", "error", err)
			}
		}
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
