package scheduler

import (
	"context"
	"time"

	"leadscore_backend/internal/automation/service"
	"leadscore_backend/internal/rules/domain"
	"leadscore_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// QueueDispatcher pushes matched automation actions onto the work queue
// instead of running them inline. The worker completes the pending log row.
type QueueDispatcher struct {
	client *Client
}

var _ service.Dispatcher = (*QueueDispatcher)(nil)

func NewQueueDispatcher(client *Client) *QueueDispatcher {
	return &QueueDispatcher{client: client}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, logID uuid.UUID, rule domain.AutomationRule, tctx service.TriggerContext) error {
	return d.client.EnqueueAction(ctx, AutomationActionPayload{
		LogID:        logID.String(),
		RuleID:       rule.ID.String(),
		RuleName:     rule.Name,
		ActionType:   string(rule.ActionType),
		ActionConfig: rule.ActionConfig,
		Trigger:      tctx,
	})
}

// SweepScheduler enqueues the periodic maintenance sweeps. It runs alongside
// the worker so a single interval owner exists per deployment.
type SweepScheduler struct {
	client *Client
	log    *logger.Logger

	decayEvery   time.Duration
	staleEvery   time.Duration
	overdueEvery time.Duration
}

func NewSweepScheduler(client *Client, log *logger.Logger) *SweepScheduler {
	return &SweepScheduler{
		client:       client,
		log:          log,
		decayEvery:   time.Hour,
		staleEvery:   time.Hour,
		overdueEvery: time.Hour,
	}
}

func (s *SweepScheduler) Run(ctx context.Context) {
	if s == nil || s.client == nil {
		return
	}

	decay := time.NewTicker(s.decayEvery)
	stale := time.NewTicker(s.staleEvery)
	overdue := time.NewTicker(s.overdueEvery)
	defer decay.Stop()
	defer stale.Stop()
	defer overdue.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-decay.C:
			s.enqueue(ctx, TaskScoringDecaySweep, NewScoringDecaySweepTask())
		case <-stale.C:
			s.enqueue(ctx, TaskTimeInStageSweep, NewTimeInStageSweepTask())
		case <-overdue.C:
			s.enqueue(ctx, TaskRoutingOverdueSweep, NewRoutingOverdueSweepTask())
		}
	}
}

func (s *SweepScheduler) enqueue(ctx context.Context, name string, task *asynq.Task) {
	if err := s.client.enqueueSweep(ctx, task); err != nil {
		s.log.Warn("sweep enqueue failed", "task", name, "error", err)
	}
}
