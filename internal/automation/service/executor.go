package service

import (
	"context"

	"leadscore_backend/internal/rules/domain"
	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/logger"

	"github.com/google/uuid"
)

// Collaborator executes one action type. The engine is deliberately blind to
// what a collaborator does; it only sees this contract.
type Collaborator interface {
	Execute(ctx context.Context, actionConfig map[string]any, tctx TriggerContext) (map[string]any, error)
}

// Executor runs actions against the registered collaborators and records
// the outcome on the log row. It implements Dispatcher for inline execution;
// production wiring puts the queue dispatcher in front of it instead.
type Executor struct {
	registry map[domain.ActionType]Collaborator
	logs     LogStore
	log      *logger.Logger
}

func NewExecutor(logs LogStore, log *logger.Logger) *Executor {
	return &Executor{
		registry: make(map[domain.ActionType]Collaborator),
		logs:     logs,
		log:      log,
	}
}

// Register binds a collaborator to an action type.
func (x *Executor) Register(action domain.ActionType, c Collaborator) {
	x.registry[action] = c
}

// Run executes the action and completes the log row. The returned error is
// the action's error, so queue retries see it.
func (x *Executor) Run(ctx context.Context, logID uuid.UUID, rule domain.AutomationRule, tctx TriggerContext) error {
	collaborator, ok := x.registry[rule.ActionType]
	if !ok {
		err := apperr.Validation("no collaborator for action: " + string(rule.ActionType))
		x.complete(ctx, logID, false, nil, err.Error())
		x.log.AutomationAction(rule.ID.String(), string(rule.ActionType), false, err.Error())
		return err
	}

	result, err := collaborator.Execute(ctx, rule.ActionConfig, tctx)
	if err != nil {
		x.complete(ctx, logID, false, nil, err.Error())
		x.log.AutomationAction(rule.ID.String(), string(rule.ActionType), false, err.Error())
		return err
	}

	x.complete(ctx, logID, true, result, "")
	x.log.AutomationAction(rule.ID.String(), string(rule.ActionType), true, "")
	return nil
}

// RunFinal executes like Run but marks the log row failed only when told the
// queue has exhausted its retries, leaving it pending otherwise.
func (x *Executor) RunFinal(ctx context.Context, logID uuid.UUID, rule domain.AutomationRule, tctx TriggerContext, lastAttempt bool) error {
	collaborator, ok := x.registry[rule.ActionType]
	if !ok {
		err := apperr.Validation("no collaborator for action: " + string(rule.ActionType))
		x.complete(ctx, logID, false, nil, err.Error())
		return err
	}

	result, err := collaborator.Execute(ctx, rule.ActionConfig, tctx)
	if err != nil {
		if lastAttempt {
			x.complete(ctx, logID, false, nil, err.Error())
		}
		x.log.AutomationAction(rule.ID.String(), string(rule.ActionType), false, err.Error())
		return err
	}

	x.complete(ctx, logID, true, result, "")
	x.log.AutomationAction(rule.ID.String(), string(rule.ActionType), true, "")
	return nil
}

// Dispatch implements Dispatcher by running the action inline.
func (x *Executor) Dispatch(ctx context.Context, logID uuid.UUID, rule domain.AutomationRule, tctx TriggerContext) error {
	return x.Run(ctx, logID, rule, tctx)
}

func (x *Executor) complete(ctx context.Context, logID uuid.UUID, success bool, result map[string]any, errMsg string) {
	if err := x.logs.Complete(ctx, logID, success, result, errMsg); err != nil {
		x.log.Error("complete automation log failed", "log_id", logID, "error", err)
	}
}

var _ Dispatcher = (*Executor)(nil)
