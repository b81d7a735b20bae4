package service

import (
	"context"
	"errors"
	"testing"

	"leadscore_backend/internal/rules/domain"
	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeCollaborator struct {
	result map[string]any
	err    error
	calls  int
}

func (c *fakeCollaborator) Execute(context.Context, map[string]any, TriggerContext) (map[string]any, error) {
	c.calls++
	return c.result, c.err
}

func notifyRule(name string) domain.AutomationRule {
	return domain.AutomationRule{
		ID:         uuid.New(),
		Name:       name,
		ActionType: domain.ActionSendNotification,
	}
}

func TestExecutor_CollaboratorFailureIsLogged(t *testing.T) {
	logs := &fakeLogs{}
	x := NewExecutor(logs, logger.New("test"))
	x.Register(domain.ActionSendNotification, &fakeCollaborator{err: errors.New("smtp down")})
	x.Register(domain.ActionCreateTask, &fakeCollaborator{result: map[string]any{"task_id": "t1"}})

	ctx := context.Background()
	tctx := TriggerContext{LeadID: uuid.New()}

	failingID := uuid.New()
	if err := x.Run(ctx, failingID, notifyRule("broken notify"), tctx); err == nil {
		t.Fatalf("failing collaborator must surface its error")
	}

	okRule := notifyRule("make task")
	okRule.ActionType = domain.ActionCreateTask
	okID := uuid.New()
	if err := x.Run(ctx, okID, okRule, tctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(logs.completed) != 2 {
		t.Fatalf("completed rows = %d, want 2", len(logs.completed))
	}
	if logs.completed[0].id != failingID || logs.completed[0].success || logs.completed[0].errMsg != "smtp down" {
		t.Fatalf("failure row = %+v", logs.completed[0])
	}
	if logs.completed[1].id != okID || !logs.completed[1].success || logs.completed[1].result["task_id"] != "t1" {
		t.Fatalf("success row = %+v", logs.completed[1])
	}
}

func TestExecutor_UnknownActionIsValidationError(t *testing.T) {
	logs := &fakeLogs{}
	x := NewExecutor(logs, logger.New("test"))

	err := x.Run(context.Background(), uuid.New(), notifyRule("orphan"), TriggerContext{LeadID: uuid.New()})
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("kind = %v, want validation", apperr.GetKind(err))
	}
	if len(logs.completed) != 1 || logs.completed[0].success {
		t.Fatalf("unknown action log = %+v, want failed row", logs.completed)
	}
}

func TestExecutor_RunFinalLeavesRowPendingUntilLastAttempt(t *testing.T) {
	logs := &fakeLogs{}
	x := NewExecutor(logs, logger.New("test"))
	x.Register(domain.ActionSendNotification, &fakeCollaborator{err: errors.New("smtp down")})

	ctx := context.Background()
	logID := uuid.New()
	rule := notifyRule("retried notify")
	tctx := TriggerContext{LeadID: uuid.New()}

	if err := x.RunFinal(ctx, logID, rule, tctx, false); err == nil {
		t.Fatalf("mid-retry failure must surface for the queue")
	}
	if len(logs.completed) != 0 {
		t.Fatalf("row completed before retries were exhausted: %+v", logs.completed)
	}

	if err := x.RunFinal(ctx, logID, rule, tctx, true); err == nil {
		t.Fatalf("final failure must surface")
	}
	if len(logs.completed) != 1 || logs.completed[0].success || logs.completed[0].errMsg != "smtp down" {
		t.Fatalf("final attempt log = %+v, want failed row", logs.completed)
	}
}
