package scheduler

import (
	"encoding/json"
	"fmt"

	"leadscore_backend/internal/automation/service"
	"leadscore_backend/internal/events"

	"github.com/hibiken/asynq"
)

const (
	TaskEventIngest         = "events.ingest"
	TaskAutomationAction    = "automation.action.execute"
	TaskScoringDecaySweep   = "scoring.decay.sweep"
	TaskTimeInStageSweep    = "automation.time_in_stage.sweep"
	TaskRoutingOverdueSweep = "routing.overdue.sweep"
)

// EventIngestPayload carries one tracked event through the queue to the
// ingest pipeline.
type EventIngestPayload struct {
	Event events.TrackedEvent `json:"event"`
}

func NewEventIngestTask(payload EventIngestPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event ingest payload: %w", err)
	}
	return asynq.NewTask(TaskEventIngest, data), nil
}

func ParseEventIngestPayload(task *asynq.Task) (EventIngestPayload, error) {
	var payload EventIngestPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return EventIngestPayload{}, fmt.Errorf("unmarshal event ingest payload: %w", err)
	}
	return payload, nil
}

// AutomationActionPayload carries a matched rule's action to the worker.
// The action type and config are captured at match time, so a rule edit
// between match and execution does not change what runs.
type AutomationActionPayload struct {
	LogID        string                 `json:"logId"`
	RuleID       string                 `json:"ruleId"`
	RuleName     string                 `json:"ruleName"`
	ActionType   string                 `json:"actionType"`
	ActionConfig map[string]any         `json:"actionConfig,omitempty"`
	Trigger      service.TriggerContext `json:"trigger"`
}

func NewAutomationActionTask(payload AutomationActionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal automation action payload: %w", err)
	}
	return asynq.NewTask(TaskAutomationAction, data), nil
}

func ParseAutomationActionPayload(task *asynq.Task) (AutomationActionPayload, error) {
	var payload AutomationActionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AutomationActionPayload{}, fmt.Errorf("unmarshal automation action payload: %w", err)
	}
	return payload, nil
}

// Sweep tasks carry no payload; the worker derives everything from the
// database at execution time.

func NewScoringDecaySweepTask() *asynq.Task {
	return asynq.NewTask(TaskScoringDecaySweep, nil)
}

func NewTimeInStageSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTimeInStageSweep, nil)
}

func NewRoutingOverdueSweepTask() *asynq.Task {
	return asynq.NewTask(TaskRoutingOverdueSweep, nil)
}
