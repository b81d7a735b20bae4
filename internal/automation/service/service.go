// Package service implements the automation rule engine: trigger matching
// over the rule snapshot, per-rule isolation, and action dispatch.
package service

import (
	"context"
	"strings"
	"time"

	"leadscore_backend/internal/rules/domain"
	rulestore "leadscore_backend/internal/rules/store"
	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/logger"

	"github.com/google/uuid"
)

// TriggerContext carries everything a trigger evaluation and its action can
// see. It is serialized into queue payloads and snapshotted into the
// automation log, so it must stay JSON-round-trippable.
type TriggerContext struct {
	LeadID           uuid.UUID      `json:"leadId"`
	DealID           *uuid.UUID     `json:"dealId,omitempty"`
	PipelineID       *uuid.UUID     `json:"pipelineId,omitempty"`
	StageID          *uuid.UUID     `json:"stageId,omitempty"`
	EventType        string         `json:"eventType,omitempty"`
	OldScore         int            `json:"oldScore,omitempty"`
	NewScore         int            `json:"newScore,omitempty"`
	OldTier          string         `json:"oldTier,omitempty"`
	NewTier          string         `json:"newTier,omitempty"`
	Intent           string         `json:"intent,omitempty"`
	IntentConfidence float64        `json:"intentConfidence,omitempty"`
	FromStage        string         `json:"fromStage,omitempty"`
	ToStage          string         `json:"toStage,omitempty"`
	DaysInStage      int            `json:"daysInStage,omitempty"`
	StageEnteredAt   *time.Time     `json:"stageEnteredAt,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// LogStore is the automation log dependency of the engine.
type LogStore interface {
	InsertPending(ctx context.Context, ruleID, leadID uuid.UUID, dealID *uuid.UUID, triggerData map[string]any) (uuid.UUID, error)
	Complete(ctx context.Context, logID uuid.UUID, success bool, result map[string]any, errMsg string) error
	ExistsSince(ctx context.Context, ruleID, dealID uuid.UUID, since time.Time) (bool, error)
}

// Dispatcher hands a matched rule's action off for execution. The queue
// dispatcher enqueues it; the executor runs it inline. Dispatch errors are
// per-rule and never abort sibling rules.
type Dispatcher interface {
	Dispatch(ctx context.Context, logID uuid.UUID, rule domain.AutomationRule, tctx TriggerContext) error
}

// FieldPatcher applies update_field actions. Implemented by the leads
// repository.
type FieldPatcher interface {
	PatchFields(ctx context.Context, leadID uuid.UUID, fields map[string]any) error
}

// BatchResult reports a trigger evaluation over all matching rules. Failed
// counts rules whose action could not be started or applied; dispatched
// actions that later fail are retried by the queue and reported in the log.
type BatchResult struct {
	Matched   int
	Succeeded int
	Failed    int
}

// Engine matches automation rules against triggers and dispatches their
// actions.
type Engine struct {
	rules      *rulestore.Store
	logs       LogStore
	dispatcher Dispatcher
	patcher    FieldPatcher
	log        *logger.Logger
}

func NewEngine(rules *rulestore.Store, logs LogStore, dispatcher Dispatcher, patcher FieldPatcher, log *logger.Logger) *Engine {
	return &Engine{rules: rules, logs: logs, dispatcher: dispatcher, patcher: patcher, log: log}
}

// OnTrigger evaluates all active rules of the trigger type against the
// context, in priority order, and dispatches the actions of those that
// match. Every fired rule gets a log row. One rule's bad configuration or
// failing collaborator never stops the remaining rules.
func (e *Engine) OnTrigger(ctx context.Context, trigger domain.TriggerType, tctx TriggerContext) (BatchResult, error) {
	snap := e.rules.Snapshot()

	var result BatchResult
	for _, rule := range snap.AutomationRules(trigger) {
		if !inScope(rule, tctx) {
			continue
		}

		matched, err := matches(trigger, rule.Trigger, tctx)
		if err != nil {
			e.log.RuleSkipped(rule.Name, err.Error())
			continue
		}
		if !matched {
			continue
		}

		if trigger == domain.TriggerTimeInStage && tctx.DealID != nil && tctx.StageEnteredAt != nil {
			fired, err := e.logs.ExistsSince(ctx, rule.ID, *tctx.DealID, *tctx.StageEnteredAt)
			if err != nil {
				e.log.Error("time_in_stage dedup check failed", "rule", rule.Name, "error", err)
				continue
			}
			if fired {
				continue
			}
		}

		result.Matched++
		if e.fire(ctx, rule, tctx) {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	return result, nil
}

// fire runs one matched rule: pending log row, then inline apply for
// update_field or dispatch for everything else.
func (e *Engine) fire(ctx context.Context, rule domain.AutomationRule, tctx TriggerContext) bool {
	logID, err := e.logs.InsertPending(ctx, rule.ID, tctx.LeadID, tctx.DealID, triggerData(tctx))
	if err != nil {
		e.log.AutomationAction(rule.ID.String(), string(rule.ActionType), false, err.Error())
		return false
	}

	if rule.ActionType == domain.ActionUpdateField {
		return e.applyFieldUpdate(ctx, logID, rule, tctx)
	}

	if err := e.dispatcher.Dispatch(ctx, logID, rule, tctx); err != nil {
		e.completeLog(ctx, logID, false, nil, err.Error())
		e.log.AutomationAction(rule.ID.String(), string(rule.ActionType), false, err.Error())
		return false
	}
	return true
}

// applyFieldUpdate runs update_field inline: a direct data patch with no
// external call and no retry.
func (e *Engine) applyFieldUpdate(ctx context.Context, logID uuid.UUID, rule domain.AutomationRule, tctx TriggerContext) bool {
	fields, ok := rule.ActionConfig["fields"].(map[string]any)
	if !ok || len(fields) == 0 {
		err := apperr.Validation("update_field requires a fields object")
		e.completeLog(ctx, logID, false, nil, err.Error())
		e.log.AutomationAction(rule.ID.String(), string(rule.ActionType), false, err.Error())
		return false
	}

	if err := e.patcher.PatchFields(ctx, tctx.LeadID, fields); err != nil {
		e.completeLog(ctx, logID, false, nil, err.Error())
		e.log.AutomationAction(rule.ID.String(), string(rule.ActionType), false, err.Error())
		return false
	}

	e.completeLog(ctx, logID, true, map[string]any{"updated": fieldNames(fields)}, "")
	e.log.AutomationAction(rule.ID.String(), string(rule.ActionType), true, "")
	return true
}

func (e *Engine) completeLog(ctx context.Context, logID uuid.UUID, success bool, result map[string]any, errMsg string) {
	if err := e.logs.Complete(ctx, logID, success, result, errMsg); err != nil {
		e.log.Error("complete automation log failed", "log_id", logID, "error", err)
	}
}

// inScope applies the rule's optional pipeline/stage scope. Unscoped rules
// fire globally.
func inScope(rule domain.AutomationRule, tctx TriggerContext) bool {
	if rule.PipelineID != nil {
		if tctx.PipelineID == nil || *tctx.PipelineID != *rule.PipelineID {
			return false
		}
	}
	if rule.StageID != nil {
		if tctx.StageID == nil || *tctx.StageID != *rule.StageID {
			return false
		}
	}
	return true
}

// matches evaluates the trigger configuration against the context.
func matches(trigger domain.TriggerType, cfg domain.TriggerConfig, tctx TriggerContext) (bool, error) {
	switch trigger {
	case domain.TriggerEvent:
		return cfg.EventType == "" || cfg.EventType == tctx.EventType, nil

	case domain.TriggerScoreThreshold:
		if cfg.Threshold == nil {
			return false, apperr.Validation("score_threshold rule without threshold")
		}
		t := *cfg.Threshold
		if cfg.Direction == "down" {
			return tctx.OldScore >= t && tctx.NewScore < t, nil
		}
		return tctx.OldScore < t && tctx.NewScore >= t, nil

	case domain.TriggerIntentDetected:
		if cfg.Intent != "" && !strings.EqualFold(cfg.Intent, tctx.Intent) {
			return false, nil
		}
		return tctx.IntentConfidence >= cfg.MinConfidence, nil

	case domain.TriggerTimeInStage:
		if cfg.Days == nil {
			return false, apperr.Validation("time_in_stage rule without days")
		}
		return tctx.DaysInStage >= *cfg.Days, nil

	case domain.TriggerStageChange:
		if cfg.FromStage != "" && !strings.EqualFold(cfg.FromStage, tctx.FromStage) {
			return false, nil
		}
		if cfg.ToStage != "" && !strings.EqualFold(cfg.ToStage, tctx.ToStage) {
			return false, nil
		}
		return true, nil

	default:
		return false, apperr.Validation("unknown trigger type: " + string(trigger))
	}
}

// triggerData snapshots the context into the log row.
func triggerData(tctx TriggerContext) map[string]any {
	data := map[string]any{
		"lead_id": tctx.LeadID.String(),
	}
	if tctx.DealID != nil {
		data["deal_id"] = tctx.DealID.String()
	}
	if tctx.EventType != "" {
		data["event_type"] = tctx.EventType
	}
	if tctx.OldScore != tctx.NewScore {
		data["old_score"] = tctx.OldScore
		data["new_score"] = tctx.NewScore
	}
	if tctx.Intent != "" {
		data["intent"] = tctx.Intent
		data["intent_confidence"] = tctx.IntentConfidence
	}
	if tctx.ToStage != "" {
		data["from_stage"] = tctx.FromStage
		data["to_stage"] = tctx.ToStage
	}
	if tctx.DaysInStage > 0 {
		data["days_in_stage"] = tctx.DaysInStage
	}
	if len(tctx.Metadata) > 0 {
		data["metadata"] = tctx.Metadata
	}
	return data
}

func fieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	return names
}
