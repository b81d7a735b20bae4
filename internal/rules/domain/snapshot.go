package domain

import (
	"encoding/json"
	"time"

	"leadscore_backend/platform/apperr"
)

// Snapshot is an immutable, versioned view of all active rules and the
// process-wide scoring/routing configuration. Snapshots are built once by
// Store.Load and never mutated; readers may hold one across an entire
// evaluation without observing a torn set.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time

	scoringRules []ScoringRule
	automation   map[TriggerType][]AutomationRule

	Tiers   TierThresholds
	Routing RoutingConfig
}

// ScoringRules returns all active scoring rules, priority ascending with
// creation-order tiebreak.
func (s *Snapshot) ScoringRules() []ScoringRule {
	return s.scoringRules
}

// AutomationRules returns active automation rules of the given trigger type
// in evaluation order.
func (s *Snapshot) AutomationRules(trigger TriggerType) []AutomationRule {
	return s.automation[trigger]
}

// BuildSnapshot parses raw records into a snapshot, dropping inactive rules
// and rules with malformed conditions or configs. Dropped rules are reported
// so the store can log them; they are never evaluated.
func BuildSnapshot(version int64, scoring []ScoringRuleRecord, automation []AutomationRuleRecord, tiers TierThresholds, routing RoutingConfig) (*Snapshot, []DroppedRule) {
	snap := &Snapshot{
		Version:    version,
		LoadedAt:   time.Now(),
		automation: make(map[TriggerType][]AutomationRule),
		Tiers:      tiers,
		Routing:    routing,
	}

	var dropped []DroppedRule

	for _, record := range scoring {
		if !record.IsActive {
			continue
		}
		rule, err := parseScoringRule(record)
		if err != nil {
			dropped = append(dropped, DroppedRule{Slug: record.Slug, Reason: err.Error()})
			continue
		}
		snap.scoringRules = append(snap.scoringRules, rule)
	}
	SortByPriority(snap.scoringRules)

	for _, record := range automation {
		if !record.IsActive {
			continue
		}
		rule, err := parseAutomationRule(record)
		if err != nil {
			dropped = append(dropped, DroppedRule{Slug: record.Name, Reason: err.Error()})
			continue
		}
		snap.automation[rule.TriggerType] = append(snap.automation[rule.TriggerType], rule)
	}
	for trigger := range snap.automation {
		SortByPriority(snap.automation[trigger])
	}

	return snap, dropped
}

// DroppedRule records a rule rejected at load time.
type DroppedRule struct {
	Slug   string
	Reason string
}

// ParseAutomationRecord parses a single automation rule record. The
// management surface uses this to reject malformed rules before persisting.
func ParseAutomationRecord(record AutomationRuleRecord) (AutomationRule, error) {
	return parseAutomationRule(record)
}

// ParseScoringRecord parses a single scoring rule record.
func ParseScoringRecord(record ScoringRuleRecord) (ScoringRule, error) {
	return parseScoringRule(record)
}

func parseScoringRule(record ScoringRuleRecord) (ScoringRule, error) {
	ruleType := RuleType(record.RuleType)
	switch ruleType {
	case RuleTypeEvent, RuleTypeField, RuleTypeThreshold:
	default:
		return ScoringRule{}, errUnknown("rule_type", record.RuleType)
	}

	category := Category(record.Category)
	switch category {
	case CategoryDemographic, CategoryEngagement, CategoryBehavior:
	default:
		return ScoringRule{}, errUnknown("category", record.Category)
	}

	condition, err := ParseCondition(record.Conditions)
	if err != nil {
		return ScoringRule{}, err
	}

	return ScoringRule{
		ID:         record.ID,
		Slug:       record.Slug,
		Name:       record.Name,
		RuleType:   ruleType,
		Category:   category,
		EventType:  record.EventType,
		Condition:  condition,
		Points:     record.Points,
		MaxPerDay:  record.MaxPerDay,
		MaxPerLead: record.MaxPerLead,
		DecayDays:  record.DecayDays,
		Priority:   record.Priority,
		CreatedAt:  record.CreatedAt,
	}, nil
}

func parseAutomationRule(record AutomationRuleRecord) (AutomationRule, error) {
	trigger := TriggerType(record.TriggerType)
	if !knownTrigger(trigger) {
		return AutomationRule{}, errUnknown("trigger_type", record.TriggerType)
	}

	action := ActionType(record.ActionType)
	if !knownAction(action) {
		return AutomationRule{}, errUnknown("action_type", record.ActionType)
	}

	var triggerConfig TriggerConfig
	if len(record.TriggerConfig) > 0 && string(record.TriggerConfig) != "null" {
		if err := json.Unmarshal(record.TriggerConfig, &triggerConfig); err != nil {
			return AutomationRule{}, errMalformed("trigger_config", err)
		}
	}
	if trigger == TriggerScoreThreshold && triggerConfig.Threshold == nil {
		return AutomationRule{}, errMissing("trigger_config.threshold")
	}
	if trigger == TriggerTimeInStage && (triggerConfig.Days == nil || *triggerConfig.Days < 0) {
		return AutomationRule{}, errMissing("trigger_config.days")
	}

	actionConfig := map[string]any{}
	if len(record.ActionConfig) > 0 && string(record.ActionConfig) != "null" {
		if err := json.Unmarshal(record.ActionConfig, &actionConfig); err != nil {
			return AutomationRule{}, errMalformed("action_config", err)
		}
	}

	return AutomationRule{
		ID:           record.ID,
		Name:         record.Name,
		TriggerType:  trigger,
		Trigger:      triggerConfig,
		ActionType:   action,
		ActionConfig: actionConfig,
		PipelineID:   record.PipelineID,
		StageID:      record.StageID,
		Priority:     record.Priority,
		CreatedAt:    record.CreatedAt,
	}, nil
}

func errUnknown(field, value string) error {
	return apperr.Validation("unknown " + field + ": " + value)
}

func errMissing(field string) error {
	return apperr.Validation(field + " is required")
}

func errMalformed(field string, err error) error {
	return apperr.Wrap(apperr.KindValidation, "malformed "+field, err)
}

func knownTrigger(t TriggerType) bool {
	for _, known := range KnownTriggerTypes {
		if t == known {
			return true
		}
	}
	return false
}

func knownAction(a ActionType) bool {
	for _, known := range KnownActionTypes {
		if a == known {
			return true
		}
	}
	return false
}
