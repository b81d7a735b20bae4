// Package domain defines the rule model: scoring rules, automation rules,
// tier thresholds, routing configuration, and the immutable snapshot they
// are loaded into.
package domain

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// RuleType categorizes how a scoring rule selects its candidates.
type RuleType string

const (
	RuleTypeEvent     RuleType = "event"
	RuleTypeField     RuleType = "field"
	RuleTypeThreshold RuleType = "threshold"
)

// Category is the score bucket a scoring rule contributes to.
type Category string

const (
	CategoryDemographic Category = "demographic"
	CategoryEngagement  Category = "engagement"
	CategoryBehavior    Category = "behavior"
)

// TriggerType identifies what fires an automation rule.
type TriggerType string

const (
	TriggerEvent          TriggerType = "event"
	TriggerScoreThreshold TriggerType = "score_threshold"
	TriggerIntentDetected TriggerType = "intent_detected"
	TriggerTimeInStage    TriggerType = "time_in_stage"
	TriggerStageChange    TriggerType = "stage_change"
)

// ActionType identifies the side effect an automation rule dispatches.
type ActionType string

const (
	ActionMoveToStage      ActionType = "move_to_stage"
	ActionAssignOwner      ActionType = "assign_owner"
	ActionSendNotification ActionType = "send_notification"
	ActionCreateTask       ActionType = "create_task"
	ActionSyncMoco         ActionType = "sync_moco"
	ActionUpdateField      ActionType = "update_field"
	ActionRouteToPipeline  ActionType = "route_to_pipeline"
)

// KnownTriggerTypes lists every trigger type the engine understands.
var KnownTriggerTypes = []TriggerType{
	TriggerEvent, TriggerScoreThreshold, TriggerIntentDetected,
	TriggerTimeInStage, TriggerStageChange,
}

// KnownActionTypes lists every action type the engine can dispatch.
var KnownActionTypes = []ActionType{
	ActionMoveToStage, ActionAssignOwner, ActionSendNotification,
	ActionCreateTask, ActionSyncMoco, ActionUpdateField, ActionRouteToPipeline,
}

// ScoringRule is an active scoring rule with its condition parsed into a
// Predicate. Instances inside a Snapshot are immutable.
type ScoringRule struct {
	ID         uuid.UUID
	Slug       string
	Name       string
	RuleType   RuleType
	Category   Category
	EventType  string // event rules only: required event_type match
	Condition  Predicate
	Points     int
	MaxPerDay  int // 0 = unlimited
	MaxPerLead int // 0 = unlimited
	DecayDays  int // 0 = never expires
	Priority   int
	CreatedAt  time.Time
}

// PriorityKey implements Prioritized.
func (r ScoringRule) PriorityKey() (int, time.Time) { return r.Priority, r.CreatedAt }

// AutomationRule is an active automation rule with its trigger config parsed.
// PipelineID/StageID scope the rule; nil means the rule fires globally.
type AutomationRule struct {
	ID            uuid.UUID
	Name          string
	TriggerType   TriggerType
	Trigger       TriggerConfig
	ActionType    ActionType
	ActionConfig  map[string]any
	PipelineID    *uuid.UUID
	StageID       *uuid.UUID
	Priority      int
	CreatedAt     time.Time
}

// PriorityKey implements Prioritized.
func (r AutomationRule) PriorityKey() (int, time.Time) { return r.Priority, r.CreatedAt }

// TriggerConfig is the parsed trigger_config of an automation rule.
// Only the fields relevant to the rule's trigger type are populated.
type TriggerConfig struct {
	// event
	EventType string `json:"event_type,omitempty"`
	// score_threshold
	Threshold *int   `json:"threshold,omitempty"`
	Direction string `json:"direction,omitempty"` // "up" (default) or "down"
	// intent_detected
	Intent        string  `json:"intent,omitempty"`
	MinConfidence float64 `json:"min_confidence,omitempty"`
	// time_in_stage
	Days *int `json:"days,omitempty"`
	// stage_change
	FromStage string `json:"from_stage,omitempty"`
	ToStage   string `json:"to_stage,omitempty"`
}

// TierThresholds are the configurable ordered score-tier boundaries.
// ClampNegativeTotal floors negative totals at zero for classification only;
// the ledger itself is never clamped.
type TierThresholds struct {
	Warm               int  `json:"warm"`
	Hot                int  `json:"hot"`
	VeryHot            int  `json:"very_hot"`
	ClampNegativeTotal bool `json:"clamp_negative_total"`
}

// DefaultTierThresholds are used until thresholds are configured.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{Warm: 40, Hot: 70, VeryHot: 90}
}

// Tier is a lead temperature band derived from the total score.
type Tier string

const (
	TierCold    Tier = "cold"
	TierWarm    Tier = "warm"
	TierHot     Tier = "hot"
	TierVeryHot Tier = "very_hot"
)

// Classify maps a total score onto a tier. Boundaries are inclusive: a score
// equal to a threshold lands in that threshold's tier.
func (t TierThresholds) Classify(score int) Tier {
	if score < 0 && t.ClampNegativeTotal {
		score = 0
	}
	switch {
	case score >= t.VeryHot:
		return TierVeryHot
	case score >= t.Hot:
		return TierHot
	case score >= t.Warm:
		return TierWarm
	default:
		return TierCold
	}
}

// OwnerStrategy selects how routed leads are assigned an owner.
type OwnerStrategy string

const (
	OwnerRoundRobin  OwnerStrategy = "round_robin"
	OwnerLeastLoaded OwnerStrategy = "least_loaded"
)

// RoutingConfig is the process-wide routing configuration, injected into the
// routing engine via the snapshot rather than read from ambient state.
type RoutingConfig struct {
	MinScoreThreshold      int                  `json:"min_score_threshold"`
	MinIntentConfidence    float64              `json:"min_intent_confidence"`
	IntentConfidenceMargin float64              `json:"intent_confidence_margin"`
	MaxUnroutedDays        int                  `json:"max_unrouted_days"`
	FallbackPipeline       uuid.UUID            `json:"fallback_pipeline"`
	IntentToPipeline       map[string]uuid.UUID `json:"intent_to_pipeline"`
	OwnerAssignment        OwnerStrategy        `json:"owner_assignment"`
}

// Prioritized is implemented by rule types that carry evaluation order.
type Prioritized interface {
	PriorityKey() (int, time.Time)
}

// SortByPriority orders rules priority ascending, ties broken by creation
// order. Both the scoring and automation engines use this single comparator.
func SortByPriority[T Prioritized](items []T) {
	sort.SliceStable(items, func(i, j int) bool {
		pi, ci := items[i].PriorityKey()
		pj, cj := items[j].PriorityKey()
		if pi != pj {
			return pi < pj
		}
		return ci.Before(cj)
	})
}

// ScoringRuleRecord is a scoring rule row as stored, with the untyped JSON
// condition not yet parsed. The repository fetches these; the snapshot
// builder parses them.
type ScoringRuleRecord struct {
	ID         uuid.UUID
	Slug       string
	Name       string
	RuleType   string
	Category   string
	EventType  string
	Conditions json.RawMessage
	Points     int
	MaxPerDay  int
	MaxPerLead int
	DecayDays  int
	Priority   int
	IsActive   bool
	CreatedAt  time.Time
}

// AutomationRuleRecord is an automation rule row as stored.
type AutomationRuleRecord struct {
	ID            uuid.UUID
	Name          string
	TriggerType   string
	TriggerConfig json.RawMessage
	ActionType    string
	ActionConfig  json.RawMessage
	PipelineID    *uuid.UUID
	StageID       *uuid.UUID
	Priority      int
	IsActive      bool
	CreatedAt     time.Time
}
