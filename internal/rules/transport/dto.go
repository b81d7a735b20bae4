package transport

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ScoringRuleRequest contains data for creating or replacing a scoring rule.
type ScoringRuleRequest struct {
	Slug       string          `json:"slug" validate:"required,min=1,max=100"`
	Name       string          `json:"name" validate:"required,min=1,max=200"`
	RuleType   string          `json:"ruleType" validate:"required,oneof=event field threshold"`
	Category   string          `json:"category" validate:"required,oneof=demographic engagement behavior"`
	EventType  string          `json:"eventType,omitempty" validate:"omitempty,max=100"`
	Conditions json.RawMessage `json:"conditions,omitempty"`
	Points     int             `json:"points"`
	MaxPerDay  int             `json:"maxPerDay" validate:"min=0"`
	MaxPerLead int             `json:"maxPerLead" validate:"min=0"`
	DecayDays  int             `json:"decayDays" validate:"min=0"`
	Priority   int             `json:"priority"`
	IsActive   *bool           `json:"isActive,omitempty"`
}

// ScoringRuleResponse represents a scoring rule in API responses.
type ScoringRuleResponse struct {
	ID         uuid.UUID       `json:"id"`
	Slug       string          `json:"slug"`
	Name       string          `json:"name"`
	RuleType   string          `json:"ruleType"`
	Category   string          `json:"category"`
	EventType  string          `json:"eventType,omitempty"`
	Conditions json.RawMessage `json:"conditions,omitempty"`
	Points     int             `json:"points"`
	MaxPerDay  int             `json:"maxPerDay"`
	MaxPerLead int             `json:"maxPerLead"`
	DecayDays  int             `json:"decayDays"`
	Priority   int             `json:"priority"`
	IsActive   bool            `json:"isActive"`
	CreatedAt  string          `json:"createdAt"`
}

// AutomationRuleRequest contains data for creating or replacing an automation rule.
type AutomationRuleRequest struct {
	Name          string          `json:"name" validate:"required,min=1,max=200"`
	TriggerType   string          `json:"triggerType" validate:"required,oneof=event score_threshold intent_detected time_in_stage stage_change"`
	TriggerConfig json.RawMessage `json:"triggerConfig,omitempty"`
	ActionType    string          `json:"actionType" validate:"required,oneof=move_to_stage assign_owner send_notification create_task sync_moco update_field route_to_pipeline"`
	ActionConfig  json.RawMessage `json:"actionConfig,omitempty"`
	PipelineID    *uuid.UUID      `json:"pipelineId,omitempty"`
	StageID       *uuid.UUID      `json:"stageId,omitempty"`
	Priority      int             `json:"priority"`
	IsActive      *bool           `json:"isActive,omitempty"`
}

// AutomationRuleResponse represents an automation rule in API responses.
type AutomationRuleResponse struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	TriggerType   string          `json:"triggerType"`
	TriggerConfig json.RawMessage `json:"triggerConfig,omitempty"`
	ActionType    string          `json:"actionType"`
	ActionConfig  json.RawMessage `json:"actionConfig,omitempty"`
	PipelineID    *uuid.UUID      `json:"pipelineId,omitempty"`
	StageID       *uuid.UUID      `json:"stageId,omitempty"`
	Priority      int             `json:"priority"`
	IsActive      bool            `json:"isActive"`
	CreatedAt     string          `json:"createdAt"`
}

// TierThresholdsRequest updates the score tier boundaries.
type TierThresholdsRequest struct {
	Warm               int  `json:"warm"`
	Hot                int  `json:"hot"`
	VeryHot            int  `json:"veryHot"`
	ClampNegativeTotal bool `json:"clampNegativeTotal"`
}

// RoutingConfigRequest updates the routing configuration.
type RoutingConfigRequest struct {
	MinScoreThreshold      int                  `json:"minScoreThreshold" validate:"min=0"`
	MinIntentConfidence    float64              `json:"minIntentConfidence" validate:"min=0,max=100"`
	IntentConfidenceMargin float64              `json:"intentConfidenceMargin" validate:"min=0"`
	MaxUnroutedDays        int                  `json:"maxUnroutedDays" validate:"min=0"`
	FallbackPipeline       uuid.UUID            `json:"fallbackPipeline" validate:"required"`
	IntentToPipeline       map[string]uuid.UUID `json:"intentToPipeline"`
	OwnerAssignment        string               `json:"ownerAssignment" validate:"required,oneof=round_robin least_loaded"`
}

// ReloadResponse reports the snapshot version after a reload.
type ReloadResponse struct {
	Version  int64  `json:"version"`
	LoadedAt string `json:"loadedAt"`
}
