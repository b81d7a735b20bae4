// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"leadscore_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// TrackedEvent is the normalized behavioral/demographic event entering the
// engines from the event source: webhooks, imports, or the ingest queue.
// ID is the event identity used for at-least-once deduplication.
type TrackedEvent struct {
	ID             string         `json:"id"`
	EventType      string         `json:"eventType"`
	Source         string         `json:"source"`
	OccurredAt     time.Time      `json:"occurredAt"`
	LeadIdentifier string         `json:"leadIdentifier"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// =============================================================================
// Scoring Domain Events
// =============================================================================

// LeadScoreChanged is published once per scoring operation that changed a
// lead's total score. TierChanged is true when the score crossed a tier
// boundary; a single operation emits at most one tier-change notification.
type LeadScoreChanged struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	OldTotal    int       `json:"oldTotal"`
	NewTotal    int       `json:"newTotal"`
	OldTier     string    `json:"oldTier"`
	NewTier     string    `json:"newTier"`
	TierChanged bool      `json:"tierChanged"`
}

func (e LeadScoreChanged) EventName() string { return "scoring.lead.score_changed" }

// =============================================================================
// Intent Domain Events
// =============================================================================

// LeadIntentDetected is published when an ingested event updates the lead's
// classified intent.
type LeadIntentDetected struct {
	BaseEvent
	LeadID     uuid.UUID `json:"leadId"`
	Intent     string    `json:"intent"`
	Confidence float64   `json:"confidence"`
}

func (e LeadIntentDetected) EventName() string { return "leads.intent.detected" }

// =============================================================================
// Routing Domain Events
// =============================================================================

// LeadRouted is published when the routing engine assigns a lead to a pipeline.
type LeadRouted struct {
	BaseEvent
	LeadID     uuid.UUID  `json:"leadId"`
	PipelineID uuid.UUID  `json:"pipelineId"`
	AssignedTo *uuid.UUID `json:"assignedTo,omitempty"`
	Reason     string     `json:"reason"`
}

func (e LeadRouted) EventName() string { return "routing.lead.routed" }

// =============================================================================
// Pipeline Domain Events
// =============================================================================

// LeadStageChanged is published when a deal moves between pipeline stages.
type LeadStageChanged struct {
	BaseEvent
	LeadID     uuid.UUID  `json:"leadId"`
	DealID     uuid.UUID  `json:"dealId"`
	PipelineID uuid.UUID  `json:"pipelineId"`
	OldStageID *uuid.UUID `json:"oldStageId,omitempty"`
	NewStageID uuid.UUID  `json:"newStageId"`
	OldStage   string     `json:"oldStage"`
	NewStage   string     `json:"newStage"`
}

func (e LeadStageChanged) EventName() string { return "pipelines.lead.stage_changed" }
