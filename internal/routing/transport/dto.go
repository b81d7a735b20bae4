// Package transport defines the HTTP DTOs of the routing surface.
package transport

// DecisionResponse reports the outcome of a routing evaluation.
type DecisionResponse struct {
	LeadID     string         `json:"leadId"`
	Action     string         `json:"action"`
	PipelineID *string        `json:"pipelineId,omitempty"`
	OwnerID    *string        `json:"ownerId,omitempty"`
	Reason     string         `json:"reason"`
	Details    map[string]any `json:"details,omitempty"`
}

// ManualRouteRequest routes a lead to an explicit pipeline.
type ManualRouteRequest struct {
	PipelineID string  `json:"pipelineId" validate:"required,uuid"`
	AssignedTo *string `json:"assignedTo,omitempty" validate:"omitempty,uuid"`
}
