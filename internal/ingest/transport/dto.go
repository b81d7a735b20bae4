// Package transport defines the ingest API request and response shapes.
package transport

import "time"

// TrackedEventRequest is the webhook payload for POST /events. ID is the
// caller's idempotency key; one is generated when omitted.
type TrackedEventRequest struct {
	ID             string         `json:"id"`
	EventType      string         `json:"eventType" validate:"required,max=100"`
	Source         string         `json:"source" validate:"max=100"`
	OccurredAt     *time.Time     `json:"occurredAt"`
	LeadIdentifier string         `json:"leadIdentifier" validate:"required,max=255"`
	Metadata       map[string]any `json:"metadata"`
}

// EventAcceptedResponse acknowledges a queued event.
type EventAcceptedResponse struct {
	EventID string `json:"eventId"`
	Status  string `json:"status"`
}
