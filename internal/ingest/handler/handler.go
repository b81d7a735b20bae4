// Package handler exposes the event intake endpoint. Events are acknowledged
// with 202 and processed by the queue worker.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadscore_backend/internal/events"
	"leadscore_backend/internal/ingest/transport"
	"leadscore_backend/internal/scheduler"
	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/httpkit"
	"leadscore_backend/platform/validator"
)

// EventQueue hands accepted events to the work queue.
type EventQueue interface {
	EnqueueEvent(ctx context.Context, payload scheduler.EventIngestPayload) error
}

type Handler struct {
	queue EventQueue
	val   *validator.Validator
}

func New(queue EventQueue, val *validator.Validator) *Handler {
	return &Handler{queue: queue, val: val}
}

// RegisterRoutes mounts ingest routes on the given group.
func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/events", h.Submit)
}

// Submit accepts a tracked event and queues it for processing.
// POST /api/v1/events
func (h *Handler) Submit(c *gin.Context) {
	var req transport.TrackedEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request"))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindValidation, "validation failed", err))
		return
	}

	ev := events.TrackedEvent{
		ID:             req.ID,
		EventType:      req.EventType,
		Source:         req.Source,
		OccurredAt:     time.Now().UTC(),
		LeadIdentifier: req.LeadIdentifier,
		Metadata:       req.Metadata,
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if req.OccurredAt != nil {
		ev.OccurredAt = req.OccurredAt.UTC()
	}

	if err := h.queue.EnqueueEvent(c.Request.Context(), scheduler.EventIngestPayload{Event: ev}); err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindExternal, "failed to queue event", err))
		return
	}

	httpkit.JSON(c, http.StatusAccepted, transport.EventAcceptedResponse{
		EventID: ev.ID,
		Status:  "accepted",
	})
}
