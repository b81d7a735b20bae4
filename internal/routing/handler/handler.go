// Package handler exposes the routing surface: ladder evaluation and manual
// routing.
package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadscore_backend/internal/routing/service"
	"leadscore_backend/internal/routing/transport"
	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/httpkit"
	"leadscore_backend/platform/validator"
)

type Handler struct {
	engine *service.Engine
	val    *validator.Validator
}

func New(engine *service.Engine, val *validator.Validator) *Handler {
	return &Handler{engine: engine, val: val}
}

// RegisterRoutes mounts routing routes on the given group.
func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/leads/:id/route", h.Evaluate)
	g.POST("/leads/:id/route/manual", h.ManualRoute)
}

// Evaluate runs the routing ladder for a lead and persists the decision.
// POST /api/v1/leads/:id/route
func (h *Handler) Evaluate(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid lead ID"))
		return
	}

	decision, err := h.engine.EvaluateAndRoute(c.Request.Context(), leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toDecision(leadID, decision))
}

// ManualRoute routes a lead to an explicit pipeline, bypassing the ladder.
// POST /api/v1/leads/:id/route/manual
func (h *Handler) ManualRoute(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid lead ID"))
		return
	}

	var req transport.ManualRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request"))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindValidation, "validation failed", err))
		return
	}

	pipelineID, err := uuid.Parse(req.PipelineID)
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid pipeline ID"))
		return
	}

	var assignedTo *uuid.UUID
	if req.AssignedTo != nil {
		ownerID, err := uuid.Parse(*req.AssignedTo)
		if err != nil {
			httpkit.HandleError(c, apperr.BadRequest("invalid owner ID"))
			return
		}
		assignedTo = &ownerID
	}

	decision, err := h.engine.ManualRoute(c.Request.Context(), leadID, pipelineID, assignedTo)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toDecision(leadID, decision))
}

func toDecision(leadID uuid.UUID, d service.Decision) transport.DecisionResponse {
	resp := transport.DecisionResponse{
		LeadID:  leadID.String(),
		Action:  d.Action,
		Reason:  d.Reason,
		Details: d.Details,
	}
	if d.PipelineID != nil {
		s := d.PipelineID.String()
		resp.PipelineID = &s
	}
	if d.OwnerID != nil {
		s := d.OwnerID.String()
		resp.OwnerID = &s
	}
	return resp
}
