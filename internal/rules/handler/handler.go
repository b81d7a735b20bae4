package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadscore_backend/internal/rules/service"
	"leadscore_backend/internal/rules/transport"
	"leadscore_backend/platform/httpkit"
	"leadscore_backend/platform/validator"
)

// Handler handles HTTP requests for rule management.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid rule ID"
)

// New creates a new rule management handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes mounts rule management routes on the given group.
func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/scoring-rules", h.ListScoringRules)
	g.POST("/scoring-rules", h.CreateScoringRule)
	g.PUT("/scoring-rules/:id", h.UpdateScoringRule)
	g.DELETE("/scoring-rules/:id", h.DeleteScoringRule)

	g.GET("/automation-rules", h.ListAutomationRules)
	g.POST("/automation-rules", h.CreateAutomationRule)
	g.PUT("/automation-rules/:id", h.UpdateAutomationRule)
	g.DELETE("/automation-rules/:id", h.DeleteAutomationRule)

	g.GET("/settings/tiers", h.GetTierThresholds)
	g.PUT("/settings/tiers", h.UpdateTierThresholds)
	g.GET("/settings/routing", h.GetRoutingConfig)
	g.PUT("/settings/routing", h.UpdateRoutingConfig)

	g.POST("/reload", h.Reload)
}

// ListScoringRules retrieves all scoring rules.
// GET /api/v1/scoring-rules
func (h *Handler) ListScoringRules(c *gin.Context) {
	result, err := h.svc.ListScoringRules(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// CreateScoringRule creates a scoring rule and reloads the snapshot.
// POST /api/v1/scoring-rules
func (h *Handler) CreateScoringRule(c *gin.Context) {
	var req transport.ScoringRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.CreateScoringRule(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, result)
}

// UpdateScoringRule replaces a scoring rule and reloads the snapshot.
// PUT /api/v1/scoring-rules/:id
func (h *Handler) UpdateScoringRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}
	var req transport.ScoringRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.UpdateScoringRule(c.Request.Context(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// DeleteScoringRule deletes a scoring rule and reloads the snapshot.
// DELETE /api/v1/scoring-rules/:id
func (h *Handler) DeleteScoringRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}
	if httpkit.HandleError(c, h.svc.DeleteScoringRule(c.Request.Context(), id)) {
		return
	}
	c.Status(http.StatusNoContent)
}

// ListAutomationRules retrieves all automation rules.
// GET /api/v1/automation-rules
func (h *Handler) ListAutomationRules(c *gin.Context) {
	result, err := h.svc.ListAutomationRules(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// CreateAutomationRule creates an automation rule and reloads the snapshot.
// POST /api/v1/automation-rules
func (h *Handler) CreateAutomationRule(c *gin.Context) {
	var req transport.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.CreateAutomationRule(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, result)
}

// UpdateAutomationRule replaces an automation rule and reloads the snapshot.
// PUT /api/v1/automation-rules/:id
func (h *Handler) UpdateAutomationRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}
	var req transport.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.UpdateAutomationRule(c.Request.Context(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// DeleteAutomationRule deletes an automation rule and reloads the snapshot.
// DELETE /api/v1/automation-rules/:id
func (h *Handler) DeleteAutomationRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}
	if httpkit.HandleError(c, h.svc.DeleteAutomationRule(c.Request.Context(), id)) {
		return
	}
	c.Status(http.StatusNoContent)
}

// GetTierThresholds returns the configured tier thresholds.
// GET /api/v1/settings/tiers
func (h *Handler) GetTierThresholds(c *gin.Context) {
	result, err := h.svc.GetTierThresholds(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// UpdateTierThresholds replaces the tier thresholds and reloads the snapshot.
// PUT /api/v1/settings/tiers
func (h *Handler) UpdateTierThresholds(c *gin.Context) {
	var req transport.TierThresholdsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if httpkit.HandleError(c, h.svc.UpdateTierThresholds(c.Request.Context(), req)) {
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRoutingConfig returns the routing configuration.
// GET /api/v1/settings/routing
func (h *Handler) GetRoutingConfig(c *gin.Context) {
	result, err := h.svc.GetRoutingConfig(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// UpdateRoutingConfig replaces the routing configuration and reloads the snapshot.
// PUT /api/v1/settings/routing
func (h *Handler) UpdateRoutingConfig(c *gin.Context) {
	var req transport.RoutingConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	if httpkit.HandleError(c, h.svc.UpdateRoutingConfig(c.Request.Context(), req)) {
		return
	}
	c.Status(http.StatusNoContent)
}

// Reload forces a snapshot rebuild.
// POST /api/v1/reload
func (h *Handler) Reload(c *gin.Context) {
	result, err := h.svc.Reload(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
