// Package handler exposes the scoring surface: recalculation and the score
// ledger. Events themselves enter through the ingest endpoint, not here.
package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadscore_backend/internal/scoring/repository"
	"leadscore_backend/internal/scoring/service"
	"leadscore_backend/internal/scoring/transport"
	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/httpkit"
)

type Handler struct {
	engine *service.Engine
	repo   *repository.Repository
}

func New(engine *service.Engine, repo *repository.Repository) *Handler {
	return &Handler{engine: engine, repo: repo}
}

// RegisterRoutes mounts scoring routes on the given group.
func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/leads/:id/score/recalculate", h.Recalculate)
	g.GET("/leads/:id/score/history", h.History)
}

// Recalculate rebuilds a lead's totals from the ledger.
// POST /api/v1/leads/:id/score/recalculate
func (h *Handler) Recalculate(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid lead ID"))
		return
	}

	result, err := h.engine.Recalculate(c.Request.Context(), leadID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.RecalculateResponse{
		LeadID: result.LeadID.String(),
		Before: toTotals(result.Before),
		After:  toTotals(result.After),
		Drift:  result.Drift,
	})
}

// History returns the full score ledger for a lead, newest first.
// GET /api/v1/leads/:id/score/history
func (h *Handler) History(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid lead ID"))
		return
	}

	entries, err := h.repo.History(c.Request.Context(), leadID)
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]transport.HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, transport.HistoryEntryResponse{
			ID:           e.ID.String(),
			RuleID:       e.RuleID.String(),
			RuleSlug:     e.RuleSlug,
			PointsChange: e.PointsChange,
			Category:     e.Category,
			CreatedAt:    e.CreatedAt,
			ExpiresAt:    e.ExpiresAt,
			Expired:      e.Expired,
		})
	}
	httpkit.OK(c, out)
}

func toTotals(t repository.Totals) transport.TotalsResponse {
	return transport.TotalsResponse{
		Demographic: t.Demographic,
		Engagement:  t.Engagement,
		Behavior:    t.Behavior,
		Total:       t.Total,
		Tier:        t.Tier,
	}
}
