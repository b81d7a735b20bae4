// Package handler exposes the automation audit surface.
package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadscore_backend/internal/automation/repository"
	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/httpkit"
)

const defaultLogLimit = 50

type Handler struct {
	repo *repository.Repository
}

func New(repo *repository.Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes mounts automation routes on the given group.
func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/leads/:id/automation-logs", h.ListLogs)
}

// ListLogs returns a lead's automation execution history, newest first.
// GET /api/v1/leads/:id/automation-logs
func (h *Handler) ListLogs(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid lead ID"))
		return
	}

	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			httpkit.HandleError(c, apperr.BadRequest("invalid limit"))
			return
		}
		limit = parsed
	}

	logs, err := h.repo.ListByLead(c.Request.Context(), leadID, limit)
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]logResponse, 0, len(logs))
	for _, l := range logs {
		entry := logResponse{
			ID:           l.ID.String(),
			RuleID:       l.RuleID.String(),
			LeadID:       l.LeadID.String(),
			TriggerData:  l.TriggerData,
			ActionResult: l.ActionResult,
			Success:      l.Success,
			ErrorMessage: l.ErrorMessage,
			ExecutedAt:   l.ExecutedAt,
			CompletedAt:  l.CompletedAt,
		}
		if l.DealID != nil {
			s := l.DealID.String()
			entry.DealID = &s
		}
		out = append(out, entry)
	}
	httpkit.OK(c, out)
}

type logResponse struct {
	ID           string         `json:"id"`
	RuleID       string         `json:"ruleId"`
	LeadID       string         `json:"leadId"`
	DealID       *string        `json:"dealId,omitempty"`
	TriggerData  map[string]any `json:"triggerData,omitempty"`
	ActionResult map[string]any `json:"actionResult,omitempty"`
	Success      *bool          `json:"success,omitempty"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	ExecutedAt   time.Time      `json:"executedAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}
