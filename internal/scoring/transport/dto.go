// Package transport defines the HTTP DTOs of the scoring surface.
package transport

import "time"

// TotalsResponse is the cached per-category score state of a lead.
type TotalsResponse struct {
	Demographic int    `json:"demographic"`
	Engagement  int    `json:"engagement"`
	Behavior    int    `json:"behavior"`
	Total       int    `json:"total"`
	Tier        string `json:"tier"`
}

// RecalculateResponse reports a ledger replay, including whether the cached
// totals had drifted.
type RecalculateResponse struct {
	LeadID string         `json:"leadId"`
	Before TotalsResponse `json:"before"`
	After  TotalsResponse `json:"after"`
	Drift  bool           `json:"drift"`
}

// HistoryEntryResponse is one score ledger row.
type HistoryEntryResponse struct {
	ID           string     `json:"id"`
	RuleID       string     `json:"ruleId"`
	RuleSlug     string     `json:"ruleSlug"`
	PointsChange int        `json:"pointsChange"`
	Category     string     `json:"category"`
	CreatedAt    time.Time  `json:"createdAt"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Expired      bool       `json:"expired"`
}
