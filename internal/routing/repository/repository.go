// Package repository provides pgx-backed storage for the routing engine:
// the routing view of leads, pipelines, and team member load.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"leadscore_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Lead is the slice of a lead the routing ladder evaluates.
type Lead struct {
	ID            uuid.UUID
	TotalScore    int
	IntentSummary map[string]float64
	RoutingStatus string
	CreatedAt     time.Time
}

// Owner is a team member candidate for lead assignment.
type Owner struct {
	ID             uuid.UUID
	CurrentLeads   int
	MaxLeads       int
	LastAssignedAt *time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetLead(ctx context.Context, leadID uuid.UUID) (Lead, error) {
	var (
		lead    Lead
		intents []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, total_score, intent_summary, routing_status, created_at
		FROM leads WHERE id = $1
	`, leadID).Scan(&lead.ID, &lead.TotalScore, &intents, &lead.RoutingStatus, &lead.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return Lead{}, apperr.Wrap(apperr.KindInternal, "load lead for routing", err)
	}
	if len(intents) > 0 {
		if err := json.Unmarshal(intents, &lead.IntentSummary); err != nil {
			return Lead{}, apperr.Wrap(apperr.KindInternal, "decode intent summary", err)
		}
	}
	return lead, nil
}

func (r *Repository) PipelineExists(ctx context.Context, pipelineID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pipelines WHERE id = $1 AND is_active = true)`,
		pipelineID).Scan(&exists)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "check pipeline", err)
	}
	return exists, nil
}

// MarkRouted persists a routing decision with a guard on routing_status.
// Returns false when no row was updated, meaning another writer routed the
// lead first; callers treat that as success.
func (r *Repository) MarkRouted(ctx context.Context, leadID, pipelineID uuid.UUID, ownerID *uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET pipeline_id = $2, assigned_to = $3, routing_status = 'routed',
			routed_at = now(), stage_entered_at = now(), updated_at = now()
		WHERE id = $1 AND routing_status <> 'routed'
	`, leadID, pipelineID, ownerID)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "mark lead routed", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ForceRoute routes a lead unconditionally. Manual routing uses this; it
// overrides a previous routing decision on purpose.
func (r *Repository) ForceRoute(ctx context.Context, leadID, pipelineID uuid.UUID, ownerID *uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET pipeline_id = $2, assigned_to = $3, routing_status = 'routed',
			routed_at = now(), stage_entered_at = now(), updated_at = now()
		WHERE id = $1
	`, leadID, pipelineID, ownerID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "force route lead", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lead not found")
	}
	return nil
}

// MarkManualReview flags the lead for human routing. Already-routed leads
// are left untouched.
func (r *Repository) MarkManualReview(ctx context.Context, leadID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET routing_status = 'manual_review', updated_at = now()
		WHERE id = $1 AND routing_status <> 'routed'
	`, leadID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "mark manual review", err)
	}
	return nil
}

// EligibleOwners returns active team members with spare capacity.
func (r *Repository) EligibleOwners(ctx context.Context) ([]Owner, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, current_leads, max_leads, last_assigned_at
		FROM team_members
		WHERE is_active = true AND current_leads < max_leads
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list eligible owners", err)
	}
	defer rows.Close()

	owners := make([]Owner, 0)
	for rows.Next() {
		var o Owner
		if err := rows.Scan(&o.ID, &o.CurrentLeads, &o.MaxLeads, &o.LastAssignedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan owner", err)
		}
		owners = append(owners, o)
	}
	if rows.Err() != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list eligible owners", rows.Err())
	}
	return owners, nil
}

// RecordAssignment bumps the owner's load counters after a routed lead was
// assigned to them.
func (r *Repository) RecordAssignment(ctx context.Context, ownerID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE team_members
		SET current_leads = current_leads + 1, last_assigned_at = now()
		WHERE id = $1
	`, ownerID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "record owner assignment", err)
	}
	return nil
}

// ListOverdue returns unrouted leads created at or before the cutoff. The
// routing sweep retries these with the fallback allowed.
func (r *Repository) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM leads
		WHERE routing_status = 'unrouted' AND created_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list overdue leads", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan overdue lead", err)
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list overdue leads", rows.Err())
	}
	return ids, nil
}
