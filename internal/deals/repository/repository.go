// Package repository provides pgx-backed deal and pipeline-stage storage for
// the automation collaborators and the time-in-stage sweep.
package repository

import (
	"context"
	"errors"
	"time"

	"leadscore_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Deal is a pipeline position of a lead.
type Deal struct {
	ID             uuid.UUID
	LeadID         uuid.UUID
	PipelineID     uuid.UUID
	StageID        uuid.UUID
	StageName      string
	Title          string
	StageEnteredAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StaleDeal is a deal that has sat in its stage past a cutoff, with the data
// the time_in_stage trigger needs.
type StaleDeal struct {
	DealID         uuid.UUID
	LeadID         uuid.UUID
	PipelineID     uuid.UUID
	StageID        uuid.UUID
	StageName      string
	DaysInStage    int
	StageEnteredAt time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetByID(ctx context.Context, dealID uuid.UUID) (Deal, error) {
	var d Deal
	err := r.pool.QueryRow(ctx, `
		SELECT d.id, d.lead_id, d.pipeline_id, d.stage_id, s.name, d.title,
			d.stage_entered_at, d.created_at, d.updated_at
		FROM deals d
		JOIN pipeline_stages s ON s.id = d.stage_id
		WHERE d.id = $1
	`, dealID).Scan(&d.ID, &d.LeadID, &d.PipelineID, &d.StageID, &d.StageName,
		&d.Title, &d.StageEnteredAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Deal{}, apperr.NotFound("deal not found")
	}
	if err != nil {
		return Deal{}, apperr.Wrap(apperr.KindInternal, "get deal", err)
	}
	return d, nil
}

// GetByLead returns the open deal for a lead, if any.
func (r *Repository) GetByLead(ctx context.Context, leadID uuid.UUID) (Deal, error) {
	var d Deal
	err := r.pool.QueryRow(ctx, `
		SELECT d.id, d.lead_id, d.pipeline_id, d.stage_id, s.name, d.title,
			d.stage_entered_at, d.created_at, d.updated_at
		FROM deals d
		JOIN pipeline_stages s ON s.id = d.stage_id
		WHERE d.lead_id = $1
		ORDER BY d.created_at DESC
		LIMIT 1
	`, leadID).Scan(&d.ID, &d.LeadID, &d.PipelineID, &d.StageID, &d.StageName,
		&d.Title, &d.StageEnteredAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Deal{}, apperr.NotFound("no deal for lead")
	}
	if err != nil {
		return Deal{}, apperr.Wrap(apperr.KindInternal, "get deal by lead", err)
	}
	return d, nil
}

// ResolveStage finds a stage of the given pipeline by id or, failing that,
// by case-insensitive name.
func (r *Repository) ResolveStage(ctx context.Context, pipelineID uuid.UUID, idOrName string) (uuid.UUID, string, error) {
	var (
		stageID uuid.UUID
		name    string
		err     error
	)
	if parsed, parseErr := uuid.Parse(idOrName); parseErr == nil {
		err = r.pool.QueryRow(ctx, `
			SELECT id, name FROM pipeline_stages
			WHERE pipeline_id = $1 AND id = $2
		`, pipelineID, parsed).Scan(&stageID, &name)
	} else {
		err = r.pool.QueryRow(ctx, `
			SELECT id, name FROM pipeline_stages
			WHERE pipeline_id = $1 AND lower(name) = lower($2)
		`, pipelineID, idOrName).Scan(&stageID, &name)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, "", apperr.NotFound("stage not found in pipeline")
	}
	if err != nil {
		return uuid.Nil, "", apperr.Wrap(apperr.KindInternal, "resolve stage", err)
	}
	return stageID, name, nil
}

// SetStage moves a deal to a stage and resets stage_entered_at.
func (r *Repository) SetStage(ctx context.Context, dealID, stageID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals
		SET stage_id = $2, stage_entered_at = now(), updated_at = now()
		WHERE id = $1
	`, dealID, stageID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "set deal stage", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("deal not found")
	}
	return nil
}

// ListStale returns deals that entered their current stage at or before the
// cutoff.
func (r *Repository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]StaleDeal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.id, d.lead_id, d.pipeline_id, d.stage_id, s.name,
			floor(extract(epoch FROM (now() - d.stage_entered_at)) / 86400)::int,
			d.stage_entered_at
		FROM deals d
		JOIN pipeline_stages s ON s.id = d.stage_id
		WHERE d.stage_entered_at <= $1
		ORDER BY d.stage_entered_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list stale deals", err)
	}
	defer rows.Close()

	deals := make([]StaleDeal, 0)
	for rows.Next() {
		var d StaleDeal
		if err := rows.Scan(&d.DealID, &d.LeadID, &d.PipelineID, &d.StageID,
			&d.StageName, &d.DaysInStage, &d.StageEnteredAt); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan stale deal", err)
		}
		deals = append(deals, d)
	}
	if rows.Err() != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list stale deals", rows.Err())
	}
	return deals, nil
}
