// Package repository provides pgx-backed lead storage shared by the scoring,
// routing and automation engines.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/phone"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Lead is the lead row as the engines see it. Score columns are caches over
// the score_history ledger; routing columns are owned by the routing engine.
type Lead struct {
	ID               uuid.UUID
	Email            *string
	Phone            *string
	FirstName        string
	LastName         string
	Company          *string
	Attributes       map[string]any
	DemographicScore int
	EngagementScore  int
	BehaviorScore    int
	TotalScore       int
	Tier             string
	IntentSummary    map[string]float64
	RoutingStatus    string
	PipelineID       *uuid.UUID
	StageID          *uuid.UUID
	AssignedTo       *uuid.UUID
	RoutedAt         *time.Time
	StageEnteredAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const leadColumns = `
	id, email, phone, first_name, last_name, company, attributes,
	demographic_score, engagement_score, behavior_score, total_score, tier,
	intent_summary, routing_status, pipeline_id, stage_id, assigned_to,
	routed_at, stage_entered_at, created_at, updated_at`

func scanLead(row pgx.Row) (Lead, error) {
	var (
		l          Lead
		attributes []byte
		intents    []byte
	)
	err := row.Scan(
		&l.ID, &l.Email, &l.Phone, &l.FirstName, &l.LastName, &l.Company,
		&attributes, &l.DemographicScore, &l.EngagementScore, &l.BehaviorScore,
		&l.TotalScore, &l.Tier, &intents, &l.RoutingStatus, &l.PipelineID,
		&l.StageID, &l.AssignedTo, &l.RoutedAt, &l.StageEnteredAt,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return Lead{}, err
	}
	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &l.Attributes); err != nil {
			return Lead{}, fmt.Errorf("decode lead attributes: %w", err)
		}
	}
	if len(intents) > 0 {
		if err := json.Unmarshal(intents, &l.IntentSummary); err != nil {
			return Lead{}, fmt.Errorf("decode lead intent summary: %w", err)
		}
	}
	return l, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Lead, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+leadColumns+` FROM leads WHERE id = $1`, id)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return Lead{}, apperr.Wrap(apperr.KindInternal, "get lead", err)
	}
	return lead, nil
}

// FindByIdentifier resolves a lead from an ingest event identifier. The
// identifier may be a lead UUID, an email address, or a phone number (stored
// normalized, so the lookup normalizes too).
func (r *Repository) FindByIdentifier(ctx context.Context, identifier string) (Lead, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Lead{}, apperr.BadRequest("empty lead identifier")
	}

	if id, err := uuid.Parse(identifier); err == nil {
		return r.GetByID(ctx, id)
	}

	var row pgx.Row
	if strings.Contains(identifier, "@") {
		row = r.pool.QueryRow(ctx,
			`SELECT`+leadColumns+` FROM leads WHERE lower(email) = lower($1)`, identifier)
	} else {
		row = r.pool.QueryRow(ctx,
			`SELECT`+leadColumns+` FROM leads WHERE phone = $1`, phone.NormalizeE164(identifier))
	}

	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, apperr.NotFound("no lead for identifier")
	}
	if err != nil {
		return Lead{}, apperr.Wrap(apperr.KindInternal, "find lead by identifier", err)
	}
	return lead, nil
}

// UpdateIntentSummary replaces the lead's intent summary map. Called by the
// ingest pipeline before intent triggers fire, so trigger evaluation reads
// the updated summary.
func (r *Repository) UpdateIntentSummary(ctx context.Context, leadID uuid.UUID, summary map[string]float64) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encode intent summary", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET intent_summary = $2, updated_at = now()
		WHERE id = $1
	`, leadID, payload)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "update intent summary", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lead not found")
	}
	return nil
}

// AssignOwner sets the lead's owner without touching routing status.
func (r *Repository) AssignOwner(ctx context.Context, leadID, ownerID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET assigned_to = $2, updated_at = now()
		WHERE id = $1
	`, leadID, ownerID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "assign lead owner", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lead not found")
	}
	return nil
}

// Patchable columns for the update_field automation action. Anything else is
// written into the attributes JSON instead of a column.
var patchableColumns = map[string]struct{}{
	"first_name": {},
	"last_name":  {},
	"company":    {},
	"tier":       {},
}

// PatchFields applies an update_field action payload. Known columns are set
// directly; unknown keys are merged into attributes.
func (r *Repository) PatchFields(ctx context.Context, leadID uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return apperr.BadRequest("no fields to update")
	}

	set := make([]string, 0, len(fields)+1)
	args := []any{leadID}
	attrPatch := map[string]any{}

	for key, value := range fields {
		if _, ok := patchableColumns[key]; ok {
			args = append(args, value)
			set = append(set, fmt.Sprintf("%s = $%d", key, len(args)))
			continue
		}
		attrPatch[key] = value
	}

	if len(attrPatch) > 0 {
		payload, err := json.Marshal(attrPatch)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "encode attribute patch", err)
		}
		args = append(args, payload)
		set = append(set, fmt.Sprintf("attributes = coalesce(attributes, '{}'::jsonb) || $%d", len(args)))
	}

	set = append(set, "updated_at = now()")
	query := fmt.Sprintf("UPDATE leads SET %s WHERE id = $1", strings.Join(set, ", "))

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "patch lead fields", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lead not found")
	}
	return nil
}

