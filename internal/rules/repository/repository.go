// Package repository provides pgx-backed storage for scoring and automation
// rules plus the process-wide tier and routing settings.
package repository

import (
	"context"
	"encoding/json"
	"errors"

	"leadscore_backend/internal/rules/domain"
	"leadscore_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// =============================================================================
// Snapshot source (store.Source)
// =============================================================================

func (r *Repository) FetchScoringRules(ctx context.Context) ([]domain.ScoringRuleRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, slug, name, rule_type, category, event_type, conditions,
			points, max_per_day, max_per_lead, decay_days, priority, is_active, created_at
		FROM scoring_rules
		ORDER BY priority ASC, created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ScoringRuleRecord, 0)
	for rows.Next() {
		var rec domain.ScoringRuleRecord
		if err := rows.Scan(
			&rec.ID, &rec.Slug, &rec.Name, &rec.RuleType, &rec.Category, &rec.EventType,
			&rec.Conditions, &rec.Points, &rec.MaxPerDay, &rec.MaxPerLead, &rec.DecayDays,
			&rec.Priority, &rec.IsActive, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) FetchAutomationRules(ctx context.Context) ([]domain.AutomationRuleRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, trigger_type, trigger_config, action_type, action_config,
			pipeline_id, stage_id, priority, is_active, created_at
		FROM automation_rules
		ORDER BY priority ASC, created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.AutomationRuleRecord, 0)
	for rows.Next() {
		var rec domain.AutomationRuleRecord
		if err := rows.Scan(
			&rec.ID, &rec.Name, &rec.TriggerType, &rec.TriggerConfig, &rec.ActionType,
			&rec.ActionConfig, &rec.PipelineID, &rec.StageID, &rec.Priority, &rec.IsActive,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) FetchTierThresholds(ctx context.Context) (domain.TierThresholds, error) {
	var t domain.TierThresholds
	err := r.pool.QueryRow(ctx, `
		SELECT warm, hot, very_hot, clamp_negative_total
		FROM tier_thresholds WHERE id = 1
	`).Scan(&t.Warm, &t.Hot, &t.VeryHot, &t.ClampNegativeTotal)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultTierThresholds(), nil
	}
	if err != nil {
		return domain.TierThresholds{}, err
	}
	return t, nil
}

func (r *Repository) FetchRoutingConfig(ctx context.Context) (domain.RoutingConfig, error) {
	var cfg domain.RoutingConfig
	var intentMap []byte
	var strategy string
	err := r.pool.QueryRow(ctx, `
		SELECT min_score_threshold, min_intent_confidence, intent_confidence_margin,
			max_unrouted_days, fallback_pipeline, intent_to_pipeline, owner_assignment
		FROM routing_settings WHERE id = 1
	`).Scan(
		&cfg.MinScoreThreshold, &cfg.MinIntentConfidence, &cfg.IntentConfidenceMargin,
		&cfg.MaxUnroutedDays, &cfg.FallbackPipeline, &intentMap, &strategy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RoutingConfig{OwnerAssignment: domain.OwnerRoundRobin}, nil
	}
	if err != nil {
		return domain.RoutingConfig{}, err
	}

	cfg.OwnerAssignment = domain.OwnerStrategy(strategy)
	cfg.IntentToPipeline = map[string]uuid.UUID{}
	if len(intentMap) > 0 {
		if err := json.Unmarshal(intentMap, &cfg.IntentToPipeline); err != nil {
			return domain.RoutingConfig{}, err
		}
	}
	return cfg, nil
}

// =============================================================================
// Scoring rule management
// =============================================================================

type ScoringRuleParams struct {
	Slug       string
	Name       string
	RuleType   string
	Category   string
	EventType  string
	Conditions json.RawMessage
	Points     int
	MaxPerDay  int
	MaxPerLead int
	DecayDays  int
	Priority   int
	IsActive   bool
}

func (r *Repository) CreateScoringRule(ctx context.Context, p ScoringRuleParams) (domain.ScoringRuleRecord, error) {
	var rec domain.ScoringRuleRecord
	err := r.pool.QueryRow(ctx, `
		INSERT INTO scoring_rules (slug, name, rule_type, category, event_type, conditions,
			points, max_per_day, max_per_lead, decay_days, priority, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, slug, name, rule_type, category, event_type, conditions,
			points, max_per_day, max_per_lead, decay_days, priority, is_active, created_at
	`, p.Slug, p.Name, p.RuleType, p.Category, p.EventType, conditionsOrNull(p.Conditions),
		p.Points, p.MaxPerDay, p.MaxPerLead, p.DecayDays, p.Priority, p.IsActive,
	).Scan(
		&rec.ID, &rec.Slug, &rec.Name, &rec.RuleType, &rec.Category, &rec.EventType,
		&rec.Conditions, &rec.Points, &rec.MaxPerDay, &rec.MaxPerLead, &rec.DecayDays,
		&rec.Priority, &rec.IsActive, &rec.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ScoringRuleRecord{}, apperr.Conflict("scoring rule slug already exists")
	}
	return rec, err
}

func (r *Repository) UpdateScoringRule(ctx context.Context, id uuid.UUID, p ScoringRuleParams) (domain.ScoringRuleRecord, error) {
	var rec domain.ScoringRuleRecord
	err := r.pool.QueryRow(ctx, `
		UPDATE scoring_rules
		SET slug = $2, name = $3, rule_type = $4, category = $5, event_type = $6,
			conditions = $7, points = $8, max_per_day = $9, max_per_lead = $10,
			decay_days = $11, priority = $12, is_active = $13, updated_at = now()
		WHERE id = $1
		RETURNING id, slug, name, rule_type, category, event_type, conditions,
			points, max_per_day, max_per_lead, decay_days, priority, is_active, created_at
	`, id, p.Slug, p.Name, p.RuleType, p.Category, p.EventType, conditionsOrNull(p.Conditions),
		p.Points, p.MaxPerDay, p.MaxPerLead, p.DecayDays, p.Priority, p.IsActive,
	).Scan(
		&rec.ID, &rec.Slug, &rec.Name, &rec.RuleType, &rec.Category, &rec.EventType,
		&rec.Conditions, &rec.Points, &rec.MaxPerDay, &rec.MaxPerLead, &rec.DecayDays,
		&rec.Priority, &rec.IsActive, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScoringRuleRecord{}, apperr.NotFound("scoring rule not found")
	}
	return rec, err
}

func (r *Repository) DeleteScoringRule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM scoring_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("scoring rule not found")
	}
	return nil
}

// =============================================================================
// Automation rule management
// =============================================================================

type AutomationRuleParams struct {
	Name          string
	TriggerType   string
	TriggerConfig json.RawMessage
	ActionType    string
	ActionConfig  json.RawMessage
	PipelineID    *uuid.UUID
	StageID       *uuid.UUID
	Priority      int
	IsActive      bool
}

func (r *Repository) CreateAutomationRule(ctx context.Context, p AutomationRuleParams) (domain.AutomationRuleRecord, error) {
	var rec domain.AutomationRuleRecord
	err := r.pool.QueryRow(ctx, `
		INSERT INTO automation_rules (name, trigger_type, trigger_config, action_type,
			action_config, pipeline_id, stage_id, priority, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, name, trigger_type, trigger_config, action_type, action_config,
			pipeline_id, stage_id, priority, is_active, created_at
	`, p.Name, p.TriggerType, conditionsOrNull(p.TriggerConfig), p.ActionType,
		conditionsOrNull(p.ActionConfig), p.PipelineID, p.StageID, p.Priority, p.IsActive,
	).Scan(
		&rec.ID, &rec.Name, &rec.TriggerType, &rec.TriggerConfig, &rec.ActionType,
		&rec.ActionConfig, &rec.PipelineID, &rec.StageID, &rec.Priority, &rec.IsActive,
		&rec.CreatedAt,
	)
	return rec, err
}

func (r *Repository) UpdateAutomationRule(ctx context.Context, id uuid.UUID, p AutomationRuleParams) (domain.AutomationRuleRecord, error) {
	var rec domain.AutomationRuleRecord
	err := r.pool.QueryRow(ctx, `
		UPDATE automation_rules
		SET name = $2, trigger_type = $3, trigger_config = $4, action_type = $5,
			action_config = $6, pipeline_id = $7, stage_id = $8, priority = $9,
			is_active = $10, updated_at = now()
		WHERE id = $1
		RETURNING id, name, trigger_type, trigger_config, action_type, action_config,
			pipeline_id, stage_id, priority, is_active, created_at
	`, id, p.Name, p.TriggerType, conditionsOrNull(p.TriggerConfig), p.ActionType,
		conditionsOrNull(p.ActionConfig), p.PipelineID, p.StageID, p.Priority, p.IsActive,
	).Scan(
		&rec.ID, &rec.Name, &rec.TriggerType, &rec.TriggerConfig, &rec.ActionType,
		&rec.ActionConfig, &rec.PipelineID, &rec.StageID, &rec.Priority, &rec.IsActive,
		&rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AutomationRuleRecord{}, apperr.NotFound("automation rule not found")
	}
	return rec, err
}

func (r *Repository) DeleteAutomationRule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM automation_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("automation rule not found")
	}
	return nil
}

// =============================================================================
// Settings
// =============================================================================

func (r *Repository) UpsertTierThresholds(ctx context.Context, t domain.TierThresholds) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tier_thresholds (id, warm, hot, very_hot, clamp_negative_total)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET warm = EXCLUDED.warm, hot = EXCLUDED.hot, very_hot = EXCLUDED.very_hot,
			clamp_negative_total = EXCLUDED.clamp_negative_total, updated_at = now()
	`, t.Warm, t.Hot, t.VeryHot, t.ClampNegativeTotal)
	return err
}

func (r *Repository) UpsertRoutingConfig(ctx context.Context, cfg domain.RoutingConfig) error {
	intentMap, err := json.Marshal(cfg.IntentToPipeline)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO routing_settings (id, min_score_threshold, min_intent_confidence,
			intent_confidence_margin, max_unrouted_days, fallback_pipeline,
			intent_to_pipeline, owner_assignment)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET min_score_threshold = EXCLUDED.min_score_threshold,
			min_intent_confidence = EXCLUDED.min_intent_confidence,
			intent_confidence_margin = EXCLUDED.intent_confidence_margin,
			max_unrouted_days = EXCLUDED.max_unrouted_days,
			fallback_pipeline = EXCLUDED.fallback_pipeline,
			intent_to_pipeline = EXCLUDED.intent_to_pipeline,
			owner_assignment = EXCLUDED.owner_assignment,
			updated_at = now()
	`, cfg.MinScoreThreshold, cfg.MinIntentConfidence, cfg.IntentConfidenceMargin,
		cfg.MaxUnroutedDays, cfg.FallbackPipeline, intentMap, string(cfg.OwnerAssignment))
	return err
}

func conditionsOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
