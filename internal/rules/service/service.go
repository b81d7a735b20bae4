// Package service provides the rule management surface. Every mutation
// reloads the rule store before returning, so the next evaluation after a
// successful call always sees the change.
package service

import (
	"context"
	"time"

	"leadscore_backend/internal/rules/domain"
	"leadscore_backend/internal/rules/repository"
	rulestore "leadscore_backend/internal/rules/store"
	"leadscore_backend/internal/rules/transport"
	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/logger"

	"github.com/google/uuid"
)

type Service struct {
	repo  *repository.Repository
	store *rulestore.Store
	log   *logger.Logger
}

func New(repo *repository.Repository, store *rulestore.Store, log *logger.Logger) *Service {
	return &Service{repo: repo, store: store, log: log}
}

// =============================================================================
// Scoring rules
// =============================================================================

func (s *Service) CreateScoringRule(ctx context.Context, req transport.ScoringRuleRequest) (transport.ScoringRuleResponse, error) {
	if _, err := domain.ParseCondition(req.Conditions); err != nil {
		return transport.ScoringRuleResponse{}, err
	}

	rec, err := s.repo.CreateScoringRule(ctx, scoringParams(req))
	if err != nil {
		return transport.ScoringRuleResponse{}, err
	}
	if err := s.store.Load(ctx); err != nil {
		return transport.ScoringRuleResponse{}, err
	}
	return toScoringResponse(rec), nil
}

func (s *Service) UpdateScoringRule(ctx context.Context, id uuid.UUID, req transport.ScoringRuleRequest) (transport.ScoringRuleResponse, error) {
	if _, err := domain.ParseCondition(req.Conditions); err != nil {
		return transport.ScoringRuleResponse{}, err
	}

	rec, err := s.repo.UpdateScoringRule(ctx, id, scoringParams(req))
	if err != nil {
		return transport.ScoringRuleResponse{}, err
	}
	if err := s.store.Load(ctx); err != nil {
		return transport.ScoringRuleResponse{}, err
	}
	return toScoringResponse(rec), nil
}

func (s *Service) DeleteScoringRule(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteScoringRule(ctx, id); err != nil {
		return err
	}
	return s.store.Load(ctx)
}

func (s *Service) ListScoringRules(ctx context.Context) ([]transport.ScoringRuleResponse, error) {
	records, err := s.repo.FetchScoringRules(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]transport.ScoringRuleResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toScoringResponse(rec))
	}
	return out, nil
}

// =============================================================================
// Automation rules
// =============================================================================

func (s *Service) CreateAutomationRule(ctx context.Context, req transport.AutomationRuleRequest) (transport.AutomationRuleResponse, error) {
	if err := validateAutomationRule(req); err != nil {
		return transport.AutomationRuleResponse{}, err
	}

	rec, err := s.repo.CreateAutomationRule(ctx, automationParams(req))
	if err != nil {
		return transport.AutomationRuleResponse{}, err
	}
	if err := s.store.Load(ctx); err != nil {
		return transport.AutomationRuleResponse{}, err
	}
	return toAutomationResponse(rec), nil
}

func (s *Service) UpdateAutomationRule(ctx context.Context, id uuid.UUID, req transport.AutomationRuleRequest) (transport.AutomationRuleResponse, error) {
	if err := validateAutomationRule(req); err != nil {
		return transport.AutomationRuleResponse{}, err
	}

	rec, err := s.repo.UpdateAutomationRule(ctx, id, automationParams(req))
	if err != nil {
		return transport.AutomationRuleResponse{}, err
	}
	if err := s.store.Load(ctx); err != nil {
		return transport.AutomationRuleResponse{}, err
	}
	return toAutomationResponse(rec), nil
}

func (s *Service) DeleteAutomationRule(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteAutomationRule(ctx, id); err != nil {
		return err
	}
	return s.store.Load(ctx)
}

func (s *Service) ListAutomationRules(ctx context.Context) ([]transport.AutomationRuleResponse, error) {
	records, err := s.repo.FetchAutomationRules(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]transport.AutomationRuleResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toAutomationResponse(rec))
	}
	return out, nil
}

// =============================================================================
// Settings
// =============================================================================

func (s *Service) GetTierThresholds(ctx context.Context) (domain.TierThresholds, error) {
	return s.repo.FetchTierThresholds(ctx)
}

func (s *Service) UpdateTierThresholds(ctx context.Context, req transport.TierThresholdsRequest) error {
	if !(req.Warm < req.Hot && req.Hot < req.VeryHot) {
		return apperr.Validation("tier thresholds must be strictly increasing: warm < hot < very_hot")
	}
	if err := s.repo.UpsertTierThresholds(ctx, domain.TierThresholds{
		Warm:               req.Warm,
		Hot:                req.Hot,
		VeryHot:            req.VeryHot,
		ClampNegativeTotal: req.ClampNegativeTotal,
	}); err != nil {
		return err
	}
	return s.store.Load(ctx)
}

func (s *Service) GetRoutingConfig(ctx context.Context) (domain.RoutingConfig, error) {
	return s.repo.FetchRoutingConfig(ctx)
}

func (s *Service) UpdateRoutingConfig(ctx context.Context, req transport.RoutingConfigRequest) error {
	if err := s.repo.UpsertRoutingConfig(ctx, domain.RoutingConfig{
		MinScoreThreshold:      req.MinScoreThreshold,
		MinIntentConfidence:    req.MinIntentConfidence,
		IntentConfidenceMargin: req.IntentConfidenceMargin,
		MaxUnroutedDays:        req.MaxUnroutedDays,
		FallbackPipeline:       req.FallbackPipeline,
		IntentToPipeline:       req.IntentToPipeline,
		OwnerAssignment:        domain.OwnerStrategy(req.OwnerAssignment),
	}); err != nil {
		return err
	}
	return s.store.Load(ctx)
}

// Reload forces a snapshot rebuild, e.g. after out-of-band data changes.
func (s *Service) Reload(ctx context.Context) (transport.ReloadResponse, error) {
	if err := s.store.Load(ctx); err != nil {
		return transport.ReloadResponse{}, err
	}
	snap := s.store.Snapshot()
	return transport.ReloadResponse{
		Version:  snap.Version,
		LoadedAt: snap.LoadedAt.Format(time.RFC3339),
	}, nil
}

// =============================================================================
// Helpers
// =============================================================================

func validateAutomationRule(req transport.AutomationRuleRequest) error {
	// Reuse the snapshot parser so malformed configs are rejected at the
	// management surface, not at evaluation.
	_, err := domain.ParseAutomationRecord(domain.AutomationRuleRecord{
		Name:          req.Name,
		TriggerType:   req.TriggerType,
		TriggerConfig: req.TriggerConfig,
		ActionType:    req.ActionType,
		ActionConfig:  req.ActionConfig,
		PipelineID:    req.PipelineID,
		StageID:       req.StageID,
		IsActive:      true,
	})
	return err
}

func scoringParams(req transport.ScoringRuleRequest) repository.ScoringRuleParams {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return repository.ScoringRuleParams{
		Slug:       req.Slug,
		Name:       req.Name,
		RuleType:   req.RuleType,
		Category:   req.Category,
		EventType:  req.EventType,
		Conditions: req.Conditions,
		Points:     req.Points,
		MaxPerDay:  req.MaxPerDay,
		MaxPerLead: req.MaxPerLead,
		DecayDays:  req.DecayDays,
		Priority:   req.Priority,
		IsActive:   active,
	}
}

func automationParams(req transport.AutomationRuleRequest) repository.AutomationRuleParams {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return repository.AutomationRuleParams{
		Name:          req.Name,
		TriggerType:   req.TriggerType,
		TriggerConfig: req.TriggerConfig,
		ActionType:    req.ActionType,
		ActionConfig:  req.ActionConfig,
		PipelineID:    req.PipelineID,
		StageID:       req.StageID,
		Priority:      req.Priority,
		IsActive:      active,
	}
}

func toScoringResponse(rec domain.ScoringRuleRecord) transport.ScoringRuleResponse {
	return transport.ScoringRuleResponse{
		ID:         rec.ID,
		Slug:       rec.Slug,
		Name:       rec.Name,
		RuleType:   rec.RuleType,
		Category:   rec.Category,
		EventType:  rec.EventType,
		Conditions: rec.Conditions,
		Points:     rec.Points,
		MaxPerDay:  rec.MaxPerDay,
		MaxPerLead: rec.MaxPerLead,
		DecayDays:  rec.DecayDays,
		Priority:   rec.Priority,
		IsActive:   rec.IsActive,
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
	}
}

func toAutomationResponse(rec domain.AutomationRuleRecord) transport.AutomationRuleResponse {
	return transport.AutomationRuleResponse{
		ID:            rec.ID,
		Name:          rec.Name,
		TriggerType:   rec.TriggerType,
		TriggerConfig: rec.TriggerConfig,
		ActionType:    rec.ActionType,
		ActionConfig:  rec.ActionConfig,
		PipelineID:    rec.PipelineID,
		StageID:       rec.StageID,
		Priority:      rec.Priority,
		IsActive:      rec.IsActive,
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
	}
}
