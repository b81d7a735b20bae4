// Package service moves deals between pipeline stages and publishes the
// stage-change events that feed automation triggers.
package service

import (
	"context"

	"leadscore_backend/internal/deals/repository"
	"leadscore_backend/internal/events"
	"leadscore_backend/platform/logger"

	"github.com/google/uuid"
)

type Service struct {
	repo *repository.Repository
	bus  events.Bus
	log  *logger.Logger
}

func New(repo *repository.Repository, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: bus, log: log}
}

// MoveToStage moves a deal to a stage of its pipeline, given a stage id or
// name. Moving to the current stage is a no-op and publishes nothing.
func (s *Service) MoveToStage(ctx context.Context, dealID uuid.UUID, stageIDOrName string) (repository.Deal, error) {
	deal, err := s.repo.GetByID(ctx, dealID)
	if err != nil {
		return repository.Deal{}, err
	}

	stageID, stageName, err := s.repo.ResolveStage(ctx, deal.PipelineID, stageIDOrName)
	if err != nil {
		return repository.Deal{}, err
	}
	if stageID == deal.StageID {
		return deal, nil
	}

	if err := s.repo.SetStage(ctx, deal.ID, stageID); err != nil {
		return repository.Deal{}, err
	}

	oldStageID := deal.StageID
	s.bus.Publish(ctx, events.LeadStageChanged{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     deal.LeadID,
		DealID:     deal.ID,
		PipelineID: deal.PipelineID,
		OldStageID: &oldStageID,
		NewStageID: stageID,
		OldStage:   deal.StageName,
		NewStage:   stageName,
	})

	s.log.Info("deal moved",
		"deal_id", deal.ID,
		"from_stage", deal.StageName,
		"to_stage", stageName,
	)

	deal.StageID = stageID
	deal.StageName = stageName
	return deal, nil
}
