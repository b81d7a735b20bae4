// Package actions provides the concrete collaborators behind automation
// action types. Each one adapts a bounded context to the engine's opaque
// Execute contract; the registry is assembled in the composition roots.
package actions

import (
	"context"
	"time"

	"leadscore_backend/internal/automation/service"
	dealsrepo "leadscore_backend/internal/deals/repository"
	dealsvc "leadscore_backend/internal/deals/service"
	leadsrepo "leadscore_backend/internal/leads/repository"
	"leadscore_backend/internal/moco"
	"leadscore_backend/internal/notify"
	routingrepo "leadscore_backend/internal/routing/repository"
	routingsvc "leadscore_backend/internal/routing/service"
	rulestore "leadscore_backend/internal/rules/store"
	tasksrepo "leadscore_backend/internal/tasks/repository"
	"leadscore_backend/platform/apperr"

	"github.com/google/uuid"
)

// configString reads an optional string key from an action config.
func configString(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

// =============================================================================
// move_to_stage
// =============================================================================

// StageMover moves the lead's deal to the configured stage.
type StageMover struct {
	deals *dealsvc.Service
	repo  *dealsrepo.Repository
}

func NewStageMover(deals *dealsvc.Service, repo *dealsrepo.Repository) *StageMover {
	return &StageMover{deals: deals, repo: repo}
}

func (a *StageMover) Execute(ctx context.Context, cfg map[string]any, tctx service.TriggerContext) (map[string]any, error) {
	stage := configString(cfg, "stage")
	if stage == "" {
		return nil, apperr.Validation("move_to_stage requires a stage")
	}

	dealID := tctx.DealID
	if dealID == nil {
		deal, err := a.repo.GetByLead(ctx, tctx.LeadID)
		if err != nil {
			return nil, err
		}
		dealID = &deal.ID
	}

	deal, err := a.deals.MoveToStage(ctx, *dealID, stage)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"deal_id": deal.ID.String(),
		"stage":   deal.StageName,
	}, nil
}

// =============================================================================
// assign_owner
// =============================================================================

// OwnerDirectory lists assignable team members and records assignments.
// Implemented by the routing repository.
type OwnerDirectory interface {
	EligibleOwners(ctx context.Context) ([]routingrepo.Owner, error)
	RecordAssignment(ctx context.Context, ownerID uuid.UUID) error
}

// LeadAssigner sets a lead's owner. Implemented by the leads repository.
type LeadAssigner interface {
	AssignOwner(ctx context.Context, leadID, ownerID uuid.UUID) error
}

// OwnerAssigner assigns the lead to a configured owner, or picks one with
// the owner strategy from the routing configuration when the config names
// none.
type OwnerAssigner struct {
	leads  LeadAssigner
	owners OwnerDirectory
	rules  *rulestore.Store
}

func NewOwnerAssigner(leads LeadAssigner, owners OwnerDirectory, rules *rulestore.Store) *OwnerAssigner {
	return &OwnerAssigner{leads: leads, owners: owners, rules: rules}
}

func (a *OwnerAssigner) Execute(ctx context.Context, cfg map[string]any, tctx service.TriggerContext) (map[string]any, error) {
	var ownerID uuid.UUID

	if raw := configString(cfg, "owner_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return nil, apperr.Validation("assign_owner owner_id is not a UUID")
		}
		ownerID = parsed
	} else {
		candidates, err := a.owners.EligibleOwners(ctx)
		if err != nil {
			return nil, err
		}
		picked := routingsvc.SelectOwner(candidates, a.rules.Snapshot().Routing.OwnerAssignment)
		if picked == nil {
			return nil, apperr.Conflict("no eligible owner available")
		}
		ownerID = *picked
	}

	if err := a.leads.AssignOwner(ctx, tctx.LeadID, ownerID); err != nil {
		return nil, err
	}
	if err := a.owners.RecordAssignment(ctx, ownerID); err != nil {
		return nil, err
	}
	return map[string]any{"owner_id": ownerID.String()}, nil
}

// =============================================================================
// send_notification
// =============================================================================

// Notifier delivers an in-app notification, plus email when configured.
type Notifier struct {
	notify *notify.Service
}

func NewNotifier(n *notify.Service) *Notifier {
	return &Notifier{notify: n}
}

func (a *Notifier) Execute(ctx context.Context, cfg map[string]any, tctx service.TriggerContext) (map[string]any, error) {
	subject := configString(cfg, "subject")
	if subject == "" {
		return nil, apperr.Validation("send_notification requires a subject")
	}

	var recipient *uuid.UUID
	if raw := configString(cfg, "recipient_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return nil, apperr.Validation("send_notification recipient_id is not a UUID")
		}
		recipient = &parsed
	}

	err := a.notify.Notify(ctx, notify.Notification{
		LeadID:      tctx.LeadID,
		RecipientID: recipient,
		Subject:     subject,
		Body:        configString(cfg, "body"),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"subject": subject}, nil
}

// =============================================================================
// create_task
// =============================================================================

// TaskCreator creates a follow-up task on the lead.
type TaskCreator struct {
	tasks *tasksrepo.Repository
}

func NewTaskCreator(tasks *tasksrepo.Repository) *TaskCreator {
	return &TaskCreator{tasks: tasks}
}

func (a *TaskCreator) Execute(ctx context.Context, cfg map[string]any, tctx service.TriggerContext) (map[string]any, error) {
	title := configString(cfg, "title")
	if title == "" {
		return nil, apperr.Validation("create_task requires a title")
	}

	task := tasksrepo.Task{
		LeadID:      tctx.LeadID,
		DealID:      tctx.DealID,
		Title:       title,
		Description: configString(cfg, "description"),
	}

	if days, ok := cfg["due_in_days"].(float64); ok && days > 0 {
		due := time.Now().AddDate(0, 0, int(days))
		task.DueAt = &due
	}
	if raw := configString(cfg, "assigned_to"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return nil, apperr.Validation("create_task assigned_to is not a UUID")
		}
		task.AssignedTo = &parsed
	}

	created, err := a.tasks.Create(ctx, task)
	if err != nil {
		return nil, err
	}
	return map[string]any{"task_id": created.ID.String()}, nil
}

// =============================================================================
// sync_moco
// =============================================================================

// MocoSyncer pushes the lead's current state to the MOCO CRM.
type MocoSyncer struct {
	client *moco.Client
	leads  *leadsrepo.Repository
}

func NewMocoSyncer(client *moco.Client, leads *leadsrepo.Repository) *MocoSyncer {
	return &MocoSyncer{client: client, leads: leads}
}

func (a *MocoSyncer) Execute(ctx context.Context, cfg map[string]any, tctx service.TriggerContext) (map[string]any, error) {
	lead, err := a.leads.GetByID(ctx, tctx.LeadID)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"external_id": lead.ID.String(),
		"first_name":  lead.FirstName,
		"last_name":   lead.LastName,
		"email":       lead.Email,
		"phone":       lead.Phone,
		"company":     lead.Company,
		"score":       lead.TotalScore,
		"tier":        lead.Tier,
	}
	return a.client.SyncLead(ctx, payload)
}

// =============================================================================
// route_to_pipeline
// =============================================================================

// PipelineRouter routes the lead: to a configured pipeline directly, or
// through the routing ladder when the config names none.
type PipelineRouter struct {
	routing *routingsvc.Engine
}

func NewPipelineRouter(routing *routingsvc.Engine) *PipelineRouter {
	return &PipelineRouter{routing: routing}
}

func (a *PipelineRouter) Execute(ctx context.Context, cfg map[string]any, tctx service.TriggerContext) (map[string]any, error) {
	var (
		decision routingsvc.Decision
		err      error
	)

	if raw := configString(cfg, "pipeline_id"); raw != "" {
		pipelineID, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			return nil, apperr.Validation("route_to_pipeline pipeline_id is not a UUID")
		}
		decision, err = a.routing.ManualRoute(ctx, tctx.LeadID, pipelineID, nil)
	} else {
		decision, err = a.routing.EvaluateAndRoute(ctx, tctx.LeadID)
	}
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"action": decision.Action,
		"reason": decision.Reason,
	}
	if decision.PipelineID != nil {
		result["pipeline_id"] = decision.PipelineID.String()
	}
	return result, nil
}

var (
	_ service.Collaborator = (*StageMover)(nil)
	_ service.Collaborator = (*OwnerAssigner)(nil)
	_ service.Collaborator = (*Notifier)(nil)
	_ service.Collaborator = (*TaskCreator)(nil)
	_ service.Collaborator = (*MocoSyncer)(nil)
	_ service.Collaborator = (*PipelineRouter)(nil)
)
