// Package service implements the routing decision engine: a
// first-applicable-wins ladder from lead state to a pipeline assignment.
package service

import (
	"context"
	"fmt"
	"time"

	"leadscore_backend/internal/events"
	"leadscore_backend/internal/rules/domain"
	rulestore "leadscore_backend/internal/rules/store"
	"leadscore_backend/internal/routing/repository"
	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/logger"

	"github.com/google/uuid"
)

// Store is the storage the routing engine runs on. Implemented by the
// routing repository; tests supply fakes.
type Store interface {
	GetLead(ctx context.Context, leadID uuid.UUID) (repository.Lead, error)
	PipelineExists(ctx context.Context, pipelineID uuid.UUID) (bool, error)
	MarkRouted(ctx context.Context, leadID, pipelineID uuid.UUID, ownerID *uuid.UUID) (bool, error)
	ForceRoute(ctx context.Context, leadID, pipelineID uuid.UUID, ownerID *uuid.UUID) error
	MarkManualReview(ctx context.Context, leadID uuid.UUID) error
	EligibleOwners(ctx context.Context) ([]repository.Owner, error)
	RecordAssignment(ctx context.Context, ownerID uuid.UUID) error
	ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// Decision actions.
const (
	ActionRoute        = "route"
	ActionSkip         = "skip"
	ActionManualReview = "manual_review"
)

// Decision is the outcome of one routing evaluation. Reason always explains
// which ladder step decided.
type Decision struct {
	Action     string
	PipelineID *uuid.UUID
	OwnerID    *uuid.UUID
	Reason     string
	Details    map[string]any
}

const overdueBatch = 200

// Engine evaluates the routing ladder. The engine never mutates score
// columns; the persisted write touches routing columns only.
type Engine struct {
	store Store
	rules *rulestore.Store
	bus   events.Bus
	log   *logger.Logger
	now   func() time.Time
}

func NewEngine(store Store, rules *rulestore.Store, bus events.Bus, log *logger.Logger) *Engine {
	return &Engine{store: store, rules: rules, bus: bus, log: log, now: time.Now}
}

// EvaluateAndRoute runs the routing ladder for one lead and persists the
// outcome. Losing the persist race to a concurrent router is not an error:
// the lead ends up routed either way.
func (e *Engine) EvaluateAndRoute(ctx context.Context, leadID uuid.UUID) (Decision, error) {
	cfg := e.rules.Snapshot().Routing

	lead, err := e.store.GetLead(ctx, leadID)
	if err != nil {
		return Decision{}, err
	}

	overdue := cfg.MaxUnroutedDays > 0 &&
		lead.RoutingStatus != "routed" &&
		e.now().Sub(lead.CreatedAt) > time.Duration(cfg.MaxUnroutedDays)*24*time.Hour

	decision := e.decide(lead, cfg, overdue)

	if err := e.persist(ctx, lead, cfg, &decision); err != nil {
		return Decision{}, err
	}

	e.log.RoutingDecision(leadID.String(), decision.Action, decision.Reason)
	return decision, nil
}

// decide walks the ladder without touching storage. Overdue leads that would
// end in skip-by-score or manual_review fall back to the fallback pipeline
// instead, so time-to-route stays bounded; already-routed still skips.
func (e *Engine) decide(lead repository.Lead, cfg domain.RoutingConfig, overdue bool) Decision {
	if lead.RoutingStatus == "routed" {
		return Decision{Action: ActionSkip, Reason: "already routed"}
	}

	strict := e.decideStrict(lead, cfg)
	if !overdue || strict.Action == ActionRoute {
		return strict
	}

	fallback := e.fallback(cfg, fmt.Sprintf("overdue after %d days, was: %s", cfg.MaxUnroutedDays, strict.Reason))
	if fallback.Action != ActionRoute {
		return strict
	}
	return fallback
}

func (e *Engine) decideStrict(lead repository.Lead, cfg domain.RoutingConfig) Decision {
	if lead.TotalScore < cfg.MinScoreThreshold {
		return Decision{
			Action: ActionSkip,
			Reason: "score below threshold",
			Details: map[string]any{
				"total_score": lead.TotalScore,
				"threshold":   cfg.MinScoreThreshold,
			},
		}
	}

	intent, confidence, margin, ok := primaryIntent(lead.IntentSummary)
	if !ok {
		return e.fallback(cfg, "no intent detected")
	}

	if confidence < cfg.MinIntentConfidence {
		return Decision{
			Action: ActionManualReview,
			Reason: "intent confidence below threshold",
			Details: map[string]any{
				"intent":     intent,
				"confidence": confidence,
				"threshold":  cfg.MinIntentConfidence,
			},
		}
	}

	if margin < cfg.IntentConfidenceMargin {
		return Decision{
			Action: ActionManualReview,
			Reason: "ambiguous intent",
			Details: map[string]any{
				"intent": intent,
				"margin": margin,
			},
		}
	}

	pipelineID, mapped := cfg.IntentToPipeline[intent]
	if !mapped {
		return e.fallback(cfg, "no pipeline mapped for intent "+intent)
	}

	return Decision{
		Action:     ActionRoute,
		PipelineID: &pipelineID,
		Reason:     "intent " + intent,
		Details:    map[string]any{"intent": intent, "confidence": confidence},
	}
}

func (e *Engine) fallback(cfg domain.RoutingConfig, reason string) Decision {
	if cfg.FallbackPipeline == uuid.Nil {
		return Decision{Action: ActionManualReview, Reason: reason + "; no fallback pipeline"}
	}
	pipelineID := cfg.FallbackPipeline
	return Decision{
		Action:     ActionRoute,
		PipelineID: &pipelineID,
		Reason:     reason + "; fallback pipeline",
	}
}

// persist writes the decision. Owner assignment happens here, after the
// pipeline is settled; no eligible owner never blocks routing.
func (e *Engine) persist(ctx context.Context, lead repository.Lead, cfg domain.RoutingConfig, decision *Decision) error {
	switch decision.Action {
	case ActionSkip:
		return nil

	case ActionManualReview:
		return e.store.MarkManualReview(ctx, lead.ID)

	case ActionRoute:
		exists, err := e.store.PipelineExists(ctx, *decision.PipelineID)
		if err != nil {
			return err
		}
		if !exists {
			return apperr.Validation("routing target pipeline does not exist")
		}

		decision.OwnerID = e.pickOwner(ctx, cfg.OwnerAssignment)

		updated, err := e.store.MarkRouted(ctx, lead.ID, *decision.PipelineID, decision.OwnerID)
		if err != nil {
			return err
		}
		if !updated {
			// A concurrent writer won the race; the lead is routed.
			*decision = Decision{Action: ActionSkip, Reason: "already routed"}
			return nil
		}

		if decision.OwnerID != nil {
			if err := e.store.RecordAssignment(ctx, *decision.OwnerID); err != nil {
				e.log.Error("record owner assignment failed", "owner_id", *decision.OwnerID, "error", err)
			}
		}

		e.bus.Publish(ctx, events.LeadRouted{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     lead.ID,
			PipelineID: *decision.PipelineID,
			AssignedTo: decision.OwnerID,
			Reason:     decision.Reason,
		})
		return nil

	default:
		return apperr.Internal("unknown routing action: " + decision.Action)
	}
}

// pickOwner selects an owner by the configured strategy. Errors and empty
// candidate sets leave the lead unassigned rather than unrouted.
func (e *Engine) pickOwner(ctx context.Context, strategy domain.OwnerStrategy) *uuid.UUID {
	owners, err := e.store.EligibleOwners(ctx)
	if err != nil {
		e.log.Error("owner lookup failed", "error", err)
		return nil
	}
	return SelectOwner(owners, strategy)
}

// SelectOwner picks one owner from the candidates by strategy: least_loaded
// takes the lowest current lead count, round_robin the least recently
// assigned with never-assigned first. Returns nil for an empty candidate
// set. The assign_owner automation action uses the same selection.
func SelectOwner(owners []repository.Owner, strategy domain.OwnerStrategy) *uuid.UUID {
	if len(owners) == 0 {
		return nil
	}

	picked := owners[0]
	switch strategy {
	case domain.OwnerLeastLoaded:
		for _, o := range owners[1:] {
			if o.CurrentLeads < picked.CurrentLeads {
				picked = o
			}
		}
	default: // round_robin
		for _, o := range owners[1:] {
			if before(o.LastAssignedAt, picked.LastAssignedAt) {
				picked = o
			}
		}
	}
	return &picked.ID
}

// before orders nil (never assigned) first.
func before(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}

// primaryIntent returns the highest-confidence intent, its confidence, and
// the margin to the runner-up. A single intent has an unbounded margin.
func primaryIntent(summary map[string]float64) (string, float64, float64, bool) {
	var (
		intent string
		top    float64
		second float64
		found  bool
	)
	for name, confidence := range summary {
		switch {
		case !found || confidence > top:
			if found {
				second = top
			}
			top = confidence
			intent = name
			found = true
		case confidence > second:
			second = confidence
		}
	}
	if !found {
		return "", 0, 0, false
	}
	if len(summary) == 1 {
		return intent, top, top, true
	}
	return intent, top, top - second, true
}

// ManualRoute routes a lead to an explicit pipeline, bypassing the ladder.
// It fails only when the lead or pipeline is missing.
func (e *Engine) ManualRoute(ctx context.Context, leadID, pipelineID uuid.UUID, assignedTo *uuid.UUID) (Decision, error) {
	lead, err := e.store.GetLead(ctx, leadID)
	if err != nil {
		return Decision{}, err
	}

	exists, err := e.store.PipelineExists(ctx, pipelineID)
	if err != nil {
		return Decision{}, err
	}
	if !exists {
		return Decision{}, apperr.NotFound("pipeline not found")
	}

	if err := e.store.ForceRoute(ctx, lead.ID, pipelineID, assignedTo); err != nil {
		return Decision{}, err
	}

	if assignedTo != nil {
		if err := e.store.RecordAssignment(ctx, *assignedTo); err != nil {
			e.log.Error("record owner assignment failed", "owner_id", *assignedTo, "error", err)
		}
	}

	decision := Decision{
		Action:     ActionRoute,
		PipelineID: &pipelineID,
		OwnerID:    assignedTo,
		Reason:     "manual route",
	}

	e.bus.Publish(ctx, events.LeadRouted{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     lead.ID,
		PipelineID: pipelineID,
		AssignedTo: assignedTo,
		Reason:     decision.Reason,
	})

	e.log.RoutingDecision(leadID.String(), decision.Action, decision.Reason)
	return decision, nil
}

// SweepOverdue re-evaluates unrouted leads older than max_unrouted_days.
// Returns how many leads were routed.
func (e *Engine) SweepOverdue(ctx context.Context) (int, error) {
	cfg := e.rules.Snapshot().Routing
	if cfg.MaxUnroutedDays <= 0 {
		return 0, nil
	}

	cutoff := e.now().AddDate(0, 0, -cfg.MaxUnroutedDays)
	leadIDs, err := e.store.ListOverdue(ctx, cutoff, overdueBatch)
	if err != nil {
		return 0, err
	}

	routed := 0
	for _, leadID := range leadIDs {
		decision, err := e.EvaluateAndRoute(ctx, leadID)
		if err != nil {
			e.log.Error("overdue routing failed", "lead_id", leadID, "error", err)
			continue
		}
		if decision.Action == ActionRoute {
			routed++
		}
	}
	return routed, nil
}
