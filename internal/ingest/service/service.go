package service

import (
	"context"
	"strings"

	autosvc "leadscore_backend/internal/automation/service"
	"leadscore_backend/internal/events"
	leadsrepo "leadscore_backend/internal/leads/repository"
	"leadscore_backend/internal/rules/domain"
	scoringsvc "leadscore_backend/internal/scoring/service"
	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/logger"

	"github.com/google/uuid"
)

// EventTypeIntentDetected is the tracked event type whose metadata carries a
// classified intent.
const EventTypeIntentDetected = "intent_detected"

// Deduper reports whether an event identity is new within the dedup window.
// Forget releases a claimed identity again; the key means processed, not
// merely delivered.
type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// LeadDirectory resolves lead identities and holds the per-lead intent
// summary.
type LeadDirectory interface {
	FindByIdentifier(ctx context.Context, identifier string) (leadsrepo.Lead, error)
	UpdateIntentSummary(ctx context.Context, leadID uuid.UUID, summary map[string]float64) error
}

// Scorer applies a tracked event to the scoring ledger.
type Scorer interface {
	ApplyEvent(ctx context.Context, leadID uuid.UUID, event events.TrackedEvent) (scoringsvc.ApplyResult, error)
}

// Automator evaluates automation rules for a trigger.
type Automator interface {
	OnTrigger(ctx context.Context, trigger domain.TriggerType, tctx autosvc.TriggerContext) (autosvc.BatchResult, error)
}

// Result reports what one ingested event did.
type Result struct {
	Duplicate  bool
	LeadFound  bool
	LeadID     uuid.UUID
	Score      scoringsvc.ApplyResult
	Automation autosvc.BatchResult
}

// Service is the ingest pipeline: dedup, lead resolution, intent capture,
// scoring, and the event automation trigger, in that order.
type Service struct {
	dedup Deduper
	leads LeadDirectory
	score Scorer
	auto  Automator
	bus   events.Bus
	log   *logger.Logger
}

func New(dedup Deduper, leads LeadDirectory, score Scorer, auto Automator, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		dedup: dedup,
		leads: leads,
		score: score,
		auto:  auto,
		bus:   bus,
		log:   log,
	}
}

// Process runs one tracked event through the pipeline. A duplicate ID or an
// unresolvable lead identifier is a recorded skip, not an error, so queue
// redeliveries do not retry them. A pipeline failure releases the dedup
// claim before returning, so the queue retry runs the pipeline again
// instead of seeing a duplicate.
func (s *Service) Process(ctx context.Context, ev events.TrackedEvent) (Result, error) {
	if err := validate(ev); err != nil {
		return Result{}, err
	}

	first, err := s.dedup.FirstSeen(ctx, ev.ID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindExternal, "event dedup check failed", err)
	}
	if !first {
		s.log.Debug("duplicate event skipped", "event_id", ev.ID, "event_type", ev.EventType)
		return Result{Duplicate: true}, nil
	}

	result, err := s.pipeline(ctx, ev)
	if err != nil {
		// A failed run releases the identity so the queue retry is not
		// classified as a duplicate.
		s.forget(ctx, ev.ID)
		return result, err
	}
	return result, nil
}

func (s *Service) pipeline(ctx context.Context, ev events.TrackedEvent) (Result, error) {
	lead, err := s.leads.FindByIdentifier(ctx, ev.LeadIdentifier)
	if err != nil {
		if apperr.GetKind(err) == apperr.KindNotFound {
			s.log.Warn("event for unknown lead skipped",
				"event_id", ev.ID,
				"lead_identifier", ev.LeadIdentifier,
			)
			return Result{}, nil
		}
		return Result{}, err
	}

	result := Result{LeadFound: true, LeadID: lead.ID}

	if ev.EventType == EventTypeIntentDetected {
		if err := s.captureIntent(ctx, lead, ev); err != nil {
			return result, err
		}
	}

	applied, err := s.score.ApplyEvent(ctx, lead.ID, ev)
	if err != nil {
		return result, err
	}
	result.Score = applied

	batch, err := s.auto.OnTrigger(ctx, domain.TriggerEvent, autosvc.TriggerContext{
		LeadID:     lead.ID,
		PipelineID: lead.PipelineID,
		StageID:    lead.StageID,
		EventType:  ev.EventType,
		Metadata:   ev.Metadata,
	})
	if err != nil {
		return result, err
	}
	result.Automation = batch

	return result, nil
}

// captureIntent merges the event's classified intent into the lead's intent
// summary, keeping the highest confidence seen per intent, and announces the
// detection.
func (s *Service) captureIntent(ctx context.Context, lead leadsrepo.Lead, ev events.TrackedEvent) error {
	intent, confidence := intentFields(ev.Metadata)
	if intent == "" {
		s.log.Warn("intent event without intent metadata", "event_id", ev.ID)
		return nil
	}

	summary := make(map[string]float64, len(lead.IntentSummary)+1)
	for k, v := range lead.IntentSummary {
		summary[k] = v
	}
	if existing, ok := summary[intent]; !ok || confidence > existing {
		summary[intent] = confidence
	}

	if err := s.leads.UpdateIntentSummary(ctx, lead.ID, summary); err != nil {
		return err
	}

	s.bus.Publish(ctx, events.LeadIntentDetected{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     lead.ID,
		Intent:     intent,
		Confidence: confidence,
	})
	return nil
}

// forget releases the dedup claim after a failed run. A failed release is
// logged, not surfaced; the caller's error is the one the queue retries on.
func (s *Service) forget(ctx context.Context, eventID string) {
	if err := s.dedup.Forget(ctx, eventID); err != nil {
		s.log.Error("event dedup release failed", "event_id", eventID, "error", err)
	}
}

func validate(ev events.TrackedEvent) error {
	if strings.TrimSpace(ev.ID) == "" {
		return apperr.Validation("event id is required")
	}
	if strings.TrimSpace(ev.EventType) == "" {
		return apperr.Validation("event type is required")
	}
	if strings.TrimSpace(ev.LeadIdentifier) == "" {
		return apperr.Validation("lead identifier is required")
	}
	return nil
}

func intentFields(metadata map[string]any) (string, float64) {
	intent, _ := metadata["intent"].(string)
	confidence, _ := metadata["confidence"].(float64)
	return strings.TrimSpace(intent), confidence
}
