package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"leadscore_backend/internal/events"
	"leadscore_backend/internal/routing/repository"
	"leadscore_backend/internal/rules/domain"
	rulestore "leadscore_backend/internal/rules/store"
	"leadscore_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeStore struct {
	lead         repository.Lead
	pipelines    map[uuid.UUID]bool
	owners       []repository.Owner
	routedCalls  int
	manualCalls  int
	forcedCalls  int
	assignedTo   []uuid.UUID
	routedLost   bool
	overdueLeads []uuid.UUID
}

func (f *fakeStore) GetLead(_ context.Context, leadID uuid.UUID) (repository.Lead, error) {
	return f.lead, nil
}

func (f *fakeStore) PipelineExists(_ context.Context, pipelineID uuid.UUID) (bool, error) {
	return f.pipelines[pipelineID], nil
}

func (f *fakeStore) MarkRouted(_ context.Context, leadID, pipelineID uuid.UUID, ownerID *uuid.UUID) (bool, error) {
	f.routedCalls++
	if f.routedLost || f.lead.RoutingStatus == "routed" {
		return false, nil
	}
	f.lead.RoutingStatus = "routed"
	return true, nil
}

func (f *fakeStore) ForceRoute(_ context.Context, leadID, pipelineID uuid.UUID, ownerID *uuid.UUID) error {
	f.forcedCalls++
	f.lead.RoutingStatus = "routed"
	return nil
}

func (f *fakeStore) MarkManualReview(_ context.Context, leadID uuid.UUID) error {
	f.manualCalls++
	f.lead.RoutingStatus = "manual_review"
	return nil
}

func (f *fakeStore) EligibleOwners(context.Context) ([]repository.Owner, error) {
	return f.owners, nil
}

func (f *fakeStore) RecordAssignment(_ context.Context, ownerID uuid.UUID) error {
	f.assignedTo = append(f.assignedTo, ownerID)
	return nil
}

func (f *fakeStore) ListOverdue(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return f.overdueLeads, nil
}

type routingSource struct {
	cfg domain.RoutingConfig
}

func (s *routingSource) FetchScoringRules(context.Context) ([]domain.ScoringRuleRecord, error) {
	return nil, nil
}

func (s *routingSource) FetchAutomationRules(context.Context) ([]domain.AutomationRuleRecord, error) {
	return nil, nil
}

func (s *routingSource) FetchTierThresholds(context.Context) (domain.TierThresholds, error) {
	return domain.DefaultTierThresholds(), nil
}

func (s *routingSource) FetchRoutingConfig(context.Context) (domain.RoutingConfig, error) {
	return s.cfg, nil
}

type captureBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *captureBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *captureBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *captureBus) Subscribe(string, events.Handler) {}

func newRoutingEngine(t *testing.T, cfg domain.RoutingConfig, store *fakeStore) (*Engine, *captureBus) {
	t.Helper()
	rules := rulestore.New(&routingSource{cfg: cfg}, logger.New("test"))
	if err := rules.Load(context.Background()); err != nil {
		t.Fatalf("load rules: %v", err)
	}
	bus := &captureBus{}
	return NewEngine(store, rules, bus, logger.New("test")), bus
}

func unroutedLead(score int, intents map[string]float64) repository.Lead {
	return repository.Lead{
		ID:            uuid.New(),
		TotalScore:    score,
		IntentSummary: intents,
		RoutingStatus: "unrouted",
		CreatedAt:     time.Now().Add(-time.Hour),
	}
}

func TestEvaluateAndRoute_AlreadyRoutedSkips(t *testing.T) {
	lead := unroutedLead(80, map[string]float64{"buy": 0.9})
	lead.RoutingStatus = "routed"
	store := &fakeStore{lead: lead}

	engine, bus := newRoutingEngine(t, domain.RoutingConfig{}, store)

	decision, err := engine.EvaluateAndRoute(context.Background(), lead.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Action != ActionSkip || decision.Reason != "already routed" {
		t.Fatalf("expected already-routed skip, got %+v", decision)
	}
	if store.routedCalls != 0 || store.manualCalls != 0 {
		t.Fatal("already-routed lead must not be written")
	}
	if len(bus.published) != 0 {
		t.Fatal("skip must not publish")
	}
}

func TestEvaluateAndRoute_ScoreBelowThresholdSkips(t *testing.T) {
	store := &fakeStore{lead: unroutedLead(10, map[string]float64{"buy": 0.9})}
	engine, _ := newRoutingEngine(t, domain.RoutingConfig{MinScoreThreshold: 50}, store)

	decision, err := engine.EvaluateAndRoute(context.Background(), store.lead.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Action != ActionSkip {
		t.Fatalf("expected skip, got %+v", decision)
	}
	if decision.Details["threshold"] != 50 {
		t.Fatalf("expected threshold detail, got %+v", decision.Details)
	}
}

func TestEvaluateAndRoute_AmbiguousIntentGoesToManualReview(t *testing.T) {
	// Top two intents 2 points of confidence apart with a margin of 5 required.
	store := &fakeStore{lead: unroutedLead(80, map[string]float64{"buy": 0.52, "rent": 0.50})}
	engine, _ := newRoutingEngine(t, domain.RoutingConfig{
		MinScoreThreshold:      50,
		MinIntentConfidence:    0.3,
		IntentConfidenceMargin: 0.05,
	}, store)

	decision, err := engine.EvaluateAndRoute(context.Background(), store.lead.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Action != ActionManualReview || decision.Reason != "ambiguous intent" {
		t.Fatalf("expected ambiguous-intent manual review, got %+v", decision)
	}
	if store.manualCalls != 1 {
		t.Fatalf("expected manual review persisted, got %d", store.manualCalls)
	}
}

func TestEvaluateAndRoute_MappedIntentRoutesAndAssignsOwner(t *testing.T) {
	pipelineID := uuid.New()
	ownerNew := repository.Owner{ID: uuid.New(), CurrentLeads: 3}
	neverAssigned := repository.Owner{ID: uuid.New(), CurrentLeads: 9}

	store := &fakeStore{
		lead:      unroutedLead(80, map[string]float64{"buy": 0.9}),
		pipelines: map[uuid.UUID]bool{pipelineID: true},
		owners:    []repository.Owner{assigned(ownerNew, time.Now()), neverAssigned},
	}
	engine, bus := newRoutingEngine(t, domain.RoutingConfig{
		MinScoreThreshold:   50,
		MinIntentConfidence: 0.3,
		IntentToPipeline:    map[string]uuid.UUID{"buy": pipelineID},
		OwnerAssignment:     domain.OwnerRoundRobin,
	}, store)

	decision, err := engine.EvaluateAndRoute(context.Background(), store.lead.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Action != ActionRoute || *decision.PipelineID != pipelineID {
		t.Fatalf("expected route to mapped pipeline, got %+v", decision)
	}

	// Round robin prefers the owner never assigned before.
	if decision.OwnerID == nil || *decision.OwnerID != neverAssigned.ID {
		t.Fatalf("expected never-assigned owner picked, got %+v", decision.OwnerID)
	}
	if len(store.assignedTo) != 1 || store.assignedTo[0] != neverAssigned.ID {
		t.Fatalf("expected assignment recorded, got %+v", store.assignedTo)
	}

	if len(bus.published) != 1 {
		t.Fatalf("expected one routed event, got %d", len(bus.published))
	}
	routed, ok := bus.published[0].(events.LeadRouted)
	if !ok || routed.PipelineID != pipelineID {
		t.Fatalf("unexpected event: %+v", bus.published[0])
	}
}

func TestEvaluateAndRoute_LostRaceIsSuccess(t *testing.T) {
	pipelineID := uuid.New()
	store := &fakeStore{
		lead:       unroutedLead(80, map[string]float64{"buy": 0.9}),
		pipelines:  map[uuid.UUID]bool{pipelineID: true},
		routedLost: true,
	}
	engine, bus := newRoutingEngine(t, domain.RoutingConfig{
		MinScoreThreshold: 0,
		IntentToPipeline:  map[string]uuid.UUID{"buy": pipelineID},
	}, store)

	decision, err := engine.EvaluateAndRoute(context.Background(), store.lead.ID)
	if err != nil {
		t.Fatalf("lost race must not error: %v", err)
	}
	if decision.Action != ActionSkip || decision.Reason != "already routed" {
		t.Fatalf("expected lost race reported as skip, got %+v", decision)
	}
	if len(bus.published) != 0 {
		t.Fatal("lost race must not publish a routed event")
	}
}

func TestEvaluateAndRoute_NoFallbackPipelineMeansManualReview(t *testing.T) {
	store := &fakeStore{lead: unroutedLead(80, nil)}
	engine, _ := newRoutingEngine(t, domain.RoutingConfig{MinScoreThreshold: 50}, store)

	decision, err := engine.EvaluateAndRoute(context.Background(), store.lead.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Action != ActionManualReview {
		t.Fatalf("expected manual review without intent or fallback, got %+v", decision)
	}
}

func TestManualRoute_OverridesRoutedStatus(t *testing.T) {
	pipelineID := uuid.New()
	lead := unroutedLead(80, nil)
	lead.RoutingStatus = "routed"

	store := &fakeStore{
		lead:      lead,
		pipelines: map[uuid.UUID]bool{pipelineID: true},
	}
	engine, bus := newRoutingEngine(t, domain.RoutingConfig{}, store)

	decision, err := engine.ManualRoute(context.Background(), lead.ID, pipelineID, nil)
	if err != nil {
		t.Fatalf("manual route: %v", err)
	}
	if decision.Action != ActionRoute {
		t.Fatalf("expected manual route, got %+v", decision)
	}
	if store.forcedCalls != 1 {
		t.Fatal("manual route must bypass the routed guard")
	}
	if len(bus.published) != 1 {
		t.Fatalf("expected routed event, got %d", len(bus.published))
	}
}

func assigned(o repository.Owner, at time.Time) repository.Owner {
	o.LastAssignedAt = &at
	return o
}
