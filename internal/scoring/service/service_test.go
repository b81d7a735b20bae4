package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"leadscore_backend/internal/events"
	"leadscore_backend/internal/rules/domain"
	rulestore "leadscore_backend/internal/rules/store"
	"leadscore_backend/internal/scoring/repository"
	"leadscore_backend/platform/logger"

	"github.com/google/uuid"
)

// fakeLedger is an in-memory stand-in for the pgx repository. Single
// goroutine per test, so the mutex only guards the recorder contract.
type fakeLedger struct {
	mu      sync.Mutex
	lead    repository.LeadState
	entries []repository.Entry
}

func (f *fakeLedger) InLeadTx(ctx context.Context, leadID uuid.UUID, fn func(ops repository.Ops) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(&fakeOps{ledger: f})
}

func (f *fakeLedger) ListDueLeads(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var due []uuid.UUID
	for _, e := range f.entries {
		if e.Expired || e.ExpiresAt == nil || e.ExpiresAt.After(now) {
			continue
		}
		if !seen[e.LeadID] {
			seen[e.LeadID] = true
			due = append(due, e.LeadID)
		}
	}
	return due, nil
}

type fakeOps struct {
	ledger *fakeLedger
}

func (o *fakeOps) Lead(context.Context) (repository.LeadState, error) {
	return o.ledger.lead, nil
}

func (o *fakeOps) CountSince(_ context.Context, ruleID uuid.UUID, since time.Time) (int, error) {
	n := 0
	for _, e := range o.ledger.entries {
		if e.RuleID == ruleID && !e.Expired && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (o *fakeOps) CountAll(_ context.Context, ruleID uuid.UUID) (int, error) {
	n := 0
	for _, e := range o.ledger.entries {
		if e.RuleID == ruleID {
			n++
		}
	}
	return n, nil
}

func (o *fakeOps) Insert(_ context.Context, e repository.Entry) error {
	o.ledger.entries = append(o.ledger.entries, e)
	return nil
}

func (o *fakeOps) ListActive(_ context.Context, now time.Time) ([]repository.Entry, error) {
	var active []repository.Entry
	for _, e := range o.ledger.entries {
		if !e.Expired && (e.ExpiresAt == nil || e.ExpiresAt.After(now)) {
			active = append(active, e)
		}
	}
	return active, nil
}

func (o *fakeOps) MarkExpiredDue(_ context.Context, now time.Time) ([]repository.Entry, error) {
	var flipped []repository.Entry
	for i := range o.ledger.entries {
		e := &o.ledger.entries[i]
		if !e.Expired && e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
			e.Expired = true
			flipped = append(flipped, *e)
		}
	}
	return flipped, nil
}

func (o *fakeOps) UpdateTotals(_ context.Context, t repository.Totals) error {
	o.ledger.lead.Totals = t
	return nil
}

// recordingBus captures published events.
type recordingBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) scoreChanges() []events.LeadScoreChanged {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.LeadScoreChanged
	for _, e := range b.published {
		if sc, ok := e.(events.LeadScoreChanged); ok {
			out = append(out, sc)
		}
	}
	return out
}

type ruleSource struct {
	rules []domain.ScoringRuleRecord
}

func (s *ruleSource) FetchScoringRules(context.Context) ([]domain.ScoringRuleRecord, error) {
	return s.rules, nil
}

func (s *ruleSource) FetchAutomationRules(context.Context) ([]domain.AutomationRuleRecord, error) {
	return nil, nil
}

func (s *ruleSource) FetchTierThresholds(context.Context) (domain.TierThresholds, error) {
	return domain.DefaultTierThresholds(), nil
}

func (s *ruleSource) FetchRoutingConfig(context.Context) (domain.RoutingConfig, error) {
	return domain.RoutingConfig{}, nil
}

func newTestEngine(t *testing.T, rules []domain.ScoringRuleRecord, ledger *fakeLedger) (*Engine, *recordingBus) {
	t.Helper()
	store := rulestore.New(&ruleSource{rules: rules}, logger.New("test"))
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load rules: %v", err)
	}
	bus := &recordingBus{}
	return NewEngine(ledger, store, bus, logger.New("test")), bus
}

func eventRule(slug string, points int) domain.ScoringRuleRecord {
	return domain.ScoringRuleRecord{
		ID:        uuid.New(),
		Slug:      slug,
		Name:      slug,
		RuleType:  "event",
		Category:  "engagement",
		EventType: "demo_requested",
		Points:    points,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
}

func trackedEvent(eventType string) events.TrackedEvent {
	return events.TrackedEvent{
		ID:             uuid.NewString(),
		EventType:      eventType,
		Source:         "test",
		OccurredAt:     time.Now(),
		LeadIdentifier: "lead@example.com",
	}
}

func TestApplyEvent_TierCrossingPublishesOnce(t *testing.T) {
	leadID := uuid.New()
	ledger := &fakeLedger{lead: repository.LeadState{ID: leadID, Totals: repository.Totals{Engagement: 35, Total: 35}}}
	engine, bus := newTestEngine(t, []domain.ScoringRuleRecord{eventRule("demo", 10)}, ledger)

	result, err := engine.ApplyEvent(context.Background(), leadID, trackedEvent("demo_requested"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if result.Matched != 1 {
		t.Fatalf("expected 1 match, got %d", result.Matched)
	}
	if result.Totals.Total != 45 {
		t.Fatalf("expected total 45, got %d", result.Totals.Total)
	}
	if !result.TierChanged || result.TierAfter != domain.TierWarm {
		t.Fatalf("expected tier change to warm, got %+v", result)
	}

	changes := bus.scoreChanges()
	if len(changes) != 1 {
		t.Fatalf("expected exactly one score change event, got %d", len(changes))
	}
	if !changes[0].TierChanged || changes[0].OldTotal != 35 || changes[0].NewTotal != 45 {
		t.Fatalf("unexpected event payload: %+v", changes[0])
	}
}

func TestApplyEvent_NoMatchPublishesNothing(t *testing.T) {
	leadID := uuid.New()
	ledger := &fakeLedger{lead: repository.LeadState{ID: leadID}}
	engine, bus := newTestEngine(t, []domain.ScoringRuleRecord{eventRule("demo", 10)}, ledger)

	result, err := engine.ApplyEvent(context.Background(), leadID, trackedEvent("page_viewed"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Matched != 0 {
		t.Fatalf("expected no matches, got %d", result.Matched)
	}
	if len(bus.scoreChanges()) != 0 {
		t.Fatal("expected no score change event for a no-op apply")
	}
}

func TestApplyEvent_MaxPerLeadCap(t *testing.T) {
	leadID := uuid.New()
	ledger := &fakeLedger{lead: repository.LeadState{ID: leadID}}

	rule := eventRule("once-only", 10)
	rule.MaxPerLead = 1
	engine, _ := newTestEngine(t, []domain.ScoringRuleRecord{rule}, ledger)

	first, err := engine.ApplyEvent(context.Background(), leadID, trackedEvent("demo_requested"))
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if first.Matched != 1 {
		t.Fatalf("expected first apply to match, got %+v", first)
	}

	second, err := engine.ApplyEvent(context.Background(), leadID, trackedEvent("demo_requested"))
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if second.Matched != 0 || second.Skipped != 1 {
		t.Fatalf("expected second apply capped, got %+v", second)
	}
	if ledger.lead.Totals.Total != 10 {
		t.Fatalf("expected total 10 after cap, got %d", ledger.lead.Totals.Total)
	}
}

func TestRecalculate_ReplaysLedgerAndReportsDrift(t *testing.T) {
	leadID := uuid.New()
	ledger := &fakeLedger{lead: repository.LeadState{ID: leadID}}
	engine, _ := newTestEngine(t, []domain.ScoringRuleRecord{eventRule("demo", 10)}, ledger)

	if _, err := engine.ApplyEvent(context.Background(), leadID, trackedEvent("demo_requested")); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Corrupt the cached totals behind the ledger's back.
	ledger.lead.Totals.Total = 999
	ledger.lead.Totals.Engagement = 999

	result, err := engine.Recalculate(context.Background(), leadID)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}

	if !result.Drift {
		t.Fatal("expected drift to be reported")
	}
	if result.After.Total != 10 || result.After.Engagement != 10 {
		t.Fatalf("expected replayed totals 10/10, got %+v", result.After)
	}
	if ledger.lead.Totals.Total != 10 {
		t.Fatalf("expected cached totals repaired, got %d", ledger.lead.Totals.Total)
	}
}

func TestRecalculate_SkipsOverdueEntriesAwaitingSweep(t *testing.T) {
	leadID := uuid.New()
	rule := eventRule("demo", 10)
	overdue := time.Now().Add(-time.Hour)
	ledger := &fakeLedger{
		lead: repository.LeadState{ID: leadID, Totals: repository.Totals{Engagement: 20, Total: 20, Tier: "cold"}},
		entries: []repository.Entry{
			{ID: uuid.New(), LeadID: leadID, RuleID: rule.ID, RuleSlug: rule.Slug,
				PointsChange: 10, Category: "engagement", CreatedAt: time.Now().Add(-48 * time.Hour)},
			// Past its window but the hourly sweep has not flipped it yet.
			{ID: uuid.New(), LeadID: leadID, RuleID: rule.ID, RuleSlug: rule.Slug,
				PointsChange: 10, Category: "engagement", CreatedAt: time.Now().Add(-48 * time.Hour),
				ExpiresAt: &overdue},
		},
	}
	engine, _ := newTestEngine(t, []domain.ScoringRuleRecord{rule}, ledger)

	result, err := engine.Recalculate(context.Background(), leadID)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}

	if result.After.Total != 10 || result.After.Engagement != 10 {
		t.Fatalf("expected overdue entry excluded, got totals %+v", result.After)
	}
	if !result.Drift {
		t.Fatal("expected drift against the stale cached totals")
	}
	if ledger.lead.Totals.Total != 10 {
		t.Fatalf("expected cached totals repaired to 10, got %d", ledger.lead.Totals.Total)
	}
}

func TestExpireDue_SubtractsDecayedPoints(t *testing.T) {
	leadID := uuid.New()
	ledger := &fakeLedger{lead: repository.LeadState{ID: leadID}}

	rule := eventRule("decaying", 10)
	rule.DecayDays = 30
	engine, bus := newTestEngine(t, []domain.ScoringRuleRecord{rule}, ledger)

	if _, err := engine.ApplyEvent(context.Background(), leadID, trackedEvent("demo_requested")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ledger.lead.Totals.Total != 10 {
		t.Fatalf("expected total 10, got %d", ledger.lead.Totals.Total)
	}

	// Sweep a day after the decay window closes.
	expired, err := engine.ExpireDue(context.Background(), time.Now().AddDate(0, 0, 31))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired entry, got %d", expired)
	}
	if ledger.lead.Totals.Total != 0 {
		t.Fatalf("expected total back to 0, got %d", ledger.lead.Totals.Total)
	}

	changes := bus.scoreChanges()
	if len(changes) != 2 {
		t.Fatalf("expected apply and expiry events, got %d", len(changes))
	}
	last := changes[len(changes)-1]
	if last.OldTotal != 10 || last.NewTotal != 0 {
		t.Fatalf("unexpected expiry event: %+v", last)
	}

	// A second sweep has nothing left to expire.
	expired, err = engine.ExpireDue(context.Background(), time.Now().AddDate(0, 0, 31))
	if err != nil {
		t.Fatalf("second expire: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected idempotent sweep, got %d", expired)
	}
}
