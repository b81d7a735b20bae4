package service

import (
	"context"
	"errors"
	"testing"
	"time"

	autosvc "leadscore_backend/internal/automation/service"
	"leadscore_backend/internal/events"
	leadsrepo "leadscore_backend/internal/leads/repository"
	"leadscore_backend/internal/rules/domain"
	scoringsvc "leadscore_backend/internal/scoring/service"
	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
)

type dedupCfg struct {
	url string
	ttl time.Duration
}

func (c dedupCfg) GetRedisURL() string        { return c.url }
func (c dedupCfg) GetDedupTTL() time.Duration { return c.ttl }

type fakeLeads struct {
	lead      leadsrepo.Lead
	findErr   error
	summaries []map[string]float64
}

func (l *fakeLeads) FindByIdentifier(context.Context, string) (leadsrepo.Lead, error) {
	if l.findErr != nil {
		return leadsrepo.Lead{}, l.findErr
	}
	return l.lead, nil
}

func (l *fakeLeads) UpdateIntentSummary(_ context.Context, _ uuid.UUID, summary map[string]float64) error {
	l.summaries = append(l.summaries, summary)
	l.lead.IntentSummary = summary
	return nil
}

type fakeScorer struct {
	calls int
	err   error
}

func (s *fakeScorer) ApplyEvent(context.Context, uuid.UUID, events.TrackedEvent) (scoringsvc.ApplyResult, error) {
	s.calls++
	if s.err != nil {
		err := s.err
		s.err = nil
		return scoringsvc.ApplyResult{}, err
	}
	return scoringsvc.ApplyResult{Matched: 1}, nil
}

type fakeAutomator struct {
	triggers []autosvc.TriggerContext
}

func (a *fakeAutomator) OnTrigger(_ context.Context, _ domain.TriggerType, tctx autosvc.TriggerContext) (autosvc.BatchResult, error) {
	a.triggers = append(a.triggers, tctx)
	return autosvc.BatchResult{}, nil
}

type captureBus struct {
	published []events.Event
}

func (b *captureBus) Publish(_ context.Context, ev events.Event) {
	b.published = append(b.published, ev)
}

func (b *captureBus) PublishSync(_ context.Context, ev events.Event) error {
	b.published = append(b.published, ev)
	return nil
}

func (b *captureBus) Subscribe(string, events.Handler) {}

func newTestDeduper(t *testing.T, ttl time.Duration) *RedisDeduper {
	t.Helper()
	mr := miniredis.RunT(t)
	dedup, err := NewRedisDeduper(dedupCfg{url: "redis://" + mr.Addr(), ttl: ttl})
	if err != nil {
		t.Fatalf("new deduper: %v", err)
	}
	t.Cleanup(func() { dedup.Close() })
	return dedup
}

func trackedEvent(id, eventType string, metadata map[string]any) events.TrackedEvent {
	return events.TrackedEvent{
		ID:             id,
		EventType:      eventType,
		Source:         "web",
		OccurredAt:     time.Now().UTC(),
		LeadIdentifier: "lead@example.com",
		Metadata:       metadata,
	}
}

func TestRedisDeduper_FirstSeenOncePerWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	dedup, err := NewRedisDeduper(dedupCfg{url: "redis://" + mr.Addr(), ttl: time.Hour})
	if err != nil {
		t.Fatalf("new deduper: %v", err)
	}
	defer dedup.Close()

	ctx := context.Background()
	first, err := dedup.FirstSeen(ctx, "evt-1")
	if err != nil {
		t.Fatalf("FirstSeen: %v", err)
	}
	if !first {
		t.Fatalf("fresh event reported as seen")
	}

	again, err := dedup.FirstSeen(ctx, "evt-1")
	if err != nil {
		t.Fatalf("FirstSeen: %v", err)
	}
	if again {
		t.Fatalf("repeat within the window reported as first sighting")
	}

	mr.FastForward(2 * time.Hour)
	expired, err := dedup.FirstSeen(ctx, "evt-1")
	if err != nil {
		t.Fatalf("FirstSeen: %v", err)
	}
	if !expired {
		t.Fatalf("event not forgotten after the window expired")
	}
}

func TestProcess_DuplicateEventSkipsPipeline(t *testing.T) {
	leads := &fakeLeads{lead: leadsrepo.Lead{ID: uuid.New()}}
	scorer := &fakeScorer{}
	svc := New(newTestDeduper(t, time.Hour), leads, scorer, &fakeAutomator{}, &captureBus{}, logger.New("test"))

	ev := trackedEvent("evt-dup", "page_view", nil)
	ctx := context.Background()

	got, err := svc.Process(ctx, ev)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got.Duplicate || !got.LeadFound {
		t.Fatalf("first delivery = %+v", got)
	}

	got, err = svc.Process(ctx, ev)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !got.Duplicate {
		t.Fatalf("redelivery not reported as duplicate: %+v", got)
	}
	if scorer.calls != 1 {
		t.Fatalf("scorer called %d times, want 1", scorer.calls)
	}
}

func TestProcess_TransientFailureDoesNotPoisonDedup(t *testing.T) {
	leads := &fakeLeads{lead: leadsrepo.Lead{ID: uuid.New()}}
	scorer := &fakeScorer{err: errors.New("db timeout")}
	svc := New(newTestDeduper(t, time.Hour), leads, scorer, &fakeAutomator{}, &captureBus{}, logger.New("test"))

	ev := trackedEvent("evt-flaky", "page_view", nil)
	ctx := context.Background()

	if _, err := svc.Process(ctx, ev); err == nil {
		t.Fatalf("transient scorer failure must surface for the queue")
	}

	got, err := svc.Process(ctx, ev)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.Duplicate {
		t.Fatalf("retry after a failed run classified as duplicate")
	}
	if !got.LeadFound || got.Score.Matched != 1 {
		t.Fatalf("retry result = %+v, want scored lead", got)
	}
	if scorer.calls != 2 {
		t.Fatalf("scorer calls = %d, want 2", scorer.calls)
	}
}

func TestProcess_UnknownLeadIsRecordedSkip(t *testing.T) {
	leads := &fakeLeads{findErr: apperr.NotFound("lead not found")}
	scorer := &fakeScorer{}
	svc := New(newTestDeduper(t, time.Hour), leads, scorer, &fakeAutomator{}, &captureBus{}, logger.New("test"))

	got, err := svc.Process(context.Background(), trackedEvent("evt-unknown", "page_view", nil))
	if err != nil {
		t.Fatalf("unknown lead must not surface an error, got %v", err)
	}
	if got.LeadFound || got.Duplicate {
		t.Fatalf("result = %+v, want plain skip", got)
	}
	if scorer.calls != 0 {
		t.Fatalf("scorer called for an unknown lead")
	}
}

func TestProcess_ValidationRejectsIncompleteEvents(t *testing.T) {
	svc := New(newTestDeduper(t, time.Hour), &fakeLeads{}, &fakeScorer{}, &fakeAutomator{}, &captureBus{}, logger.New("test"))

	ev := trackedEvent("evt-bad", "", nil)
	_, err := svc.Process(context.Background(), ev)
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("kind = %v, want validation", apperr.GetKind(err))
	}
}

func TestProcess_IntentCaptureKeepsMaxConfidence(t *testing.T) {
	leadID := uuid.New()
	leads := &fakeLeads{lead: leadsrepo.Lead{
		ID:            leadID,
		IntentSummary: map[string]float64{"buy": 0.9},
	}}
	bus := &captureBus{}
	auto := &fakeAutomator{}
	svc := New(newTestDeduper(t, time.Hour), leads, &fakeScorer{}, auto, bus, logger.New("test"))

	ctx := context.Background()
	_, err := svc.Process(ctx, trackedEvent("evt-rent", EventTypeIntentDetected,
		map[string]any{"intent": "rent", "confidence": 0.6}))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	_, err = svc.Process(ctx, trackedEvent("evt-buy-low", EventTypeIntentDetected,
		map[string]any{"intent": "buy", "confidence": 0.4}))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(leads.summaries) != 2 {
		t.Fatalf("summary updates = %d, want 2", len(leads.summaries))
	}
	final := leads.summaries[1]
	if final["buy"] != 0.9 || final["rent"] != 0.6 {
		t.Fatalf("final summary = %v, want buy 0.9 rent 0.6", final)
	}

	var detected []events.LeadIntentDetected
	for _, ev := range bus.published {
		if d, ok := ev.(events.LeadIntentDetected); ok {
			detected = append(detected, d)
		}
	}
	if len(detected) != 2 {
		t.Fatalf("intent events = %d, want 2", len(detected))
	}
	if detected[0].LeadID != leadID || detected[0].Intent != "rent" || detected[0].Confidence != 0.6 {
		t.Fatalf("first detection = %+v", detected[0])
	}
	if detected[1].Confidence != 0.4 {
		t.Fatalf("detection reports merged confidence, want the event's own: %+v", detected[1])
	}

	if len(auto.triggers) != 2 || auto.triggers[0].EventType != EventTypeIntentDetected {
		t.Fatalf("event trigger contexts = %+v", auto.triggers)
	}
}
