package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"leadscore_backend/internal/rules/domain"
	rulestore "leadscore_backend/internal/rules/store"
	"leadscore_backend/platform/logger"

	"github.com/google/uuid"
)

type pendingRow struct {
	id     uuid.UUID
	ruleID uuid.UUID
	leadID uuid.UUID
	dealID *uuid.UUID
}

type completedRow struct {
	id      uuid.UUID
	success bool
	result  map[string]any
	errMsg  string
}

type fakeLogs struct {
	pending   []pendingRow
	completed []completedRow
	fired     bool
	existsErr error
}

func (l *fakeLogs) InsertPending(_ context.Context, ruleID, leadID uuid.UUID, dealID *uuid.UUID, _ map[string]any) (uuid.UUID, error) {
	row := pendingRow{id: uuid.New(), ruleID: ruleID, leadID: leadID, dealID: dealID}
	l.pending = append(l.pending, row)
	return row.id, nil
}

func (l *fakeLogs) Complete(_ context.Context, logID uuid.UUID, success bool, result map[string]any, errMsg string) error {
	l.completed = append(l.completed, completedRow{id: logID, success: success, result: result, errMsg: errMsg})
	return nil
}

func (l *fakeLogs) ExistsSince(context.Context, uuid.UUID, uuid.UUID, time.Time) (bool, error) {
	return l.fired, l.existsErr
}

type dispatchCall struct {
	logID uuid.UUID
	rule  domain.AutomationRule
}

type fakeDispatcher struct {
	failNames map[string]bool
	calls     []dispatchCall
}

func (d *fakeDispatcher) Dispatch(_ context.Context, logID uuid.UUID, rule domain.AutomationRule, _ TriggerContext) error {
	if d.failNames[rule.Name] {
		return errors.New("enqueue failed")
	}
	d.calls = append(d.calls, dispatchCall{logID: logID, rule: rule})
	return nil
}

type fakePatcher struct {
	leadID uuid.UUID
	fields map[string]any
	err    error
}

func (p *fakePatcher) PatchFields(_ context.Context, leadID uuid.UUID, fields map[string]any) error {
	if p.err != nil {
		return p.err
	}
	p.leadID = leadID
	p.fields = fields
	return nil
}

type ruleSource struct {
	rules []domain.AutomationRuleRecord
}

func (s *ruleSource) FetchScoringRules(context.Context) ([]domain.ScoringRuleRecord, error) {
	return nil, nil
}

func (s *ruleSource) FetchAutomationRules(context.Context) ([]domain.AutomationRuleRecord, error) {
	return s.rules, nil
}

func (s *ruleSource) FetchTierThresholds(context.Context) (domain.TierThresholds, error) {
	return domain.DefaultTierThresholds(), nil
}

func (s *ruleSource) FetchRoutingConfig(context.Context) (domain.RoutingConfig, error) {
	return domain.RoutingConfig{}, nil
}

func newTestEngine(t *testing.T, records []domain.AutomationRuleRecord, logs *fakeLogs, disp *fakeDispatcher, patcher *fakePatcher) *Engine {
	t.Helper()
	store := rulestore.New(&ruleSource{rules: records}, logger.New("test"))
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load rules: %v", err)
	}
	return NewEngine(store, logs, disp, patcher, logger.New("test"))
}

func autoRule(t *testing.T, name, trigger string, triggerCfg map[string]any, action string, actionCfg map[string]any) domain.AutomationRuleRecord {
	t.Helper()
	return domain.AutomationRuleRecord{
		ID:            uuid.New(),
		Name:          name,
		TriggerType:   trigger,
		TriggerConfig: mustJSON(t, triggerCfg),
		ActionType:    action,
		ActionConfig:  mustJSON(t, actionCfg),
		IsActive:      true,
	}
}

func TestOnTrigger_FailureDoesNotStopSiblingRules(t *testing.T) {
	flaky := autoRule(t, "flaky", "event", map[string]any{"event_type": "demo_requested"},
		"send_notification", map[string]any{"subject": "demo"})
	flaky.Priority = 1
	steady := autoRule(t, "steady", "event", map[string]any{"event_type": "demo_requested"},
		"create_task", map[string]any{"title": "follow up"})
	steady.Priority = 2

	logs := &fakeLogs{}
	disp := &fakeDispatcher{failNames: map[string]bool{"flaky": true}}
	engine := newTestEngine(t, []domain.AutomationRuleRecord{flaky, steady}, logs, disp, &fakePatcher{})

	got, err := engine.OnTrigger(context.Background(), domain.TriggerEvent, TriggerContext{
		LeadID:    uuid.New(),
		EventType: "demo_requested",
	})
	if err != nil {
		t.Fatalf("OnTrigger: %v", err)
	}
	if got.Matched != 2 || got.Succeeded != 1 || got.Failed != 1 {
		t.Fatalf("batch = %+v, want matched 2 succeeded 1 failed 1", got)
	}
	if len(logs.pending) != 2 {
		t.Fatalf("pending rows = %d, want 2", len(logs.pending))
	}
	if len(logs.completed) != 1 || logs.completed[0].success || logs.completed[0].errMsg == "" {
		t.Fatalf("failed dispatch not recorded: %+v", logs.completed)
	}
	if len(disp.calls) != 1 || disp.calls[0].rule.Name != "steady" {
		t.Fatalf("dispatched rules = %+v, want only steady", disp.calls)
	}
}

func TestOnTrigger_ScoreThresholdDirection(t *testing.T) {
	up := autoRule(t, "went hot", "score_threshold", map[string]any{"threshold": 70},
		"send_notification", map[string]any{"subject": "hot"})
	down := autoRule(t, "cooled off", "score_threshold", map[string]any{"threshold": 70, "direction": "down"},
		"create_task", map[string]any{"title": "re-engage"})
	records := []domain.AutomationRuleRecord{up, down}

	cases := []struct {
		name     string
		old, new int
		want     string
	}{
		{"crosses up", 60, 75, "went hot"},
		{"crosses down", 75, 65, "cooled off"},
		{"already above", 75, 80, ""},
		{"stays below", 10, 20, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			disp := &fakeDispatcher{}
			engine := newTestEngine(t, records, &fakeLogs{}, disp, &fakePatcher{})

			got, err := engine.OnTrigger(context.Background(), domain.TriggerScoreThreshold, TriggerContext{
				LeadID:   uuid.New(),
				OldScore: tc.old,
				NewScore: tc.new,
			})
			if err != nil {
				t.Fatalf("OnTrigger: %v", err)
			}
			if tc.want == "" {
				if got.Matched != 0 {
					t.Fatalf("matched %d rules, want none", got.Matched)
				}
				return
			}
			if len(disp.calls) != 1 || disp.calls[0].rule.Name != tc.want {
				t.Fatalf("dispatched %+v, want %q", disp.calls, tc.want)
			}
		})
	}
}

func TestOnTrigger_ScopeLimitsRuleToPipeline(t *testing.T) {
	scopedPipeline := uuid.New()
	rule := autoRule(t, "scoped", "event", map[string]any{},
		"send_notification", map[string]any{"subject": "x"})
	rule.PipelineID = &scopedPipeline

	disp := &fakeDispatcher{}
	engine := newTestEngine(t, []domain.AutomationRuleRecord{rule}, &fakeLogs{}, disp, &fakePatcher{})

	other := uuid.New()
	got, err := engine.OnTrigger(context.Background(), domain.TriggerEvent, TriggerContext{
		LeadID:     uuid.New(),
		PipelineID: &other,
		EventType:  "page_view",
	})
	if err != nil {
		t.Fatalf("OnTrigger: %v", err)
	}
	if got.Matched != 0 {
		t.Fatalf("out-of-scope trigger matched %d rules", got.Matched)
	}

	got, err = engine.OnTrigger(context.Background(), domain.TriggerEvent, TriggerContext{
		LeadID:     uuid.New(),
		PipelineID: &scopedPipeline,
		EventType:  "page_view",
	})
	if err != nil {
		t.Fatalf("OnTrigger: %v", err)
	}
	if got.Matched != 1 || len(disp.calls) != 1 {
		t.Fatalf("in-scope trigger matched %d, dispatched %d", got.Matched, len(disp.calls))
	}
}

func TestOnTrigger_TimeInStageFiresOncePerStay(t *testing.T) {
	rule := autoRule(t, "stale deal", "time_in_stage", map[string]any{"days": 3},
		"send_notification", map[string]any{"subject": "stuck"})

	dealID := uuid.New()
	entered := time.Now().UTC().Add(-96 * time.Hour)
	tctx := TriggerContext{
		LeadID:         uuid.New(),
		DealID:         &dealID,
		DaysInStage:    4,
		StageEnteredAt: &entered,
	}

	logs := &fakeLogs{fired: true}
	disp := &fakeDispatcher{}
	engine := newTestEngine(t, []domain.AutomationRuleRecord{rule}, logs, disp, &fakePatcher{})

	got, err := engine.OnTrigger(context.Background(), domain.TriggerTimeInStage, tctx)
	if err != nil {
		t.Fatalf("OnTrigger: %v", err)
	}
	if got.Matched != 0 || len(logs.pending) != 0 {
		t.Fatalf("already-fired rule ran again: %+v", got)
	}

	logs.fired = false
	got, err = engine.OnTrigger(context.Background(), domain.TriggerTimeInStage, tctx)
	if err != nil {
		t.Fatalf("OnTrigger: %v", err)
	}
	if got.Matched != 1 || got.Succeeded != 1 {
		t.Fatalf("first fire in stay = %+v, want one success", got)
	}
}

func TestOnTrigger_IntentConfidenceGate(t *testing.T) {
	rule := autoRule(t, "buyer intent", "intent_detected",
		map[string]any{"intent": "buy", "min_confidence": 0.7},
		"route_to_pipeline", map[string]any{})

	disp := &fakeDispatcher{}
	engine := newTestEngine(t, []domain.AutomationRuleRecord{rule}, &fakeLogs{}, disp, &fakePatcher{})

	got, err := engine.OnTrigger(context.Background(), domain.TriggerIntentDetected, TriggerContext{
		LeadID:           uuid.New(),
		Intent:           "buy",
		IntentConfidence: 0.5,
	})
	if err != nil {
		t.Fatalf("OnTrigger: %v", err)
	}
	if got.Matched != 0 {
		t.Fatalf("low-confidence intent matched: %+v", got)
	}

	got, err = engine.OnTrigger(context.Background(), domain.TriggerIntentDetected, TriggerContext{
		LeadID:           uuid.New(),
		Intent:           "BUY",
		IntentConfidence: 0.9,
	})
	if err != nil {
		t.Fatalf("OnTrigger: %v", err)
	}
	if got.Matched != 1 || got.Succeeded != 1 {
		t.Fatalf("confident intent = %+v, want one success", got)
	}
}

func TestOnTrigger_UpdateFieldRunsInline(t *testing.T) {
	rule := autoRule(t, "tag as sql", "event", map[string]any{"event_type": "demo_requested"},
		"update_field", map[string]any{"fields": map[string]any{"attributes.segment": "sql"}})

	logs := &fakeLogs{}
	disp := &fakeDispatcher{}
	patcher := &fakePatcher{}
	engine := newTestEngine(t, []domain.AutomationRuleRecord{rule}, logs, disp, patcher)

	leadID := uuid.New()
	got, err := engine.OnTrigger(context.Background(), domain.TriggerEvent, TriggerContext{
		LeadID:    leadID,
		EventType: "demo_requested",
	})
	if err != nil {
		t.Fatalf("OnTrigger: %v", err)
	}
	if got.Succeeded != 1 {
		t.Fatalf("batch = %+v, want one success", got)
	}
	if len(disp.calls) != 0 {
		t.Fatalf("update_field went through the dispatcher")
	}
	if patcher.leadID != leadID || patcher.fields["attributes.segment"] != "sql" {
		t.Fatalf("patch = lead %s fields %v", patcher.leadID, patcher.fields)
	}
	if len(logs.completed) != 1 || !logs.completed[0].success {
		t.Fatalf("inline action log = %+v, want one success row", logs.completed)
	}
}

func TestOnTrigger_UpdateFieldWithoutFieldsFails(t *testing.T) {
	rule := autoRule(t, "broken patch", "event", map[string]any{},
		"update_field", map[string]any{})

	logs := &fakeLogs{}
	engine := newTestEngine(t, []domain.AutomationRuleRecord{rule}, logs, &fakeDispatcher{}, &fakePatcher{})

	got, err := engine.OnTrigger(context.Background(), domain.TriggerEvent, TriggerContext{
		LeadID:    uuid.New(),
		EventType: "page_view",
	})
	if err != nil {
		t.Fatalf("OnTrigger: %v", err)
	}
	if got.Matched != 1 || got.Failed != 1 {
		t.Fatalf("batch = %+v, want one failure", got)
	}
	if len(logs.completed) != 1 || logs.completed[0].success {
		t.Fatalf("bad config log = %+v, want failed row", logs.completed)
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
