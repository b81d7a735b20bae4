package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadscore_backend/internal/rules/domain"
	"leadscore_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeSource struct {
	scoring    []domain.ScoringRuleRecord
	automation []domain.AutomationRuleRecord
	tiers      domain.TierThresholds
	routing    domain.RoutingConfig
	err        error
}

func (f *fakeSource) FetchScoringRules(context.Context) ([]domain.ScoringRuleRecord, error) {
	return f.scoring, f.err
}

func (f *fakeSource) FetchAutomationRules(context.Context) ([]domain.AutomationRuleRecord, error) {
	return f.automation, nil
}

func (f *fakeSource) FetchTierThresholds(context.Context) (domain.TierThresholds, error) {
	return f.tiers, nil
}

func (f *fakeSource) FetchRoutingConfig(context.Context) (domain.RoutingConfig, error) {
	return f.routing, nil
}

func activeRule(slug string) domain.ScoringRuleRecord {
	return domain.ScoringRuleRecord{
		ID:        uuid.New(),
		Slug:      slug,
		Name:      slug,
		RuleType:  "event",
		Category:  "engagement",
		EventType: "form_submitted",
		Points:    10,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
}

func TestStore_EmptyBeforeLoad(t *testing.T) {
	s := New(&fakeSource{tiers: domain.DefaultTierThresholds()}, logger.New("test"))

	snap := s.Snapshot()
	if snap == nil {
		t.Fatal("expected seeded empty snapshot")
	}
	if len(snap.ScoringRules()) != 0 {
		t.Fatalf("expected no rules before load, got %d", len(snap.ScoringRules()))
	}
	if snap.Tiers.Warm != 40 {
		t.Fatalf("expected default tier thresholds, got warm=%d", snap.Tiers.Warm)
	}
}

func TestStore_ReloadSwapsSnapshot(t *testing.T) {
	src := &fakeSource{
		scoring: []domain.ScoringRuleRecord{activeRule("first")},
		tiers:   domain.DefaultTierThresholds(),
	}
	s := New(src, logger.New("test"))

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	before := s.Snapshot()
	if len(before.ScoringRules()) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(before.ScoringRules()))
	}

	src.scoring = append(src.scoring, activeRule("second"))
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	after := s.Snapshot()
	if len(after.ScoringRules()) != 2 {
		t.Fatalf("expected 2 rules after reload, got %d", len(after.ScoringRules()))
	}
	if after.Version <= before.Version {
		t.Fatalf("expected version to advance, got %d -> %d", before.Version, after.Version)
	}

	// The snapshot held before the reload is untouched.
	if len(before.ScoringRules()) != 1 {
		t.Fatal("reload must not mutate a held snapshot")
	}
}

func TestStore_LoadFailureKeepsPrevious(t *testing.T) {
	src := &fakeSource{
		scoring: []domain.ScoringRuleRecord{activeRule("kept")},
		tiers:   domain.DefaultTierThresholds(),
	}
	s := New(src, logger.New("test"))

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	src.err = errors.New("db down")
	if err := s.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}

	if len(s.Snapshot().ScoringRules()) != 1 {
		t.Fatal("failed load must keep the previous snapshot")
	}
}
