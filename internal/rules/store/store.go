// Package store holds the live rule snapshot shared by the scoring, routing
// and automation engines.
package store

import (
	"context"
	"sync/atomic"

	"leadscore_backend/internal/rules/domain"
	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/logger"
)

// Source fetches the raw rule set from storage. Implemented by the rules
// repository; tests supply fakes.
type Source interface {
	FetchScoringRules(ctx context.Context) ([]domain.ScoringRuleRecord, error)
	FetchAutomationRules(ctx context.Context) ([]domain.AutomationRuleRecord, error)
	FetchTierThresholds(ctx context.Context) (domain.TierThresholds, error)
	FetchRoutingConfig(ctx context.Context) (domain.RoutingConfig, error)
}

// Store holds the current rule snapshot. Load atomically replaces the
// snapshot; in-flight readers keep the snapshot they started with, so a
// reload never tears a running evaluation.
type Store struct {
	source  Source
	log     *logger.Logger
	version atomic.Int64
	current atomic.Pointer[domain.Snapshot]
}

// New creates a rule store. Call Load before serving traffic.
func New(source Source, log *logger.Logger) *Store {
	s := &Store{source: source, log: log}
	empty, _ := domain.BuildSnapshot(0, nil, nil, domain.DefaultTierThresholds(), domain.RoutingConfig{})
	s.current.Store(empty)
	return s
}

// Load fetches all rules and configuration and swaps in a fresh snapshot.
// Rules with malformed conditions are dropped and logged; they never make a
// load fail. Storage errors leave the previous snapshot in place.
func (s *Store) Load(ctx context.Context) error {
	scoring, err := s.source.FetchScoringRules(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "fetch scoring rules", err)
	}

	automation, err := s.source.FetchAutomationRules(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "fetch automation rules", err)
	}

	tiers, err := s.source.FetchTierThresholds(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "fetch tier thresholds", err)
	}

	routing, err := s.source.FetchRoutingConfig(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "fetch routing config", err)
	}

	snap, dropped := domain.BuildSnapshot(s.version.Add(1), scoring, automation, tiers, routing)
	for _, d := range dropped {
		s.log.RuleSkipped(d.Slug, d.Reason)
	}

	s.current.Store(snap)
	s.log.Info("rule snapshot loaded",
		"version", snap.Version,
		"scoring_rules", len(snap.ScoringRules()),
		"dropped", len(dropped),
	)
	return nil
}

// Snapshot returns the current immutable snapshot.
func (s *Store) Snapshot() *domain.Snapshot {
	return s.current.Load()
}
