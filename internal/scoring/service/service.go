// Package service implements the scoring engine: event-driven score
// application over an append-only ledger, recalculation repair, and decay.
package service

import (
	"context"
	"time"

	"leadscore_backend/internal/events"
	"leadscore_backend/internal/rules/domain"
	rulestore "leadscore_backend/internal/rules/store"
	"leadscore_backend/internal/scoring/repository"
	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/logger"

	"github.com/google/uuid"
)

// Ledger is the transactional storage the engine runs on. Implemented by the
// scoring repository; tests supply an in-memory fake.
type Ledger interface {
	InLeadTx(ctx context.Context, leadID uuid.UUID, fn func(ops repository.Ops) error) error
	ListDueLeads(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

const dueLeadsBatch = 500

// Engine applies scoring rules to lead events. All writes for one lead run
// under that lead's advisory lock, so cap checks and total updates are
// serialized per lead while different leads proceed in parallel.
type Engine struct {
	ledger Ledger
	rules  *rulestore.Store
	bus    events.Bus
	log    *logger.Logger
	now    func() time.Time
}

func NewEngine(ledger Ledger, rules *rulestore.Store, bus events.Bus, log *logger.Logger) *Engine {
	return &Engine{ledger: ledger, rules: rules, bus: bus, log: log, now: time.Now}
}

// ApplyResult reports what one scoring operation did to a lead.
type ApplyResult struct {
	LeadID      uuid.UUID
	Totals      repository.Totals
	TotalBefore int
	Entries     []repository.Entry
	TierBefore  domain.Tier
	TierAfter   domain.Tier
	TierChanged bool
	Matched     int
	Skipped     int
}

// ApplyEvent evaluates every active scoring rule against the event and the
// lead's current state, appends ledger entries for matches, and refreshes
// the cached totals. Exactly one LeadScoreChanged is published per call that
// changed the total; TierChanged flags a tier boundary crossing.
func (e *Engine) ApplyEvent(ctx context.Context, leadID uuid.UUID, event events.TrackedEvent) (ApplyResult, error) {
	snap := e.rules.Snapshot()
	now := e.now()

	var result ApplyResult
	err := e.ledger.InLeadTx(ctx, leadID, func(ops repository.Ops) error {
		lead, err := ops.Lead(ctx)
		if err != nil {
			return err
		}

		totals := lead.Totals
		result = ApplyResult{
			LeadID:      leadID,
			TotalBefore: totals.Total,
			TierBefore:  snap.Tiers.Classify(totals.Total),
		}

		for _, rule := range snap.ScoringRules() {
			matched, err := evaluate(rule, event, lead, totals)
			if err != nil {
				// One broken rule never aborts the rest.
				result.Skipped++
				e.log.RuleSkipped(rule.Slug, err.Error())
				continue
			}
			if !matched {
				continue
			}

			capped, err := capReached(ctx, ops, rule, now)
			if err != nil {
				result.Skipped++
				e.log.RuleSkipped(rule.Slug, err.Error())
				continue
			}
			if capped {
				result.Skipped++
				e.log.RuleSkipped(rule.Slug, "cap reached")
				continue
			}

			entry := repository.Entry{
				ID:           uuid.New(),
				LeadID:       leadID,
				RuleID:       rule.ID,
				RuleSlug:     rule.Slug,
				PointsChange: rule.Points,
				Category:     string(rule.Category),
				CreatedAt:    now,
			}
			if rule.DecayDays > 0 {
				expires := now.AddDate(0, 0, rule.DecayDays)
				entry.ExpiresAt = &expires
			}
			if err := ops.Insert(ctx, entry); err != nil {
				return err
			}

			addPoints(&totals, rule.Category, rule.Points)
			result.Entries = append(result.Entries, entry)
			result.Matched++
		}

		result.TierAfter = snap.Tiers.Classify(totals.Total)
		result.TierChanged = result.TierAfter != result.TierBefore
		totals.Tier = string(result.TierAfter)
		result.Totals = totals

		return ops.UpdateTotals(ctx, totals)
	})
	if err != nil {
		return ApplyResult{}, err
	}

	e.publishScoreChange(ctx, result)
	return result, nil
}

// evaluate decides whether a rule matches this event for this lead. Event
// rules gate on event type and test event metadata; field rules test lead
// attributes; threshold rules test the running totals.
func evaluate(rule domain.ScoringRule, event events.TrackedEvent, lead repository.LeadState, totals repository.Totals) (bool, error) {
	var fields domain.Fields

	switch rule.RuleType {
	case domain.RuleTypeEvent:
		if rule.EventType != "" && rule.EventType != event.EventType {
			return false, nil
		}
		fields = domain.Fields(event.Metadata)
	case domain.RuleTypeField:
		fields = domain.Fields(lead.Attributes)
	case domain.RuleTypeThreshold:
		fields = domain.Fields{
			"total_score":       totals.Total,
			"demographic_score": totals.Demographic,
			"engagement_score":  totals.Engagement,
			"behavior_score":    totals.Behavior,
		}
	default:
		return false, apperr.Validation("unknown rule type: " + string(rule.RuleType))
	}

	if rule.Condition == nil {
		return true, nil
	}
	return rule.Condition.Matches(fields), nil
}

// capReached checks max_per_day (non-expired entries in the trailing 24h)
// and max_per_lead (lifetime entries, expired included) for this rule.
func capReached(ctx context.Context, ops repository.Ops, rule domain.ScoringRule, now time.Time) (bool, error) {
	if rule.MaxPerDay > 0 {
		n, err := ops.CountSince(ctx, rule.ID, now.Add(-24*time.Hour))
		if err != nil {
			return false, err
		}
		if n >= rule.MaxPerDay {
			return true, nil
		}
	}
	if rule.MaxPerLead > 0 {
		n, err := ops.CountAll(ctx, rule.ID)
		if err != nil {
			return false, err
		}
		if n >= rule.MaxPerLead {
			return true, nil
		}
	}
	return false, nil
}

// RecalcResult reports a recalculation, including whether the cached totals
// had drifted from the ledger.
type RecalcResult struct {
	LeadID uuid.UUID
	Before repository.Totals
	After  repository.Totals
	Drift  bool
}

// Recalculate rebuilds the cached totals from non-expired ledger entries.
// This is the authoritative repair path; it is only ever invoked explicitly,
// never from the event hot path. Drift between cache and ledger is reported,
// not treated as failure.
func (e *Engine) Recalculate(ctx context.Context, leadID uuid.UUID) (RecalcResult, error) {
	snap := e.rules.Snapshot()

	var result RecalcResult
	err := e.ledger.InLeadTx(ctx, leadID, func(ops repository.Ops) error {
		lead, err := ops.Lead(ctx)
		if err != nil {
			return err
		}

		entries, err := ops.ListActive(ctx, e.now())
		if err != nil {
			return err
		}

		var rebuilt repository.Totals
		for _, entry := range entries {
			addPoints(&rebuilt, domain.Category(entry.Category), entry.PointsChange)
		}
		rebuilt.Tier = string(snap.Tiers.Classify(rebuilt.Total))

		result = RecalcResult{
			LeadID: leadID,
			Before: lead.Totals,
			After:  rebuilt,
			Drift: rebuilt.Demographic != lead.Totals.Demographic ||
				rebuilt.Engagement != lead.Totals.Engagement ||
				rebuilt.Behavior != lead.Totals.Behavior ||
				rebuilt.Total != lead.Totals.Total,
		}

		return ops.UpdateTotals(ctx, rebuilt)
	})
	if err != nil {
		return RecalcResult{}, err
	}

	if result.Drift {
		e.log.Warn("score cache drift repaired",
			"lead_id", leadID,
			"cached_total", result.Before.Total,
			"ledger_total", result.After.Total,
		)
	}

	e.publishScoreChange(ctx, ApplyResult{
		LeadID:      leadID,
		Totals:      result.After,
		TotalBefore: result.Before.Total,
		TierBefore:  domain.Tier(result.Before.Tier),
		TierAfter:   domain.Tier(result.After.Tier),
		TierChanged: result.Before.Tier != result.After.Tier,
	})
	return result, nil
}

// ExpireDue flips ledger entries past their expiry and subtracts their
// points from the cached totals, one lead at a time under that lead's lock.
// Returns the number of entries expired.
func (e *Engine) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	leadIDs, err := e.ledger.ListDueLeads(ctx, now, dueLeadsBatch)
	if err != nil {
		return 0, err
	}

	snap := e.rules.Snapshot()
	expired := 0

	for _, leadID := range leadIDs {
		var result ApplyResult
		err := e.ledger.InLeadTx(ctx, leadID, func(ops repository.Ops) error {
			lead, err := ops.Lead(ctx)
			if err != nil {
				return err
			}

			flipped, err := ops.MarkExpiredDue(ctx, now)
			if err != nil {
				return err
			}
			if len(flipped) == 0 {
				return nil
			}

			totals := lead.Totals
			totalBefore := totals.Total
			tierBefore := snap.Tiers.Classify(totals.Total)
			for _, entry := range flipped {
				addPoints(&totals, domain.Category(entry.Category), -entry.PointsChange)
			}
			tierAfter := snap.Tiers.Classify(totals.Total)
			totals.Tier = string(tierAfter)

			expired += len(flipped)
			result = ApplyResult{
				LeadID:      leadID,
				Totals:      totals,
				TotalBefore: totalBefore,
				TierBefore:  tierBefore,
				TierAfter:   tierAfter,
				TierChanged: tierAfter != tierBefore,
				Matched:     len(flipped),
			}
			return ops.UpdateTotals(ctx, totals)
		})
		if err != nil {
			// Keep sweeping the remaining leads.
			e.log.Error("decay sweep failed for lead", "lead_id", leadID, "error", err)
			continue
		}
		e.publishScoreChange(ctx, result)
	}

	return expired, nil
}

// addPoints applies a signed delta to one category total and the sum.
// Totals are never clamped; negative values are meaningful.
func addPoints(t *repository.Totals, category domain.Category, points int) {
	switch category {
	case domain.CategoryDemographic:
		t.Demographic += points
	case domain.CategoryEngagement:
		t.Engagement += points
	case domain.CategoryBehavior:
		t.Behavior += points
	}
	t.Total += points
}

// publishScoreChange emits at most one LeadScoreChanged per operation.
func (e *Engine) publishScoreChange(ctx context.Context, result ApplyResult) {
	if result.TotalBefore == result.Totals.Total && !result.TierChanged {
		return
	}

	e.bus.Publish(ctx, events.LeadScoreChanged{
		BaseEvent:   events.NewBaseEvent(),
		LeadID:      result.LeadID,
		OldTotal:    result.TotalBefore,
		NewTotal:    result.Totals.Total,
		OldTier:     string(result.TierBefore),
		NewTier:     string(result.TierAfter),
		TierChanged: result.TierChanged,
	})
}
