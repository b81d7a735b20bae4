package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Boundaries(t *testing.T) {
	tiers := DefaultTierThresholds()

	cases := []struct {
		score int
		want  Tier
	}{
		{-10, TierCold},
		{0, TierCold},
		{39, TierCold},
		{40, TierWarm},
		{69, TierWarm},
		{70, TierHot},
		{89, TierHot},
		{90, TierVeryHot},
		{500, TierVeryHot},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tiers.Classify(tc.score), "score %d", tc.score)
	}
}

func TestClassify_ClampNegativeTotal(t *testing.T) {
	tiers := TierThresholds{Warm: 0, Hot: 70, VeryHot: 90, ClampNegativeTotal: true}

	// Clamping lifts a negative total to zero before banding, which lands
	// it in warm because the warm threshold is zero here.
	assert.Equal(t, TierWarm, tiers.Classify(-5))

	tiers.ClampNegativeTotal = false
	assert.Equal(t, TierCold, tiers.Classify(-5))
}

func scoringRecord(slug string, priority int, createdAt time.Time) ScoringRuleRecord {
	return ScoringRuleRecord{
		ID:        uuid.New(),
		Slug:      slug,
		Name:      slug,
		RuleType:  "event",
		Category:  "behavior",
		EventType: "email_opened",
		Points:    5,
		Priority:  priority,
		IsActive:  true,
		CreatedAt: createdAt,
	}
}

func TestBuildSnapshot_OrderingAndDrops(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	records := []ScoringRuleRecord{
		scoringRecord("late", 20, base),
		scoringRecord("early-second", 10, base.Add(time.Minute)),
		scoringRecord("early-first", 10, base),
	}

	inactive := scoringRecord("inactive", 1, base)
	inactive.IsActive = false
	records = append(records, inactive)

	malformed := scoringRecord("bad-condition", 1, base)
	malformed.Conditions = json.RawMessage(`{"field":"x","operator":"nope","value":1}`)
	records = append(records, malformed)

	badType := scoringRecord("bad-type", 1, base)
	badType.RuleType = "mystery"
	records = append(records, badType)

	snap, dropped := BuildSnapshot(7, records, nil, DefaultTierThresholds(), RoutingConfig{})

	require.Len(t, dropped, 2)
	droppedSlugs := []string{dropped[0].Slug, dropped[1].Slug}
	assert.ElementsMatch(t, []string{"bad-condition", "bad-type"}, droppedSlugs)

	rules := snap.ScoringRules()
	require.Len(t, rules, 3)
	assert.Equal(t, "early-first", rules[0].Slug)
	assert.Equal(t, "early-second", rules[1].Slug)
	assert.Equal(t, "late", rules[2].Slug)
	assert.Equal(t, int64(7), snap.Version)
}

func TestBuildSnapshot_AutomationValidation(t *testing.T) {
	threshold := 70
	ok := AutomationRuleRecord{
		ID:            uuid.New(),
		Name:          "hot handoff",
		TriggerType:   "score_threshold",
		TriggerConfig: mustJSON(t, map[string]any{"threshold": threshold}),
		ActionType:    "send_notification",
		ActionConfig:  mustJSON(t, map[string]any{"subject": "hot lead"}),
		IsActive:      true,
	}

	missingThreshold := ok
	missingThreshold.Name = "no threshold"
	missingThreshold.TriggerConfig = json.RawMessage(`{}`)

	missingDays := ok
	missingDays.Name = "no days"
	missingDays.TriggerType = "time_in_stage"
	missingDays.TriggerConfig = json.RawMessage(`{}`)

	snap, dropped := BuildSnapshot(1, nil,
		[]AutomationRuleRecord{ok, missingThreshold, missingDays},
		DefaultTierThresholds(), RoutingConfig{})

	require.Len(t, dropped, 2)
	require.Len(t, snap.AutomationRules(TriggerScoreThreshold), 1)
	assert.Equal(t, "hot handoff", snap.AutomationRules(TriggerScoreThreshold)[0].Name)
	assert.Empty(t, snap.AutomationRules(TriggerTimeInStage))
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
