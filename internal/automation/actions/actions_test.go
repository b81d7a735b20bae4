package actions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadscore_backend/internal/automation/service"
	routingrepo "leadscore_backend/internal/routing/repository"
	"leadscore_backend/internal/rules/domain"
	rulestore "leadscore_backend/internal/rules/store"
	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/logger"
)

type fakeDirectory struct {
	owners   []routingrepo.Owner
	recorded []uuid.UUID
	listed   int
}

func (d *fakeDirectory) EligibleOwners(context.Context) ([]routingrepo.Owner, error) {
	d.listed++
	return d.owners, nil
}

func (d *fakeDirectory) RecordAssignment(_ context.Context, ownerID uuid.UUID) error {
	d.recorded = append(d.recorded, ownerID)
	return nil
}

type fakeLeadAssigner struct {
	leadID  uuid.UUID
	ownerID uuid.UUID
	calls   int
}

func (a *fakeLeadAssigner) AssignOwner(_ context.Context, leadID, ownerID uuid.UUID) error {
	a.calls++
	a.leadID = leadID
	a.ownerID = ownerID
	return nil
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

func ownerRuleStore(t *testing.T, strategy domain.OwnerStrategy) *rulestore.Store {
	t.Helper()
	store := rulestore.New(&routingSource{cfg: domain.RoutingConfig{OwnerAssignment: strategy}}, logger.New("test"))
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load rules: %v", err)
	}
	return store
}

func TestOwnerAssigner_PicksByConfiguredStrategy(t *testing.T) {
	recent := time.Now().Add(-5 * time.Minute)
	idle := uuid.New()
	recentID := uuid.New()
	owners := []routingrepo.Owner{
		// never assigned but carrying the heavier book
		{ID: idle, CurrentLeads: 5, MaxLeads: 10},
		// just assigned, lighter book
		{ID: recentID, CurrentLeads: 1, MaxLeads: 10, LastAssignedAt: &recent},
	}

	cases := []struct {
		name     string
		strategy domain.OwnerStrategy
		want     uuid.UUID
	}{
		{"round robin favors never assigned", domain.OwnerRoundRobin, idle},
		{"least loaded favors smallest book", domain.OwnerLeastLoaded, recentID},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := &fakeDirectory{owners: owners}
			leads := &fakeLeadAssigner{}
			assigner := NewOwnerAssigner(leads, dir, ownerRuleStore(t, tc.strategy))

			leadID := uuid.New()
			out, err := assigner.Execute(context.Background(), nil, service.TriggerContext{LeadID: leadID})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if leads.ownerID != tc.want {
				t.Fatalf("assigned owner = %s, want %s", leads.ownerID, tc.want)
			}
			if leads.leadID != leadID {
				t.Fatalf("assigned lead = %s, want %s", leads.leadID, leadID)
			}
			if len(dir.recorded) != 1 || dir.recorded[0] != tc.want {
				t.Fatalf("recorded assignments = %v, want [%s]", dir.recorded, tc.want)
			}
			if out["owner_id"] != tc.want.String() {
				t.Fatalf("output owner_id = %v, want %s", out["owner_id"], tc.want)
			}
		})
	}
}

func TestOwnerAssigner_ExplicitOwnerSkipsSelection(t *testing.T) {
	dir := &fakeDirectory{owners: []routingrepo.Owner{{ID: uuid.New()}}}
	leads := &fakeLeadAssigner{}
	assigner := NewOwnerAssigner(leads, dir, ownerRuleStore(t, domain.OwnerRoundRobin))

	want := uuid.New()
	cfg := map[string]any{"owner_id": want.String()}
	if _, err := assigner.Execute(context.Background(), cfg, service.TriggerContext{LeadID: uuid.New()}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if leads.ownerID != want {
		t.Fatalf("assigned owner = %s, want configured %s", leads.ownerID, want)
	}
	if dir.listed != 0 {
		t.Fatalf("eligible owner lookup ran %d times with an explicit owner", dir.listed)
	}
}

func TestOwnerAssigner_NoCandidatesConflicts(t *testing.T) {
	assigner := NewOwnerAssigner(&fakeLeadAssigner{}, &fakeDirectory{}, ownerRuleStore(t, domain.OwnerLeastLoaded))

	_, err := assigner.Execute(context.Background(), nil, service.TriggerContext{LeadID: uuid.New()})
	if apperr.GetKind(err) != apperr.KindConflict {
		t.Fatalf("err = %v, want conflict", err)
	}
}
