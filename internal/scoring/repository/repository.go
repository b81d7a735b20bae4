// Package repository provides pgx-backed storage for the score ledger and
// the cached score totals on leads.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"time"

	"leadscore_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one append-only score ledger row. Expiry flips Expired instead of
// deleting, so Recalculate can always replay history.
type Entry struct {
	ID           uuid.UUID
	LeadID       uuid.UUID
	RuleID       uuid.UUID
	RuleSlug     string
	PointsChange int
	Category     string
	CreatedAt    time.Time
	ExpiresAt    *time.Time
	Expired      bool
}

// Totals are the cached per-category scores and their sum.
type Totals struct {
	Demographic int
	Engagement  int
	Behavior    int
	Total       int
	Tier        string
}

// LeadState is the slice of a lead the scoring engine evaluates against.
type LeadState struct {
	ID         uuid.UUID
	Attributes map[string]any
	Totals     Totals
}

// Ops is the set of ledger operations available inside a per-lead
// transaction. All methods run on the same pgx transaction, under the
// advisory lock taken by InLeadTx.
type Ops interface {
	Lead(ctx context.Context) (LeadState, error)
	CountSince(ctx context.Context, ruleID uuid.UUID, since time.Time) (int, error)
	CountAll(ctx context.Context, ruleID uuid.UUID) (int, error)
	Insert(ctx context.Context, e Entry) error
	ListActive(ctx context.Context, now time.Time) ([]Entry, error)
	MarkExpiredDue(ctx context.Context, now time.Time) ([]Entry, error)
	UpdateTotals(ctx context.Context, t Totals) error
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// leadLockKey derives the advisory lock key for a lead. FNV over the raw
// uuid bytes; collisions only cost extra serialization, never correctness.
func leadLockKey(leadID uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(leadID[:])
	return int64(h.Sum64())
}

// InLeadTx runs fn inside a transaction holding the per-lead advisory lock.
// Everything fn does through Ops is serialized against other writers of the
// same lead; the lock releases with the transaction.
func (r *Repository) InLeadTx(ctx context.Context, leadID uuid.UUID, fn func(ops Ops) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "begin scoring tx", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, leadLockKey(leadID)); err != nil {
		return apperr.Wrap(apperr.KindInternal, "acquire lead lock", err)
	}

	if err := fn(&txOps{tx: tx, leadID: leadID}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindInternal, "commit scoring tx", err)
	}
	return nil
}

// ListDueLeads returns leads that have unexpired ledger entries past their
// expiry time. The decay sweep walks these one lead at a time.
func (r *Repository) ListDueLeads(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT lead_id FROM score_history
		WHERE expired = false AND expires_at IS NOT NULL AND expires_at <= $1
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list due leads", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan due lead", err)
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list due leads", rows.Err())
	}
	return ids, nil
}

// History returns the full ledger for a lead, newest first. Management
// surface only; the engines read through Ops.
func (r *Repository) History(ctx context.Context, leadID uuid.UUID) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, rule_id, rule_slug, points_change, category,
			created_at, expires_at, expired
		FROM score_history
		WHERE lead_id = $1
		ORDER BY created_at DESC
	`, leadID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list score history", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

type txOps struct {
	tx     pgx.Tx
	leadID uuid.UUID
}

func (o *txOps) Lead(ctx context.Context) (LeadState, error) {
	var (
		state      LeadState
		attributes []byte
	)
	err := o.tx.QueryRow(ctx, `
		SELECT id, attributes, demographic_score, engagement_score,
			behavior_score, total_score, tier
		FROM leads WHERE id = $1
	`, o.leadID).Scan(
		&state.ID, &attributes,
		&state.Totals.Demographic, &state.Totals.Engagement,
		&state.Totals.Behavior, &state.Totals.Total, &state.Totals.Tier,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadState{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return LeadState{}, apperr.Wrap(apperr.KindInternal, "load lead for scoring", err)
	}
	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &state.Attributes); err != nil {
			return LeadState{}, apperr.Wrap(apperr.KindInternal, "decode lead attributes", err)
		}
	}
	return state, nil
}

func (o *txOps) CountSince(ctx context.Context, ruleID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := o.tx.QueryRow(ctx, `
		SELECT count(*) FROM score_history
		WHERE lead_id = $1 AND rule_id = $2 AND expired = false AND created_at >= $3
	`, o.leadID, ruleID, since).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "count recent rule entries", err)
	}
	return n, nil
}

func (o *txOps) CountAll(ctx context.Context, ruleID uuid.UUID) (int, error) {
	var n int
	err := o.tx.QueryRow(ctx, `
		SELECT count(*) FROM score_history
		WHERE lead_id = $1 AND rule_id = $2
	`, o.leadID, ruleID).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "count rule entries", err)
	}
	return n, nil
}

func (o *txOps) Insert(ctx context.Context, e Entry) error {
	_, err := o.tx.Exec(ctx, `
		INSERT INTO score_history
			(id, lead_id, rule_id, rule_slug, points_change, category,
			created_at, expires_at, expired)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
	`, e.ID, e.LeadID, e.RuleID, e.RuleSlug, e.PointsChange, e.Category,
		e.CreatedAt, e.ExpiresAt)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "insert score entry", err)
	}
	return nil
}

// ListActive returns the entries still contributing to the score. Entries
// whose expires_at has passed are excluded even when the hourly sweep has
// not flipped their expired flag yet.
func (o *txOps) ListActive(ctx context.Context, now time.Time) ([]Entry, error) {
	rows, err := o.tx.Query(ctx, `
		SELECT id, lead_id, rule_id, rule_slug, points_change, category,
			created_at, expires_at, expired
		FROM score_history
		WHERE lead_id = $1 AND expired = false
			AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at ASC
	`, o.leadID, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list active entries", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (o *txOps) MarkExpiredDue(ctx context.Context, now time.Time) ([]Entry, error) {
	rows, err := o.tx.Query(ctx, `
		UPDATE score_history
		SET expired = true
		WHERE lead_id = $1 AND expired = false
			AND expires_at IS NOT NULL AND expires_at <= $2
		RETURNING id, lead_id, rule_id, rule_slug, points_change, category,
			created_at, expires_at, expired
	`, o.leadID, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "expire score entries", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (o *txOps) UpdateTotals(ctx context.Context, t Totals) error {
	tag, err := o.tx.Exec(ctx, `
		UPDATE leads
		SET demographic_score = $2, engagement_score = $3, behavior_score = $4,
			total_score = $5, tier = $6, updated_at = now()
		WHERE id = $1
	`, o.leadID, t.Demographic, t.Engagement, t.Behavior, t.Total, t.Tier)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "update score totals", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lead not found")
	}
	return nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.LeadID, &e.RuleID, &e.RuleSlug,
			&e.PointsChange, &e.Category, &e.CreatedAt, &e.ExpiresAt, &e.Expired); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan score entry", err)
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "iterate score entries", rows.Err())
	}
	return entries, nil
}
