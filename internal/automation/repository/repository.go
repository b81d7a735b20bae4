// Package repository provides pgx-backed storage for automation execution
// logs. Log rows are write-once audit records: a pending row is inserted
// before dispatch and only its outcome columns are updated on completion.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"leadscore_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Log is one automation execution record.
type Log struct {
	ID           uuid.UUID
	RuleID       uuid.UUID
	LeadID       uuid.UUID
	DealID       *uuid.UUID
	TriggerData  map[string]any
	ActionResult map[string]any
	Success      *bool
	ErrorMessage *string
	ExecutedAt   time.Time
	CompletedAt  *time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertPending records that a rule fired, before its action runs. The
// trigger data is snapshotted here so the audit survives later lead changes.
func (r *Repository) InsertPending(ctx context.Context, ruleID, leadID uuid.UUID, dealID *uuid.UUID, triggerData map[string]any) (uuid.UUID, error) {
	payload, err := json.Marshal(triggerData)
	if err != nil {
		return uuid.Nil, apperr.Wrap(apperr.KindInternal, "encode trigger data", err)
	}

	logID := uuid.New()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO automation_logs (id, rule_id, lead_id, deal_id, trigger_data, executed_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, logID, ruleID, leadID, dealID, payload)
	if err != nil {
		return uuid.Nil, apperr.Wrap(apperr.KindInternal, "insert automation log", err)
	}
	return logID, nil
}

// Complete fills in the outcome of a pending log row.
func (r *Repository) Complete(ctx context.Context, logID uuid.UUID, success bool, result map[string]any, errMsg string) error {
	var payload []byte
	if result != nil {
		var err error
		payload, err = json.Marshal(result)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "encode action result", err)
		}
	}

	var errText *string
	if errMsg != "" {
		errText = &errMsg
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE automation_logs
		SET success = $2, action_result = $3, error_message = $4, completed_at = now()
		WHERE id = $1
	`, logID, success, payload, errText)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "complete automation log", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("automation log not found")
	}
	return nil
}

// ExistsSince reports whether the rule already fired for the deal at or
// after the given time. The time_in_stage sweep uses this so a rule fires
// once per stage visit, not once per sweep.
func (r *Repository) ExistsSince(ctx context.Context, ruleID, dealID uuid.UUID, since time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM automation_logs
			WHERE rule_id = $1 AND deal_id = $2 AND executed_at >= $3
		)
	`, ruleID, dealID, since).Scan(&exists)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "check automation log", err)
	}
	return exists, nil
}

// ListByLead returns a lead's automation history, newest first.
func (r *Repository) ListByLead(ctx context.Context, leadID uuid.UUID, limit int) ([]Log, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, rule_id, lead_id, deal_id, trigger_data, action_result,
			success, error_message, executed_at, completed_at
		FROM automation_logs
		WHERE lead_id = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`, leadID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list automation logs", err)
	}
	defer rows.Close()

	logs := make([]Log, 0)
	for rows.Next() {
		var (
			l       Log
			trigger []byte
			result  []byte
		)
		if err := rows.Scan(&l.ID, &l.RuleID, &l.LeadID, &l.DealID, &trigger,
			&result, &l.Success, &l.ErrorMessage, &l.ExecutedAt, &l.CompletedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan automation log", err)
		}
		if len(trigger) > 0 {
			if err := json.Unmarshal(trigger, &l.TriggerData); err != nil {
				return nil, apperr.Wrap(apperr.KindInternal, "decode trigger data", err)
			}
		}
		if len(result) > 0 {
			if err := json.Unmarshal(result, &l.ActionResult); err != nil {
				return nil, apperr.Wrap(apperr.KindInternal, "decode action result", err)
			}
		}
		logs = append(logs, l)
	}
	if rows.Err() != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list automation logs", rows.Err())
	}
	return logs, nil
}
