// Package repository provides pgx-backed storage for follow-up tasks created
// by automation rules.
package repository

import (
	"context"
	"time"

	"leadscore_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Task is a follow-up item attached to a lead.
type Task struct {
	ID          uuid.UUID
	LeadID      uuid.UUID
	DealID      *uuid.UUID
	Title       string
	Description string
	DueAt       *time.Time
	AssignedTo  *uuid.UUID
	Status      string
	CreatedAt   time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, t Task) (Task, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = "open"
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, lead_id, deal_id, title, description, due_at, assigned_to, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, t.ID, t.LeadID, t.DealID, t.Title, t.Description, t.DueAt, t.AssignedTo, t.Status).
		Scan(&t.CreatedAt)
	if err != nil {
		return Task{}, apperr.Wrap(apperr.KindInternal, "create task", err)
	}
	return t, nil
}
