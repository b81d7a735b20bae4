// Package repository provides pgx-backed storage for in-app notifications.
package repository

import (
	"context"
	"time"

	"leadscore_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Notification is an in-app notification row.
type Notification struct {
	ID          uuid.UUID
	LeadID      uuid.UUID
	RecipientID *uuid.UUID
	Subject     string
	Body        string
	Channel     string
	CreatedAt   time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, n Notification) (Notification, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (id, lead_id, recipient_id, subject, body, channel)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, n.ID, n.LeadID, n.RecipientID, n.Subject, n.Body, n.Channel).Scan(&n.CreatedAt)
	if err != nil {
		return Notification{}, apperr.Wrap(apperr.KindInternal, "create notification", err)
	}
	return n, nil
}

// RecipientEmail resolves a team member's email address.
func (r *Repository) RecipientEmail(ctx context.Context, memberID uuid.UUID) (string, error) {
	var email string
	err := r.pool.QueryRow(ctx,
		`SELECT email FROM team_members WHERE id = $1`, memberID).Scan(&email)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "resolve recipient email", err)
	}
	return email, nil
}
