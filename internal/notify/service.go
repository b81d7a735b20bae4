// Package notify delivers send_notification actions: always an in-app row,
// plus SMTP email when configured and a recipient is known.
package notify

import (
	"context"

	"leadscore_backend/internal/notify/repository"
	"leadscore_backend/platform/apperr"
	"leadscore_backend/platform/logger"

	"github.com/google/uuid"
)

// EmailSender is the outbound email dependency. Nil disables email delivery.
type EmailSender interface {
	Send(ctx context.Context, toEmail, subject, body string) error
}

// Notification is a delivery request from an automation action.
type Notification struct {
	LeadID      uuid.UUID
	RecipientID *uuid.UUID
	Subject     string
	Body        string
}

type Service struct {
	repo  *repository.Repository
	email EmailSender
	log   *logger.Logger
}

func New(repo *repository.Repository, email EmailSender, log *logger.Logger) *Service {
	return &Service{repo: repo, email: email, log: log}
}

// Notify records the notification and, when email is configured and the
// recipient resolves, sends it by SMTP. A failed email delivery fails the
// action so the queue can retry it; the in-app row is never rolled back.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	channel := "in_app"
	if s.email != nil && n.RecipientID != nil {
		channel = "in_app+email"
	}

	if _, err := s.repo.Create(ctx, repository.Notification{
		LeadID:      n.LeadID,
		RecipientID: n.RecipientID,
		Subject:     n.Subject,
		Body:        n.Body,
		Channel:     channel,
	}); err != nil {
		return err
	}

	if s.email == nil || n.RecipientID == nil {
		return nil
	}

	email, err := s.repo.RecipientEmail(ctx, *n.RecipientID)
	if err != nil {
		return err
	}
	if err := s.email.Send(ctx, email, n.Subject, n.Body); err != nil {
		return apperr.Wrap(apperr.KindExternal, "send notification email", err)
	}
	return nil
}
