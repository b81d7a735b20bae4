// Package rules provides the rule management bounded context module.
// This file defines the module that encapsulates rule setup and route
// registration; the live snapshot itself lives in rules/store.
package rules

import (
	"context"

	apphttp "leadscore_backend/internal/http"
	"leadscore_backend/internal/rules/handler"
	"leadscore_backend/internal/rules/repository"
	"leadscore_backend/internal/rules/service"
	rulestore "leadscore_backend/internal/rules/store"
	"leadscore_backend/platform/logger"
	"leadscore_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check that the repository can feed the rule store.
var _ rulestore.Source = (*repository.Repository)(nil)

// Module is the rules bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	store   *rulestore.Store
}

// NewModule creates and initializes the rules module. The returned store
// already holds a snapshot loaded from the database.
func NewModule(ctx context.Context, pool *pgxpool.Pool, val *validator.Validator, log *logger.Logger) (*Module, error) {
	repo := repository.New(pool)

	store := rulestore.New(repo, log)
	if err := store.Load(ctx); err != nil {
		return nil, err
	}

	svc := service.New(repo, store, log)
	h := handler.New(svc, val)

	return &Module{handler: h, store: store}, nil
}

// Name returns the module name for logging and diagnostics.
func (m *Module) Name() string { return "rules" }

// RegisterRoutes mounts the rule management endpoints.
func (m *Module) RegisterRoutes(rc *apphttp.RouterContext) {
	m.handler.RegisterRoutes(rc.API)
}

// Store exposes the live rule store so the scoring, routing and automation
// engines can share the same snapshot.
func (m *Module) Store() *rulestore.Store {
	return m.store
}

var _ apphttp.Module = (*Module)(nil)
