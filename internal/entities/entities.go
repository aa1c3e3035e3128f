// Package entities implements the entity resource: validation, the name
// uniqueness rules, the paginated list, and the REST handlers that expose
// them as a plugin.
package entities

import (
	"context"
	"fmt"
	"time"

	"github.com/HerbHall/entitykit/internal/services"
	"github.com/HerbHall/entitykit/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Module is the entities plugin.
type Module struct {
	repo    services.EntityRepository
	logger  *zap.Logger
	svc     *Service
	handler *Handler
}

// New creates the plugin around repo. The repository is built by the caller
// because it depends on the configured database driver.
func New(repo services.EntityRepository) *Module {
	return &Module{repo: repo}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "entities",
		Version:     "1.0.0",
		Description: "Paginated, searchable entities with unique names",
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	if m.repo == nil {
		return fmt.Errorf("entities: nil repository")
	}
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	metrics, err := NewMetrics(deps.Metrics)
	if err != nil {
		return fmt.Errorf("entities metrics: %w", err)
	}

	m.svc = NewService(m.repo, deps.Bus, metrics, m.logger)
	m.handler = NewHandler(m.svc, m.logger)
	m.logger.Info("entities module initialized")
	return nil
}

func (m *Module) Start(_ context.Context) error { return nil }

func (m *Module) Stop(_ context.Context) error { return nil }

// Service returns the initialized service for in-process callers such as
// the seed command. It is nil before Init.
func (m *Module) Service() *Service { return m.svc }

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	if m.handler == nil {
		return nil
	}
	return m.handler.Routes()
}

// Health reports whether the repository answers a count query.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	n, err := m.repo.Count(ctx, services.EntityFilter{})
	if err != nil {
		return plugin.HealthStatus{Status: plugin.StatusUnhealthy, Message: err.Error()}
	}
	return plugin.HealthStatus{
		Status:  plugin.StatusHealthy,
		Details: map[string]string{"entities": fmt.Sprint(n)},
	}
}
