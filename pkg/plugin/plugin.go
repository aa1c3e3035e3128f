// Package plugin defines the contracts between the entitykit server core and
// its modules: lifecycle, HTTP routes, events, storage and configuration.
package plugin

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// API versions understood by the registry.
const (
	APIVersionMin     = 1
	APIVersionCurrent = 1
)

// PluginInfo describes a plugin to the registry.
type PluginInfo struct {
	Name         string
	Version      string
	Description  string
	Dependencies []string // Names of plugins that must initialize first.
	Required     bool     // A required plugin failing aborts startup.
	APIVersion   int
}

// Dependencies are handed to a plugin during Init.
type Dependencies struct {
	Config  Config
	Logger  *zap.Logger
	Bus     EventBus
	Metrics prometheus.Registerer
}

// Plugin is implemented by every server module.
type Plugin interface {
	Info() PluginInfo
	Init(ctx context.Context, deps Dependencies) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Route is an HTTP route exposed by a plugin, mounted under /api/v1/{name}.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
	// Write marks routes that change state; the auth layer requires a
	// write capability for them.
	Write bool
}

// Optional capabilities. The registry and server detect these on a plugin
// with type assertions.
type (
	// HTTPProvider contributes routes.
	HTTPProvider interface {
		Routes() []Route
	}

	// HealthChecker reports into GET /api/v1/health.
	HealthChecker interface {
		Health(ctx context.Context) HealthStatus
	}

	// Validator checks configuration after Init.
	Validator interface {
		ValidateConfig() error
	}
)

// HealthStatus values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus is a plugin's report of its own state.
type HealthStatus struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}
