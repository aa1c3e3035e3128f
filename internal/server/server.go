package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	_ "github.com/HerbHall/entitykit/docs" // registers the OpenAPI document
	"github.com/HerbHall/entitykit/internal/registry"
	"github.com/HerbHall/entitykit/internal/version"
	"github.com/HerbHall/entitykit/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// VersionHeader is set on core responses.
const VersionHeader = "X-Entitykit-Version"

// Options configures a Server. Zero values fall back to defaults.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// WriteGuard wraps every plugin route marked Write.
	WriteGuard Middleware
	// Middleware wraps the whole handler, outermost first.
	Middleware []Middleware
	// Gatherer serves /metrics when non-nil.
	Gatherer prometheus.Gatherer
}

// Server is the entityd HTTP server.
type Server struct {
	httpServer *http.Server
	registry   *registry.Registry
	logger     *zap.Logger
	mux        *http.ServeMux
	opts       Options
}

// New creates a Server and mounts core and plugin routes.
func New(reg *registry.Registry, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 15 * time.Second
	}

	mux := http.NewServeMux()
	s := &Server{
		registry: reg,
		logger:   logger,
		mux:      mux,
		opts:     opts,
	}

	s.registerCoreRoutes()
	s.mountPluginRoutes()

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           Chain(mux, opts.Middleware...),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// registerCoreRoutes sets up routes that are always available.
func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	s.mux.Handle("GET /swagger/", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	if s.opts.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
}

// mountPluginRoutes registers all plugin routes under /api/v1/{plugin}.
func (s *Server) mountPluginRoutes() {
	allRoutes := s.registry.AllRoutes()
	names := make([]string, 0, len(allRoutes))
	for name := range allRoutes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, pluginName := range names {
		for _, route := range allRoutes[pluginName] {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, pluginName, route.Path)
			var h http.Handler = route.Handler
			if route.Write && s.opts.WriteGuard != nil {
				h = s.opts.WriteGuard(h)
			}
			s.mux.Handle(pattern, h)
			s.logger.Debug("mounted route",
				zap.String("plugin", pluginName),
				zap.String("pattern", pattern),
				zap.Bool("write", route.Write),
			)
		}
	}
}

// Start begins serving HTTP requests on the configured address.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string                         `json:"status"`
	Service string                         `json:"service"`
	Version map[string]string              `json:"version"`
	Plugins map[string]plugin.HealthStatus `json:"plugins,omitempty"`
}

// handleHealth reports server and plugin health.
//
//	@Summary	Health check
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Failure	503	{object}	HealthResponse
//	@Router		/health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Service: "entitykit",
		Version: version.Map(),
		Plugins: make(map[string]plugin.HealthStatus),
	}
	code := http.StatusOK
	for _, p := range s.registry.Enabled() {
		hc, ok := p.(plugin.HealthChecker)
		if !ok {
			continue
		}
		status := hc.Health(r.Context())
		resp.Plugins[p.Info().Name] = status
		if status.Status == plugin.StatusUnhealthy {
			resp.Status = plugin.StatusUnhealthy
			code = http.StatusServiceUnavailable
		} else if status.Status == plugin.StatusDegraded && resp.Status == "ok" {
			resp.Status = plugin.StatusDegraded
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(VersionHeader, version.Short())
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// PluginResponse describes one registered plugin.
type PluginResponse struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Enabled     bool   `json:"enabled"`
}

// handlePlugins returns the list of registered plugins.
//
//	@Summary	List plugins
//	@Tags		system
//	@Produce	json
//	@Success	200	{array}	PluginResponse
//	@Router		/plugins [get]
func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	plugins := s.registry.All()
	info := make([]PluginResponse, 0, len(plugins))
	for _, p := range plugins {
		pi := p.Info()
		info = append(info, PluginResponse{
			Name:        pi.Name,
			Version:     pi.Version,
			Description: pi.Description,
			Required:    pi.Required,
			Enabled:     !s.registry.IsDisabled(pi.Name),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(VersionHeader, version.Short())
	_ = json.NewEncoder(w).Encode(info)
}
