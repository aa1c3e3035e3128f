// Package registry orders, initializes and runs server plugins.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/HerbHall/entitykit/pkg/plugin"
	"go.uber.org/zap"
)

// Registry manages the lifecycle of all registered plugins.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]plugin.Plugin
	order    []string // registration order until Validate, then dependency order
	disabled map[string]string
	started  []string
	logger   *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		plugins:  make(map[string]plugin.Plugin),
		disabled: make(map[string]string),
		logger:   logger,
	}
}

// Register adds a plugin. Names must be unique and non-empty.
func (r *Registry) Register(p plugin.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := p.Info()
	if info.Name == "" {
		return fmt.Errorf("plugin has empty name")
	}
	if _, exists := r.plugins[info.Name]; exists {
		return fmt.Errorf("plugin %q already registered", info.Name)
	}

	r.plugins[info.Name] = p
	r.order = append(r.order, info.Name)
	r.logger.Debug("plugin registered", zap.String("name", info.Name), zap.String("version", info.Version))
	return nil
}

// Validate checks API versions and dependencies, then sorts plugins so every
// plugin follows the plugins it depends on. Optional plugins with unmet
// requirements are disabled along with everything that depends on them;
// required plugins with unmet requirements fail validation.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		info := r.plugins[name].Info()
		if info.APIVersion < plugin.APIVersionMin || info.APIVersion > plugin.APIVersionCurrent {
			reason := fmt.Sprintf("API version %d outside supported range [%d, %d]",
				info.APIVersion, plugin.APIVersionMin, plugin.APIVersionCurrent)
			if err := r.disableLocked(name, reason); err != nil {
				return err
			}
			continue
		}
		for _, dep := range info.Dependencies {
			if _, ok := r.plugins[dep]; !ok {
				if err := r.disableLocked(name, fmt.Sprintf("missing dependency %q", dep)); err != nil {
					return err
				}
				break
			}
		}
	}

	sorted, err := r.topoSortLocked()
	if err != nil {
		return err
	}
	r.order = sorted

	// Dependency order guarantees a disabled plugin is seen before its
	// dependents.
	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		for _, dep := range r.plugins[name].Info().Dependencies {
			if _, off := r.disabled[dep]; off {
				if err := r.disableLocked(name, fmt.Sprintf("dependency %q disabled", dep)); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}

// topoSortLocked orders plugins with Kahn's algorithm. Ties keep
// registration order so startup is deterministic.
func (r *Registry) topoSortLocked() ([]string, error) {
	pos := make(map[string]int, len(r.order))
	for i, name := range r.order {
		pos[name] = i
	}

	indegree := make(map[string]int, len(r.order))
	dependents := make(map[string][]string)
	for _, name := range r.order {
		for _, dep := range r.plugins[name].Info().Dependencies {
			if _, ok := r.plugins[dep]; !ok {
				continue
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for _, name := range r.order {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	sorted := make([]string, 0, len(r.order))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return pos[ready[i]] < pos[ready[j]] })
		name := ready[0]
		ready = ready[1:]
		sorted = append(sorted, name)
		for _, d := range dependents[name] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(sorted) != len(r.order) {
		var cycle []string
		for _, name := range r.order {
			if indegree[name] > 0 {
				cycle = append(cycle, name)
			}
		}
		return nil, fmt.Errorf("plugin dependency cycle among %v", cycle)
	}
	return sorted, nil
}

func (r *Registry) disableLocked(name, reason string) error {
	if r.plugins[name].Info().Required {
		return fmt.Errorf("required plugin %q: %s", name, reason)
	}
	r.disabled[name] = reason
	r.logger.Warn("plugin disabled", zap.String("name", name), zap.String("reason", reason))
	return nil
}

// IsDisabled reports whether a plugin was disabled by validation, config or
// a failed Init.
func (r *Registry) IsDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, off := r.disabled[name]
	return off
}

// InitAll initializes enabled plugins in dependency order. depsFn builds the
// dependencies for each plugin. A plugin whose config sets enabled=false is
// skipped unless it is required.
func (r *Registry) InitAll(ctx context.Context, depsFn func(name string) plugin.Dependencies) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		p := r.plugins[name]
		info := p.Info()

		if r.dependencyDisabledLocked(info) {
			if err := r.disableLocked(name, "dependency disabled during init"); err != nil {
				return err
			}
			continue
		}

		deps := depsFn(name)
		if deps.Config != nil && deps.Config.IsSet("enabled") && !deps.Config.GetBool("enabled") {
			if info.Required {
				r.logger.Warn("required plugin cannot be disabled", zap.String("name", name))
			} else {
				r.disabled[name] = "disabled by configuration"
				r.logger.Info("plugin disabled by configuration", zap.String("name", name))
				continue
			}
		}

		r.logger.Debug("initializing plugin", zap.String("name", name))
		if err := p.Init(ctx, deps); err != nil {
			if info.Required {
				return fmt.Errorf("init required plugin %q: %w", name, err)
			}
			r.disabled[name] = "init failed: " + err.Error()
			r.logger.Warn("optional plugin failed to initialize", zap.String("name", name), zap.Error(err))
			continue
		}

		if v, ok := p.(plugin.Validator); ok {
			if err := v.ValidateConfig(); err != nil {
				if info.Required {
					return fmt.Errorf("validate required plugin %q: %w", name, err)
				}
				r.disabled[name] = "invalid config: " + err.Error()
				r.logger.Warn("optional plugin config invalid", zap.String("name", name), zap.Error(err))
			}
		}
	}
	return nil
}

func (r *Registry) dependencyDisabledLocked(info plugin.PluginInfo) bool {
	for _, dep := range info.Dependencies {
		if _, off := r.disabled[dep]; off {
			return true
		}
	}
	return false
}

// StartAll starts enabled plugins in dependency order. On failure the
// plugins already started are stopped again.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		if err := r.plugins[name].Start(ctx); err != nil {
			r.stopLocked(ctx)
			return fmt.Errorf("start plugin %q: %w", name, err)
		}
		r.started = append(r.started, name)
	}
	r.logger.Info("plugins started", zap.Strings("plugins", r.started))
	return nil
}

// StopAll stops started plugins in reverse order. Errors are logged.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(ctx)
}

func (r *Registry) stopLocked(ctx context.Context) {
	for i := len(r.started) - 1; i >= 0; i-- {
		name := r.started[i]
		if err := r.plugins[name].Stop(ctx); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
	}
	r.started = nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// All returns every registered plugin, in dependency order once validated.
func (r *Registry) All() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]plugin.Plugin, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.plugins[name])
	}
	return out
}

// Enabled returns the plugins that are not disabled.
func (r *Registry) Enabled() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]plugin.Plugin, 0, len(r.order))
	for _, name := range r.order {
		if _, off := r.disabled[name]; !off {
			out = append(out, r.plugins[name])
		}
	}
	return out
}

// AllRoutes returns the routes of every enabled HTTPProvider, keyed by
// plugin name.
func (r *Registry) AllRoutes() map[string][]plugin.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string][]plugin.Route)
	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		if hp, ok := r.plugins[name].(plugin.HTTPProvider); ok {
			if pr := hp.Routes(); len(pr) > 0 {
				routes[name] = pr
			}
		}
	}
	return routes
}
