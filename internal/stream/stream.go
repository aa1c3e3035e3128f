// Package stream pushes entity changes to websocket subscribers.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/entitykit/internal/entities"
	"github.com/HerbHall/entitykit/pkg/models"
	"github.com/HerbHall/entitykit/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Config holds stream settings under plugins.stream.
type Config struct {
	MaxSessions    int           `mapstructure:"max_sessions"`
	Buffer         int           `mapstructure:"buffer"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	OriginPatterns []string      `mapstructure:"origin_patterns"`
}

// DefaultConfig returns the defaults used when a key is unset.
func DefaultConfig() Config {
	return Config{
		MaxSessions:  64,
		Buffer:       32,
		WriteTimeout: 5 * time.Second,
	}
}

// Module is the change-feed plugin.
type Module struct {
	logger   *zap.Logger
	cfg      Config
	bus      plugin.EventBus
	sessions *SessionManager

	mu     sync.Mutex
	unsubs []func()
}

// New creates the stream plugin.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "stream",
		Version:      "1.0.0",
		Description:  "Websocket feed of entity changes",
		Dependencies: []string{"entities"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.bus = deps.Bus

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return err
		}
	}
	if m.cfg.WriteTimeout <= 0 {
		m.cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	m.sessions = NewSessionManager(m.cfg.MaxSessions, m.cfg.Buffer)
	m.logger.Info("stream module initialized", zap.Int("max_sessions", m.cfg.MaxSessions))
	return nil
}

// Start subscribes to entity topics.
func (m *Module) Start(_ context.Context) error {
	if m.bus == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, topic := range []string{
		entities.TopicEntityCreated,
		entities.TopicEntityUpdated,
		entities.TopicEntityDeleted,
	} {
		m.unsubs = append(m.unsubs, m.bus.Subscribe(topic, m.handleEvent))
	}
	return nil
}

// Stop unsubscribes and disconnects every session.
func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
	m.mu.Unlock()

	if m.sessions != nil {
		m.sessions.CloseAll()
	}
	return nil
}

func (m *Module) handleEvent(_ context.Context, e plugin.Event) {
	ev, ok := e.Payload.(models.EntityEvent)
	if !ok {
		m.logger.Warn("unexpected event payload", zap.String("topic", e.Topic))
		return
	}
	n := m.sessions.Broadcast(models.ChangeMessage{
		Topic:       e.Topic,
		Timestamp:   e.Timestamp,
		EntityEvent: ev,
	})
	m.logger.Debug("change broadcast", zap.String("topic", e.Topic), zap.Int64("id", ev.ID), zap.Int("sessions", n))
}

// Health reports session usage.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.sessions == nil {
		return plugin.HealthStatus{Status: plugin.StatusUnhealthy, Message: "not initialized"}
	}
	status := plugin.StatusHealthy
	if m.cfg.MaxSessions > 0 && m.sessions.Count() >= m.cfg.MaxSessions {
		status = plugin.StatusDegraded
	}
	return plugin.HealthStatus{
		Status: status,
		Details: map[string]string{
			"sessions": itoa(m.sessions.Count()),
		},
	}
}
