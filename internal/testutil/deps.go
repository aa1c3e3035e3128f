package testutil

import (
	"github.com/HerbHall/entitykit/internal/config"
	"github.com/HerbHall/entitykit/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Dependencies returns plugin dependencies suitable for Init in tests: an
// empty config, a no-op logger, a MockBus and a private metrics registry.
func Dependencies() plugin.Dependencies {
	return plugin.Dependencies{
		Config:  config.New(viper.New()),
		Logger:  zap.NewNop(),
		Bus:     NewMockBus(),
		Metrics: prometheus.NewRegistry(),
	}
}
