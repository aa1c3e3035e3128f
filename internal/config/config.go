// Package config loads entitykit configuration through viper and exposes it
// to plugins as a nil-safe plugin.Config.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/entitykit/pkg/plugin"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. ENTITYD_SERVER_PORT.
const EnvPrefix = "ENTITYD"

// Compile-time interface guard.
var _ plugin.Config = (*Config)(nil)

// Config wraps a *viper.Viper. A Config built from nil returns zero values.
type Config struct {
	v *viper.Viper
}

// New wraps v.
func New(v *viper.Viper) *Config {
	return &Config{v: v}
}

// Viper returns the wrapped instance, which may be nil.
func (c *Config) Viper() *viper.Viper { return c.v }

func (c *Config) GetString(key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

func (c *Config) GetInt(key string) int {
	if c.v == nil {
		return 0
	}
	return c.v.GetInt(key)
}

func (c *Config) GetBool(key string) bool {
	if c.v == nil {
		return false
	}
	return c.v.GetBool(key)
}

func (c *Config) GetDuration(key string) time.Duration {
	if c.v == nil {
		return 0
	}
	return c.v.GetDuration(key)
}

func (c *Config) IsSet(key string) bool {
	if c.v == nil {
		return false
	}
	return c.v.IsSet(key)
}

// Sub returns the subtree at key. It never returns nil; a missing subtree
// yields an empty Config.
func (c *Config) Sub(key string) plugin.Config {
	if c.v == nil {
		return New(nil)
	}
	sub := c.v.Sub(key)
	if sub == nil {
		return New(viper.New())
	}
	return New(sub)
}

func (c *Config) Unmarshal(target any) error {
	if c.v == nil {
		return nil
	}
	return c.v.Unmarshal(target)
}

// SetDefaults registers every default known to entityd.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "entitykit.db")
	v.SetDefault("database.dsn", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("ratelimit.rps", 50.0)
	v.SetDefault("ratelimit.burst", 100)

	v.SetDefault("telemetry.otel_enabled", false)
	v.SetDefault("telemetry.service_name", "entityd")

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "entitykit")

	v.SetDefault("plugins.entities.enabled", true)
	v.SetDefault("plugins.entities.name_case_sensitive", false)
	v.SetDefault("plugins.stream.enabled", true)

	v.SetDefault("backup.s3_bucket", "")
	v.SetDefault("backup.s3_prefix", "backups/")
	v.SetDefault("backup.s3_region", "")
	v.SetDefault("backup.s3_endpoint", "")
	v.SetDefault("backup.s3_access_key", "")
	v.SetDefault("backup.s3_secret_key", "")
}

// Load builds a viper instance with defaults, an optional config file and
// ENTITYD_* environment overrides. An empty path searches the working
// directory for entitykit.yaml and tolerates its absence.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("entitykit")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}
