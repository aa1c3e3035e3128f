package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/HerbHall/entitykit/internal/config"
	"github.com/HerbHall/entitykit/internal/services"
	"github.com/HerbHall/entitykit/internal/store"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// commonFlags registers the flags shared by every command.
func commonFlags(fs *flag.FlagSet) *string {
	return fs.String("config", "", "path to configuration file (default: ./entitykit.yaml if present)")
}

// newLogger builds a zap logger from logging.level and logging.development.
func newLogger(v *viper.Viper) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(v.GetString("logging.level"))
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if v.GetBool("logging.development") {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

// repository is an opened entity store.
type repository struct {
	services.EntityRepository
	// sqlite is set for the sqlite driver.
	sqlite *store.SQLiteStore
	close  func() error
}

// openRepository opens the configured database, applies migrations and
// returns the entity repository on top of it.
func openRepository(ctx context.Context, v *viper.Viper, logger *zap.Logger) (*repository, error) {
	policy := services.NamePolicyFor(v.GetBool("plugins.entities.name_case_sensitive"))
	opts := []services.EntityRepoOption{services.WithNamePolicy(policy)}

	switch driver := v.GetString("database.driver"); driver {
	case "sqlite", "":
		path := v.GetString("database.path")
		st, err := store.New(ctx, path)
		if err != nil {
			return nil, err
		}
		repo, err := services.NewSQLiteEntityRepository(ctx, st, opts...)
		if err != nil {
			st.Close()
			return nil, err
		}
		logger.Info("database opened",
			zap.String("driver", "sqlite"),
			zap.String("path", path),
			zap.Stringer("name_policy", policy),
		)
		return &repository{EntityRepository: repo, sqlite: st, close: st.Close}, nil

	case "postgres", "pgx":
		db, err := store.OpenPostgres(ctx, v.GetString("database.dsn"))
		if err != nil {
			return nil, err
		}
		if err := store.MigratePostgres(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("database opened", zap.String("driver", "postgres"), zap.Stringer("name_policy", policy))
		return &repository{EntityRepository: services.NewPostgresEntityRepository(db, opts...), close: db.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported database.driver %q (want sqlite or postgres)", driver)
	}
}

// loadConfig reads configuration and builds the logger.
func loadConfig(path string) (*viper.Viper, *config.Config, *zap.Logger, error) {
	v, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := newLogger(v)
	if err != nil {
		return nil, nil, nil, err
	}
	return v, config.New(v), logger, nil
}
