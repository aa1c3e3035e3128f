package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"strconv"

	"github.com/HerbHall/entitykit/internal/auth"
	"github.com/HerbHall/entitykit/internal/config"
	"github.com/HerbHall/entitykit/internal/entities"
	"github.com/HerbHall/entitykit/internal/event"
	"github.com/HerbHall/entitykit/internal/registry"
	"github.com/HerbHall/entitykit/internal/server"
	"github.com/HerbHall/entitykit/internal/stream"
	"github.com/HerbHall/entitykit/internal/version"
	"github.com/HerbHall/entitykit/pkg/plugin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := commonFlags(fs)
	addr := fs.String("addr", "", "listen address (overrides server.host and server.port)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	v, _, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("entityd starting", zap.String("version", version.Short()))

	repo, err := openRepository(ctx, v, logger)
	if err != nil {
		return err
	}
	defer repo.close()

	bus := event.NewBus(logger.Named("bus"))
	if url := v.GetString("events.nats_url"); url != "" {
		nc, err := nats.Connect(url, nats.Name("entityd"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain() //nolint:errcheck
		bridge := event.NewNATSBridge(nc, v.GetString("events.subject_prefix"), logger.Named("nats"))
		bridge.Attach(bus)
		defer bridge.Detach()
		logger.Info("forwarding events to NATS", zap.String("url", url))
	}

	app, err := newApp(ctx, v, logger, repo, bus)
	if err != nil {
		return err
	}

	if *addr == "" {
		*addr = net.JoinHostPort(v.GetString("server.host"), strconv.Itoa(v.GetInt("server.port")))
	}
	srv := app.server(*addr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	logger.Info("entityd ready", zap.String("addr", *addr))

	select {
	case err = <-errCh:
		logger.Error("server stopped unexpectedly", zap.Error(err))
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("server.shutdown_timeout"))
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Error("server shutdown error", zap.Error(serr))
	}
	app.registry.StopAll(shutdownCtx)
	logger.Info("entityd stopped")
	return err
}

// app is the assembled server side: plugins, middleware and metrics.
type app struct {
	v        *viper.Viper
	logger   *zap.Logger
	registry *registry.Registry
	metrics  *prometheus.Registry
	opts     server.Options
}

// newApp registers, initializes and starts the plugins and prepares the
// middleware chain.
func newApp(ctx context.Context, v *viper.Viper, logger *zap.Logger, repo *repository, bus plugin.EventBus) (*app, error) {
	cfg := config.New(v)

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reg := registry.New(logger.Named("registry"))
	for _, p := range []plugin.Plugin{entities.New(repo), stream.New()} {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Sub("plugins." + name),
			Logger:  logger.Named(name),
			Bus:     bus,
			Metrics: metrics,
		}
	}); err != nil {
		return nil, err
	}
	if err := reg.StartAll(ctx); err != nil {
		return nil, err
	}

	httpMetrics, err := server.NewHTTPMetrics(metrics)
	if err != nil {
		return nil, err
	}

	mw := []server.Middleware{
		server.Recover(logger),
		server.RequestID(),
		server.Logging(logger.Named("http")),
	}
	if v.GetBool("telemetry.otel_enabled") {
		mw = append(mw, server.OTel(v.GetString("telemetry.service_name")))
	}
	mw = append(mw,
		server.NewRateLimiter(v.GetFloat64("ratelimit.rps"), v.GetInt("ratelimit.burst")).Middleware(),
		// Innermost so the route pattern is set when it records.
		httpMetrics.Middleware(),
	)

	authn := auth.New(v.GetString("auth.jwt_secret"), logger.Named("auth"))
	if !authn.Enabled() {
		logger.Warn("auth.jwt_secret is empty; write routes are open")
	}

	return &app{
		v:        v,
		logger:   logger,
		registry: reg,
		metrics:  metrics,
		opts: server.Options{
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			WriteGuard:   authn.RequireWrite,
			Middleware:   mw,
			Gatherer:     metrics,
		},
	}, nil
}

func (a *app) server(addr string) *server.Server {
	opts := a.opts
	opts.Addr = addr
	return server.New(a.registry, a.logger, opts)
}

