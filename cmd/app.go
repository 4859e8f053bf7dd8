package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/mohammad-safakhou/poodle/config"
	"github.com/mohammad-safakhou/poodle/internal/notify"
	"github.com/mohammad-safakhou/poodle/internal/poller"
	"github.com/mohammad-safakhou/poodle/internal/portal"
	"github.com/mohammad-safakhou/poodle/internal/queue/streams"
	"github.com/mohammad-safakhou/poodle/internal/registry"
	"github.com/mohammad-safakhou/poodle/internal/telemetry"
	"github.com/mohammad-safakhou/poodle/repository"
	"github.com/mohammad-safakhou/poodle/repository/redis_repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func newLogger(tag string) *log.Logger {
	return log.New(log.Writer(), "["+tag+"] ", log.LstdFlags)
}

// app holds the components shared by serve and fetch.
type app struct {
	cfg      *config.Config
	portal   portal.Config
	sessions *portal.SessionManager
	loader   *portal.Loader
	backend  *repository.Backend
	registry registry.Registry
	metrics  *telemetry.Metrics
	gatherer prometheus.Gatherer
	closers  []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.Telemetry.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m, err := telemetry.NewMetrics(reg)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		a.metrics, a.gatherer = m, reg
	}

	a.portal = portal.Config{
		BaseURL:        cfg.Portal.BaseURL,
		SSOBaseURL:     cfg.Portal.SSOBaseURL,
		ProviderID:     cfg.Portal.ProviderID,
		LoginTarget:    cfg.Portal.LoginTarget,
		RequestTimeout: cfg.Portal.RequestTimeout,
	}
	portalLogger := newLogger("PORTAL")
	auth := portal.NewShibboleth(a.portal, portal.Credential{Username: cfg.Portal.Username, Password: cfg.Portal.Password}, nil)
	a.sessions = portal.NewSessionManager(auth, portal.SessionManagerOptions{
		ProbeURL: a.portal.LandingURL(),
		Attempts: cfg.Portal.LoginAttempts,
		Logger:   portalLogger,
		Metrics:  a.metrics,
	})
	a.loader = portal.NewLoader(a.portal, portalLogger, a.metrics)

	backend, err := repository.NewRegistry(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	a.backend, a.registry = backend, backend.Registry
	a.closers = append(a.closers, backend)
	return a, nil
}

// sink builds the configured notification fan-out.
func (a *app) sink(ctx context.Context) (notify.Sink, error) {
	var sinks notify.Fanout
	if a.cfg.Notifier.Log {
		sinks = append(sinks, notify.NewLogSink(newLogger("NOTIFY")))
	}
	if a.cfg.Notifier.Stream != "" {
		client, err := a.redis(ctx)
		if err != nil {
			return nil, fmt.Errorf("notifier stream: %w", err)
		}
		schemas := streams.NewSchemaRegistry()
		if err := streams.RegisterBaseSchemas(schemas); err != nil {
			return nil, err
		}
		pub := streams.NewPublisher(client, schemas)
		sinks = append(sinks, notify.NewStreamSink(pub, a.cfg.Notifier.Stream, a.cfg.Notifier.StreamMaxLen))
	}
	return sinks, nil
}

// redis reuses the registry's client when the backend is redis.
func (a *app) redis(ctx context.Context) (*redis.Client, error) {
	if a.backend.Redis != nil {
		return a.backend.Redis, nil
	}
	client, err := repository.NewRedisClient(ctx, a.cfg.Storage.Redis)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client)
	return client, nil
}

// sweepLock is only needed when several processes can share the registry.
func (a *app) sweepLock() poller.SweepLock {
	if a.backend.Redis == nil {
		return nil
	}
	return redis_repository.NewSweepLock(a.backend.Redis, a.cfg.Storage.Redis.KeyPrefix)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}
}
