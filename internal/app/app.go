// Package app initializes and holds long-lived services for one process,
// acting as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"

	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/clock/system"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/config"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/id/uuid"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/pipeline"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/publisher"
	memorypublisher "github.com/JakeFAU/realtime-cpi-dedup/internal/publisher/memory"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/publisher/pubsub"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/publisher/redis"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/storage"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/storage/postgres"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/telemetry"
)

// App holds the shared services for a command invocation.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Blobs     *storage.Resolver
	Postgres  *postgres.RecordStore
	Publisher publisher.Publisher
	Registry  *prometheus.Registry

	closers []func() error
}

// New builds the services cfg asks for. It fails fast when a configured
// backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Blobs:    storage.NewResolver(nil, gcsClientFunc(cfg.GCS)),
		Registry: prometheus.NewRegistry(),
	}
	a.closers = append(a.closers, a.Blobs.Close)

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })
	}

	if cfg.Input.Source == config.SourcePostgres || cfg.Output.Sink == config.SourcePostgres {
		logger.Info("connecting to postgres", zap.String("table", cfg.Output.Table))
		store, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Output.Table,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		a.Postgres = store
		a.closers = append(a.closers, func() error { store.Close(); return nil })
	}

	switch {
	case cfg.Redis.Addr != "":
		logger.Info("connecting to redis", zap.String("stream", cfg.Redis.Stream))
		pub, closeFn, err := redis.Dial(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		a.Publisher = pub
		a.closers = append(a.closers, closeFn)
	case cfg.PubSub.TopicName != "":
		logger.Info("connecting to pub/sub", zap.String("topic", cfg.PubSub.TopicName))
		pub, closeFn, err := pubsub.Dial(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize pubsub: %w", err)
		}
		a.Publisher = pub
		a.closers = append(a.closers, closeFn)
	default:
		logger.Debug("no redis or pubsub backend configured; summaries are kept in memory")
		a.Publisher = memorypublisher.New()
	}
	return a, nil
}

func gcsClientFunc(cfg config.GCSConfig) storage.GCSClientFunc {
	return func(ctx context.Context) (*gcstorage.Client, error) {
		var opts []option.ClientOption
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		}
		if cfg.WithoutAuthentication {
			opts = append(opts, option.WithoutAuthentication())
		}
		return gcstorage.NewClient(ctx, opts...)
	}
}

// Runner builds a pipeline runner over the App's services.
func (a *App) Runner() (*pipeline.Runner, error) {
	deps := pipeline.Deps{
		Logger:    a.Logger,
		Blobs:     a.Blobs,
		Publisher: a.Publisher,
		Registry:  a.Registry,
		Clock:     system.New(),
		IDs:       uuid.New(),
	}
	if a.Postgres != nil {
		deps.Postgres = a.Postgres
	}
	return pipeline.NewRunner(a.Config, deps)
}

// Close shuts down services in reverse order of creation and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
}
