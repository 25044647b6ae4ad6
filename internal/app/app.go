// Package app wires configuration into the report pipeline: store backend,
// blob store, codec, uploader, services and event publishing.
package app

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	apimiddleware "safereport/internal/api/middleware"
	"safereport/internal/config"
	"safereport/internal/domain/services"
	"safereport/internal/infrastructure/assets"
	"safereport/internal/infrastructure/blobstore"
	"safereport/internal/infrastructure/cache"
	"safereport/internal/infrastructure/database"
	"safereport/internal/infrastructure/database/repository"
	"safereport/internal/infrastructure/docstore"
	"safereport/internal/infrastructure/memstore"
	"safereport/internal/security/fieldcrypt"
	"safereport/internal/streaming"
	"safereport/pkg/logger"
)

// Options toggles optional backends
type Options struct {
	// SkipRedis leaves rate limiting off; the CLI has no use for it
	SkipRedis bool
}

// App holds the wired pipeline and the resources that need closing
type App struct {
	Config     *config.Config
	Store      services.ReportStore
	Blobs      *blobstore.FileStore
	Cache      *cache.RedisCache
	NATS       *streaming.NATSPublisher
	EventBus   *streaming.EventBus
	Submission *services.SubmissionService
	Query      *services.QueryService

	// Backends are probed by readiness checks, keyed by name
	Backends map[string]Pinger

	closers []func(context.Context)
	logger  *logger.Logger
}

// Pinger is a probe-able backend
type Pinger interface {
	Ping(ctx context.Context) error
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Build connects the configured backends and assembles the services.
// Redis and NATS are optional: a failed connection is logged and the
// feature is disabled. A failed store connection is fatal.
func Build(ctx context.Context, cfg *config.Config, opts Options, log *logger.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Backends: make(map[string]Pinger),
		logger:   log.WithComponent("app"),
	}

	if err := a.initStore(ctx, cfg, log); err != nil {
		a.Close(context.Background())
		return nil, err
	}

	blobs, err := blobstore.NewFileStore(cfg.BlobStore, log)
	if err != nil {
		a.Close(context.Background())
		return nil, errors.Wrap(err, "init blob store")
	}
	a.Blobs = blobs

	if cfg.Redis.Enabled && !opts.SkipRedis {
		rc, err := cache.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			a.logger.Warn().Err(err).Msg("failed to connect to Redis, continuing without rate limiting")
		} else {
			a.Cache = rc
			a.Backends["redis"] = rc
			a.closers = append(a.closers, func(context.Context) { rc.Close() })
		}
	}

	var natsPublisher *streaming.NATSPublisher
	if cfg.NATS.Enabled {
		natsPublisher, err = streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			a.logger.Warn().Err(err).Msg("failed to connect to NATS, continuing without event streaming")
			natsPublisher = nil
		}
	}
	a.NATS = natsPublisher
	a.EventBus = streaming.NewEventBus(natsPublisher, log)
	a.closers = append(a.closers, func(context.Context) { a.EventBus.Close() })
	if natsPublisher != nil {
		a.Backends["nats"] = pingFunc(func(context.Context) error {
			if !natsPublisher.IsConnected() {
				return errors.New("NATS not connected")
			}
			return nil
		})
	}
	publisher := streaming.NewEventBusPublisher(a.EventBus)

	codec := fieldcrypt.NewCodec(func() string { return cfg.Crypto.EncryptionKey })
	if cfg.Crypto.EncryptionKey == "" {
		a.logger.Warn().Msg("encryption key is not set, submissions and listings will fail")
	}

	resolver := assets.NewResolver(cfg.Upload.MaxBytes, cfg.Upload.FetchTimeout, log)
	uploader := services.NewAssetUploader(resolver, blobs, services.UploaderConfigFrom(cfg.Upload), log)

	a.Submission = services.NewSubmissionService(codec, uploader, a.Store, log)
	a.Submission.SetEventPublisher(publisher)
	a.Query = services.NewQueryService(a.Store, codec, log)
	a.Query.SetEventPublisher(publisher)

	a.logger.Info().
		Str("store", cfg.Store.Driver).
		Bool("redis", a.Cache != nil).
		Bool("nats", natsPublisher != nil).
		Msg("report pipeline ready")

	return a, nil
}

func (a *App) initStore(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		db, err := database.NewPostgres(ctx, cfg.Database, log)
		if err != nil {
			return errors.Wrap(err, "init postgres store")
		}
		a.closers = append(a.closers, func(context.Context) { db.Close() })
		if err := db.EnsureSchema(ctx); err != nil {
			return errors.Wrap(err, "apply postgres schema")
		}
		a.Store = repository.NewReportRepository(db.Pool())
		a.Backends["postgres"] = db

	case config.StoreDriverMongo:
		m, err := docstore.NewMongo(ctx, cfg.Mongo, log)
		if err != nil {
			return errors.Wrap(err, "init mongo store")
		}
		a.closers = append(a.closers, func(ctx context.Context) { m.Close(ctx) })
		a.Store = docstore.NewReportStore(m.Collection())
		a.Backends["mongo"] = m

	case config.StoreDriverMemory:
		a.logger.Warn().Msg("using in-memory report store, reports are lost on exit")
		a.Store = memstore.NewReportStore()

	default:
		return errors.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return nil
}

// Limiter returns the rate limit backend, or nil when Redis is unavailable
func (a *App) Limiter() apimiddleware.Limiter {
	if a.Cache == nil {
		return nil
	}
	return a.Cache
}

// MediaHandler serves stored blobs
func (a *App) MediaHandler() http.Handler {
	return a.Blobs.Handler()
}

// Close releases backends in reverse order of acquisition
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}
