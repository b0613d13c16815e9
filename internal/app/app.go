// Package app assembles juillet's services from configuration. The API
// server and the CLI share it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/9in8/juillet/internal/bridge"
	"github.com/9in8/juillet/internal/cache"
	"github.com/9in8/juillet/internal/config"
	"github.com/9in8/juillet/internal/domain"
	"github.com/9in8/juillet/internal/engine"
	"github.com/9in8/juillet/internal/inspection"
	"github.com/9in8/juillet/internal/intake"
	"github.com/9in8/juillet/internal/observability"
	"github.com/9in8/juillet/internal/storage"
)

// App holds the wired services.
type App struct {
	Config   *config.Config
	Logger   *observability.Logger
	Engines  *engine.Registry
	Intake   *intake.Service
	Resolver *inspection.Resolver
	// Journal is nil when the database driver is "none".
	Journal *storage.Journal

	db    *sql.DB
	cache cache.Client
}

type options struct {
	runner      bridge.Runner
	intakeOpts  []intake.Option
	cacheClient cache.Client
}

// Option customises New.
type Option func(*options)

// WithRunner replaces the process runner engines are started with.
func WithRunner(r bridge.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithIntakeOptions passes options through to the intake service.
func WithIntakeOptions(opts ...intake.Option) Option {
	return func(o *options) { o.intakeOpts = append(o.intakeOpts, opts...) }
}

// WithCacheClient replaces the lease backend named by the configuration.
func WithCacheClient(c cache.Client) Option {
	return func(o *options) { o.cacheClient = c }
}

// New wires every service described by cfg. The journal database is
// migrated before New returns.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg, Logger: logger}

	engines, err := engine.NewRegistry(cfg, o.runner, logger)
	if err != nil {
		return nil, domain.ConfigError("build engine registry", err)
	}
	a.Engines = engines

	a.Intake = intake.New(intake.Config{
		StorageRoot:       cfg.Storage.Root,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		MaxUploadBytes:    cfg.MaxUploadBytes(),
		MaxExtractedBytes: cfg.MaxExtractedBytes(),
		TempDir:           cfg.Upload.TempDir,
	}, logger, o.intakeOpts...)

	a.cache = o.cacheClient
	if a.cache == nil {
		if a.cache, err = openCache(cfg.Cache); err != nil {
			return nil, err
		}
	}

	if a.db, err = storage.Open(cfg.Database); err != nil {
		a.Close()
		return nil, domain.ConfigError("open journal database", err)
	}
	if a.db != nil {
		status, err := storage.NewMigrationManager(a.db, cfg.Database.Driver).Migrate(ctx)
		if err != nil {
			a.Close()
			return nil, domain.ConfigError("migrate journal database", err)
		}
		logger.Debug().Str("driver", cfg.Database.Driver).Str("version", status.Current).Msg("journal ready")
		a.Journal = storage.NewJournal(a.db)
	}

	resolverOpts := []inspection.Option{
		inspection.WithLeaser(cache.NewLeaser(a.cache, cfg.Cache.LeaseTTL)),
	}
	if a.Journal != nil {
		resolverOpts = append(resolverOpts, inspection.WithRecorder(a.Journal))
	}
	a.Resolver = inspection.NewResolver(inspection.Config{
		StalePolicy:  cfg.Cache.StalePolicy,
		PollInterval: cfg.Cache.PollInterval,
		LeaseTTL:     cfg.Cache.LeaseTTL,
	}, engines, a.Intake, logger, resolverOpts...)

	return a, nil
}

func openCache(cfg config.CacheConfig) (cache.Client, error) {
	switch cfg.Driver {
	case "", "memory":
		return cache.NewMemoryClient(), nil
	case "redis":
		c, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, domain.ConfigError("connect lease backend", err)
		}
		return c, nil
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown cache driver %q", cfg.Driver), nil)
	}
}

// Receive runs an uploaded archive through intake for the engine named
// tool and journals the new package.
func (a *App) Receive(ctx context.Context, tool string, up intake.Upload) (*intake.Package, error) {
	eng, ok := a.Engines.Get(tool)
	if !ok {
		os.Remove(up.Path)
		return nil, domain.NotFoundError(fmt.Sprintf("unknown engine %q", tool), nil)
	}

	pkg, err := a.Intake.Receive(ctx, up, eng.Ext())
	if err != nil {
		return nil, err
	}

	if a.Journal != nil {
		doc, relErr := filepath.Rel(pkg.Dir, pkg.Document.Original)
		if relErr != nil {
			doc = filepath.Base(pkg.Document.Original)
		}
		err := a.Journal.RecordPackage(context.WithoutCancel(ctx), &storage.Package{
			ID:        pkg.ID,
			Tool:      tool,
			FileName:  filepath.Base(up.Name),
			Document:  filepath.ToSlash(doc),
			SizeBytes: up.Size,
		})
		if err != nil {
			a.Logger.WithPackage(pkg.ID).Warn().Err(err).Msg("failed to journal package")
		}
	}
	return pkg, nil
}

// Ready reports whether the backing services answer.
func (a *App) Ready(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("journal database: %w", err)
		}
	}
	return nil
}

// Close releases the database and cache connections.
func (a *App) Close() error {
	var first error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			first = err
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
