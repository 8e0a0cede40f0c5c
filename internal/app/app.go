// Package app wires the configured components into a running system and
// exposes the high-level operations the CLI and the worker run. Commands act
// through App; nothing above this package reaches into components directly.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	_ "github.com/jackc/pgx/v5/stdlib"

	"pictor/internal/blob"
	"pictor/internal/cache"
	"pictor/internal/config"
	"pictor/internal/database"
	"pictor/internal/database/migrations"
	"pictor/internal/extract"
	"pictor/internal/fstore"
	"pictor/internal/metrics"
	"pictor/internal/permission"
	"pictor/internal/pictor"
	"pictor/internal/render"
	"pictor/internal/signing"
	"pictor/internal/taskqueue"
)

// App is the application layer between the CLI and the components. It
// constructs every collaborator from config, registers the task handlers,
// and manages component lifecycles on Close.
type App struct {
	cfg      *config.Config
	logger   pictor.Logger
	logClose io.Closer
	clock    pictor.Clock

	resolver *pictor.Resolver
	files    *fstore.Store
	records  pictor.RecordStore
	renderer pictor.Renderer
	registry *taskqueue.Registry
	queue    pictor.TaskQueue
	engine   *pictor.SyncEngine
	orch     *pictor.MutationOrchestrator
	blobs    blob.Store
	cache    *cache.Cache
	signer   *signing.Signer // nil without a signing secret
}

// New creates a fully wired App from the given config. The caller must call
// Close when done. Construction fails when the catalog schema is out of
// date; run Migrate first.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, logClose, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	// Components bind their collectors at construction, so the registry
	// must exist before anything else is built.
	if cfg.Metrics.Addr != "" {
		metrics.InitRegistry()
	}

	a := &App{cfg: cfg, logger: logger, logClose: logClose, clock: pictor.RealClock{}}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.cfg

	resolver, err := pictor.NewResolver(cfg.MediaRoot)
	if err != nil {
		return fmt.Errorf("resolving media root: %w", err)
	}
	a.resolver = resolver
	a.files = fstore.NewAtRoot(resolver.Root())

	records, err := database.NewRecordStoreFromConfig(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening record store: %w", err)
	}
	a.records = records
	if err := a.ensureSchema(); err != nil {
		return err
	}

	renderer, err := render.NewFromConfig(cfg.Renderer, a.logger)
	if err != nil {
		return fmt.Errorf("creating renderer: %w", err)
	}
	a.renderer = renderer

	a.registry = taskqueue.NewRegistry()
	queue, err := taskqueue.NewFromConfig(cfg.Queue, a.registry, a.logger, a.clock)
	if err != nil {
		return fmt.Errorf("creating task queue: %w", err)
	}
	a.queue = queue

	policy := extract.NewPolicy(cfg.Extract)
	a.engine = pictor.NewSyncEngine(records, a.files, resolver, renderer, queue, policy, a.logger, a.clock)

	perms, err := permission.NewFromConfig(cfg.Permissions)
	if err != nil {
		return fmt.Errorf("loading permission rules: %w", err)
	}
	a.orch = pictor.NewMutationOrchestrator(records, a.files, resolver, perms, queue, a.engine, a.logger, a.clock)

	blobs, err := blob.NewStoreFromConfig(ctx, cfg.Cache.Blob)
	if err != nil {
		return fmt.Errorf("creating blob store: %w", err)
	}
	a.blobs = blobs

	dcache, err := cache.New(cache.Options{Dir: cfg.Cache.Dir, HotSet: cfg.Cache.HotSet},
		blobs, a.files, renderer, a.logger, a.clock, nil)
	if err != nil {
		return fmt.Errorf("opening derivative cache: %w", err)
	}
	a.cache = dcache

	extractor := extract.NewExtractor(policy, a.files, renderer, a.engine, a.logger)

	if cfg.Signing.Secret != "" {
		a.signer = signing.NewSigner(cfg.Signing.Secret)
	}

	a.registry.Register(pictor.TaskFolderCascadeDelete, a.engine.HandleCascadeDelete)
	a.registry.Register(pictor.TaskCacheInvalidate, a.cache.HandleInvalidate)
	a.registry.Register(pictor.TaskImageBurst, extractor.HandleBurst)
	return nil
}

// ensureSchema gates construction on a migrated catalog. Memory databases
// are migrated in place, since they start empty every run; disk databases
// must already be at the latest version.
func (a *App) ensureSchema() error {
	switch a.cfg.Database.Type {
	case "memory":
		store, ok := a.records.(*database.SQLiteStore)
		if !ok {
			return fmt.Errorf("memory database: unexpected store type %T", a.records)
		}
		if err := migrations.MigrateUp(store.DB(), migrations.DialectSQLite); err != nil {
			return fmt.Errorf("migrating memory database: %w", err)
		}
	case "sqlite":
		store, ok := a.records.(*database.SQLiteStore)
		if !ok {
			return fmt.Errorf("sqlite database: unexpected store type %T", a.records)
		}
		if err := migrations.CheckDBMigrationStatus(store.DB(), migrations.DialectSQLite); err != nil {
			return fmt.Errorf("catalog schema out of date, run 'pictor migrate': %w", err)
		}
	case "postgres":
		db, err := sql.Open("pgx", a.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("opening database for schema check: %w", err)
		}
		defer db.Close()
		if err := migrations.CheckDBMigrationStatus(db, migrations.DialectPostgres); err != nil {
			return fmt.Errorf("catalog schema out of date, run 'pictor migrate': %w", err)
		}
	}
	return nil
}

// Migrate brings the configured database to the latest schema version. It
// runs without constructing an App, since New refuses an out-of-date schema.
func Migrate(cfg *config.Config) error {
	switch cfg.Database.Type {
	case "sqlite":
		db, err := database.OpenConnection(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		return migrations.MigrateUp(db, migrations.DialectSQLite)
	case "postgres":
		db, err := sql.Open("pgx", cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
		return migrations.MigrateUp(db, migrations.DialectPostgres)
	case "memory":
		// Migrated during App construction; nothing persists to migrate.
		return nil
	default:
		return fmt.Errorf("unknown database type: %s", cfg.Database.Type)
	}
}

// Registry exposes the task handler registry for the worker binary.
func (a *App) Registry() *taskqueue.Registry { return a.registry }

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() pictor.Logger { return a.logger }

// Close releases every component: the queue first, so in-flight handlers
// finish before the stores they use go away. The first error wins but
// closing continues.
func (a *App) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.queue != nil {
		keep(a.queue.Close())
	}
	if a.cache != nil {
		keep(a.cache.Close())
	}
	if a.records != nil {
		keep(a.records.Close())
	}
	if a.logClose != nil {
		keep(a.logClose.Close())
	}
	return firstErr
}
