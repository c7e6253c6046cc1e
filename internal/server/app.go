package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emrgen/catalog/internal/cache"
	"github.com/emrgen/catalog/internal/compress"
	"github.com/emrgen/catalog/internal/config"
	"github.com/emrgen/catalog/internal/export"
	"github.com/emrgen/catalog/internal/harvest"
	"github.com/emrgen/catalog/internal/jobs"
	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/queue"
	"github.com/emrgen/catalog/internal/reconcile"
	"github.com/emrgen/catalog/internal/search"
	"github.com/emrgen/catalog/internal/seed"
	"github.com/emrgen/catalog/internal/service"
	"github.com/emrgen/catalog/internal/store"
	"github.com/emrgen/catalog/internal/version"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App holds the wired catalog worker.
type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Store    store.Store
	Static   *seed.StaticSource
	Catalog  *service.Catalog
	Executor *jobs.TaskExecutor

	closers []func() error
}

// NewApp opens the configured database and search engine and wires the catalog.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := config.OpenDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s database: %w", cfg.Database.Type, err)
	}

	if err := store.NewGormStore(db).Migrate(); err != nil {
		return nil, err
	}

	engine, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}

	return Wire(ctx, cfg, db, engine)
}

// Wire builds the catalog on an open database and search engine.
func Wire(ctx context.Context, cfg *config.Config, db *gorm.DB, engine search.Engine) (*App, error) {
	s := store.NewGormStore(db)
	app := &App{Config: cfg, DB: db, Store: s}

	app.Static = seed.NewStaticSource()
	registry := seed.NewRegistry()
	registry.Register(seed.ModuleCSV, seed.NewCSVSource(cfg.Harvest.SourceTimeout))
	registry.Register(seed.ModuleStatic, app.Static)

	versions := version.NewManager(s, cfg.Harvest.CorruptionThreshold)
	coordinator := harvest.NewCoordinator(s, registry, versions, reconcile.NewReconciler(s, cfg.Harvest.BatchSize))
	if cfg.Harvest.PreviewProperty != "" {
		coordinator.Handle(model.HarvestStagePreview, harvest.NewPropertyCheck(s, cfg.Harvest.PreviewProperty))
	}

	sync := search.NewSynchronizer(s, engine, search.Settings{
		Site:           cfg.Search.Site,
		AliasPrefix:    cfg.Search.AliasPrefix,
		Languages:      search.Languages(cfg.Search.Languages),
		BatchSize:      cfg.Search.BatchSize,
		MaxErrors:      cfg.Search.MaxErrors,
		RequestTimeout: cfg.Search.RequestTimeout,
		Exclusions:     cfg.ExcludedCollections(),
	})

	exporter, err := newExporter(ctx, cfg, s, versions)
	if err != nil {
		return nil, err
	}

	app.Catalog = service.NewCatalog(service.Options{
		Store:       s,
		Versions:    versions,
		Coordinator: coordinator,
		Sync:        sync,
		Exporter:    exporter,
		Reports:     app.newReportCache(),
		Events:      app.newEventQueue(),
		Modules:     registry.Modules(),
	})

	app.Executor = jobs.NewTaskExecutor(
		jobs.NewHarvestTask(cfg.Harvest.Schedule, app.Catalog, cfg.Harvest.DatasetList()),
		jobs.NewDeltaSyncTask(cfg.Search.DeltaSchedule, app.Catalog),
		jobs.NewVersionCleanupTask(cfg.Retention.Schedule, app.Catalog, cfg.Retention.Keep, cfg.Retention.ExportBeforePurge),
	)

	return app, nil
}

func newEngine(cfg *config.Config) (search.Engine, error) {
	switch cfg.Search.Engine {
	case "memory":
		logrus.Warn("using the in-memory search engine, indices are lost on restart")
		return search.NewMemoryEngine(), nil
	case "opensearch", "":
		return search.NewOpenSearchEngine(cfg.OpenSearch.AddressList(), cfg.OpenSearch.Username, cfg.OpenSearch.Password, cfg.Search.RequestTimeout)
	default:
		return nil, fmt.Errorf("unknown search engine %q", cfg.Search.Engine)
	}
}

func newExporter(ctx context.Context, cfg *config.Config, s store.Store, versions *version.Manager) (*export.Exporter, error) {
	codec, err := compress.New(cfg.Export.Codec)
	if err != nil {
		return nil, err
	}

	var objects export.ObjectStore
	switch strings.ToLower(cfg.Export.Backend) {
	case "file", "":
		objects, err = export.NewFileStore(cfg.Export.Directory)
	case "minio":
		m := cfg.Minio
		objects, err = export.NewMinioStore(ctx, m.Endpoint, m.AccessKeyID, m.SecretAccessKey, m.Region, cfg.Export.Bucket, m.UseSSL)
	case "none":
		return nil, nil
	default:
		err = fmt.Errorf("unknown export backend %q", cfg.Export.Backend)
	}
	if err != nil {
		return nil, err
	}

	return export.NewExporter(s, objects, codec, versions), nil
}

func (a *App) newReportCache() cache.ReportCache {
	if !a.Config.Redis.Enabled {
		return cache.NewMemoryReportCache()
	}

	r := a.Config.Redis
	reports := cache.NewRedisReportCache(r.Addr, r.Password, r.DB, r.ReportTTL)
	a.closers = append(a.closers, reports.Close)

	return reports
}

func (a *App) newEventQueue() queue.EventQueue {
	if !a.Config.Kafka.Enabled {
		return queue.NewMemoryQueue()
	}

	events, err := queue.NewKafkaQueue(a.Config.Kafka.BootstrapServers, a.Config.Kafka.Topic)
	if err != nil {
		logrus.Errorf("kafka disabled: %v", err)
		return queue.NewMemoryQueue()
	}
	a.closers = append(a.closers, events.Close)

	return events
}

// Close releases the connections of the app.
func (a *App) Close() error {
	var errs []error
	for _, closer := range a.closers {
		errs = append(errs, closer())
	}

	if sqlDB, err := a.DB.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}

	return errors.Join(errs...)
}
