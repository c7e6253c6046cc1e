package service

import (
	"context"
	"testing"
	"time"

	"github.com/emrgen/catalog/internal/cache"
	"github.com/emrgen/catalog/internal/compress"
	"github.com/emrgen/catalog/internal/export"
	"github.com/emrgen/catalog/internal/harvest"
	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/queue"
	"github.com/emrgen/catalog/internal/reconcile"
	"github.com/emrgen/catalog/internal/search"
	"github.com/emrgen/catalog/internal/seed"
	"github.com/emrgen/catalog/internal/store"
	"github.com/emrgen/catalog/internal/tester"
	"github.com/emrgen/catalog/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   store.Store
	static  *seed.StaticSource
	engine  *search.MemoryEngine
	reports *cache.MemoryReportCache
	events  *queue.MemoryQueue
	catalog *Catalog
}

func setup(t *testing.T) *fixture {
	t.Helper()
	tester.Reset()

	s := tester.Store()
	static := seed.NewStaticSource()
	registry := seed.NewRegistry()
	registry.Register(seed.ModuleStatic, static)

	versions := version.NewManager(s, version.DefaultCorruptionThreshold)
	coordinator := harvest.NewCoordinator(s, registry, versions, reconcile.NewReconciler(s, reconcile.DefaultBatchSize))
	engine := search.NewMemoryEngine()
	sync := search.NewSynchronizer(s, engine, search.Settings{
		Site:      "edusources",
		Languages: search.Languages{"nl", "en", model.UnknownLanguage},
		BatchSize: 10,
		MaxErrors: 10,
	})

	objects, err := export.NewFileStore(t.TempDir())
	require.NoError(t, err)

	reports := cache.NewMemoryReportCache()
	events := queue.NewMemoryQueue()
	catalog := NewCatalog(Options{
		Store:       s,
		Versions:    versions,
		Coordinator: coordinator,
		Sync:        sync,
		Exporter:    export.NewExporter(s, objects, compress.NewGZip(), versions),
		Reports:     reports,
		Events:      events,
		Modules:     registry.Modules(),
	})

	return &fixture{
		store:   s,
		static:  static,
		engine:  engine,
		reports: reports,
		events:  events,
		catalog: catalog,
	}
}

func (f *fixture) harvested(t *testing.T, refs ...string) *model.Dataset {
	t.Helper()
	ctx := context.TODO()

	dataset, err := f.catalog.CreateDataset(ctx, "catalog")
	require.NoError(t, err)
	require.NoError(t, f.catalog.CreateSource(ctx, &model.Source{Name: "alpha", Module: seed.ModuleStatic, Endpoint: "memory://alpha"}))
	_, err = f.catalog.AddHarvest(ctx, "catalog", "alpha")
	require.NoError(t, err)

	f.put(refs...)
	require.NoError(t, f.catalog.Cycle(ctx, dataset))

	return dataset
}

func (f *fixture) put(refs ...string) {
	seeds := make([]*seed.Seed, 0, len(refs))
	for _, ref := range refs {
		seeds = append(seeds, &seed.Seed{
			Reference:  ref,
			Properties: map[string]any{"title": ref, model.LanguageProperty: "nl"},
		})
	}
	f.static.Put("alpha", seeds...)
}

func TestCatalog_CreateDataset(t *testing.T) {
	tests := []struct {
		name    string
		dataset string
		wantErr error
	}{
		{"valid", "catalog", nil},
		{"digits and underscores", "catalog_2", nil},
		{"uppercase", "Catalog", ErrInvalidDatasetName},
		{"dashes", "my-catalog", ErrInvalidDatasetName},
		{"empty", "", ErrInvalidDatasetName},
	}

	f := setup(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataset, err := f.catalog.CreateDataset(context.TODO(), tt.dataset)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, dataset.IsActive)
		})
	}
}

func TestCatalog_CreateSourceRequiresKnownModule(t *testing.T) {
	f := setup(t)

	err := f.catalog.CreateSource(context.TODO(), &model.Source{Name: "beta", Module: "oaipmh", Endpoint: "https://example.org"})
	assert.ErrorIs(t, err, ErrInvalidSource)

	err = f.catalog.CreateSource(context.TODO(), &model.Source{Name: "beta", Module: seed.ModuleStatic})
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestCatalog_CycleBootstrapsAndIndexes(t *testing.T) {
	f := setup(t)
	ctx := context.TODO()

	dataset := f.harvested(t, "a", "b")

	current, err := f.store.GetCurrentVersion(ctx, dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, "001", current.Version)

	remote := search.RemoteName("edusources", "catalog", "001", current.ID, "nl")
	assert.Equal(t, 2, f.engine.Count(remote))

	targets, err := f.engine.AliasTargets(ctx, search.AliasName("", "nl"))
	require.NoError(t, err)
	assert.Equal(t, []string{remote}, targets)

	reports, err := f.catalog.Reports(ctx, "catalog")
	require.NoError(t, err)
	assert.Contains(t, reports, cache.ReportHarvest)
	assert.Contains(t, reports, cache.ReportPush)
	assert.NotEmpty(t, f.events.Events(queue.EventIndexPushed))
}

func TestCatalog_CyclePromotesCompleteVersion(t *testing.T) {
	f := setup(t)
	ctx := context.TODO()

	dataset := f.harvested(t, "a", "b")

	next, err := f.catalog.CreateVersion(ctx, "catalog")
	require.NoError(t, err)
	assert.Equal(t, "002", next.Version)
	assert.False(t, next.IsCurrent)

	f.put("a", "b", "c")
	require.NoError(t, f.catalog.Cycle(ctx, dataset))

	current, err := f.store.GetCurrentVersion(ctx, dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, next.ID, current.ID)

	remote := search.RemoteName("edusources", "catalog", "002", next.ID, "nl")
	assert.Equal(t, 3, f.engine.Count(remote))
	targets, err := f.engine.AliasTargets(ctx, search.AliasName("", "nl"))
	require.NoError(t, err)
	assert.Equal(t, []string{remote}, targets)

	assert.Len(t, f.events.Events(queue.EventVersionCreated), 1)
	assert.Len(t, f.events.Events(queue.EventVersionPromoted), 1)
	assert.NotEmpty(t, f.events.Events(queue.EventAliasSwapped))

	report, err := f.reports.GetReport(ctx, "catalog", cache.ReportPromotion)
	require.NoError(t, err)
	assert.Contains(t, string(report), `"name":"alpha"`)
}

func TestCatalog_CycleRetriesFailedAliasSwap(t *testing.T) {
	f := setup(t)
	ctx := context.TODO()

	dataset := f.harvested(t, "a", "b")
	next, err := f.catalog.CreateVersion(ctx, "catalog")
	require.NoError(t, err)

	alias := search.AliasName("", "nl")
	f.engine.FailAliases.Add(alias)
	f.put("a", "b", "c")
	assert.ErrorIs(t, f.catalog.Cycle(ctx, dataset), search.ErrAliasSwap)

	targets, err := f.engine.AliasTargets(ctx, alias)
	require.NoError(t, err)
	assert.Empty(t, targets)

	f.engine.FailAliases.Remove(alias)
	require.NoError(t, f.catalog.Cycle(ctx, dataset))

	remote := search.RemoteName("edusources", "catalog", "002", next.ID, "nl")
	targets, err = f.engine.AliasTargets(ctx, alias)
	require.NoError(t, err)
	assert.Equal(t, []string{remote}, targets)
	assert.Equal(t, 3, f.engine.Count(remote))
}

func TestCatalog_DeleteVersion(t *testing.T) {
	f := setup(t)
	ctx := context.TODO()

	dataset := f.harvested(t, "a")
	first, err := f.store.GetCurrentVersion(ctx, dataset.ID)
	require.NoError(t, err)

	err = f.catalog.DeleteVersion(ctx, first.ID)
	assert.ErrorIs(t, err, version.ErrVersionIsCurrent)

	_, err = f.catalog.CreateVersion(ctx, "catalog")
	require.NoError(t, err)
	require.NoError(t, f.catalog.Cycle(ctx, dataset))

	remote := search.RemoteName("edusources", "catalog", "001", first.ID, "nl")
	exists, err := f.engine.IndexExists(ctx, remote)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, f.catalog.DeleteVersion(ctx, first.ID))

	exists, err = f.engine.IndexExists(ctx, remote)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = f.store.GetVersion(ctx, first.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, f.events.Events(queue.EventVersionDeleted), 1)
}

func TestCatalog_CleanupVersionsExportsFirst(t *testing.T) {
	f := setup(t)
	ctx := context.TODO()

	dataset := f.harvested(t, "a")
	for i := 0; i < 3; i++ {
		_, err := f.catalog.CreateVersion(ctx, "catalog")
		require.NoError(t, err)
		require.NoError(t, f.catalog.Cycle(ctx, dataset))
	}

	versions, err := f.catalog.ListVersions(ctx, "catalog")
	require.NoError(t, err)
	require.Len(t, versions, 4)

	result, err := f.catalog.CleanupVersions(ctx, dataset, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"002", "001"}, result.Deleted)
	assert.Len(t, result.Exported, 2)
	assert.Empty(t, result.Errors)

	versions, err = f.catalog.ListVersions(ctx, "catalog")
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	imported, count, err := f.catalog.ImportVersion(ctx, "catalog", result.Exported[0])
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "005", imported.Version)
	assert.False(t, imported.IsCurrent)
}

func TestCatalog_SaveExtension(t *testing.T) {
	f := setup(t)
	ctx := context.TODO()

	f.harvested(t, "a")
	other, err := f.catalog.CreateDataset(ctx, "other")
	require.NoError(t, err)

	extension := &model.Extension{
		Properties: map[string]any{"title": "manual", model.LanguageProperty: "en"},
		IsAddition: true,
	}
	require.NoError(t, f.catalog.SaveExtension(ctx, "catalog", extension))
	assert.NotEmpty(t, extension.ID)
	assert.Equal(t, "en", extension.Language)

	created, err := f.catalog.GetExtension(ctx, extension.ID)
	require.NoError(t, err)

	frozen := created.ModifiedAt
	f.catalog.now = func() time.Time { return frozen }

	update := &model.Extension{ID: extension.ID, Properties: map[string]any{"title": "edited"}, IsAddition: true}
	require.NoError(t, f.catalog.SaveExtension(ctx, "catalog", update))

	updated, err := f.catalog.GetExtension(ctx, extension.ID)
	require.NoError(t, err)
	assert.True(t, updated.ModifiedAt.After(created.ModifiedAt))
	assert.True(t, updated.CreatedAt.Equal(created.CreatedAt))
	assert.Equal(t, model.UnknownLanguage, updated.Language)

	err = f.catalog.SaveExtension(ctx, other.Name, &model.Extension{ID: extension.ID})
	assert.ErrorIs(t, err, ErrDatasetMismatch)

	require.NoError(t, f.catalog.DeleteExtension(ctx, extension.ID))
	_, err = f.catalog.GetExtension(ctx, extension.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCatalog_ExportDisabled(t *testing.T) {
	f := setup(t)
	f.catalog.exporter = nil

	_, _, err := f.catalog.ExportVersion(context.TODO(), 1)
	assert.ErrorIs(t, err, ErrExportDisabled)
}
