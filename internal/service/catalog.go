package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/emrgen/catalog/internal/cache"
	"github.com/emrgen/catalog/internal/export"
	"github.com/emrgen/catalog/internal/harvest"
	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/queue"
	"github.com/emrgen/catalog/internal/search"
	"github.com/emrgen/catalog/internal/store"
	"github.com/emrgen/catalog/internal/version"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Catalog is the entry point used by the admin API, the CLI and the scheduled jobs.
type Catalog struct {
	store       store.Store
	versions    *version.Manager
	coordinator *harvest.Coordinator
	sync        *search.Synchronizer
	exporter    *export.Exporter
	reports     cache.ReportCache
	events      queue.EventQueue
	modules     []string
	now         func() time.Time
}

// Options wires the collaborators of a Catalog. Exporter may be nil.
type Options struct {
	Store       store.Store
	Versions    *version.Manager
	Coordinator *harvest.Coordinator
	Sync        *search.Synchronizer
	Exporter    *export.Exporter
	Reports     cache.ReportCache
	Events      queue.EventQueue
	// Modules lists the seed source modules sources may use.
	Modules []string
}

func NewCatalog(opts Options) *Catalog {
	reports := opts.Reports
	if reports == nil {
		reports = cache.NewMemoryReportCache()
	}
	events := opts.Events
	if events == nil {
		events = queue.NewMemoryQueue()
	}

	return &Catalog{
		store:       opts.Store,
		versions:    opts.Versions,
		coordinator: opts.Coordinator,
		sync:        opts.Sync,
		exporter:    opts.Exporter,
		reports:     reports,
		events:      events,
		modules:     opts.Modules,
		now:         time.Now,
	}
}

// CreateDataset creates an active dataset.
func (c *Catalog) CreateDataset(ctx context.Context, name string) (*model.Dataset, error) {
	if !model.ValidDatasetName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDatasetName, name)
	}

	dataset := &model.Dataset{Name: name, IsActive: true}
	if err := c.store.CreateDataset(ctx, dataset); err != nil {
		return nil, err
	}

	logrus.Infof("created dataset %s", name)

	return dataset, nil
}

func (c *Catalog) GetDataset(ctx context.Context, name string) (*model.Dataset, error) {
	return c.store.GetDatasetByName(ctx, name)
}

func (c *Catalog) ListDatasets(ctx context.Context, activeOnly bool) ([]*model.Dataset, error) {
	return c.store.ListDatasets(ctx, activeOnly)
}

// CreateSource registers an external repository under a module the seed registry knows.
func (c *Catalog) CreateSource(ctx context.Context, source *model.Source) error {
	if source.Name == "" || source.Endpoint == "" || !slices.Contains(c.modules, source.Module) {
		return fmt.Errorf("%w: %s (%s)", ErrInvalidSource, source.Name, source.Module)
	}
	return c.store.CreateSource(ctx, source)
}

// AddHarvest starts harvesting the named source into the dataset.
func (c *Catalog) AddHarvest(ctx context.Context, datasetName, sourceName string) (*model.Harvest, error) {
	dataset, err := c.store.GetDatasetByName(ctx, datasetName)
	if err != nil {
		return nil, err
	}
	source, err := c.store.GetSourceByName(ctx, sourceName)
	if err != nil {
		return nil, err
	}

	h := &model.Harvest{DatasetID: dataset.ID, SourceID: source.ID}
	if err := c.store.CreateHarvest(ctx, h); err != nil {
		return nil, err
	}
	h.Dataset = dataset
	h.Source = source

	return h, nil
}

func (c *Catalog) ListHarvests(ctx context.Context, datasetName string) ([]*model.Harvest, error) {
	dataset, err := c.store.GetDatasetByName(ctx, datasetName)
	if err != nil {
		return nil, err
	}
	return c.store.ListHarvests(ctx, dataset.ID)
}

// RunHarvests runs every harvest of the dataset once.
func (c *Catalog) RunHarvests(ctx context.Context, datasetName string) ([]*harvest.RunResult, error) {
	dataset, err := c.store.GetDatasetByName(ctx, datasetName)
	if err != nil {
		return nil, err
	}
	return c.runHarvests(ctx, dataset)
}

func (c *Catalog) runHarvests(ctx context.Context, dataset *model.Dataset) ([]*harvest.RunResult, error) {
	results, err := c.coordinator.RunDue(ctx, dataset)
	if err != nil {
		return results, err
	}
	c.report(ctx, dataset.Name, cache.ReportHarvest, results)

	return results, nil
}

func (c *Catalog) RunHarvest(ctx context.Context, harvestID uint) (*harvest.RunResult, error) {
	return c.coordinator.Run(ctx, harvestID)
}

// ResetHarvest forces a full re-harvest of the source on the next run.
func (c *Catalog) ResetHarvest(ctx context.Context, harvestID uint) error {
	return c.coordinator.Reset(ctx, harvestID)
}

func (c *Catalog) ListVersions(ctx context.Context, datasetName string) ([]*model.DatasetVersion, error) {
	dataset, err := c.store.GetDatasetByName(ctx, datasetName)
	if err != nil {
		return nil, err
	}
	return c.store.ListVersions(ctx, dataset.ID)
}

func (c *Catalog) GetVersion(ctx context.Context, versionID uint) (*model.DatasetVersion, error) {
	return c.store.GetVersion(ctx, versionID)
}

// CreateVersion starts a new version of the dataset that forwards the collections of the current one.
func (c *Catalog) CreateVersion(ctx context.Context, datasetName string) (*model.DatasetVersion, error) {
	dataset, err := c.store.GetDatasetByName(ctx, datasetName)
	if err != nil {
		return nil, err
	}

	v, err := c.versions.CreateVersion(ctx, dataset)
	if err != nil {
		return nil, err
	}
	c.publish(ctx, queue.EventVersionCreated, dataset.Name, v.Version, nil)

	return v, nil
}

// PromoteVersion makes the version current, falling back to the previous
// collections where the new ones look corrupted.
func (c *Catalog) PromoteVersion(ctx context.Context, versionID uint) (*version.PromotionReport, error) {
	report, err := c.versions.Promote(ctx, versionID)
	if err != nil {
		return nil, err
	}

	v := report.Version
	c.report(ctx, v.Dataset.Name, cache.ReportPromotion, report)
	c.publish(ctx, queue.EventVersionPromoted, v.Dataset.Name, v.Version, report)

	return report, nil
}

// PromoteIfComplete promotes the latest version of the dataset once every harvest
// reached the complete stage. It returns nil when nothing was promoted.
func (c *Catalog) PromoteIfComplete(ctx context.Context, dataset *model.Dataset) (*version.PromotionReport, error) {
	latest, err := c.store.GetLatestVersion(ctx, dataset.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if latest.IsCurrent {
		return nil, nil
	}

	complete, err := c.coordinator.Complete(ctx, dataset)
	if err != nil || !complete {
		return nil, err
	}

	report, err := c.PromoteVersion(ctx, latest.ID)
	if errors.Is(err, store.ErrBusy) {
		logrus.Infof("dataset %s is busy, promotion postponed", dataset.Name)
		return nil, nil
	}
	return report, err
}

// DeleteVersion drops the remote indices of a historical version and deletes it.
func (c *Catalog) DeleteVersion(ctx context.Context, versionID uint) error {
	v, err := c.store.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if v.IsCurrent {
		return fmt.Errorf("%w: %s", version.ErrVersionIsCurrent, v.Version)
	}

	if err := c.sync.DropVersion(ctx, versionID); err != nil {
		return err
	}
	if err := c.versions.DeleteVersion(ctx, versionID); err != nil {
		return err
	}
	c.publish(ctx, queue.EventVersionDeleted, v.Dataset.Name, v.Version, nil)

	return nil
}

// CleanupResult reports one retention pass over a dataset.
type CleanupResult struct {
	Dataset  string   `json:"dataset"`
	Deleted  []string `json:"deleted"`
	Exported []string `json:"exported,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// CleanupVersions deletes the historical versions beyond the keep most recent ones,
// dumping each first when exportFirst is set. A version whose dump fails is kept.
func (c *Catalog) CleanupVersions(ctx context.Context, dataset *model.Dataset, keep int, exportFirst bool) (*CleanupResult, error) {
	historical, err := c.versions.Historical(ctx, dataset.ID, keep)
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{Dataset: dataset.Name}
	for _, v := range historical {
		if exportFirst && c.exporter != nil {
			key, _, err := c.exporter.Dump(ctx, v.ID)
			if err != nil {
				logrus.Errorf("failed to export %s %s, keeping it: %v", dataset.Name, v.Version, err)
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.Exported = append(result.Exported, key)
		}

		if err := c.DeleteVersion(ctx, v.ID); err != nil {
			logrus.Errorf("failed to delete %s %s: %v", dataset.Name, v.Version, err)
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Deleted = append(result.Deleted, v.Version)
	}

	if len(historical) > 0 {
		c.report(ctx, dataset.Name, cache.ReportCleanup, result)
	}

	return result, nil
}

// RebuildIndex pushes the whole version to the index of the language.
func (c *Catalog) RebuildIndex(ctx context.Context, versionID uint, language string, opts search.Options) (*search.PushResult, error) {
	v, err := c.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	result, err := c.sync.Rebuild(ctx, versionID, language, opts)
	if result != nil && !result.Busy {
		c.pushed(ctx, v.Dataset.Name, []*search.PushResult{result})
	}
	return result, err
}

// SyncIndices brings every language index of the current version of the dataset up to date.
func (c *Catalog) SyncIndices(ctx context.Context, datasetName string) ([]*search.PushResult, error) {
	dataset, err := c.store.GetDatasetByName(ctx, datasetName)
	if err != nil {
		return nil, err
	}
	return c.syncIndices(ctx, dataset)
}

func (c *Catalog) syncIndices(ctx context.Context, dataset *model.Dataset) ([]*search.PushResult, error) {
	results, err := c.sync.SyncCurrent(ctx, dataset)
	c.pushed(ctx, dataset.Name, results)
	return results, err
}

// Cycle runs the harvests of a dataset, promotes its latest version when they are
// complete and brings the indices of the current version up to date.
func (c *Catalog) Cycle(ctx context.Context, dataset *model.Dataset) error {
	if _, err := c.runHarvests(ctx, dataset); err != nil {
		return err
	}

	report, err := c.PromoteIfComplete(ctx, dataset)
	if err != nil {
		return err
	}

	if report == nil {
		_, err = c.syncIndices(ctx, dataset)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	// the new current version takes over the latest aliases
	var errs []error
	for _, language := range c.sync.Languages() {
		if _, err := c.RebuildIndex(ctx, report.Version.ID, language, search.Options{Promote: true}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Catalog) pushed(ctx context.Context, dataset string, results []*search.PushResult) {
	var pushed []*search.PushResult
	for _, result := range results {
		if result == nil || result.Busy || result.Skipped {
			continue
		}
		pushed = append(pushed, result)
		c.publish(ctx, queue.EventIndexPushed, dataset, result.Version, result)
		if result.AliasSwapped {
			c.publish(ctx, queue.EventAliasSwapped, dataset, result.Version, result)
		}
	}
	if len(pushed) > 0 {
		c.report(ctx, dataset, cache.ReportPush, pushed)
	}
}

// SaveExtension creates or updates an extension of the dataset.
// An extension without id gets a fresh one.
func (c *Catalog) SaveExtension(ctx context.Context, datasetName string, extension *model.Extension) error {
	dataset, err := c.store.GetDatasetByName(ctx, datasetName)
	if err != nil {
		return err
	}

	now := c.now().UTC().Truncate(time.Microsecond)
	if extension.ID == "" {
		extension.ID = uuid.NewString()
	}

	existing, err := c.store.GetExtension(ctx, extension.ID)
	switch {
	case err == nil:
		if existing.DatasetID != dataset.ID {
			return fmt.Errorf("%w: extension %s", ErrDatasetMismatch, extension.ID)
		}
		extension.CreatedAt = existing.CreatedAt
		if !now.After(existing.ModifiedAt) {
			now = existing.ModifiedAt.Add(time.Microsecond)
		}
	case errors.Is(err, store.ErrNotFound):
		extension.CreatedAt = now
	default:
		return err
	}

	extension.DatasetID = dataset.ID
	extension.ModifiedAt = now
	extension.Language = model.DetectLanguage(extension.Properties)
	if extension.Language == "" {
		extension.Language = model.UnknownLanguage
	}
	if extension.Properties == nil {
		extension.Properties = map[string]any{}
	}

	return c.store.SaveExtension(ctx, extension)
}

func (c *Catalog) GetExtension(ctx context.Context, id string) (*model.Extension, error) {
	return c.store.GetExtension(ctx, id)
}

// DeleteExtension soft deletes an extension. The next delta push removes it from search.
func (c *Catalog) DeleteExtension(ctx context.Context, id string) error {
	existing, err := c.store.GetExtension(ctx, id)
	if err != nil {
		return err
	}

	now := c.now().UTC().Truncate(time.Microsecond)
	if !now.After(existing.ModifiedAt) {
		now = existing.ModifiedAt.Add(time.Microsecond)
	}
	return c.store.DeleteExtension(ctx, id, now)
}

// ExportVersion dumps a version to the export store and returns the object key.
func (c *Catalog) ExportVersion(ctx context.Context, versionID uint) (string, int, error) {
	if c.exporter == nil {
		return "", 0, ErrExportDisabled
	}
	return c.exporter.Dump(ctx, versionID)
}

// ImportVersion loads a dump as a new, non-current version of the dataset.
func (c *Catalog) ImportVersion(ctx context.Context, datasetName, key string) (*model.DatasetVersion, int, error) {
	if c.exporter == nil {
		return nil, 0, ErrExportDisabled
	}
	dataset, err := c.store.GetDatasetByName(ctx, datasetName)
	if err != nil {
		return nil, 0, err
	}

	v, count, err := c.exporter.Load(ctx, dataset, key)
	if err != nil {
		return nil, count, err
	}
	c.publish(ctx, queue.EventVersionCreated, dataset.Name, v.Version, map[string]any{"import": key, "documents": count})

	return v, count, nil
}

// Reports returns the latest run reports of the dataset.
func (c *Catalog) Reports(ctx context.Context, datasetName string) (map[cache.ReportKind]json.RawMessage, error) {
	if _, err := c.store.GetDatasetByName(ctx, datasetName); err != nil {
		return nil, err
	}
	return c.reports.Reports(ctx, datasetName)
}

// report stores a run report. Failures are logged and never abort the run.
func (c *Catalog) report(ctx context.Context, dataset string, kind cache.ReportKind, report any) {
	if err := c.reports.SetReport(ctx, dataset, kind, report); err != nil {
		logrus.Warnf("failed to store %s report of %s: %v", kind, dataset, err)
	}
}

// publish sends a catalog event. Failures are logged and never abort the run.
func (c *Catalog) publish(ctx context.Context, eventType queue.EventType, dataset, version string, payload any) {
	event, err := queue.NewEvent(eventType, dataset, version, payload)
	if err == nil {
		err = c.events.Publish(ctx, event)
	}
	if err != nil {
		logrus.Warnf("failed to publish %s event of %s: %v", eventType, dataset, err)
	}
}
