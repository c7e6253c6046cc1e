package jobs

import (
	"context"
	"errors"
	"slices"

	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/search"
	"github.com/emrgen/catalog/internal/service"
	"github.com/sirupsen/logrus"
)

const (
	HarvestTaskName        = "harvest"
	DeltaSyncTaskName      = "delta_sync"
	VersionCleanupTaskName = "version_cleanup"
)

// Catalog is the part of the catalog service the scheduled tasks drive.
type Catalog interface {
	ListDatasets(ctx context.Context, activeOnly bool) ([]*model.Dataset, error)
	Cycle(ctx context.Context, dataset *model.Dataset) error
	SyncIndices(ctx context.Context, datasetName string) ([]*search.PushResult, error)
	CleanupVersions(ctx context.Context, dataset *model.Dataset, keep int, exportFirst bool) (*service.CleanupResult, error)
}

var _ Catalog = (*service.Catalog)(nil)

// datasets returns the active datasets, restricted to names when given.
func datasets(ctx context.Context, catalog Catalog, names []string) ([]*model.Dataset, error) {
	all, err := catalog.ListDatasets(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return all, nil
	}

	var out []*model.Dataset
	for _, dataset := range all {
		if slices.Contains(names, dataset.Name) {
			out = append(out, dataset)
		}
	}
	return out, nil
}

// eachDataset calls fn for every selected dataset and joins the failures.
func eachDataset(ctx context.Context, catalog Catalog, names []string, fn func(dataset *model.Dataset) error) error {
	selected, err := datasets(ctx, catalog, names)
	if err != nil {
		return err
	}

	var errs []error
	for _, dataset := range selected {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(dataset); err != nil {
			logrus.Errorf("dataset %s: %v", dataset.Name, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HarvestTask harvests the datasets, promotes complete versions and syncs the indices.
type HarvestTask struct {
	catalog  Catalog
	datasets []string
	cron     string
}

var _ CronJob = (*HarvestTask)(nil)

func NewHarvestTask(schedule string, catalog Catalog, datasets []string) *HarvestTask {
	return &HarvestTask{catalog: catalog, datasets: datasets, cron: schedule}
}

func (h *HarvestTask) Name() string {
	return HarvestTaskName
}

func (h *HarvestTask) Schedule() string {
	return h.cron
}

func (h *HarvestTask) Run(ctx context.Context) error {
	return eachDataset(ctx, h.catalog, h.datasets, func(dataset *model.Dataset) error {
		return h.catalog.Cycle(ctx, dataset)
	})
}

// DeltaSyncTask pushes the changes of the current versions to their indices.
type DeltaSyncTask struct {
	catalog Catalog
	cron    string
}

var _ CronJob = (*DeltaSyncTask)(nil)

func NewDeltaSyncTask(schedule string, catalog Catalog) *DeltaSyncTask {
	return &DeltaSyncTask{catalog: catalog, cron: schedule}
}

func (d *DeltaSyncTask) Name() string {
	return DeltaSyncTaskName
}

func (d *DeltaSyncTask) Schedule() string {
	return d.cron
}

func (d *DeltaSyncTask) Run(ctx context.Context) error {
	return eachDataset(ctx, d.catalog, nil, func(dataset *model.Dataset) error {
		_, err := d.catalog.SyncIndices(ctx, dataset.Name)
		return err
	})
}

// VersionCleanupTask deletes historical versions beyond the retention limit.
type VersionCleanupTask struct {
	catalog     Catalog
	keep        int
	exportFirst bool
	cron        string
}

var _ CronJob = (*VersionCleanupTask)(nil)

func NewVersionCleanupTask(schedule string, catalog Catalog, keep int, exportFirst bool) *VersionCleanupTask {
	return &VersionCleanupTask{catalog: catalog, keep: keep, exportFirst: exportFirst, cron: schedule}
}

func (v *VersionCleanupTask) Name() string {
	return VersionCleanupTaskName
}

func (v *VersionCleanupTask) Schedule() string {
	return v.cron
}

func (v *VersionCleanupTask) Run(ctx context.Context) error {
	return eachDataset(ctx, v.catalog, nil, func(dataset *model.Dataset) error {
		result, err := v.catalog.CleanupVersions(ctx, dataset, v.keep, v.exportFirst)
		if err != nil {
			return err
		}
		if len(result.Deleted) > 0 {
			logrus.Infof("removed versions %v of dataset %s", result.Deleted, dataset.Name)
		}
		return nil
	})
}
