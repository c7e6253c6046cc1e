package version

import (
	"context"
	"errors"
	"fmt"

	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCorruptionThreshold = 0.05
	copyBatchSize              = 500
)

var (
	ErrVersionIsCurrent = errors.New("dataset version is current")
	ErrNoCurrentVersion = errors.New("dataset has no current version")
	ErrDatasetInactive  = errors.New("dataset is not active")
)

// Manager creates, promotes and deletes dataset versions.
type Manager struct {
	store     store.Store
	threshold float64
}

func NewManager(s store.Store, threshold float64) *Manager {
	return &Manager{
		store:     s,
		threshold: threshold,
	}
}

// EnsureVersion returns the latest version of the dataset, creating the
// current version "001" when the dataset has none yet.
func (m *Manager) EnsureVersion(ctx context.Context, dataset *model.Dataset) (*model.DatasetVersion, error) {
	latest, err := m.store.GetLatestVersion(ctx, dataset.ID)
	if err == nil {
		return latest, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	return m.CreateVersion(ctx, dataset)
}

// CreateVersion creates the next version of the dataset. Every collection of the
// current version is forwarded into it without copying documents.
// The first version of a dataset is created current.
func (m *Manager) CreateVersion(ctx context.Context, dataset *model.Dataset) (*model.DatasetVersion, error) {
	return m.create(ctx, dataset, true, nil)
}

// CreateEmptyVersion creates the next version of the dataset without any collections.
func (m *Manager) CreateEmptyVersion(ctx context.Context, dataset *model.Dataset) (*model.DatasetVersion, error) {
	return m.create(ctx, dataset, false, nil)
}

// FillFunc populates a version inside the transaction that creates it.
type FillFunc func(ctx context.Context, tx store.Store, version *model.DatasetVersion) error

// CreateFilledVersion creates the next version of the dataset and runs fill in the same
// transaction. When fill fails the version is never committed.
func (m *Manager) CreateFilledVersion(ctx context.Context, dataset *model.Dataset, fill FillFunc) (*model.DatasetVersion, error) {
	return m.create(ctx, dataset, false, fill)
}

func (m *Manager) create(ctx context.Context, dataset *model.Dataset, forward bool, fill FillFunc) (*model.DatasetVersion, error) {
	if !dataset.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrDatasetInactive, dataset.Name)
	}

	var version *model.DatasetVersion
	err := m.store.Transaction(ctx, func(tx store.Store) error {
		if _, err := tx.LockDataset(ctx, dataset.ID); err != nil {
			return err
		}

		number := 1
		latest, err := tx.GetLatestVersion(ctx, dataset.ID)
		if err == nil {
			number = latest.VersionNumber() + 1
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		current, err := tx.GetCurrentVersion(ctx, dataset.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		version = &model.DatasetVersion{
			DatasetID: dataset.ID,
			Version:   model.FormatVersion(number),
			IsCurrent: current == nil,
		}
		if err := tx.CreateVersion(ctx, version); err != nil {
			return err
		}
		version.Dataset = dataset

		if fill != nil {
			return fill(ctx, tx, version)
		}
		if current == nil || !forward {
			return nil
		}

		collections, err := tx.ListCollections(ctx, current.ID)
		if err != nil {
			return err
		}
		for _, collection := range collections {
			source := collection.DocumentSource()
			forwarded := &model.Collection{
				Name:             collection.Name,
				DatasetVersionID: &version.ID,
				ForwardedFromID:  &source,
			}
			if err := tx.CreateCollection(ctx, forwarded); err != nil {
				return err
			}
		}

		logrus.Infof("created version %s of dataset %s with %d forwarded collections", version.Version, dataset.Name, len(collections))

		return nil
	})
	if err != nil {
		return nil, err
	}

	return version, nil
}

// Collection returns the materialized collection with name in the version,
// creating it when the version has none.
func (m *Manager) Collection(ctx context.Context, version *model.DatasetVersion, name string) (*model.Collection, error) {
	collection, err := m.store.GetCollectionByName(ctx, version.ID, name)
	if errors.Is(err, store.ErrNotFound) {
		collection = &model.Collection{
			Name:             name,
			DatasetVersionID: &version.ID,
		}
		if err := m.store.CreateCollection(ctx, collection); err != nil {
			return nil, err
		}
		return collection, nil
	}
	if err != nil {
		return nil, err
	}

	if err := m.Materialize(ctx, collection); err != nil {
		return nil, err
	}

	return collection, nil
}

// Materialize copies the shared documents of a forwarded collection into the
// collection itself, so it can be mutated without touching older versions.
func (m *Manager) Materialize(ctx context.Context, collection *model.Collection) error {
	if !collection.IsForwarded() {
		return nil
	}

	return m.store.Transaction(ctx, func(tx store.Store) error {
		return materialize(ctx, tx, collection)
	})
}

func materialize(ctx context.Context, tx store.Store, collection *model.Collection) error {
	source := *collection.ForwardedFromID

	copied, err := tx.CopyDocuments(ctx, source, collection, copyBatchSize)
	if err != nil {
		return err
	}

	collection.ForwardedFromID = nil
	if err := tx.UpdateCollection(ctx, collection); err != nil {
		collection.ForwardedFromID = &source
		return err
	}

	logrus.Debugf("materialized collection %s (%d) with %d documents", collection.Name, collection.ID, copied)

	return nil
}

// Promote makes the version current. Collections that lost too many active
// documents against the current version fall back to the data of the current
// version, the corrupted documents are de-linked. Everything happens in one
// transaction so no partial promotion is ever visible.
func (m *Manager) Promote(ctx context.Context, versionID uint) (*PromotionReport, error) {
	var report *PromotionReport
	err := m.store.Transaction(ctx, func(tx store.Store) error {
		version, err := tx.GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if _, err := tx.LockDataset(ctx, version.DatasetID); err != nil {
			return err
		}
		if version.IsCurrent {
			return fmt.Errorf("%w: %s", ErrVersionIsCurrent, version.Version)
		}

		report = &PromotionReport{Version: version}

		current, err := tx.GetCurrentVersion(ctx, version.DatasetID)
		if errors.Is(err, store.ErrNotFound) {
			return tx.SetCurrentVersion(ctx, version.DatasetID, version.ID)
		}
		if err != nil {
			return err
		}
		report.Previous = current

		collections, err := tx.ListCollections(ctx, version.ID)
		if err != nil {
			return err
		}
		names := make(map[string]bool, len(collections))
		for _, collection := range collections {
			names[collection.Name] = true
			entry, err := m.resolve(ctx, tx, version, current, collection)
			if err != nil {
				return fmt.Errorf("failed to resolve collection %s: %w", collection.Name, err)
			}
			report.Collections = append(report.Collections, entry)
		}

		// a collection absent from the version lost all of its documents
		previous, err := tx.ListCollections(ctx, current.ID)
		if err != nil {
			return err
		}
		for _, collection := range previous {
			if names[collection.Name] {
				continue
			}
			entry, err := m.resolveMissing(ctx, tx, version, collection)
			if err != nil {
				return fmt.Errorf("failed to resolve missing collection %s: %w", collection.Name, err)
			}
			report.Collections = append(report.Collections, entry)
		}

		return tx.SetCurrentVersion(ctx, version.DatasetID, version.ID)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(report.Fields()).Infof("promoted version %s", report.Version.Version)
	for _, name := range report.FallbackNames() {
		logrus.Warnf("collection %s of version %s fell back to version %s", name, report.Version.Version, report.Previous.Version)
	}

	return report, nil
}

func (m *Manager) resolve(ctx context.Context, tx store.Store, version, current *model.DatasetVersion, collection *model.Collection) (CollectionReport, error) {
	entry := CollectionReport{Name: collection.Name}

	documents, err := tx.CountDocuments(ctx, collection.DocumentSource(), model.DocumentStateActive)
	if err != nil {
		return entry, err
	}
	entry.Documents = documents

	previous, err := tx.GetCollectionByName(ctx, current.ID, collection.Name)
	if errors.Is(err, store.ErrNotFound) {
		return entry, nil
	}
	if err != nil {
		return entry, err
	}

	entry.PreviousDocuments, err = tx.CountDocuments(ctx, previous.DocumentSource(), model.DocumentStateActive)
	if err != nil {
		return entry, err
	}

	if collection.IsForwarded() || !Corrupted(entry.Documents, entry.PreviousDocuments, m.threshold) {
		return entry, nil
	}

	if err := tx.DelinkCollection(ctx, collection.ID); err != nil {
		return entry, err
	}
	if err := fallBack(ctx, tx, version, previous); err != nil {
		return entry, err
	}

	entry.FellBack = true
	entry.Delinked = collection.ID

	return entry, nil
}

// resolveMissing handles a collection of the current version that the promoted version lacks.
func (m *Manager) resolveMissing(ctx context.Context, tx store.Store, version *model.DatasetVersion, previous *model.Collection) (CollectionReport, error) {
	entry := CollectionReport{Name: previous.Name, Missing: true}

	var err error
	entry.PreviousDocuments, err = tx.CountDocuments(ctx, previous.DocumentSource(), model.DocumentStateActive)
	if err != nil {
		return entry, err
	}
	if !Corrupted(0, entry.PreviousDocuments, m.threshold) {
		return entry, nil
	}

	if err := fallBack(ctx, tx, version, previous); err != nil {
		return entry, err
	}
	entry.FellBack = true

	return entry, nil
}

// fallBack adds a copy of the previous collection to the version.
func fallBack(ctx context.Context, tx store.Store, version *model.DatasetVersion, previous *model.Collection) error {
	fallback := &model.Collection{
		Name:             previous.Name,
		DatasetVersionID: &version.ID,
	}
	if err := tx.CreateCollection(ctx, fallback); err != nil {
		return err
	}
	_, err := tx.CopyDocuments(ctx, previous.DocumentSource(), fallback, copyBatchSize)
	return err
}

// Corrupted reports whether a collection that went from previous to documents
// active documents lost more than the tolerated share.
func Corrupted(documents, previous int64, threshold float64) bool {
	return float64(documents) < threshold*float64(previous)
}

// DeleteVersion deletes a historical version with its collections and documents.
// Collections of newer versions still sharing its documents are materialized first.
func (m *Manager) DeleteVersion(ctx context.Context, versionID uint) error {
	return m.store.Transaction(ctx, func(tx store.Store) error {
		version, err := tx.GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if _, err := tx.LockDataset(ctx, version.DatasetID); err != nil {
			return err
		}
		if version.IsCurrent {
			return fmt.Errorf("%w: %s", ErrVersionIsCurrent, version.Version)
		}

		collections, err := tx.ListCollections(ctx, version.ID)
		if err != nil {
			return err
		}
		ids := make([]uint, 0, len(collections))
		for _, collection := range collections {
			ids = append(ids, collection.ID)
		}

		dependents, err := tx.ListForwardedCollections(ctx, ids)
		if err != nil {
			return err
		}
		for _, dependent := range dependents {
			if err := materialize(ctx, tx, dependent); err != nil {
				return err
			}
		}

		if err := tx.DeleteVersion(ctx, version.ID); err != nil {
			return err
		}

		logrus.Infof("deleted version %s of dataset %d, materialized %d dependent collections", version.Version, version.DatasetID, len(dependents))

		return nil
	})
}

// Historical returns the non-current versions of a dataset beyond the keep most recent ones.
func (m *Manager) Historical(ctx context.Context, datasetID uint, keep int) ([]*model.DatasetVersion, error) {
	versions, err := m.store.ListVersions(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	var out []*model.DatasetVersion
	kept := 0
	for _, version := range versions {
		if version.IsCurrent {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		out = append(out, version)
	}

	return out, nil
}
