package store

import (
	"context"
	"time"

	"github.com/emrgen/catalog/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db: db,
	}
}

var _ Store = (*GormStore)(nil)

type GormStore struct {
	db *gorm.DB
}

// lockForUpdate adds SELECT ... FOR UPDATE NOWAIT to the query.
// Dialects without row locks (sqlite) drop the clause.
func lockForUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"})
}

func (g *GormStore) CreateDataset(ctx context.Context, dataset *model.Dataset) error {
	return g.db.WithContext(ctx).Create(dataset).Error
}

func (g *GormStore) GetDataset(ctx context.Context, id uint) (*model.Dataset, error) {
	var dataset model.Dataset
	err := g.db.WithContext(ctx).First(&dataset, id).Error
	if err != nil {
		return nil, classify(err)
	}
	return &dataset, nil
}

func (g *GormStore) GetDatasetByName(ctx context.Context, name string) (*model.Dataset, error) {
	var dataset model.Dataset
	err := g.db.WithContext(ctx).Where("name = ?", name).First(&dataset).Error
	if err != nil {
		return nil, classify(err)
	}
	return &dataset, nil
}

func (g *GormStore) ListDatasets(ctx context.Context, activeOnly bool) ([]*model.Dataset, error) {
	var datasets []*model.Dataset
	query := g.db.WithContext(ctx).Order("id")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Find(&datasets).Error
	return datasets, err
}

func (g *GormStore) LockDataset(ctx context.Context, id uint) (*model.Dataset, error) {
	var dataset model.Dataset
	err := lockForUpdate(g.db.WithContext(ctx)).First(&dataset, id).Error
	if err != nil {
		return nil, classify(err)
	}
	return &dataset, nil
}

func (g *GormStore) CreateVersion(ctx context.Context, version *model.DatasetVersion) error {
	return g.db.WithContext(ctx).Omit(clause.Associations).Create(version).Error
}

func (g *GormStore) GetVersion(ctx context.Context, id uint) (*model.DatasetVersion, error) {
	var version model.DatasetVersion
	err := g.db.WithContext(ctx).Preload("Dataset").First(&version, id).Error
	if err != nil {
		return nil, classify(err)
	}
	return &version, nil
}

func (g *GormStore) GetCurrentVersion(ctx context.Context, datasetID uint) (*model.DatasetVersion, error) {
	var version model.DatasetVersion
	err := g.db.WithContext(ctx).Preload("Dataset").
		Where("dataset_id = ? AND is_current = ?", datasetID, true).
		First(&version).Error
	if err != nil {
		return nil, classify(err)
	}
	return &version, nil
}

func (g *GormStore) GetLatestVersion(ctx context.Context, datasetID uint) (*model.DatasetVersion, error) {
	var version model.DatasetVersion
	err := g.db.WithContext(ctx).Preload("Dataset").
		Where("dataset_id = ?", datasetID).
		Order("id desc").
		First(&version).Error
	if err != nil {
		return nil, classify(err)
	}
	return &version, nil
}

func (g *GormStore) ListVersions(ctx context.Context, datasetID uint) ([]*model.DatasetVersion, error) {
	var versions []*model.DatasetVersion
	err := g.db.WithContext(ctx).Preload("Dataset").
		Where("dataset_id = ?", datasetID).
		Order("id desc").
		Find(&versions).Error
	return versions, err
}

func (g *GormStore) CountCurrentVersions(ctx context.Context, datasetID uint) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&model.DatasetVersion{}).
		Where("dataset_id = ? AND is_current = ?", datasetID, true).
		Count(&count).Error
	return count, err
}

func (g *GormStore) SetCurrentVersion(ctx context.Context, datasetID, versionID uint) error {
	return g.Transaction(ctx, func(tx Store) error {
		db := tx.(*GormStore).db.WithContext(ctx)

		err := db.Model(&model.DatasetVersion{}).
			Where("dataset_id = ? AND is_current = ?", datasetID, true).
			Update("is_current", false).Error
		if err != nil {
			return err
		}

		res := db.Model(&model.DatasetVersion{}).
			Where("id = ? AND dataset_id = ?", versionID, datasetID).
			Update("is_current", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		return nil
	})
}

func (g *GormStore) DeleteVersion(ctx context.Context, id uint) error {
	return g.Transaction(ctx, func(tx Store) error {
		db := tx.(*GormStore).db.WithContext(ctx)

		docs := db.Where("dataset_version_id = ?", id).Delete(&model.Document{})
		if docs.Error != nil {
			return docs.Error
		}

		if err := db.Where("dataset_version_id = ?", id).Delete(&model.Collection{}).Error; err != nil {
			return err
		}

		if err := db.Where("dataset_version_id = ?", id).Delete(&model.SearchIndex{}).Error; err != nil {
			return err
		}

		res := db.Delete(&model.DatasetVersion{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		logrus.Infof("deleted dataset version %d with %d documents", id, docs.RowsAffected)

		return nil
	})
}

func (g *GormStore) CreateCollection(ctx context.Context, collection *model.Collection) error {
	return g.db.WithContext(ctx).Create(collection).Error
}

func (g *GormStore) GetCollection(ctx context.Context, id uint) (*model.Collection, error) {
	var collection model.Collection
	err := g.db.WithContext(ctx).First(&collection, id).Error
	if err != nil {
		return nil, classify(err)
	}
	return &collection, nil
}

func (g *GormStore) GetCollectionByName(ctx context.Context, versionID uint, name string) (*model.Collection, error) {
	var collection model.Collection
	err := g.db.WithContext(ctx).
		Where("dataset_version_id = ? AND name = ?", versionID, name).
		First(&collection).Error
	if err != nil {
		return nil, classify(err)
	}
	return &collection, nil
}

func (g *GormStore) ListCollections(ctx context.Context, versionID uint) ([]*model.Collection, error) {
	var collections []*model.Collection
	err := g.db.WithContext(ctx).
		Where("dataset_version_id = ?", versionID).
		Order("name").
		Find(&collections).Error
	return collections, err
}

func (g *GormStore) ListForwardedCollections(ctx context.Context, sourceIDs []uint) ([]*model.Collection, error) {
	var collections []*model.Collection
	if len(sourceIDs) == 0 {
		return collections, nil
	}
	err := g.db.WithContext(ctx).
		Where("forwarded_from_id IN ?", sourceIDs).
		Order("id").
		Find(&collections).Error
	return collections, err
}

func (g *GormStore) UpdateCollection(ctx context.Context, collection *model.Collection) error {
	return g.db.WithContext(ctx).Save(collection).Error
}

func (g *GormStore) DelinkCollection(ctx context.Context, id uint) error {
	return g.Transaction(ctx, func(tx Store) error {
		db := tx.(*GormStore).db.WithContext(ctx)

		err := db.Model(&model.Document{}).
			Where("collection_id = ?", id).
			Update("dataset_version_id", nil).Error
		if err != nil {
			return err
		}

		return db.Model(&model.Collection{}).
			Where("id = ?", id).
			Update("dataset_version_id", nil).Error
	})
}

func (g *GormStore) CopyDocuments(ctx context.Context, fromID uint, to *model.Collection, batchSize int) (int64, error) {
	var copied int64
	var batch []*model.Document

	db := g.db.WithContext(ctx)
	err := db.Where("collection_id = ?", fromID).FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
		copies := make([]*model.Document, 0, len(batch))
		for _, doc := range batch {
			clone := *doc
			clone.ID = 0
			clone.CollectionID = &to.ID
			clone.DatasetVersionID = to.DatasetVersionID
			copies = append(copies, &clone)
		}

		if err := db.Create(&copies).Error; err != nil {
			return err
		}
		copied += int64(len(copies))

		return nil
	}).Error

	return copied, err
}

func (g *GormStore) CountDocuments(ctx context.Context, collectionID uint, state model.DocumentState) (int64, error) {
	var count int64
	query := g.db.WithContext(ctx).Model(&model.Document{}).Where("collection_id = ?", collectionID)
	if state != "" {
		query = query.Where("state = ?", state)
	}
	err := query.Count(&count).Error
	return count, err
}

func (g *GormStore) FindDocumentsByReferences(ctx context.Context, collectionID uint, references []string) ([]*model.Document, error) {
	var docs []*model.Document
	if len(references) == 0 {
		return docs, nil
	}
	err := g.db.WithContext(ctx).
		Where("collection_id = ? AND reference IN ?", collectionID, references).
		Find(&docs).Error
	return docs, err
}

func (g *GormStore) CreateDocuments(ctx context.Context, docs []*model.Document) error {
	if len(docs) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Create(&docs).Error
}

func (g *GormStore) UpdateDocument(ctx context.Context, doc *model.Document) error {
	return g.db.WithContext(ctx).Save(doc).Error
}

func (g *GormStore) MarkDocumentsDeleted(ctx context.Context, collectionID uint, references []string, at time.Time) (int64, error) {
	if len(references) == 0 {
		return 0, nil
	}
	res := g.db.WithContext(ctx).Model(&model.Document{}).
		Where("collection_id = ? AND reference IN ? AND state <> ?", collectionID, references, model.DocumentStateDeleted).
		Updates(map[string]any{
			"state":       model.DocumentStateDeleted,
			"modified_at": at,
		})
	return res.RowsAffected, res.Error
}

func (g *GormStore) IterateDocuments(ctx context.Context, filter DocumentFilter, batchSize int, fn func(docs []*model.Document) error) error {
	// documents are always scoped to collections
	if len(filter.CollectionIDs) == 0 {
		return nil
	}

	query := g.db.WithContext(ctx).Where("collection_id IN ?", filter.CollectionIDs)
	if filter.Language != "" {
		query = query.Where("language = ?", filter.Language)
	}
	if len(filter.NotLanguages) > 0 {
		query = query.Where("language NOT IN ?", filter.NotLanguages)
	}
	if len(filter.States) > 0 {
		query = query.Where("state IN ?", filter.States)
	}
	if filter.ModifiedSince != nil {
		query = query.Where("modified_at >= ?", *filter.ModifiedSince)
	}
	if len(filter.References) > 0 {
		query = query.Where("reference IN ?", filter.References)
	}

	var batch []*model.Document
	return query.FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}

func (g *GormStore) GetExtension(ctx context.Context, id string) (*model.Extension, error) {
	var extension model.Extension
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&extension).Error
	if err != nil {
		return nil, classify(err)
	}
	return &extension, nil
}

// SaveExtension upserts the extension, reviving it when it was soft deleted.
func (g *GormStore) SaveExtension(ctx context.Context, extension *model.Extension) error {
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(extension).Error
}

func (g *GormStore) DeleteExtension(ctx context.Context, id string, at time.Time) error {
	return g.Transaction(ctx, func(tx Store) error {
		db := tx.(*GormStore).db.WithContext(ctx)

		res := db.Model(&model.Extension{}).Where("id = ?", id).Update("modified_at", at)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		return db.Where("id = ?", id).Delete(&model.Extension{}).Error
	})
}

func (g *GormStore) ListExtensions(ctx context.Context, datasetID uint, ids []string) ([]*model.Extension, error) {
	var extensions []*model.Extension
	if len(ids) == 0 {
		return extensions, nil
	}
	err := g.db.WithContext(ctx).
		Where("dataset_id = ? AND id IN ?", datasetID, ids).
		Find(&extensions).Error
	return extensions, err
}

func (g *GormStore) IterateExtensions(ctx context.Context, filter ExtensionFilter, batchSize int, fn func(extensions []*model.Extension) error) error {
	query := g.db.WithContext(ctx).Where("dataset_id = ?", filter.DatasetID)
	if filter.IncludeDeleted {
		query = query.Unscoped()
	}
	if filter.Language != "" {
		query = query.Where("language = ?", filter.Language)
	}
	if len(filter.NotLanguages) > 0 {
		query = query.Where("language NOT IN ?", filter.NotLanguages)
	}
	if filter.AdditionsOnly {
		query = query.Where("is_addition = ?", true)
	}
	if filter.ModifiedSince != nil {
		query = query.Where("modified_at >= ?", *filter.ModifiedSince)
	}

	var batch []*model.Extension
	return query.FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}

func (g *GormStore) CreateSource(ctx context.Context, source *model.Source) error {
	return g.db.WithContext(ctx).Create(source).Error
}

func (g *GormStore) GetSourceByName(ctx context.Context, name string) (*model.Source, error) {
	var source model.Source
	err := g.db.WithContext(ctx).Where("name = ?", name).First(&source).Error
	if err != nil {
		return nil, classify(err)
	}
	return &source, nil
}

func (g *GormStore) CreateHarvest(ctx context.Context, harvest *model.Harvest) error {
	if harvest.LatestUpdateAt.IsZero() {
		harvest.LatestUpdateAt = model.BeginningOfTime
	}
	if harvest.Stage == "" {
		harvest.Stage = model.HarvestStageNew
	}
	return g.db.WithContext(ctx).Omit(clause.Associations).Create(harvest).Error
}

func (g *GormStore) GetHarvest(ctx context.Context, id uint) (*model.Harvest, error) {
	var harvest model.Harvest
	err := g.db.WithContext(ctx).Preload("Source").Preload("Dataset").First(&harvest, id).Error
	if err != nil {
		return nil, classify(err)
	}
	return &harvest, nil
}

func (g *GormStore) ListHarvests(ctx context.Context, datasetID uint) ([]*model.Harvest, error) {
	var harvests []*model.Harvest
	err := g.db.WithContext(ctx).Preload("Source").Preload("Dataset").
		Where("dataset_id = ?", datasetID).
		Order("id").
		Find(&harvests).Error
	return harvests, err
}

func (g *GormStore) UpdateHarvest(ctx context.Context, harvest *model.Harvest) error {
	return g.db.WithContext(ctx).Omit(clause.Associations).Save(harvest).Error
}

func (g *GormStore) AcquireHarvest(ctx context.Context, id uint) (*model.Harvest, error) {
	var harvest model.Harvest
	err := g.Transaction(ctx, func(tx Store) error {
		db := tx.(*GormStore).db.WithContext(ctx)

		if err := lockForUpdate(db).First(&harvest, id).Error; err != nil {
			return classify(err)
		}
		if harvest.IsSyncing {
			return ErrBusy
		}

		if err := db.Model(&model.Harvest{}).Where("id = ?", id).Update("is_syncing", true).Error; err != nil {
			return classify(err)
		}
		harvest.IsSyncing = true

		var source model.Source
		if err := db.First(&source, harvest.SourceID).Error; err != nil {
			return classify(err)
		}
		harvest.Source = &source

		var dataset model.Dataset
		if err := db.First(&dataset, harvest.DatasetID).Error; err != nil {
			return classify(err)
		}
		harvest.Dataset = &dataset

		return nil
	})
	if err != nil {
		return nil, err
	}
	return &harvest, nil
}

func (g *GormStore) ReleaseHarvest(ctx context.Context, id uint) error {
	return g.db.WithContext(ctx).Model(&model.Harvest{}).
		Where("id = ?", id).
		Update("is_syncing", false).Error
}

func (g *GormStore) GetSearchIndex(ctx context.Context, versionID uint, language string) (*model.SearchIndex, error) {
	var index model.SearchIndex
	err := g.db.WithContext(ctx).
		Where("dataset_version_id = ? AND language = ?", versionID, language).
		First(&index).Error
	if err != nil {
		return nil, classify(err)
	}
	return &index, nil
}

func (g *GormStore) CreateSearchIndex(ctx context.Context, index *model.SearchIndex) error {
	return g.db.WithContext(ctx).Omit(clause.Associations).Create(index).Error
}

func (g *GormStore) UpdateSearchIndex(ctx context.Context, index *model.SearchIndex) error {
	return g.db.WithContext(ctx).Omit(clause.Associations).Save(index).Error
}

func (g *GormStore) ListSearchIndices(ctx context.Context, versionID uint) ([]*model.SearchIndex, error) {
	var indices []*model.SearchIndex
	err := g.db.WithContext(ctx).
		Where("dataset_version_id = ?", versionID).
		Order("language").
		Find(&indices).Error
	return indices, err
}

func (g *GormStore) DeleteSearchIndex(ctx context.Context, id uint) error {
	return g.db.WithContext(ctx).Delete(&model.SearchIndex{}, id).Error
}

func (g *GormStore) AcquireSearchIndex(ctx context.Context, id uint) (*model.SearchIndex, error) {
	var index model.SearchIndex
	err := g.Transaction(ctx, func(tx Store) error {
		db := tx.(*GormStore).db.WithContext(ctx)

		if err := lockForUpdate(db).First(&index, id).Error; err != nil {
			return classify(err)
		}
		if index.IsSyncing {
			return ErrBusy
		}

		if err := db.Model(&model.SearchIndex{}).Where("id = ?", id).Update("is_syncing", true).Error; err != nil {
			return classify(err)
		}
		index.IsSyncing = true

		return nil
	})
	if err != nil {
		return nil, err
	}
	return &index, nil
}

func (g *GormStore) ReleaseSearchIndex(ctx context.Context, id uint) error {
	return g.db.WithContext(ctx).Model(&model.SearchIndex{}).
		Where("id = ?", id).
		Update("is_syncing", false).Error
}

func (g *GormStore) Migrate() error {
	return model.Migrate(g.db)
}

func (g *GormStore) Transaction(ctx context.Context, f func(tx Store) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return f(&GormStore{db: tx})
	})
}
