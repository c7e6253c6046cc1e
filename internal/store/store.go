package store

import (
	"context"
	"time"

	"github.com/emrgen/catalog/internal/model"
)

type Store interface {
	DatasetStore
	VersionStore
	CollectionStore
	DocumentStore
	ExtensionStore
	HarvestStore
	SearchIndexStore
	// Transaction runs f inside a database transaction. The tx store passed to f
	// must be used for every call that belongs to the transaction.
	Transaction(ctx context.Context, f func(tx Store) error) error
	Migrate() error
}

type DatasetStore interface {
	// CreateDataset creates a new dataset.
	CreateDataset(ctx context.Context, dataset *model.Dataset) error
	// GetDataset retrieves a dataset by ID.
	GetDataset(ctx context.Context, id uint) (*model.Dataset, error)
	// GetDatasetByName retrieves a dataset by name.
	GetDatasetByName(ctx context.Context, name string) (*model.Dataset, error)
	// ListDatasets lists datasets, optionally only the active ones.
	ListDatasets(ctx context.Context, activeOnly bool) ([]*model.Dataset, error)
	// LockDataset locks the dataset row with lock-for-update(nowait). Must run in a transaction.
	LockDataset(ctx context.Context, id uint) (*model.Dataset, error)
}

type VersionStore interface {
	// CreateVersion creates a new dataset version.
	CreateVersion(ctx context.Context, version *model.DatasetVersion) error
	// GetVersion retrieves a dataset version with its dataset.
	GetVersion(ctx context.Context, id uint) (*model.DatasetVersion, error)
	// GetCurrentVersion retrieves the current version of a dataset.
	GetCurrentVersion(ctx context.Context, datasetID uint) (*model.DatasetVersion, error)
	// GetLatestVersion retrieves the most recently created version of a dataset.
	GetLatestVersion(ctx context.Context, datasetID uint) (*model.DatasetVersion, error)
	// ListVersions lists the versions of a dataset, newest first.
	ListVersions(ctx context.Context, datasetID uint) ([]*model.DatasetVersion, error)
	// CountCurrentVersions counts the versions of a dataset flagged as current.
	CountCurrentVersions(ctx context.Context, datasetID uint) (int64, error)
	// SetCurrentVersion clears the current flag of the dataset and sets it on versionID.
	SetCurrentVersion(ctx context.Context, datasetID, versionID uint) error
	// DeleteVersion deletes a version with its collections, documents and search index rows.
	// Documents that were de-linked from a version are never touched.
	DeleteVersion(ctx context.Context, id uint) error
}

type CollectionStore interface {
	// CreateCollection creates a new collection.
	CreateCollection(ctx context.Context, collection *model.Collection) error
	// GetCollection retrieves a collection by ID.
	GetCollection(ctx context.Context, id uint) (*model.Collection, error)
	// GetCollectionByName retrieves the collection with name inside a version.
	GetCollectionByName(ctx context.Context, versionID uint, name string) (*model.Collection, error)
	// ListCollections lists the collections of a version.
	ListCollections(ctx context.Context, versionID uint) ([]*model.Collection, error)
	// ListForwardedCollections lists the collections that share documents of any of sourceIDs.
	ListForwardedCollections(ctx context.Context, sourceIDs []uint) ([]*model.Collection, error)
	// UpdateCollection saves a collection.
	UpdateCollection(ctx context.Context, collection *model.Collection) error
	// DelinkCollection removes a collection and its documents from their version without deleting them.
	DelinkCollection(ctx context.Context, id uint) error
	// CopyDocuments copies all documents of the collection fromID into the collection to.
	CopyDocuments(ctx context.Context, fromID uint, to *model.Collection, batchSize int) (int64, error)
	// CountDocuments counts the documents of a collection, optionally restricted to a state.
	CountDocuments(ctx context.Context, collectionID uint, state model.DocumentState) (int64, error)
}

// DocumentFilter selects documents for batched iteration.
type DocumentFilter struct {
	CollectionIDs []uint
	Language      string
	// NotLanguages excludes documents in any of the languages.
	NotLanguages  []string
	States        []model.DocumentState
	ModifiedSince *time.Time
	References    []string
}

type DocumentStore interface {
	// FindDocumentsByReferences retrieves the documents of a collection with the given references.
	FindDocumentsByReferences(ctx context.Context, collectionID uint, references []string) ([]*model.Document, error)
	// CreateDocuments inserts documents.
	CreateDocuments(ctx context.Context, docs []*model.Document) error
	// UpdateDocument saves a document.
	UpdateDocument(ctx context.Context, doc *model.Document) error
	// MarkDocumentsDeleted moves the matching documents that are not deleted yet to the deleted state.
	MarkDocumentsDeleted(ctx context.Context, collectionID uint, references []string, at time.Time) (int64, error)
	// IterateDocuments calls fn with batches of documents matching the filter, ordered by ID.
	IterateDocuments(ctx context.Context, filter DocumentFilter, batchSize int, fn func(docs []*model.Document) error) error
}

// ExtensionFilter selects extensions for batched iteration.
type ExtensionFilter struct {
	DatasetID      uint
	Language       string
	NotLanguages   []string
	AdditionsOnly  bool
	ModifiedSince  *time.Time
	IncludeDeleted bool
}

type ExtensionStore interface {
	// GetExtension retrieves an extension by ID.
	GetExtension(ctx context.Context, id string) (*model.Extension, error)
	// SaveExtension creates or updates an extension.
	SaveExtension(ctx context.Context, extension *model.Extension) error
	// DeleteExtension soft deletes an extension and bumps its modification time.
	DeleteExtension(ctx context.Context, id string, at time.Time) error
	// ListExtensions retrieves the live extensions of a dataset with the given IDs.
	ListExtensions(ctx context.Context, datasetID uint, ids []string) ([]*model.Extension, error)
	// IterateExtensions calls fn with batches of extensions matching the filter.
	IterateExtensions(ctx context.Context, filter ExtensionFilter, batchSize int, fn func(extensions []*model.Extension) error) error
}

type HarvestStore interface {
	// CreateSource creates a new harvest source.
	CreateSource(ctx context.Context, source *model.Source) error
	// GetSourceByName retrieves a source by name.
	GetSourceByName(ctx context.Context, name string) (*model.Source, error)
	// CreateHarvest creates a new harvest.
	CreateHarvest(ctx context.Context, harvest *model.Harvest) error
	// GetHarvest retrieves a harvest with its source and dataset.
	GetHarvest(ctx context.Context, id uint) (*model.Harvest, error)
	// ListHarvests lists the harvests of a dataset with their sources.
	ListHarvests(ctx context.Context, datasetID uint) ([]*model.Harvest, error)
	// UpdateHarvest saves a harvest without touching its associations.
	UpdateHarvest(ctx context.Context, harvest *model.Harvest) error
	// AcquireHarvest sets the sync flag of a harvest under lock-for-update(nowait).
	// Returns ErrBusy when the row is locked or the flag is already set.
	AcquireHarvest(ctx context.Context, id uint) (*model.Harvest, error)
	// ReleaseHarvest clears the sync flag of a harvest.
	ReleaseHarvest(ctx context.Context, id uint) error
}

type SearchIndexStore interface {
	// GetSearchIndex retrieves the index of a version for a language.
	GetSearchIndex(ctx context.Context, versionID uint, language string) (*model.SearchIndex, error)
	// CreateSearchIndex creates a new search index row.
	CreateSearchIndex(ctx context.Context, index *model.SearchIndex) error
	// UpdateSearchIndex saves a search index row.
	UpdateSearchIndex(ctx context.Context, index *model.SearchIndex) error
	// ListSearchIndices lists the index rows of a version.
	ListSearchIndices(ctx context.Context, versionID uint) ([]*model.SearchIndex, error)
	// DeleteSearchIndex deletes a search index row.
	DeleteSearchIndex(ctx context.Context, id uint) error
	// AcquireSearchIndex sets the sync flag of an index under lock-for-update(nowait).
	// Returns ErrBusy when the row is locked or the flag is already set.
	AcquireSearchIndex(ctx context.Context, id uint) (*model.SearchIndex, error)
	// ReleaseSearchIndex clears the sync flag of an index.
	ReleaseSearchIndex(ctx context.Context, id uint) error
}
