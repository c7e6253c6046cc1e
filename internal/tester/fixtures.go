package tester

import (
	"context"
	"fmt"

	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/store"
)

// Dataset creates an active dataset with a current version "001".
func Dataset(s store.Store, name string) (*model.Dataset, *model.DatasetVersion) {
	ctx := context.Background()

	dataset := &model.Dataset{Name: name, IsActive: true}
	if err := s.CreateDataset(ctx, dataset); err != nil {
		panic(err)
	}

	version := &model.DatasetVersion{
		DatasetID: dataset.ID,
		Version:   model.FormatVersion(1),
		IsCurrent: true,
	}
	if err := s.CreateVersion(ctx, version); err != nil {
		panic(err)
	}
	version.Dataset = dataset

	return dataset, version
}

// Version creates a non-current version of a dataset.
func Version(s store.Store, dataset *model.Dataset, number int) *model.DatasetVersion {
	version := &model.DatasetVersion{
		DatasetID: dataset.ID,
		Version:   model.FormatVersion(number),
	}
	if err := s.CreateVersion(context.Background(), version); err != nil {
		panic(err)
	}
	version.Dataset = dataset

	return version
}

func Collection(s store.Store, version *model.DatasetVersion, name string) *model.Collection {
	collection := &model.Collection{
		Name:             name,
		DatasetVersionID: &version.ID,
	}
	if err := s.CreateCollection(context.Background(), collection); err != nil {
		panic(err)
	}

	return collection
}

// Documents inserts count active documents with references <prefix>-<n> into a collection.
func Documents(s store.Store, collection *model.Collection, prefix string, count int) []*model.Document {
	now := model.BeginningOfTime.AddDate(50, 0, 0)

	docs := make([]*model.Document, 0, count)
	for i := 0; i < count; i++ {
		docs = append(docs, &model.Document{
			Reference:        fmt.Sprintf("%s-%d", prefix, i),
			Properties:       map[string]any{"title": fmt.Sprintf("%s %d", prefix, i), model.LanguageProperty: "nl"},
			State:            model.DocumentStateActive,
			Language:         "nl",
			CollectionID:     &collection.ID,
			DatasetVersionID: collection.DatasetVersionID,
			CreatedAt:        now,
			ModifiedAt:       now,
		})
	}
	if err := s.CreateDocuments(context.Background(), docs); err != nil {
		panic(err)
	}

	return docs
}
