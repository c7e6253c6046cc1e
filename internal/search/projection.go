package search

import (
	"context"
	"time"

	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/store"
)

// projector turns documents and extensions into bulk actions.
type projector struct {
	store       store.Store
	datasetID   uint
	collections map[uint]string
}

// documents projects a batch of documents with their extension overlays applied.
// Documents that are not active become deletes.
func (p *projector) documents(ctx context.Context, docs []*model.Document) ([]Action, error) {
	references := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.IsActive() {
			references = append(references, doc.Reference)
		}
	}

	overlays := make(map[string]*model.Extension)
	extensions, err := p.store.ListExtensions(ctx, p.datasetID, references)
	if err != nil {
		return nil, err
	}
	for _, extension := range extensions {
		if !extension.IsAddition {
			overlays[extension.ID] = extension
		}
	}

	actions := make([]Action, 0, len(docs))
	for _, doc := range docs {
		if !doc.IsActive() {
			actions = append(actions, Action{Operation: OperationDelete, ID: doc.Reference})
			continue
		}

		collection := ""
		if doc.CollectionID != nil {
			collection = p.collections[*doc.CollectionID]
		}

		body := make(map[string]any, len(doc.Properties)+5)
		for key, value := range doc.Properties {
			body[key] = value
		}
		modifiedAt := doc.ModifiedAt
		if overlay, ok := overlays[doc.Reference]; ok {
			for key, value := range overlay.Properties {
				body[key] = value
			}
			if overlay.ModifiedAt.After(modifiedAt) {
				modifiedAt = overlay.ModifiedAt
			}
		}
		body["reference"] = doc.Reference
		body["collection"] = collection
		body["is_addition"] = false
		body[model.LanguageProperty] = doc.Language
		body["modified_at"] = modifiedAt.UTC().Format(time.RFC3339)

		actions = append(actions, Action{Operation: OperationIndex, ID: doc.Reference, Body: body})
	}

	return actions, nil
}

// additions projects standalone extensions. Deleted additions become deletes.
func (p *projector) additions(extensions []*model.Extension) []Action {
	actions := make([]Action, 0, len(extensions))
	for _, extension := range extensions {
		if !extension.IsAddition {
			continue
		}
		if extension.DeletedAt.Valid {
			actions = append(actions, Action{Operation: OperationDelete, ID: extension.ID})
			continue
		}

		body := make(map[string]any, len(extension.Properties)+5)
		for key, value := range extension.Properties {
			body[key] = value
		}
		body["reference"] = extension.ID
		body["is_addition"] = true
		body["is_parent"] = extension.IsParent
		body[model.LanguageProperty] = extension.Language
		body["modified_at"] = extension.ModifiedAt.UTC().Format(time.RFC3339)

		actions = append(actions, Action{Operation: OperationIndex, ID: extension.ID, Body: body})
	}

	return actions
}
