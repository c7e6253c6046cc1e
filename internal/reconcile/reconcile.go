package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/seed"
	"github.com/emrgen/catalog/internal/store"
	"github.com/sirupsen/logrus"
)

const DefaultBatchSize = 32

var (
	// ErrMalformedSeed is reported for an upsert seed without a reference.
	ErrMalformedSeed = errors.New("malformed seed")
	// ErrForwardedCollection is returned when reconciling into a collection that
	// still shares the documents of an older version.
	ErrForwardedCollection = errors.New("collection is forwarded and must be materialized first")
)

// Result counts what a reconciliation did to the documents of a collection.
type Result struct {
	Skipped  int
	Inserted int
	Updated  int
	Deleted  int
	Rejected int
	// Errors holds one ErrMalformedSeed per rejected seed.
	Errors []error
}

// Documents returns the number of documents written.
func (r *Result) Documents() int {
	return r.Inserted + r.Updated + r.Deleted
}

func (r *Result) Add(other *Result) {
	r.Skipped += other.Skipped
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Deleted += other.Deleted
	r.Rejected += other.Rejected
	r.Errors = append(r.Errors, other.Errors...)
}

func (r *Result) Fields() logrus.Fields {
	return logrus.Fields{
		"skipped":  r.Skipped,
		"inserted": r.Inserted,
		"updated":  r.Updated,
		"deleted":  r.Deleted,
		"rejected": r.Rejected,
	}
}

// Reconciler merges upsert and delete seeds into the documents of a collection.
type Reconciler struct {
	store     store.Store
	batchSize int
	now       func() time.Time
}

func NewReconciler(s store.Store, batchSize int) *Reconciler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Reconciler{
		store:     s,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Reconcile applies the seeds to the collection in order, one transaction per batch.
// Malformed seeds are rejected and reported in the result without failing the batch.
func (r *Reconciler) Reconcile(ctx context.Context, collection *model.Collection, seeds []*seed.Seed) (*Result, error) {
	if collection.IsForwarded() {
		return nil, fmt.Errorf("%w: %s (%d)", ErrForwardedCollection, collection.Name, collection.ID)
	}

	total := &Result{}
	for start := 0; start < len(seeds); start += r.batchSize {
		end := min(start+r.batchSize, len(seeds))

		var result *Result
		err := r.store.Transaction(ctx, func(tx store.Store) error {
			var err error
			result, err = r.reconcileBatch(ctx, tx, collection, seeds[start:end])
			return err
		})
		if err != nil {
			return total, fmt.Errorf("failed to reconcile batch %d-%d of %s: %w", start, end, collection.Name, err)
		}

		total.Add(result)
	}

	logrus.WithFields(total.Fields()).Infof("reconciled %d seeds into collection %s", len(seeds), collection.Name)

	return total, nil
}

func (r *Reconciler) reconcileBatch(ctx context.Context, tx store.Store, collection *model.Collection, batch []*seed.Seed) (*Result, error) {
	result := &Result{}
	now := r.now().UTC().Truncate(time.Microsecond)

	var deletes []string
	var upserts []*seed.Seed
	for _, s := range batch {
		if !s.IsUpsert() {
			if s.Reference != "" {
				deletes = append(deletes, s.Reference)
			}
			continue
		}
		if s.Reference == "" {
			result.Rejected++
			result.Errors = append(result.Errors, fmt.Errorf("%w: upsert without reference in %s", ErrMalformedSeed, collection.Name))
			continue
		}
		upserts = append(upserts, s)
	}

	deleted, err := tx.MarkDocumentsDeleted(ctx, collection.ID, deletes, now)
	if err != nil {
		return nil, err
	}
	result.Deleted = int(deleted)

	if len(upserts) == 0 {
		return result, nil
	}

	references := make([]string, 0, len(upserts))
	for _, s := range upserts {
		references = append(references, s.Reference)
	}
	existing, err := tx.FindDocumentsByReferences(ctx, collection.ID, references)
	if err != nil {
		return nil, err
	}

	docs := make(map[string]*model.Document, len(existing))
	for _, doc := range existing {
		docs[doc.Reference] = doc
	}

	// a reference repeated within the batch is applied in order, the last seed wins
	changed := make(map[string]bool)
	var inserts []*model.Document
	for _, s := range upserts {
		properties := s.Properties
		if properties == nil {
			properties = map[string]any{}
		}

		doc, ok := docs[s.Reference]
		if !ok {
			doc = &model.Document{
				Reference:        s.Reference,
				Properties:       properties,
				State:            model.DocumentStateActive,
				Language:         documentLanguage(properties),
				CollectionID:     &collection.ID,
				DatasetVersionID: collection.DatasetVersionID,
				CreatedAt:        now,
				ModifiedAt:       now,
			}
			docs[s.Reference] = doc
			inserts = append(inserts, doc)
			continue
		}

		if doc.ID != 0 && doc.IsActive() && model.SameProperties(doc.Properties, properties) {
			if !changed[s.Reference] {
				result.Skipped++
			}
			continue
		}

		doc.Properties = properties
		doc.State = model.DocumentStateActive
		doc.Language = documentLanguage(properties)
		if doc.ID != 0 {
			doc.ModifiedAt = bump(doc.ModifiedAt, now)
			if !changed[s.Reference] {
				changed[s.Reference] = true
				result.Updated++
			}
		}
	}

	if err := tx.CreateDocuments(ctx, inserts); err != nil {
		return nil, err
	}
	result.Inserted = len(inserts)

	for _, doc := range existing {
		if !changed[doc.Reference] {
			continue
		}
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// bump returns a modification time strictly after previous.
func bump(previous, now time.Time) time.Time {
	if now.After(previous) {
		return now
	}
	return previous.Add(time.Microsecond)
}

func documentLanguage(properties map[string]any) string {
	if language := model.DetectLanguage(properties); language != "" {
		return language
	}
	return model.UnknownLanguage
}
