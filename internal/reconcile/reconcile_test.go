package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/seed"
	"github.com/emrgen/catalog/internal/store"
	"github.com/emrgen/catalog/internal/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (store.Store, *model.Collection) {
	t.Helper()
	tester.Reset()

	s := tester.Store()
	_, version := tester.Dataset(s, "catalog")
	return s, tester.Collection(s, version, "alpha")
}

func upsert(ref string, properties map[string]any) *seed.Seed {
	return &seed.Seed{Reference: ref, State: model.DocumentStateActive, Properties: properties}
}

func remove(ref string) *seed.Seed {
	return &seed.Seed{Reference: ref, State: model.DocumentStateDeleted}
}

func document(t *testing.T, s store.Store, collection *model.Collection, ref string) *model.Document {
	t.Helper()
	docs, err := s.FindDocumentsByReferences(context.TODO(), collection.ID, []string{ref})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	return docs[0]
}

func TestReconciler_Insert(t *testing.T) {
	s, collection := setup(t)
	r := NewReconciler(s, 2)

	result, err := r.Reconcile(context.TODO(), collection, []*seed.Seed{
		upsert("a", map[string]any{"title": "A", "language": "en"}),
		upsert("b", map[string]any{"title": "B"}),
		upsert("c", nil),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Inserted)
	assert.Equal(t, 0, result.Updated)

	doc := document(t, s, collection, "a")
	assert.Equal(t, "en", doc.Language)
	assert.Equal(t, doc.CreatedAt, doc.ModifiedAt)
	assert.True(t, doc.NeverUpdated())
	assert.Equal(t, *collection.DatasetVersionID, *doc.DatasetVersionID)

	assert.Equal(t, model.UnknownLanguage, document(t, s, collection, "b").Language)
}

func TestReconciler_UpsertReplacesProperties(t *testing.T) {
	s, collection := setup(t)
	r := NewReconciler(s, DefaultBatchSize)

	_, err := r.Reconcile(context.TODO(), collection, []*seed.Seed{upsert("a", map[string]any{"a": 1, "b": 2})})
	require.NoError(t, err)
	before := document(t, s, collection, "a")

	result, err := r.Reconcile(context.TODO(), collection, []*seed.Seed{upsert("a", map[string]any{"a": 9})})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	after := document(t, s, collection, "a")
	assert.Equal(t, before.ID, after.ID)
	assert.EqualValues(t, 9, after.Properties["a"])
	assert.NotContains(t, after.Properties, "b")
	assert.True(t, after.ModifiedAt.After(before.ModifiedAt))
}

func TestReconciler_ModifiedAtStrictlyIncreases(t *testing.T) {
	s, collection := setup(t)
	r := NewReconciler(s, DefaultBatchSize)

	frozen := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return frozen }

	_, err := r.Reconcile(context.TODO(), collection, []*seed.Seed{upsert("a", map[string]any{"v": 1})})
	require.NoError(t, err)
	_, err = r.Reconcile(context.TODO(), collection, []*seed.Seed{upsert("a", map[string]any{"v": 2})})
	require.NoError(t, err)

	doc := document(t, s, collection, "a")
	assert.True(t, doc.ModifiedAt.After(doc.CreatedAt))
}

func TestReconciler_SkipsUnchanged(t *testing.T) {
	s, collection := setup(t)
	r := NewReconciler(s, DefaultBatchSize)

	seeds := []*seed.Seed{upsert("a", map[string]any{"title": "A"})}
	_, err := r.Reconcile(context.TODO(), collection, seeds)
	require.NoError(t, err)
	before := document(t, s, collection, "a")

	result, err := r.Reconcile(context.TODO(), collection, seeds)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Updated)
	assert.True(t, before.ModifiedAt.Equal(document(t, s, collection, "a").ModifiedAt))
}

func TestReconciler_IdempotentDelete(t *testing.T) {
	s, collection := setup(t)
	r := NewReconciler(s, DefaultBatchSize)

	_, err := r.Reconcile(context.TODO(), collection, []*seed.Seed{upsert("a", map[string]any{"title": "A"})})
	require.NoError(t, err)

	result, err := r.Reconcile(context.TODO(), collection, []*seed.Seed{remove("a"), remove("missing")})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	deleted := document(t, s, collection, "a")
	assert.Equal(t, model.DocumentStateDeleted, deleted.State)

	result, err = r.Reconcile(context.TODO(), collection, []*seed.Seed{remove("a")})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Deleted)

	again := document(t, s, collection, "a")
	assert.Equal(t, model.DocumentStateDeleted, again.State)
	assert.True(t, deleted.ModifiedAt.Equal(again.ModifiedAt))
}

func TestReconciler_UpsertRevivesDeleted(t *testing.T) {
	s, collection := setup(t)
	r := NewReconciler(s, DefaultBatchSize)

	_, err := r.Reconcile(context.TODO(), collection, []*seed.Seed{upsert("a", map[string]any{"title": "A"})})
	require.NoError(t, err)
	_, err = r.Reconcile(context.TODO(), collection, []*seed.Seed{remove("a")})
	require.NoError(t, err)

	result, err := r.Reconcile(context.TODO(), collection, []*seed.Seed{upsert("a", map[string]any{"title": "A"})})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, model.DocumentStateActive, document(t, s, collection, "a").State)
}

func TestReconciler_MalformedSeed(t *testing.T) {
	s, collection := setup(t)
	r := NewReconciler(s, DefaultBatchSize)

	result, err := r.Reconcile(context.TODO(), collection, []*seed.Seed{
		upsert("a", map[string]any{"title": "A"}),
		upsert("", map[string]any{"title": "nameless"}),
		upsert("b", map[string]any{"title": "B"}),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 1, result.Rejected)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], ErrMalformedSeed)

	count, err := s.CountDocuments(context.TODO(), collection.ID, "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestReconciler_ForwardedCollection(t *testing.T) {
	s, collection := setup(t)
	r := NewReconciler(s, DefaultBatchSize)

	forwarded := &model.Collection{Name: "alpha", ForwardedFromID: &collection.ID}
	_, err := r.Reconcile(context.TODO(), forwarded, []*seed.Seed{upsert("a", nil)})
	assert.ErrorIs(t, err, ErrForwardedCollection)
}
