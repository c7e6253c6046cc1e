package version

import (
	"context"
	"testing"

	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/store"
	"github.com/emrgen/catalog/internal/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func currentCount(t *testing.T, s store.Store, datasetID uint) int64 {
	t.Helper()
	count, err := s.CountCurrentVersions(context.TODO(), datasetID)
	require.NoError(t, err)
	return count
}

func TestCorrupted(t *testing.T) {
	tests := []struct {
		name      string
		documents int64
		previous  int64
		want      bool
	}{
		{"lost almost everything", 3, 100, true},
		{"exactly at threshold", 5, 100, false},
		{"grew", 150, 100, false},
		{"empty before", 0, 0, false},
		{"emptied", 0, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Corrupted(tt.documents, tt.previous, DefaultCorruptionThreshold))
		})
	}
}

func TestManager_EnsureVersionBootstrapsCurrent(t *testing.T) {
	tester.Reset()
	s := tester.Store()
	m := NewManager(s, DefaultCorruptionThreshold)

	dataset := &model.Dataset{Name: "catalog", IsActive: true}
	require.NoError(t, s.CreateDataset(context.TODO(), dataset))

	version, err := m.EnsureVersion(context.TODO(), dataset)
	require.NoError(t, err)
	assert.Equal(t, "001", version.Version)
	assert.True(t, version.IsCurrent)
	assert.EqualValues(t, 1, currentCount(t, s, dataset.ID))

	again, err := m.EnsureVersion(context.TODO(), dataset)
	require.NoError(t, err)
	assert.Equal(t, version.ID, again.ID)
}

func TestManager_CreateVersionForwardsCollections(t *testing.T) {
	tester.Reset()
	s := tester.Store()
	m := NewManager(s, DefaultCorruptionThreshold)

	dataset, current := tester.Dataset(s, "catalog")
	alpha := tester.Collection(s, current, "alpha")
	tester.Documents(s, alpha, "alpha", 4)

	version, err := m.CreateVersion(context.TODO(), dataset)
	require.NoError(t, err)
	assert.Equal(t, "002", version.Version)
	assert.False(t, version.IsCurrent)

	collections, err := s.ListCollections(context.TODO(), version.ID)
	require.NoError(t, err)
	require.Len(t, collections, 1)
	assert.Equal(t, "alpha", collections[0].Name)
	require.True(t, collections[0].IsForwarded())
	assert.Equal(t, alpha.ID, collections[0].DocumentSource())

	// forwarding shares documents instead of copying them
	count, err := s.CountDocuments(context.TODO(), collections[0].ID, "")
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	// forwarded twice still points at the collection owning the documents
	third, err := m.CreateVersion(context.TODO(), dataset)
	require.NoError(t, err)
	_, err = m.Promote(context.TODO(), version.ID)
	require.NoError(t, err)
	fourth, err := m.CreateVersion(context.TODO(), dataset)
	require.NoError(t, err)
	assert.Equal(t, "003", third.Version)
	assert.Equal(t, "004", fourth.Version)

	forwarded, err := s.GetCollectionByName(context.TODO(), fourth.ID, "alpha")
	require.NoError(t, err)
	assert.Equal(t, alpha.ID, forwarded.DocumentSource())
}

func TestManager_CollectionMaterializes(t *testing.T) {
	tester.Reset()
	s := tester.Store()
	m := NewManager(s, DefaultCorruptionThreshold)

	dataset, current := tester.Dataset(s, "catalog")
	alpha := tester.Collection(s, current, "alpha")
	tester.Documents(s, alpha, "alpha", 4)

	version, err := m.CreateVersion(context.TODO(), dataset)
	require.NoError(t, err)

	collection, err := m.Collection(context.TODO(), version, "alpha")
	require.NoError(t, err)
	assert.False(t, collection.IsForwarded())

	count, err := s.CountDocuments(context.TODO(), collection.ID, "")
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)

	// the original documents stay with the old version
	count, err = s.CountDocuments(context.TODO(), alpha.ID, "")
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)

	beta, err := m.Collection(context.TODO(), version, "beta")
	require.NoError(t, err)
	assert.Equal(t, version.ID, *beta.DatasetVersionID)
}

func TestManager_PromoteCorruptionFallback(t *testing.T) {
	tester.Reset()
	s := tester.Store()
	m := NewManager(s, DefaultCorruptionThreshold)

	dataset, current := tester.Dataset(s, "catalog")
	alpha := tester.Collection(s, current, "alpha")
	tester.Documents(s, alpha, "alpha", 100)
	beta := tester.Collection(s, current, "beta")
	tester.Documents(s, beta, "beta", 10)

	version := tester.Version(s, dataset, 2)
	corrupted := tester.Collection(s, version, "alpha")
	broken := tester.Documents(s, corrupted, "broken", 3)
	healthy := tester.Collection(s, version, "beta")
	tester.Documents(s, healthy, "beta", 9)

	assert.EqualValues(t, 1, currentCount(t, s, dataset.ID))

	report, err := m.Promote(context.TODO(), version.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, report.FallbackNames())
	assert.EqualValues(t, 1, currentCount(t, s, dataset.ID))

	promoted, err := s.GetCurrentVersion(context.TODO(), dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, version.ID, promoted.ID)

	fallback, err := s.GetCollectionByName(context.TODO(), version.ID, "alpha")
	require.NoError(t, err)
	assert.NotEqual(t, corrupted.ID, fallback.ID)
	count, err := s.CountDocuments(context.TODO(), fallback.ID, model.DocumentStateActive)
	require.NoError(t, err)
	assert.EqualValues(t, 100, count)

	var refs []string
	for _, doc := range broken {
		refs = append(refs, doc.Reference)
	}
	delinked, err := s.FindDocumentsByReferences(context.TODO(), corrupted.ID, refs)
	require.NoError(t, err)
	require.Len(t, delinked, 3)
	for _, doc := range delinked {
		assert.Nil(t, doc.DatasetVersionID)
	}

	kept, err := s.GetCollectionByName(context.TODO(), version.ID, "beta")
	require.NoError(t, err)
	assert.Equal(t, healthy.ID, kept.ID)
}

func TestManager_PromoteFallsBackForMissingCollection(t *testing.T) {
	tester.Reset()
	s := tester.Store()
	m := NewManager(s, DefaultCorruptionThreshold)

	dataset, current := tester.Dataset(s, "catalog")
	alpha := tester.Collection(s, current, "alpha")
	tester.Documents(s, alpha, "alpha", 20)
	tester.Collection(s, current, "empty")
	beta := tester.Collection(s, current, "beta")
	tester.Documents(s, beta, "beta", 5)

	// the new version only knows beta
	version, err := m.CreateEmptyVersion(context.TODO(), dataset)
	require.NoError(t, err)
	tester.Documents(s, tester.Collection(s, version, "beta"), "beta", 5)

	report, err := m.Promote(context.TODO(), version.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, report.FallbackNames())

	missing := map[string]CollectionReport{}
	for _, entry := range report.Collections {
		if entry.Missing {
			missing[entry.Name] = entry
		}
	}
	require.Len(t, missing, 2)
	assert.EqualValues(t, 20, missing["alpha"].PreviousDocuments)
	assert.False(t, missing["empty"].FellBack)

	fallback, err := s.GetCollectionByName(context.TODO(), version.ID, "alpha")
	require.NoError(t, err)
	count, err := s.CountDocuments(context.TODO(), fallback.ID, model.DocumentStateActive)
	require.NoError(t, err)
	assert.EqualValues(t, 20, count)

	_, err = s.GetCollectionByName(context.TODO(), version.ID, "empty")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// the previous version keeps its own documents
	count, err = s.CountDocuments(context.TODO(), alpha.ID, model.DocumentStateActive)
	require.NoError(t, err)
	assert.EqualValues(t, 20, count)
}

func TestManager_PromoteCurrentVersion(t *testing.T) {
	tester.Reset()
	s := tester.Store()
	m := NewManager(s, DefaultCorruptionThreshold)

	_, current := tester.Dataset(s, "catalog")

	_, err := m.Promote(context.TODO(), current.ID)
	assert.ErrorIs(t, err, ErrVersionIsCurrent)
}

func TestManager_DeleteVersion(t *testing.T) {
	tester.Reset()
	s := tester.Store()
	m := NewManager(s, DefaultCorruptionThreshold)

	dataset, first := tester.Dataset(s, "catalog")
	alpha := tester.Collection(s, first, "alpha")
	tester.Documents(s, alpha, "alpha", 5)

	second, err := m.CreateVersion(context.TODO(), dataset)
	require.NoError(t, err)
	_, err = m.Promote(context.TODO(), second.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, m.DeleteVersion(context.TODO(), second.ID), ErrVersionIsCurrent)

	require.NoError(t, m.DeleteVersion(context.TODO(), first.ID))

	_, err = s.GetVersion(context.TODO(), first.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// the forwarded collection got its own copy before the origin was deleted
	collection, err := s.GetCollectionByName(context.TODO(), second.ID, "alpha")
	require.NoError(t, err)
	assert.False(t, collection.IsForwarded())
	count, err := s.CountDocuments(context.TODO(), collection.ID, "")
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)

	count, err = s.CountDocuments(context.TODO(), alpha.ID, "")
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestManager_DeleteVersionKeepsDelinkedDocuments(t *testing.T) {
	tester.Reset()
	s := tester.Store()
	m := NewManager(s, DefaultCorruptionThreshold)

	dataset, first := tester.Dataset(s, "catalog")
	alpha := tester.Collection(s, first, "alpha")
	tester.Documents(s, alpha, "alpha", 100)

	second := tester.Version(s, dataset, 2)
	corrupted := tester.Collection(s, second, "alpha")
	tester.Documents(s, corrupted, "broken", 1)

	_, err := m.Promote(context.TODO(), second.ID)
	require.NoError(t, err)

	third, err := m.CreateVersion(context.TODO(), dataset)
	require.NoError(t, err)
	_, err = m.Promote(context.TODO(), third.ID)
	require.NoError(t, err)

	require.NoError(t, m.DeleteVersion(context.TODO(), second.ID))

	count, err := s.CountDocuments(context.TODO(), corrupted.ID, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	collection, err := s.GetCollectionByName(context.TODO(), third.ID, "alpha")
	require.NoError(t, err)
	count, err = s.CountDocuments(context.TODO(), collection.DocumentSource(), "")
	require.NoError(t, err)
	assert.EqualValues(t, 100, count)
}

func TestManager_Historical(t *testing.T) {
	tester.Reset()
	s := tester.Store()
	m := NewManager(s, DefaultCorruptionThreshold)

	dataset, _ := tester.Dataset(s, "catalog")
	for i := 0; i < 4; i++ {
		version, err := m.CreateVersion(context.TODO(), dataset)
		require.NoError(t, err)
		_, err = m.Promote(context.TODO(), version.ID)
		require.NoError(t, err)
	}

	old, err := m.Historical(context.TODO(), dataset.ID, 2)
	require.NoError(t, err)
	require.Len(t, old, 2)
	assert.Equal(t, "002", old[0].Version)
	assert.Equal(t, "001", old[1].Version)
}
