package export

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/emrgen/catalog/internal/compress"
	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/store"
	"github.com/emrgen/catalog/internal/tester"
	"github.com/emrgen/catalog/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	objects, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.TODO()

	require.NoError(t, objects.Put(ctx, "catalog/b.jsonl", []byte("b")))
	require.NoError(t, objects.Put(ctx, "catalog/a.jsonl", []byte("a")))
	require.NoError(t, objects.Put(ctx, "other/c.jsonl", []byte("c")))

	keys, err := objects.List(ctx, "catalog/")
	require.NoError(t, err)
	assert.Equal(t, []string{"catalog/a.jsonl", "catalog/b.jsonl"}, keys)

	data, err := objects.Get(ctx, "catalog/a.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))

	require.NoError(t, objects.Delete(ctx, "catalog/a.jsonl"))
	require.NoError(t, objects.Delete(ctx, "catalog/a.jsonl"))

	_, err = objects.Get(ctx, "catalog/a.jsonl")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestExporter_DumpAndLoad(t *testing.T) {
	codecs := []string{"gzip", "brotli", "lz4", "none"}

	for _, name := range codecs {
		t.Run(name, func(t *testing.T) {
			tester.Reset()
			s := tester.Store()
			ctx := context.TODO()

			dataset, current := tester.Dataset(s, "catalog")
			books := tester.Collection(s, current, "books")
			tester.Documents(s, books, "book", 3)
			maps := tester.Collection(s, current, "maps")
			tester.Documents(s, maps, "map", 2)
			_, err := s.MarkDocumentsDeleted(ctx, maps.ID, []string{"map-0"}, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))
			require.NoError(t, err)

			codec, err := compress.New(name)
			require.NoError(t, err)
			objects, err := NewFileStore(t.TempDir())
			require.NoError(t, err)

			versions := version.NewManager(s, version.DefaultCorruptionThreshold)
			exporter := NewExporter(s, objects, codec, versions)

			key, count, err := exporter.Dump(ctx, current.ID)
			require.NoError(t, err)
			assert.Equal(t, 5, count)
			assert.True(t, strings.HasPrefix(key, "catalog/catalog-001-"))
			assert.True(t, strings.HasSuffix(key, ".jsonl"+codec.Extension()))

			loaded, count, err := exporter.Load(ctx, dataset, key)
			require.NoError(t, err)
			assert.Equal(t, 5, count)
			assert.Equal(t, "002", loaded.Version)
			assert.False(t, loaded.IsCurrent)
			assert.NotEqual(t, current.ID, loaded.ID)

			collections, err := s.ListCollections(ctx, loaded.ID)
			require.NoError(t, err)
			require.Len(t, collections, 2)
			for _, collection := range collections {
				assert.False(t, collection.IsForwarded())
			}

			restored, err := s.GetCollectionByName(ctx, loaded.ID, "maps")
			require.NoError(t, err)
			deleted, err := s.CountDocuments(ctx, restored.ID, model.DocumentStateDeleted)
			require.NoError(t, err)
			assert.EqualValues(t, 1, deleted)

			var refs []string
			err = s.IterateDocuments(ctx, store.DocumentFilter{CollectionIDs: []uint{restored.ID}}, 10, func(docs []*model.Document) error {
				for _, doc := range docs {
					refs = append(refs, doc.Reference)
					assert.Equal(t, loaded.ID, *doc.DatasetVersionID)
				}
				return nil
			})
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"map-0", "map-1"}, refs)
		})
	}
}

func TestExporter_LoadMissing(t *testing.T) {
	tester.Reset()
	s := tester.Store()

	dataset, _ := tester.Dataset(s, "catalog")
	objects, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	exporter := NewExporter(s, objects, compress.NewGZip(), version.NewManager(s, version.DefaultCorruptionThreshold))
	_, _, err = exporter.Load(context.TODO(), dataset, "catalog/missing.jsonl.gz")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestFileStore_RejectsKeysOutsideDirectory(t *testing.T) {
	objects, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.TODO()

	keys := []string{"../outside.jsonl", "catalog/../../outside.jsonl", "/etc/passwd", ""}
	for _, key := range keys {
		t.Run(key, func(t *testing.T) {
			_, err := objects.Get(ctx, key)
			assert.ErrorIs(t, err, ErrInvalidKey)
			assert.ErrorIs(t, objects.Put(ctx, key, []byte("x")), ErrInvalidKey)
			assert.ErrorIs(t, objects.Delete(ctx, key), ErrInvalidKey)
		})
	}

	require.NoError(t, objects.Put(ctx, "catalog/./nested/../a.jsonl", []byte("a")))
	data, err := objects.Get(ctx, "catalog/a.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestExporter_LoadBrokenDumpLeavesNoVersion(t *testing.T) {
	header := `{"dataset":"catalog","version":"001","version_id":1,"collections":["books"]}`
	valid := `{"collection":"books","reference":"book-0","properties":{"title":"book-0"},"state":"active","language":"nl"}`

	tests := []struct {
		name string
		dump string
	}{
		{"truncated record", header + "\n" + valid + "\n" + `{"collection":"books","refer`},
		{"unknown collection", header + "\n" + valid + "\n" + `{"collection":"maps","reference":"map-0","state":"active"}`},
		{"broken header", `{"dataset":`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tester.Reset()
			s := tester.Store()
			ctx := context.TODO()

			dataset, current := tester.Dataset(s, "catalog")
			objects, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			require.NoError(t, objects.Put(ctx, "catalog/broken.jsonl", []byte(tt.dump)))

			exporter := NewExporter(s, objects, compress.NewNop(), version.NewManager(s, version.DefaultCorruptionThreshold))
			_, _, err = exporter.Load(ctx, dataset, "catalog/broken.jsonl")
			assert.ErrorIs(t, err, ErrInvalidDump)

			versions, err := s.ListVersions(ctx, dataset.ID)
			require.NoError(t, err)
			require.Len(t, versions, 1)
			assert.Equal(t, current.ID, versions[0].ID)

			latest, err := s.GetLatestVersion(ctx, dataset.ID)
			require.NoError(t, err)
			assert.Equal(t, "001", latest.Version)
		})
	}
}
