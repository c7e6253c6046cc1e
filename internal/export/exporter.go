package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emrgen/catalog/internal/compress"
	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/store"
	"github.com/emrgen/catalog/internal/version"
	"github.com/sirupsen/logrus"
)

const batchSize = 500

// ErrInvalidDump is returned when a dump cannot be decoded.
var ErrInvalidDump = errors.New("invalid dump")

// header is the first line of a dump.
type header struct {
	Dataset     string    `json:"dataset"`
	Version     string    `json:"version"`
	VersionID   uint      `json:"version_id"`
	Collections []string  `json:"collections"`
	CreatedAt   time.Time `json:"created_at"`
}

// record is one document line of a dump.
type record struct {
	Collection string              `json:"collection"`
	Reference  string              `json:"reference"`
	Properties map[string]any      `json:"properties"`
	State      model.DocumentState `json:"state"`
	Language   string              `json:"language"`
	CreatedAt  time.Time           `json:"created_at"`
	ModifiedAt time.Time           `json:"modified_at"`
}

// Exporter dumps dataset versions to an object store and loads them back.
type Exporter struct {
	store    store.Store
	objects  ObjectStore
	codec    compress.Compress
	versions *version.Manager
}

func NewExporter(s store.Store, objects ObjectStore, codec compress.Compress, versions *version.Manager) *Exporter {
	return &Exporter{
		store:    s,
		objects:  objects,
		codec:    codec,
		versions: versions,
	}
}

// Key returns the object key of the dump of a version.
func (e *Exporter) Key(v *model.DatasetVersion) string {
	return fmt.Sprintf("%s/%s-%s-%d.jsonl%s", v.Dataset.Name, v.Dataset.Name, v.Version, v.ID, e.codec.Extension())
}

// Dump writes every document of the version as compressed JSON lines and returns the object key.
func (e *Exporter) Dump(ctx context.Context, versionID uint) (string, int, error) {
	v, err := e.store.GetVersion(ctx, versionID)
	if err != nil {
		return "", 0, err
	}
	collections, err := e.store.ListCollections(ctx, v.ID)
	if err != nil {
		return "", 0, err
	}

	var buf bytes.Buffer
	w, err := e.codec.NewWriter(&buf)
	if err != nil {
		return "", 0, err
	}
	encoder := json.NewEncoder(w)

	h := header{Dataset: v.Dataset.Name, Version: v.Version, VersionID: v.ID, CreatedAt: v.CreatedAt}
	for _, collection := range collections {
		h.Collections = append(h.Collections, collection.Name)
	}
	if err := encoder.Encode(h); err != nil {
		return "", 0, err
	}

	count := 0
	for _, collection := range collections {
		err := e.store.IterateDocuments(ctx, store.DocumentFilter{CollectionIDs: []uint{collection.DocumentSource()}}, batchSize, func(docs []*model.Document) error {
			for _, doc := range docs {
				err := encoder.Encode(record{
					Collection: collection.Name,
					Reference:  doc.Reference,
					Properties: doc.Properties,
					State:      doc.State,
					Language:   doc.Language,
					CreatedAt:  doc.CreatedAt,
					ModifiedAt: doc.ModifiedAt,
				})
				if err != nil {
					return err
				}
				count++
			}
			return nil
		})
		if err != nil {
			return "", 0, err
		}
	}

	if err := w.Close(); err != nil {
		return "", 0, err
	}

	key := e.Key(v)
	if err := e.objects.Put(ctx, key, buf.Bytes()); err != nil {
		return "", 0, err
	}

	logrus.Infof("exported %d documents of %s version %s to %s", count, v.Dataset.Name, v.Version, key)

	return key, count, nil
}

// Load reads a dump into a new, non-current version of the dataset.
// The codec is chosen from the key suffix.
func (e *Exporter) Load(ctx context.Context, dataset *model.Dataset, key string) (*model.DatasetVersion, int, error) {
	data, err := e.objects.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}

	r, err := compress.ForExtension(key).NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, 0, fmt.Errorf("%w: %s: %w", ErrInvalidDump, key, err)
		}
		return nil, 0, fmt.Errorf("%w: %s is empty", ErrInvalidDump, key)
	}
	var h header
	if err := json.Unmarshal(scanner.Bytes(), &h); err != nil {
		return nil, 0, fmt.Errorf("%w: header: %w", ErrInvalidDump, err)
	}

	count := 0
	v, err := e.versions.CreateFilledVersion(ctx, dataset, func(ctx context.Context, tx store.Store, v *model.DatasetVersion) error {
		collections := make(map[string]*model.Collection)
		for _, name := range h.Collections {
			collection := &model.Collection{Name: name, DatasetVersionID: &v.ID}
			if err := tx.CreateCollection(ctx, collection); err != nil {
				return err
			}
			collections[name] = collection
		}

		var pending []*model.Document
		flush := func() error {
			if err := tx.CreateDocuments(ctx, pending); err != nil {
				return err
			}
			count += len(pending)
			pending = pending[:0]
			return nil
		}

		for scanner.Scan() {
			var rec record
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				return fmt.Errorf("%w: record after %d documents: %w", ErrInvalidDump, count+len(pending), err)
			}
			collection, ok := collections[rec.Collection]
			if !ok {
				return fmt.Errorf("%w: record %s references unknown collection %s", ErrInvalidDump, rec.Reference, rec.Collection)
			}

			pending = append(pending, &model.Document{
				Reference:        rec.Reference,
				Properties:       rec.Properties,
				State:            rec.State,
				Language:         rec.Language,
				CollectionID:     &collection.ID,
				DatasetVersionID: &v.ID,
				CreatedAt:        rec.CreatedAt,
				ModifiedAt:       rec.ModifiedAt,
			})
			if len(pending) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDump, err)
		}
		return flush()
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load %s: %w", key, err)
	}

	logrus.Infof("loaded %d documents from %s into %s version %s", count, key, dataset.Name, v.Version)

	return v, count, nil
}
