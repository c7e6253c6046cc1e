package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/store"
	"github.com/sirupsen/logrus"
)

// Settings configures a Synchronizer for one deployment site.
type Settings struct {
	Site           string
	AliasPrefix    string
	Languages      Languages
	BatchSize      int
	MaxErrors      int
	RequestTimeout time.Duration
	// Exclusions lists the collections never pushed for the site.
	Exclusions []string
}

// Options controls a full rebuild.
type Options struct {
	// Recreate deletes and recreates the remote index before pushing.
	Recreate bool
	// Promote moves the latest alias of the language to the index afterwards.
	Promote bool
}

// PushResult reports one rebuild or delta push.
type PushResult struct {
	Remote   string `json:"remote"`
	Version  string `json:"version"`
	Language string `json:"language"`
	// Busy is set when another push holds the index and this one was skipped.
	Busy bool `json:"busy"`
	// Skipped is set when a delta push found an index that was never built.
	Skipped      bool     `json:"skipped"`
	Recreated    bool     `json:"recreated"`
	AliasSwapped bool     `json:"alias_swapped"`
	Indexed      int      `json:"indexed"`
	Deleted      int      `json:"deleted"`
	Failed       int      `json:"failed"`
	Errors       []string `json:"errors,omitempty"`
}

func (r *PushResult) Fields() logrus.Fields {
	return logrus.Fields{
		"remote":   r.Remote,
		"version":  r.Version,
		"language": r.Language,
		"indexed":  r.Indexed,
		"deleted":  r.Deleted,
		"failed":   r.Failed,
	}
}

// Synchronizer keeps the remote indices of dataset versions consistent with the store.
type Synchronizer struct {
	store    store.Store
	engine   Engine
	settings Settings
	now      func() time.Time
}

func NewSynchronizer(s store.Store, engine Engine, settings Settings) *Synchronizer {
	if settings.BatchSize <= 0 {
		settings.BatchSize = 100
	}
	if len(settings.Languages) == 0 {
		settings.Languages = Languages{"nl", "en", model.UnknownLanguage}
	}

	return &Synchronizer{
		store:    s,
		engine:   engine,
		settings: settings,
		now:      time.Now,
	}
}

func (s *Synchronizer) Languages() Languages {
	return s.settings.Languages
}

// index returns the search index row of the version and language, creating it
// with a snapshot of the index configuration on first use.
func (s *Synchronizer) index(ctx context.Context, version *model.DatasetVersion, language string) (*model.SearchIndex, error) {
	if !s.settings.Languages.Contains(language) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLanguage, language)
	}

	index, err := s.store.GetSearchIndex(ctx, version.ID, language)
	if err == nil {
		return index, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	configuration, err := IndexConfiguration(language)
	if err != nil {
		return nil, err
	}

	index = &model.SearchIndex{
		Name:             version.Dataset.Name,
		Language:         language,
		DatasetVersionID: version.ID,
		RemoteName:       RemoteName(s.settings.Site, version.Dataset.Name, version.Version, version.ID, language),
		Configuration:    []byte(configuration),
	}
	if err := s.store.CreateSearchIndex(ctx, index); err != nil {
		// another worker created it first
		if existing, getErr := s.store.GetSearchIndex(ctx, version.ID, language); getErr == nil {
			return existing, nil
		}
		return nil, err
	}

	return index, nil
}

func (s *Synchronizer) withLock(ctx context.Context, indexID uint, fn func(index *model.SearchIndex) error) (err error) {
	index, err := s.store.AcquireSearchIndex(ctx, indexID)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("search index %d panicked: %v", indexID, r)
		}
		if releaseErr := s.store.ReleaseSearchIndex(context.WithoutCancel(ctx), indexID); releaseErr != nil {
			logrus.Errorf("failed to release search index %d: %v", indexID, releaseErr)
			if err == nil {
				err = releaseErr
			}
		}
	}()

	return fn(index)
}

// Rebuild pushes every eligible document of the version in the language to its remote index.
func (s *Synchronizer) Rebuild(ctx context.Context, versionID uint, language string, opts Options) (*PushResult, error) {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	index, err := s.index(ctx, version, language)
	if err != nil {
		return nil, err
	}

	result := &PushResult{Remote: index.RemoteName, Version: version.Version, Language: language}
	err = s.withLock(ctx, index.ID, func(index *model.SearchIndex) error {
		exists, err := s.engine.IndexExists(ctx, index.RemoteName)
		if err != nil {
			return err
		}
		if opts.Recreate && exists {
			if err := s.engine.DeleteIndex(ctx, index.RemoteName); err != nil {
				return err
			}
			exists = false
			result.Recreated = true
		}
		if !exists {
			if err := s.engine.CreateIndex(ctx, index.RemoteName, []byte(index.Configuration)); err != nil {
				return err
			}
		}

		started := s.now().UTC().Truncate(time.Microsecond)
		if err := s.push(ctx, index.RemoteName, version, language, nil, !exists, result); err != nil {
			return err
		}

		if opts.Recreate {
			index.ErrorCount = 0
			index.Errors = nil
		}
		s.record(index, result, started)
		if opts.Promote {
			index.PendingAlias = true
		}
		if err := s.store.UpdateSearchIndex(ctx, index); err != nil {
			return err
		}

		logrus.WithFields(result.Fields()).Infof("rebuilt index %s", index.RemoteName)

		if opts.Promote {
			return s.promote(ctx, index, result)
		}

		return nil
	})
	if errors.Is(err, store.ErrBusy) {
		logrus.Debugf("search index %s is busy, skipping rebuild", index.RemoteName)
		result.Busy = true
		return result, nil
	}

	return result, err
}

// SyncDelta pushes the documents and extensions modified since the last push.
// The remote index is never created, deleted or recreated by a delta push, and
// documents whose language changed are not moved between indices.
func (s *Synchronizer) SyncDelta(ctx context.Context, versionID uint, language string) (*PushResult, error) {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if !s.settings.Languages.Contains(language) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLanguage, language)
	}

	result := &PushResult{Version: version.Version, Language: language}
	index, err := s.store.GetSearchIndex(ctx, version.ID, language)
	if errors.Is(err, store.ErrNotFound) {
		result.Skipped = true
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	result.Remote = index.RemoteName

	err = s.withLock(ctx, index.ID, func(index *model.SearchIndex) error {
		if index.PushedAt == nil {
			result.Skipped = true
			return nil
		}

		exists, err := s.engine.IndexExists(ctx, index.RemoteName)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("remote index %s is missing, a rebuild is required", index.RemoteName)
		}

		started := s.now().UTC().Truncate(time.Microsecond)
		if err := s.push(ctx, index.RemoteName, version, language, index.PushedAt, false, result); err != nil {
			return err
		}

		s.record(index, result, started)
		if err := s.store.UpdateSearchIndex(ctx, index); err != nil {
			return err
		}

		if result.Indexed+result.Deleted+result.Failed > 0 {
			logrus.WithFields(result.Fields()).Infof("pushed delta to %s", index.RemoteName)
		}

		return nil
	})
	if errors.Is(err, store.ErrBusy) {
		logrus.Debugf("search index %s is busy, skipping delta", index.RemoteName)
		result.Busy = true
		return result, nil
	}

	return result, err
}

// SyncCurrent keeps every language of the current version of the dataset up to date.
// Indices that were never pushed are rebuilt and promoted, the others get a delta push.
func (s *Synchronizer) SyncCurrent(ctx context.Context, dataset *model.Dataset) ([]*PushResult, error) {
	version, err := s.store.GetCurrentVersion(ctx, dataset.ID)
	if err != nil {
		return nil, err
	}

	var results []*PushResult
	var errs []error
	for _, language := range s.settings.Languages {
		result, err := s.SyncDelta(ctx, version.ID, language)
		if err == nil && result.Skipped {
			result, err = s.Rebuild(ctx, version.ID, language, Options{Recreate: true, Promote: true})
		} else if err == nil && !result.Busy {
			err = s.retryAlias(ctx, version.ID, language, result)
		}
		if err != nil {
			logrus.Errorf("failed to sync %s %s %s: %v", dataset.Name, version.Version, language, err)
			errs = append(errs, err)
		}
		if result != nil {
			results = append(results, result)
		}
	}

	return results, errors.Join(errs...)
}

// DropVersion deletes the remote indices of a version and their rows.
func (s *Synchronizer) DropVersion(ctx context.Context, versionID uint) error {
	indices, err := s.store.ListSearchIndices(ctx, versionID)
	if err != nil {
		return err
	}

	for _, index := range indices {
		err := s.withLock(ctx, index.ID, func(index *model.SearchIndex) error {
			if err := s.engine.DeleteIndex(ctx, index.RemoteName); err != nil {
				return err
			}
			return s.store.DeleteSearchIndex(ctx, index.ID)
		})
		if err != nil {
			return fmt.Errorf("failed to drop index %s: %w", index.RemoteName, err)
		}
	}

	return nil
}

// promote moves the alias onto the index and clears its pending flag. Must hold the index lock.
func (s *Synchronizer) promote(ctx context.Context, index *model.SearchIndex, result *PushResult) error {
	if err := s.swapAlias(ctx, index); err != nil {
		return err
	}
	result.AliasSwapped = true

	index.PendingAlias = false
	return s.store.UpdateSearchIndex(ctx, index)
}

// retryAlias finishes a promotion whose alias swap failed after the index was pushed.
func (s *Synchronizer) retryAlias(ctx context.Context, versionID uint, language string, result *PushResult) error {
	index, err := s.store.GetSearchIndex(ctx, versionID, language)
	if err != nil {
		return err
	}
	if !index.PendingAlias {
		return nil
	}

	err = s.withLock(ctx, index.ID, func(index *model.SearchIndex) error {
		if !index.PendingAlias {
			return nil
		}
		logrus.Infof("retrying alias swap onto %s", index.RemoteName)
		return s.promote(ctx, index, result)
	})
	if errors.Is(err, store.ErrBusy) {
		result.Busy = true
		return nil
	}

	return err
}

// swapAlias deletes the alias from whatever index holds it, then puts it on the index.
// Between both steps the alias points nowhere.
func (s *Synchronizer) swapAlias(ctx context.Context, index *model.SearchIndex) error {
	alias := AliasName(s.settings.AliasPrefix, index.Language)

	if err := s.engine.DeleteAlias(ctx, alias); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrAliasSwap, alias, err)
	}
	if err := s.engine.PutAlias(ctx, index.RemoteName, alias); err != nil {
		return fmt.Errorf("%w: put %s on %s: %w", ErrAliasSwap, alias, index.RemoteName, err)
	}

	logrus.Infof("alias %s now points at %s", alias, index.RemoteName)

	return nil
}

func (s *Synchronizer) record(index *model.SearchIndex, result *PushResult, started time.Time) {
	index.ErrorCount += result.Failed
	if len(result.Errors) > 0 {
		index.RetainErrors(result.Errors, s.settings.MaxErrors)
	}
	index.PushedAt = &started
}

// push streams documents and extensions of the version in the language to the remote index.
// With since set only changes made at or after it are pushed.
func (s *Synchronizer) push(ctx context.Context, remote string, version *model.DatasetVersion, language string, since *time.Time, activeOnly bool, result *PushResult) error {
	collections, err := s.store.ListCollections(ctx, version.ID)
	if err != nil {
		return err
	}

	p := &projector{store: s.store, datasetID: version.DatasetID, collections: make(map[uint]string)}
	var collectionIDs []uint
	for _, collection := range collections {
		if slices.Contains(s.settings.Exclusions, collection.Name) {
			continue
		}
		collectionIDs = append(collectionIDs, collection.DocumentSource())
		p.collections[collection.DocumentSource()] = collection.Name
	}

	docFilter := store.DocumentFilter{CollectionIDs: collectionIDs, ModifiedSince: since}
	extFilter := store.ExtensionFilter{DatasetID: version.DatasetID, AdditionsOnly: true, ModifiedSince: since, IncludeDeleted: since != nil}
	if language == model.UnknownLanguage {
		docFilter.NotLanguages = s.settings.Languages.Known()
		extFilter.NotLanguages = s.settings.Languages.Known()
	} else {
		docFilter.Language = language
		extFilter.Language = language
	}
	if activeOnly {
		docFilter.States = []model.DocumentState{model.DocumentStateActive}
	}

	b := &batcher{engine: s.engine, index: remote, size: s.settings.BatchSize, timeout: s.settings.RequestTimeout, result: result}

	pushDocuments := func(docs []*model.Document) error {
		actions, err := p.documents(ctx, docs)
		if err != nil {
			return err
		}
		return b.add(ctx, actions...)
	}

	if err := s.store.IterateDocuments(ctx, docFilter, s.settings.BatchSize, pushDocuments); err != nil {
		return err
	}

	err = s.store.IterateExtensions(ctx, extFilter, s.settings.BatchSize, func(extensions []*model.Extension) error {
		return b.add(ctx, p.additions(extensions)...)
	})
	if err != nil {
		return err
	}

	if since != nil {
		// documents whose overlay changed are pushed again, with or without the overlay
		var overlays []string
		err := s.store.IterateExtensions(ctx, store.ExtensionFilter{
			DatasetID:      version.DatasetID,
			ModifiedSince:  since,
			IncludeDeleted: true,
		}, s.settings.BatchSize, func(extensions []*model.Extension) error {
			for _, extension := range extensions {
				if !extension.IsAddition {
					overlays = append(overlays, extension.ID)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		if len(overlays) > 0 {
			overlayFilter := docFilter
			overlayFilter.ModifiedSince = nil
			overlayFilter.References = overlays
			if err := s.store.IterateDocuments(ctx, overlayFilter, s.settings.BatchSize, pushDocuments); err != nil {
				return err
			}
		}
	}

	return b.flush(ctx)
}

// batcher sends actions to the engine in bulk requests of a bounded size.
type batcher struct {
	engine  Engine
	index   string
	size    int
	timeout time.Duration
	pending []Action
	result  *PushResult
}

func (b *batcher) add(ctx context.Context, actions ...Action) error {
	for _, action := range actions {
		b.pending = append(b.pending, action)
		if len(b.pending) >= b.size {
			if err := b.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *batcher) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	failed, err := b.engine.Bulk(ctx, b.index, b.pending)
	if err != nil {
		return fmt.Errorf("bulk push to %s failed: %w", b.index, err)
	}

	failures := make(map[string]bool, len(failed))
	for _, item := range failed {
		failures[item.ID] = true
		b.result.Failed++
		b.result.Errors = append(b.result.Errors, item.String())
	}
	for _, action := range b.pending {
		if failures[action.ID] {
			continue
		}
		if action.Operation == OperationDelete {
			b.result.Deleted++
		} else {
			b.result.Indexed++
		}
	}

	b.pending = b.pending[:0]

	return nil
}
