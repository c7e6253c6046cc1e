//go:build integration

package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/store"
	"github.com/emrgen/catalog/internal/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// holdLock keeps lock held in an open transaction until release is closed.
func holdLock(t *testing.T, s store.Store, lock func(ctx context.Context, tx store.Store) error) (release chan struct{}, done chan error) {
	t.Helper()

	locked := make(chan struct{})
	release = make(chan struct{})
	done = make(chan error, 1)

	go func() {
		done <- s.Transaction(context.Background(), func(tx store.Store) error {
			if err := lock(context.Background(), tx); err != nil {
				close(locked)
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()

	select {
	case <-locked:
	case <-time.After(10 * time.Second):
		t.Fatal("lock was not taken")
	}

	return release, done
}

func TestPostgres_LockDatasetNowait(t *testing.T) {
	s := store.NewGormStore(tester.Postgres(t))
	ctx := context.Background()

	dataset := &model.Dataset{Name: fmt.Sprintf("lock-%d", time.Now().UnixNano()), IsActive: true}
	require.NoError(t, s.CreateDataset(ctx, dataset))

	release, done := holdLock(t, s, func(ctx context.Context, tx store.Store) error {
		_, err := tx.LockDataset(ctx, dataset.ID)
		return err
	})

	err := s.Transaction(ctx, func(tx store.Store) error {
		_, err := tx.LockDataset(ctx, dataset.ID)
		return err
	})
	assert.ErrorIs(t, err, store.ErrBusy)

	close(release)
	require.NoError(t, <-done)

	err = s.Transaction(ctx, func(tx store.Store) error {
		_, err := tx.LockDataset(ctx, dataset.ID)
		return err
	})
	assert.NoError(t, err)
}

func TestPostgres_AcquireHarvestNowait(t *testing.T) {
	s := store.NewGormStore(tester.Postgres(t))
	ctx := context.Background()

	name := fmt.Sprintf("harvest-%d", time.Now().UnixNano())
	dataset := &model.Dataset{Name: name, IsActive: true}
	require.NoError(t, s.CreateDataset(ctx, dataset))
	source := &model.Source{Name: name, Module: "static", Endpoint: "mem://" + name}
	require.NoError(t, s.CreateSource(ctx, source))
	harvest := &model.Harvest{DatasetID: dataset.ID, SourceID: source.ID, Stage: model.HarvestStageNew, LatestUpdateAt: model.BeginningOfTime}
	require.NoError(t, s.CreateHarvest(ctx, harvest))

	// a row lock held by another transaction
	release, done := holdLock(t, s, func(ctx context.Context, tx store.Store) error {
		return tx.UpdateHarvest(ctx, harvest)
	})

	_, err := s.AcquireHarvest(ctx, harvest.ID)
	assert.ErrorIs(t, err, store.ErrBusy)

	close(release)
	require.NoError(t, <-done)

	// the sync flag held by another worker
	_, err = s.AcquireHarvest(ctx, harvest.ID)
	require.NoError(t, err)
	_, err = s.AcquireHarvest(ctx, harvest.ID)
	assert.ErrorIs(t, err, store.ErrBusy)

	require.NoError(t, s.ReleaseHarvest(ctx, harvest.ID))
}
