package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/search"
	"github.com/emrgen/catalog/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	mu       sync.Mutex
	datasets []*model.Dataset
	failing  string
	cycled   []string
	synced   []string
	cleaned  map[string]int
}

func newFakeCatalog(names ...string) *fakeCatalog {
	f := &fakeCatalog{cleaned: make(map[string]int)}
	for _, name := range names {
		f.datasets = append(f.datasets, &model.Dataset{Name: name, IsActive: true})
	}
	return f
}

func (f *fakeCatalog) ListDatasets(_ context.Context, _ bool) ([]*model.Dataset, error) {
	return f.datasets, nil
}

func (f *fakeCatalog) Cycle(_ context.Context, dataset *model.Dataset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dataset.Name == f.failing {
		return errors.New("source down")
	}
	f.cycled = append(f.cycled, dataset.Name)
	return nil
}

func (f *fakeCatalog) SyncIndices(_ context.Context, name string) ([]*search.PushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, name)
	return nil, nil
}

func (f *fakeCatalog) CleanupVersions(_ context.Context, dataset *model.Dataset, keep int, _ bool) (*service.CleanupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned[dataset.Name] = keep
	return &service.CleanupResult{Dataset: dataset.Name}, nil
}

func TestHarvestTask(t *testing.T) {
	tests := []struct {
		name     string
		datasets []string
		failing  string
		want     []string
		wantErr  bool
	}{
		{"all active datasets", nil, "", []string{"alpha", "beta", "gamma"}, false},
		{"configured datasets", []string{"beta"}, "", []string{"beta"}, false},
		{"failure does not stop the others", nil, "alpha", []string{"beta", "gamma"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := newFakeCatalog("alpha", "beta", "gamma")
			catalog.failing = tt.failing

			err := NewHarvestTask("@every 10m", catalog, tt.datasets).Run(context.TODO())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, catalog.cycled)
		})
	}
}

func TestDeltaSyncAndCleanupTasks(t *testing.T) {
	catalog := newFakeCatalog("alpha", "beta")

	require.NoError(t, NewDeltaSyncTask("@every 1m", catalog).Run(context.TODO()))
	assert.Equal(t, []string{"alpha", "beta"}, catalog.synced)

	require.NoError(t, NewVersionCleanupTask("@daily", catalog, 3, true).Run(context.TODO()))
	assert.Equal(t, map[string]int{"alpha": 3, "beta": 3}, catalog.cleaned)
}

type blockingJob struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingJob) Name() string     { return "blocking" }
func (b *blockingJob) Schedule() string { return "@every 1h" }

func (b *blockingJob) Run(ctx context.Context) error {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func TestTaskExecutor_SkipsOverlappingRuns(t *testing.T) {
	job := &blockingJob{started: make(chan struct{}), release: make(chan struct{})}
	executor := NewTaskExecutor(job)
	require.NoError(t, executor.Run())
	defer executor.Stop()

	done := make(chan bool)
	go func() {
		ran, _ := executor.Trigger("blocking")
		done <- ran
	}()
	<-job.started

	ran, err := executor.Trigger("blocking")
	require.NoError(t, err)
	assert.False(t, ran)

	close(job.release)
	assert.True(t, <-done)

	_, err = executor.Trigger("missing")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestTaskExecutor_StopCancelsRunningJobs(t *testing.T) {
	job := &blockingJob{started: make(chan struct{}), release: make(chan struct{})}
	executor := NewTaskExecutor(job)

	go func() {
		_, _ = executor.Trigger("blocking")
	}()
	<-job.started

	executor.Stop()

	_, err := executor.Trigger("blocking")
	assert.ErrorIs(t, err, context.Canceled)
}
