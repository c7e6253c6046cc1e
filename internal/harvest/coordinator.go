package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/reconcile"
	"github.com/emrgen/catalog/internal/seed"
	"github.com/emrgen/catalog/internal/store"
	"github.com/emrgen/catalog/internal/version"
	"github.com/sirupsen/logrus"
)

// RunResult reports one harvest run.
type RunResult struct {
	HarvestID uint               `json:"harvest_id"`
	Source    string             `json:"source"`
	Stage     model.HarvestStage `json:"stage"`
	// Busy is set when another worker holds the harvest and the run was skipped.
	Busy bool `json:"busy"`
	// Unavailable is set when the seed source failed and nothing changed.
	Unavailable bool              `json:"unavailable"`
	Reconcile   *reconcile.Result `json:"reconcile,omitempty"`
}

// Coordinator runs harvests through their stage pipeline under the harvest row lock.
type Coordinator struct {
	store      store.Store
	sources    seed.Source
	versions   *version.Manager
	reconciler *reconcile.Reconciler
	pipelines  map[string]Pipeline
	handlers   map[model.HarvestStage]StageHandler
	now        func() time.Time
}

func NewCoordinator(s store.Store, sources seed.Source, versions *version.Manager, reconciler *reconcile.Reconciler) *Coordinator {
	pipelines := make(map[string]Pipeline, len(DefaultPipelines))
	for module, pipeline := range DefaultPipelines {
		pipelines[module] = pipeline
	}

	return &Coordinator{
		store:      s,
		sources:    sources,
		versions:   versions,
		reconciler: reconciler,
		pipelines:  pipelines,
		handlers:   make(map[model.HarvestStage]StageHandler),
		now:        time.Now,
	}
}

// SetPipeline overrides the pipeline of a source module.
func (c *Coordinator) SetPipeline(module string, pipeline Pipeline) error {
	if err := pipeline.Validate(); err != nil {
		return err
	}
	c.pipelines[module] = pipeline
	return nil
}

// Handle registers the handler that must succeed before a harvest enters stage.
func (c *Coordinator) Handle(stage model.HarvestStage, handler StageHandler) {
	c.handlers[stage] = handler
}

func (c *Coordinator) pipeline(module string) Pipeline {
	if pipeline, ok := c.pipelines[module]; ok {
		return pipeline
	}
	return FullPipeline
}

// withLock runs fn while holding the sync flag of the harvest. The flag is
// released in its own transaction on every exit path.
func (c *Coordinator) withLock(ctx context.Context, harvestID uint, fn func(harvest *model.Harvest) error) (err error) {
	harvest, err := c.store.AcquireHarvest(ctx, harvestID)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("harvest %d panicked: %v", harvestID, r)
		}
		if releaseErr := c.store.ReleaseHarvest(context.WithoutCancel(ctx), harvestID); releaseErr != nil {
			logrus.Errorf("failed to release harvest %d: %v", harvestID, releaseErr)
			if err == nil {
				err = releaseErr
			}
		}
	}()

	return fn(harvest)
}

// Run fetches new seeds for the harvest, reconciles them into the latest version
// of its dataset and moves the harvest forward through its pipeline.
// A harvest held by another worker is skipped with Busy set and no error.
func (c *Coordinator) Run(ctx context.Context, harvestID uint) (*RunResult, error) {
	result := &RunResult{HarvestID: harvestID}

	err := c.withLock(ctx, harvestID, func(harvest *model.Harvest) error {
		result.Source = harvest.Source.Name
		result.Stage = harvest.Stage
		return c.run(ctx, harvest, result)
	})
	if errors.Is(err, store.ErrBusy) {
		logrus.Debugf("harvest %d is busy, skipping", harvestID)
		result.Busy = true
		return result, nil
	}
	if err != nil {
		return result, err
	}

	return result, nil
}

func (c *Coordinator) run(ctx context.Context, harvest *model.Harvest, result *RunResult) error {
	started := c.now().UTC()

	target, err := c.versions.EnsureVersion(ctx, harvest.Dataset)
	if err != nil {
		return err
	}

	seeds, err := c.sources.Fetch(ctx, harvest.Source, harvest.LatestUpdateAt)
	if errors.Is(err, seed.ErrUnavailable) {
		logrus.Warnf("harvest %d: source %s unavailable: %v", harvest.ID, harvest.Source.Name, err)
		result.Unavailable = true
		return nil
	}
	if err != nil {
		return err
	}

	collection, err := c.versions.Collection(ctx, target, harvest.Source.Name)
	if err != nil {
		return err
	}

	result.Reconcile, err = c.reconciler.Reconcile(ctx, collection, seeds)
	if err != nil {
		return err
	}
	for _, rejected := range result.Reconcile.Errors {
		logrus.Warnf("harvest %d: %v", harvest.ID, rejected)
	}

	harvest.LatestUpdateAt = started
	harvestedAt := c.now().UTC()
	harvest.HarvestedAt = &harvestedAt

	c.advance(ctx, harvest, collection)
	result.Stage = harvest.Stage

	return c.store.UpdateHarvest(ctx, harvest)
}

// advance moves the harvest through the stages whose handlers succeed.
// Entering the first stage after new only requires a successful fetch.
func (c *Coordinator) advance(ctx context.Context, harvest *model.Harvest, collection *model.Collection) {
	pipeline := c.pipeline(harvest.Source.Module)

	for {
		next, ok := pipeline.Next(harvest.Stage)
		if !ok {
			return
		}

		if harvest.Stage != model.HarvestStageNew {
			if handler, ok := c.handlers[next]; ok {
				if err := handler.Handle(ctx, harvest, collection); err != nil {
					if errors.Is(err, ErrStagePending) {
						logrus.Infof("harvest %d stays at %s: %v", harvest.ID, harvest.Stage, err)
					} else {
						logrus.Errorf("harvest %d failed to enter %s: %v", harvest.ID, next, err)
					}
					return
				}
			}
		}

		logrus.Infof("harvest %d of %s moved from %s to %s", harvest.ID, harvest.Source.Name, harvest.Stage, next)
		harvest.Stage = next
	}
}

// RunDue runs every harvest of the dataset. Failures are logged and do not stop the other harvests.
func (c *Coordinator) RunDue(ctx context.Context, dataset *model.Dataset) ([]*RunResult, error) {
	harvests, err := c.store.ListHarvests(ctx, dataset.ID)
	if err != nil {
		return nil, err
	}

	results := make([]*RunResult, 0, len(harvests))
	for _, harvest := range harvests {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		result, err := c.Run(ctx, harvest.ID)
		if err != nil {
			logrus.Errorf("harvest %d of dataset %s failed: %v", harvest.ID, dataset.Name, err)
		}
		results = append(results, result)
	}

	return results, nil
}

// Reset forces a full re-harvest: the stage goes back to new and the high-water mark to the beginning of time.
func (c *Coordinator) Reset(ctx context.Context, harvestID uint) error {
	return c.withLock(ctx, harvestID, func(harvest *model.Harvest) error {
		harvest.Stage = model.HarvestStageNew
		harvest.LatestUpdateAt = model.BeginningOfTime
		harvest.HarvestedAt = nil

		logrus.Infof("reset harvest %d of %s", harvest.ID, harvest.Source.Name)

		return c.store.UpdateHarvest(ctx, harvest)
	})
}

// Complete reports whether every harvest of the dataset reached the complete stage.
func (c *Coordinator) Complete(ctx context.Context, dataset *model.Dataset) (bool, error) {
	harvests, err := c.store.ListHarvests(ctx, dataset.ID)
	if err != nil {
		return false, err
	}
	for _, harvest := range harvests {
		if harvest.Stage != model.HarvestStageComplete {
			return false, nil
		}
	}
	return len(harvests) > 0, nil
}
