package harvest

import (
	"context"
	"errors"
	"fmt"

	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/seed"
	"github.com/emrgen/catalog/internal/store"
)

// ErrStagePending is returned by a stage handler whose work is not finished yet.
// The harvest stays at its current stage and the handler runs again next cycle.
var ErrStagePending = errors.New("harvest stage pending")

// Pipeline is the strictly increasing sequence of stages a harvest moves through.
type Pipeline []model.HarvestStage

var (
	FullPipeline = Pipeline{
		model.HarvestStageNew,
		model.HarvestStageBasic,
		model.HarvestStageMetadata,
		model.HarvestStagePreview,
		model.HarvestStageComplete,
	}

	DefaultPipelines = map[string]Pipeline{
		seed.ModuleCSV: {
			model.HarvestStageNew,
			model.HarvestStageBasic,
			model.HarvestStageComplete,
		},
		seed.ModuleStatic: {
			model.HarvestStageNew,
			model.HarvestStageBasic,
			model.HarvestStagePreview,
			model.HarvestStageComplete,
		},
	}
)

// Validate checks that the pipeline starts at new, ends at complete and only moves forward.
func (p Pipeline) Validate() error {
	if len(p) < 2 || p[0] != model.HarvestStageNew || p[len(p)-1] != model.HarvestStageComplete {
		return fmt.Errorf("pipeline must run from %s to %s", model.HarvestStageNew, model.HarvestStageComplete)
	}
	for i := 1; i < len(p); i++ {
		if !p[i-1].Before(p[i]) {
			return fmt.Errorf("stage %s does not come after %s", p[i], p[i-1])
		}
	}
	return nil
}

// Next returns the stage following current, or false when current is the last stage.
// A stage missing from the pipeline moves to the first pipeline stage after it.
func (p Pipeline) Next(current model.HarvestStage) (model.HarvestStage, bool) {
	for _, stage := range p {
		if current.Before(stage) {
			return stage, true
		}
	}
	return "", false
}

// StageHandler performs the work that must finish before a harvest enters a stage.
type StageHandler interface {
	Handle(ctx context.Context, harvest *model.Harvest, collection *model.Collection) error
}

type StageHandlerFunc func(ctx context.Context, harvest *model.Harvest, collection *model.Collection) error

func (f StageHandlerFunc) Handle(ctx context.Context, harvest *model.Harvest, collection *model.Collection) error {
	return f(ctx, harvest, collection)
}

// PropertyCheck holds a harvest back until every active document of its
// collection carries a property, e.g. a generated preview.
type PropertyCheck struct {
	store    store.Store
	property string
}

func NewPropertyCheck(s store.Store, property string) *PropertyCheck {
	return &PropertyCheck{
		store:    s,
		property: property,
	}
}

func (p *PropertyCheck) Handle(ctx context.Context, _ *model.Harvest, collection *model.Collection) error {
	missing := 0
	err := p.store.IterateDocuments(ctx, store.DocumentFilter{
		CollectionIDs: []uint{collection.DocumentSource()},
		States:        []model.DocumentState{model.DocumentStateActive},
	}, 100, func(docs []*model.Document) error {
		for _, doc := range docs {
			if value, ok := doc.Properties[p.property]; !ok || value == "" {
				missing++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if missing > 0 {
		return fmt.Errorf("%w: %d documents of %s without %s", ErrStagePending, missing, collection.Name, p.property)
	}

	return nil
}
