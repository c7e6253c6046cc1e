package version

import (
	"github.com/emrgen/catalog/internal/model"
	"github.com/sirupsen/logrus"
)

// PromotionReport describes what a promotion did per collection.
type PromotionReport struct {
	Version     *model.DatasetVersion `json:"-"`
	Previous    *model.DatasetVersion `json:"-"`
	Collections []CollectionReport    `json:"collections"`
}

type CollectionReport struct {
	Name              string `json:"name"`
	Documents         int64  `json:"documents"`
	PreviousDocuments int64  `json:"previous_documents"`
	FellBack          bool   `json:"fell_back"`
	// Missing is set when only the previous version had the collection.
	Missing bool `json:"missing,omitempty"`
	// Delinked is the id of the corrupted collection removed from the version.
	Delinked uint `json:"delinked,omitempty"`
}

// FallbackNames returns the collections that fell back to the previous version.
func (r *PromotionReport) FallbackNames() []string {
	var names []string
	for _, c := range r.Collections {
		if c.FellBack {
			names = append(names, c.Name)
		}
	}
	return names
}

func (r *PromotionReport) Fields() logrus.Fields {
	fields := logrus.Fields{
		"collections": len(r.Collections),
		"fallbacks":   len(r.FallbackNames()),
	}
	if r.Version != nil {
		fields["version"] = r.Version.Version
		fields["dataset_id"] = r.Version.DatasetID
	}
	if r.Previous != nil {
		fields["previous"] = r.Previous.Version
	}
	return fields
}
