package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// SearchIndex is one remote full-text index for one (dataset version, language) pair.
// Configuration is captured on creation and reused verbatim when the remote index is recreated.
type SearchIndex struct {
	ID               uint            `gorm:"primaryKey"`
	Name             string          `gorm:"not null"`
	Language         string          `gorm:"not null;uniqueIndex:idx_search_indices_version_language"`
	DatasetVersionID uint            `gorm:"not null;uniqueIndex:idx_search_indices_version_language"`
	DatasetVersion   *DatasetVersion `gorm:"foreignKey:DatasetVersionID"`
	RemoteName       string          `gorm:"not null"`
	Configuration    datatypes.JSON
	ErrorCount       int `gorm:"not null;default:0"`
	Errors           datatypes.JSON
	PushedAt         *time.Time
	// PendingAlias is set while a promotion has pushed the index but not moved the alias onto it yet.
	PendingAlias bool `gorm:"not null;default:false"`
	IsSyncing    bool `gorm:"not null;default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (SearchIndex) TableName() string {
	return "search_indices"
}

// ErrorList decodes the retained push errors.
func (s *SearchIndex) ErrorList() []string {
	var errs []string
	if len(s.Errors) == 0 {
		return errs
	}
	_ = json.Unmarshal(s.Errors, &errs)
	return errs
}

// RetainErrors appends push errors, keeping at most limit of the most recent ones.
func (s *SearchIndex) RetainErrors(errs []string, limit int) {
	all := append(s.ErrorList(), errs...)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	data, err := json.Marshal(all)
	if err != nil {
		return
	}
	s.Errors = data
}
